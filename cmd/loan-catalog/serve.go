// cmd/loan-catalog/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"loan-catalog/internal/api"
	"loan-catalog/internal/common/camunda"
	"loan-catalog/internal/common/config"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/observability"
	"loan-catalog/internal/pipeline"
	queryloancatalog "loan-catalog/internal/workers/catalog/query-loan-catalog"
	refreshloancatalog "loan-catalog/internal/workers/catalog/refresh-loan-catalog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the loan query API and run scheduled refreshes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

func runServe(parent context.Context, addr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if addr != "" {
		cfg.Server.Address = addr
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()
	log.Info("starting loan catalog", map[string]interface{}{"environment": cfg.App.Environment})

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	b, err := connectBackends(ctx, cfg, 10, log)
	if err != nil {
		return err
	}
	defer b.close()

	notifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Warn("job failure notifications disabled", nil)
	}

	deps := b.dependencies()
	deps.Notifier = notifier
	deps.Obs = obs

	p, err := pipeline.New(cfg, deps, log)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	zeebe, workers, werr := startWorkers(ctx, cfg, p, log.Named("zeebe"))
	if werr != nil {
		log.WithError(werr).Error("zeebe workers not started", nil)
	}
	checks := b.readinessChecks()
	if zeebe != nil {
		checks["zeebe"] = zeebe.Ready
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(p, checks, log), cfg.App.Name)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", map[string]interface{}{"address": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received", nil)
	case err = <-serveErr:
		if err != nil {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http server shutdown incomplete", nil)
	}
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if zeebe != nil {
		if cerr := zeebe.Close(); cerr != nil {
			log.WithError(cerr).Warn("zeebe client close failed", nil)
		}
	}
	if serr := p.Stop(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("scheduler shutdown incomplete", nil)
	}
	log.Info("loan catalog stopped", nil)
	return err
}

// startWorkers registers the catalog job workers when Zeebe is enabled.
func startWorkers(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, log logger.Logger) (*camunda.Client, []*camunda.Worker, error) {
	if !cfg.Camunda.Enabled {
		return nil, nil, nil
	}

	client, err := camunda.Dial(ctx, cfg.Camunda, log)
	if err != nil {
		return nil, nil, err
	}

	refreshHandler, err := refreshloancatalog.NewHandler(refreshloancatalog.LoadConfig(cfg), p, log)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	queryHandler, err := queryloancatalog.NewHandler(queryloancatalog.LoadConfig(cfg), p, log)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	var workers []*camunda.Worker
	if w := camunda.NewWorker(client.Zeebe(), refreshloancatalog.TaskType,
		config.GetWorkerConfig(cfg, refreshloancatalog.TaskType), refreshHandler, log); w != nil {
		workers = append(workers, w)
	}
	if w := camunda.NewWorker(client.Zeebe(), queryloancatalog.TaskType,
		config.GetWorkerConfig(cfg, queryloancatalog.TaskType), queryHandler, log); w != nil {
		workers = append(workers, w)
	}
	return client, workers, nil
}
