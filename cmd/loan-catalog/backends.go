// cmd/loan-catalog/backends.go
package main

import (
	"context"
	"fmt"
	"time"

	"loan-catalog/internal/api"
	commonaws "loan-catalog/internal/common/aws"
	"loan-catalog/internal/common/config"
	"loan-catalog/internal/common/database"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/pipeline"
	"loan-catalog/internal/scheduler"
)

// retryWithBackoff runs operation until it succeeds, doubling the delay
// between attempts.
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled: %w", operationName, ctx.Err())
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// backends holds the optional external services the pipeline can use.
type backends struct {
	postgres *database.PostgresClient
	elastic  *database.ElasticsearchClient
	redis    *database.RedisClient
}

// connectBackends dials only what the configuration needs. Postgres and
// Elasticsearch are required once configured; Redis falls back to the
// memory-only cache.
func connectBackends(ctx context.Context, cfg *config.Config, attempts int, log logger.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Sources.Static.UsePostgres {
		err := retryWithBackoff(ctx, func() error {
			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				pg.Close()
				return err
			}
			b.postgres = pg
			return nil
		}, attempts, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		log.Info("PostgreSQL connected", nil)
	}

	if needsElasticsearch(cfg) {
		err := retryWithBackoff(ctx, func() error {
			es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := es.Ping(); err != nil {
				return err
			}
			b.elastic = es
			return nil
		}, attempts, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			b.close()
			return nil, err
		}
		log.Info("Elasticsearch connected", nil)
	}

	if cfg.Database.Redis.Address != "" {
		err := retryWithBackoff(ctx, func() error {
			rc, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rc.Ping(ctx); err != nil {
				rc.Close()
				return err
			}
			b.redis = rc
			return nil
		}, attempts, time.Second, log, "Redis connection")
		if err != nil {
			log.Warn("redis unavailable, cache stays in memory", map[string]interface{}{"error": err.Error()})
		} else {
			fields := map[string]interface{}{"prefix": b.redis.Prefix()}
			if n, err := b.redis.CachedKeys(ctx); err == nil {
				fields["cachedKeys"] = n
			}
			log.Info("Redis connected", fields)
		}
	}

	return b, nil
}

func needsElasticsearch(cfg *config.Config) bool {
	for _, p := range cfg.Sources.API.Providers {
		if p.Kind == "elasticsearch" {
			return true
		}
	}
	return false
}

// dependencies converts the connected backends into pipeline inputs.
// Typed nils must not leak into the interface fields.
func (b *backends) dependencies() pipeline.Dependencies {
	var deps pipeline.Dependencies
	if b.postgres != nil {
		deps.Schemes = b.postgres
	}
	if b.elastic != nil {
		deps.Search = b.elastic
	}
	if b.redis != nil {
		deps.Redis = b.redis.GetClient()
	}
	return deps
}

func (b *backends) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if b.postgres != nil {
		checks["postgres"] = b.postgres.Ping
	}
	if b.elastic != nil {
		checks["elasticsearch"] = func(context.Context) error { return b.elastic.Ping() }
	}
	if b.redis != nil {
		checks["redis"] = b.redis.Ping
	}
	return checks
}

func (b *backends) close() {
	if b.postgres != nil {
		b.postgres.Close()
	}
	if b.redis != nil {
		b.redis.Close()
	}
}

// buildNotifier wires SNS and SES for job failure alerts. It returns nil
// when notifications are off.
func buildNotifier(ctx context.Context, cfg *config.Config, log logger.Logger) (scheduler.Notifier, error) {
	n, err := commonaws.NewNotifier(ctx, cfg.Notifications)
	if err != nil {
		return nil, err
	}
	if n == nil {
		if cfg.Notifications.AWS.Enabled {
			log.Warn("notifications enabled but no SNS topic or SES recipients configured", nil)
		}
		return nil, nil
	}
	log.Info("job failure notifications enabled", map[string]interface{}{
		"region": cfg.Notifications.AWS.Region,
		"sns":    cfg.Notifications.AWS.SNSTopicARN != "",
		"ses":    len(cfg.Notifications.AWS.SESTo),
	})
	return n, nil
}
