// Package pipeline owns the single instance of every catalog component and
// is the handle shared by the HTTP layer, the job workers and the CLI.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"loan-catalog/internal/aggregator"
	"loan-catalog/internal/cache"
	"loan-catalog/internal/common/config"
	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/observability"
	"loan-catalog/internal/common/validation"
	"loan-catalog/internal/models"
	"loan-catalog/internal/scheduler"
	"loan-catalog/internal/sources"

	"github.com/redis/go-redis/v9"
)

// SourceScheduler is the refresh request value that targets a scheduler
// job instead of a source.
const SourceScheduler = "scheduler"

// DefaultJob is run when a scheduler refresh names no job.
const DefaultJob = "dailyRefresh"

// Dependencies are the optional backends wired into the pipeline. Nil
// fields disable the feature that needs them.
type Dependencies struct {
	Redis    *redis.Client
	Schemes  sources.SchemeStore
	Search   sources.DocumentSearcher
	Notifier scheduler.Notifier
	Obs      *observability.Observability
	// Sources replaces the adapters built from configuration.
	Sources []sources.Source
	Now     func() time.Time
}

type Pipeline struct {
	cfg        *config.Config
	stats      *validation.Stats
	validator  *validation.Validator
	cache      *cache.Cache
	aggregator *aggregator.Aggregator
	scheduler  *scheduler.Scheduler
	obs        *observability.Observability
	logger     logger.Logger
}

// RefreshRequest is the input of a manual refresh.
type RefreshRequest struct {
	Source     string `json:"source"`
	ClearCache bool   `json:"clearCache"`
	Job        string `json:"job,omitempty"`
}

// RefreshOutcome reports what a manual refresh did. Triggered is set when
// the work was handed to the running scheduler.
type RefreshOutcome struct {
	models.RefreshResult
	Job       string `json:"job,omitempty"`
	Triggered bool   `json:"triggered,omitempty"`
}

// SystemStatus is the operational snapshot served by the status endpoint.
type SystemStatus struct {
	Scheduler  scheduler.Status         `json:"scheduler"`
	Cache      cache.Stats              `json:"cache"`
	Validation validation.StatsSnapshot `json:"validation"`
	Sources    map[string]interface{}   `json:"sources"`
	Config     map[string]interface{}   `json:"config"`
}

func New(cfg *config.Config, deps Dependencies, log logger.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nil config")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	stats := validation.NewStats(cfg.Pipeline.ErrorSampleLimit)
	validator := validation.NewValidator(stats).WithClock(now)

	cacheOpts := []cache.Option{cache.WithClock(now)}
	if deps.Redis != nil {
		cacheOpts = append(cacheOpts, cache.WithRemote(cache.NewRedisStore(deps.Redis, cfg.Database.Redis.KeyPrefix)))
	}
	resultCache := cache.New(log, cacheOpts...)

	srcs := deps.Sources
	if srcs == nil {
		srcs = BuildSources(cfg, deps, log)
	}

	agg := aggregator.New(srcs, resultCache, validator, aggregator.Options{
		MaxResults:     cfg.Pipeline.MaxResults,
		AdapterTimeout: config.GetDuration(cfg.Pipeline.AdapterTimeout),
		TTLs: map[string]time.Duration{
			models.SourceStatic:    config.GetDuration(cfg.Pipeline.StaticTTL),
			models.SourceAPI:       config.GetDuration(cfg.Pipeline.APITTL),
			models.SourceExtracted: config.GetDuration(cfg.Pipeline.ExtractedTTL),
		},
		Now: now,
	}, log)

	sched := scheduler.New(agg, BuildJobs(cfg, agg.SourceNames()), scheduler.Options{
		Tick:       config.GetDuration(cfg.Scheduler.Tick),
		JobTimeout: config.GetDuration(cfg.Scheduler.JobTimeout),
		Notifier:   deps.Notifier,
		Obs:        deps.Obs,
		Now:        now,
	}, log)

	return &Pipeline{
		cfg:        cfg,
		stats:      stats,
		validator:  validator,
		cache:      resultCache,
		aggregator: agg,
		scheduler:  sched,
		obs:        deps.Obs,
		logger:     log.WithFields(map[string]interface{}{"component": "pipeline"}),
	}, nil
}

// BuildSources creates the adapters enabled by configuration. The
// extracted source exists only when extraction is enabled.
func BuildSources(cfg *config.Config, deps Dependencies, log logger.Logger) []sources.Source {
	timeout := config.GetDuration(cfg.Pipeline.AdapterTimeout)

	var store sources.SchemeStore
	if cfg.Sources.Static.UsePostgres {
		store = deps.Schemes
	}
	out := []sources.Source{sources.NewStaticSource(cfg.Sources.Static.Path, store, log)}

	var providers []sources.Provider
	for _, p := range cfg.Sources.API.Providers {
		switch p.Kind {
		case "elasticsearch":
			if deps.Search == nil {
				log.Warn("elasticsearch provider skipped, no search client", map[string]interface{}{"provider": p.Name})
				continue
			}
			providers = append(providers, sources.NewElasticProvider(p, deps.Search, 0))
		default:
			providers = append(providers, sources.NewHTTPProvider(p, timeout))
		}
	}
	out = append(out, sources.NewAPISource(providers, timeout, log))

	if cfg.Pipeline.ExtractionEnabled {
		targets := make(map[string]sources.Extractor, len(cfg.Sources.Extracted.Targets))
		for _, t := range cfg.Sources.Extracted.Targets {
			targets[t.Name] = sources.NewExtractionTarget(t, timeout)
		}
		out = append(out, sources.NewExtractedSource(targets, timeout, log))
	}
	return out
}

// BuildJobs turns the enabled job configs into scheduler jobs. Job sources
// not configured in this process are dropped.
func BuildJobs(cfg *config.Config, available []string) []scheduler.Job {
	have := make(map[string]bool, len(available))
	for _, s := range available {
		have[s] = true
	}

	names := make([]string, 0, len(cfg.Scheduler.Jobs))
	for name := range cfg.Scheduler.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	var jobs []scheduler.Job
	for _, name := range names {
		jc := cfg.Scheduler.Jobs[name]
		if !jc.Enabled {
			continue
		}
		var srcs []string
		for _, s := range jc.Sources {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == models.SourceAll || have[s] {
				srcs = append(srcs, s)
			}
		}
		if len(srcs) == 0 {
			continue
		}
		jobs = append(jobs, scheduler.Job{
			Name:     name,
			Interval: config.GetDuration(jc.Interval),
			Sources:  srcs,
		})
	}
	return jobs
}

// Start launches the scheduler when it is enabled.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.cfg.Pipeline.SchedulerEnabled {
		p.logger.Info("scheduler disabled by configuration", nil)
		return nil
	}
	return p.scheduler.Start(ctx)
}

func (p *Pipeline) Stop(ctx context.Context) error {
	return p.scheduler.Stop(ctx)
}

func (p *Pipeline) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	res, err := p.aggregator.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	p.obs.RecordQuery(ctx, strings.Join(req.Sources, ","), len(res.Records))
	return res, nil
}

// Refresh fetches a source now, or runs a scheduler job when Source is
// "scheduler". A running scheduler receives the job as a trigger; a
// stopped one has the job run synchronously.
func (p *Pipeline) Refresh(ctx context.Context, req RefreshRequest) (*RefreshOutcome, error) {
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = models.SourceAll
	}

	if source != SourceScheduler {
		res, err := p.aggregator.Refresh(ctx, []string{source}, req.ClearCache)
		if res == nil {
			return nil, err
		}
		return &RefreshOutcome{RefreshResult: *res}, err
	}

	job := req.Job
	if job == "" {
		job = DefaultJob
	}
	if req.ClearCache {
		if _, err := p.cache.ClearAll(ctx); err != nil {
			p.logger.Warn("cache clear incomplete before job", map[string]interface{}{"error": err.Error()})
		}
	}

	if p.scheduler.GetStatus().Running {
		if err := p.scheduler.TriggerJob(ctx, job); err != nil {
			return nil, err
		}
		return &RefreshOutcome{RefreshResult: models.RefreshResult{Source: SourceScheduler}, Job: job, Triggered: true}, nil
	}

	res, err := p.scheduler.RunJob(ctx, job)
	out := &RefreshOutcome{Job: job}
	if res != nil {
		out.RefreshResult = *res
	}
	out.Source = SourceScheduler
	if err != nil && commonerrors.Normalize(err).Code == commonerrors.ErrCodeJobNotFound {
		return nil, err
	}
	return out, err
}

func (p *Pipeline) Countries(ctx context.Context) []string {
	return p.aggregator.Countries(ctx)
}

func (p *Pipeline) CatalogStats(ctx context.Context) models.CatalogStats {
	return p.aggregator.Stats(ctx)
}

func (p *Pipeline) SystemStatus() SystemStatus {
	return SystemStatus{
		Scheduler:  p.scheduler.GetStatus(),
		Cache:      p.cache.Stats(),
		Validation: p.stats.GetStats(),
		Sources:    p.aggregator.Describe(),
		Config: map[string]interface{}{
			"maxResults":        p.cfg.Pipeline.MaxResults,
			"schedulerEnabled":  p.cfg.Pipeline.SchedulerEnabled,
			"extractionEnabled": p.cfg.Pipeline.ExtractionEnabled,
			"environment":       p.cfg.App.Environment,
			"version":           p.cfg.App.Version,
		},
	}
}

// ClearCache drops every cached payload.
func (p *Pipeline) ClearCache(ctx context.Context) (int, error) {
	n, err := p.cache.ClearAll(ctx)
	p.logger.Info("cache cleared", map[string]interface{}{"entries": n})
	return n, err
}

// ValidationSample runs the validator over the built-in sample record.
// The run is counted in the statistics like any other.
func (p *Pipeline) ValidationSample() (models.RawRecord, validation.Outcome) {
	raw := validation.SampleRecord()
	return raw, p.validator.Validate(raw, validation.SampleSource)
}

// Validator exposes the shared validator for offline checks.
func (p *Pipeline) Validator() *validation.Validator {
	return p.validator
}

// ResetStats zeroes the validation statistics.
func (p *Pipeline) ResetStats() {
	p.stats.ResetStats()
}

func (p *Pipeline) Scheduler() *scheduler.Scheduler {
	return p.scheduler
}
