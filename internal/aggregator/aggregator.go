// Package aggregator merges the validated output of every source into one
// catalog.
package aggregator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"loan-catalog/internal/cache"
	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/metrics"
	"loan-catalog/internal/common/validation"
	"loan-catalog/internal/models"
	"loan-catalog/internal/sources"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultAdapterTimeout = 15 * time.Second
	defaultTTL            = time.Hour
)

// Options configures an Aggregator.
type Options struct {
	MaxResults     int
	AdapterTimeout time.Duration
	// TTLs holds the cache lifetime per source name.
	TTLs map[string]time.Duration
	Now  func() time.Time
}

type Aggregator struct {
	sources   map[string]sources.Source
	order     []string
	cache     *cache.Cache
	validator *validation.Validator
	opts      Options
	flight    singleflight.Group
	tracer    trace.Tracer
	logger    logger.Logger
}

// sourceResult is the outcome of loading one source for one request.
type sourceResult struct {
	name       string
	records    []models.LoanRecord
	validation models.ValidationCounts
	fetchedAt  time.Time
	stale      bool
	err        error
}

func New(srcs []sources.Source, c *cache.Cache, v *validation.Validator, opts Options, log logger.Logger) *Aggregator {
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = defaultAdapterTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	byName := make(map[string]sources.Source, len(srcs))
	for _, s := range srcs {
		byName[s.Name()] = s
	}

	return &Aggregator{
		sources:   byName,
		order:     mergeOrder(byName),
		cache:     c,
		validator: v,
		opts:      opts,
		tracer:    otel.Tracer("loan-catalog/aggregator"),
		logger:    log.WithFields(map[string]interface{}{"component": "aggregator"}),
	}
}

// mergeOrder puts the built-in sources first so "first seen" is stable.
func mergeOrder(byName map[string]sources.Source) []string {
	var order, extra []string
	known := make(map[string]bool)
	for _, name := range models.AllSources {
		known[name] = true
		if _, ok := byName[name]; ok {
			order = append(order, name)
		}
	}
	for name := range byName {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// SourceNames lists the configured sources in merge order.
func (a *Aggregator) SourceNames() []string {
	return append([]string(nil), a.order...)
}

// Resolve expands "all" and rejects unknown names. An empty list means all.
func (a *Aggregator) Resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		return a.SourceNames(), nil
	}
	want := make(map[string]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == models.SourceAll {
			return a.SourceNames(), nil
		}
		if _, ok := a.sources[n]; !ok {
			return nil, commonerrors.NewUnknownSourceError(n)
		}
		want[n] = true
	}
	out := make([]string, 0, len(want))
	for _, n := range a.order {
		if want[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Query loads the requested sources, merges them and applies the filters.
// Failing sources are excluded; if every source fails the result is empty
// rather than an error.
func (a *Aggregator) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	names, err := a.Resolve(req.Sources)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "aggregator.Query", trace.WithAttributes(
		attribute.StringSlice("sources", names),
		attribute.Bool("forceRefresh", req.ForceRefresh),
	))
	defer span.End()

	params := paramsFor(req.Filters)
	results := a.loadAll(ctx, names, params, req.ForceRefresh)

	var working []models.LoanRecord
	stats := models.SourceStats{}
	var newest time.Time
	for _, res := range results {
		if res.err != nil && !res.stale {
			stats.Failed = append(stats.Failed, res.name)
			continue
		}
		if res.stale {
			stats.Stale = append(stats.Stale, res.name)
		}
		stats.Set(res.name, len(res.records))
		stats.Validation.Add(res.validation)
		working = append(working, res.records...)
		if res.fetchedAt.After(newest) {
			newest = res.fetchedAt
		}
	}
	if newest.IsZero() {
		newest = a.opts.Now()
	}

	merged := Merge(working, req.Filters)
	result := &models.QueryResult{
		Sources: stats,
		Meta: models.QueryMeta{
			LastUpdated:    newest.UTC(),
			TotalAvailable: len(working),
			AfterFiltering: len(merged),
		},
	}
	if a.opts.MaxResults > 0 && len(merged) > a.opts.MaxResults {
		merged = merged[:a.opts.MaxResults]
	}
	result.Records = merged

	if len(stats.Failed) == len(names) && len(names) > 0 {
		span.SetStatus(codes.Error, "all sources failed")
		a.logger.Warn("every requested source failed", map[string]interface{}{"sources": names})
	}
	span.SetAttributes(attribute.Int("results", len(merged)))
	metrics.QueryResultSize.Observe(float64(len(merged)))
	return result, nil
}

// Refresh fetches the named sources bypassing fresh cache entries. With
// clearCache the whole cache is dropped first. A single-source refresh
// fails when that source fails; a multi-source refresh fails only when all
// of them do.
func (a *Aggregator) Refresh(ctx context.Context, names []string, clearCache bool) (*models.RefreshResult, error) {
	resolved, err := a.Resolve(names)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "aggregator.Refresh", trace.WithAttributes(
		attribute.StringSlice("sources", resolved),
		attribute.Bool("clearCache", clearCache),
	))
	defer span.End()

	if clearCache {
		if _, err := a.cache.ClearAll(ctx); err != nil {
			a.logger.Warn("cache clear incomplete before refresh", map[string]interface{}{"error": err.Error()})
		}
	}

	result := &models.RefreshResult{
		Source:    strings.Join(resolved, ","),
		PerSource: make(map[string]int, len(resolved)),
	}
	var firstErr error
	for _, res := range a.loadAll(ctx, resolved, nil, true) {
		if res.err != nil {
			result.Failed = append(result.Failed, res.name)
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		result.PerSource[res.name] = len(res.records)
		result.Refreshed += len(res.records)
		result.Validation.Add(res.validation)
	}

	if len(resolved) > 0 && len(result.Failed) == len(resolved) {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, "refresh failed")
		return result, firstErr
	}
	return result, nil
}

// Catalog returns the merged, unfiltered catalog built from the static
// source plus whatever the cache currently holds for the other sources.
// Only the static source is fetched on demand.
func (a *Aggregator) Catalog(ctx context.Context) ([]models.LoanRecord, time.Time) {
	var working []models.LoanRecord
	var newest time.Time

	if _, ok := a.sources[models.SourceStatic]; ok {
		res := a.load(ctx, models.SourceStatic, nil, false)
		if res.err == nil || res.stale {
			working = append(working, res.records...)
			newest = res.fetchedAt
		}
	}
	for _, entry := range a.cache.Snapshot() {
		if entry.Key.Source == models.SourceStatic {
			continue
		}
		working = append(working, entry.Payload.Records...)
		if entry.FetchedAt.After(newest) {
			newest = entry.FetchedAt
		}
	}
	if newest.IsZero() {
		newest = a.opts.Now()
	}
	return Merge(working, models.Filters{}), newest.UTC()
}

// Countries lists the distinct country names in the catalog.
func (a *Aggregator) Countries(ctx context.Context) []string {
	records, _ := a.Catalog(ctx)
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range records {
		if r.Country == "" || seen[r.Country] {
			continue
		}
		seen[r.Country] = true
		out = append(out, r.Country)
	}
	sort.Strings(out)
	return out
}

// Stats counts the catalog by country, lender type and category.
func (a *Aggregator) Stats(ctx context.Context) models.CatalogStats {
	records, updated := a.Catalog(ctx)
	stats := models.CatalogStats{
		Total:        len(records),
		ByCountry:    map[string]int{},
		ByLenderType: map[string]int{},
		ByCategory:   map[string]int{},
		LastUpdated:  updated,
	}
	for _, r := range records {
		stats.ByCountry[r.Country]++
		stats.ByLenderType[r.LenderType]++
		stats.ByCategory[r.Category]++
	}
	return stats
}

// Describe reports each source's configuration.
func (a *Aggregator) Describe() map[string]interface{} {
	out := make(map[string]interface{}, len(a.order))
	for _, name := range a.order {
		desc := map[string]interface{}{}
		if d, ok := a.sources[name].(sources.Describer); ok {
			desc = d.Describe()
		}
		desc["ttl"] = a.ttl(name).String()
		out[name] = desc
	}
	out["adapterTimeout"] = a.opts.AdapterTimeout.String()
	out["maxResults"] = a.opts.MaxResults
	return out
}

func (a *Aggregator) loadAll(ctx context.Context, names []string, params sources.Params, force bool) []sourceResult {
	results := make([]sourceResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = a.load(ctx, name, params, force)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// load reads one source through the cache. Concurrent misses on the same
// key share one fetch. A failed fetch falls back to the last cached
// payload when there is one.
func (a *Aggregator) load(ctx context.Context, name string, params sources.Params, force bool) sourceResult {
	src := a.sources[name]
	key := a.keyFor(src, params)

	if !force {
		if entry, hit := a.cache.GetEntry(ctx, key); hit {
			return sourceResult{
				name:       name,
				records:    entry.Payload.Records,
				validation: entry.Payload.Validation,
				fetchedAt:  entry.FetchedAt,
			}
		}
	}

	v, err, _ := a.flight.Do(key.String(), func() (interface{}, error) {
		return a.fetch(ctx, src, key, params)
	})
	if err == nil {
		res := v.(sourceResult)
		res.records = append([]models.LoanRecord(nil), res.records...)
		return res
	}

	if entry, ok := a.cache.GetStale(ctx, key); ok {
		a.logger.Warn("serving stale payload after fetch failure", map[string]interface{}{
			"source":    name,
			"fetchedAt": entry.FetchedAt,
			"error":     err.Error(),
		})
		return sourceResult{
			name:       name,
			records:    entry.Payload.Records,
			validation: entry.Payload.Validation,
			fetchedAt:  entry.FetchedAt,
			stale:      true,
			err:        err,
		}
	}
	return sourceResult{name: name, err: err}
}

// fetch runs the adapter detached from the caller's cancellation so a
// result that arrives after the caller has gone still lands in the cache.
func (a *Aggregator) fetch(ctx context.Context, src sources.Source, key cache.Key, params sources.Params) (sourceResult, error) {
	name := src.Name()
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.AdapterTimeout)
	defer cancel()

	fctx, span := a.tracer.Start(fctx, "aggregator.fetch", trace.WithAttributes(attribute.String("source", name)))
	defer span.End()

	start := time.Now()
	raws, err := src.Fetch(fctx, params)
	metrics.SourceFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceFetchTotal.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var fetchErr error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
			fetchErr = commonerrors.NewSourceTimeoutError(name)
		} else {
			fetchErr = commonerrors.NewSourceFetchFailedError(name, err)
		}
		a.logger.Warn("source fetch failed", map[string]interface{}{
			"source":   name,
			"key":      key.String(),
			"duration": time.Since(start).String(),
			"error":    err.Error(),
		})
		return sourceResult{}, fetchErr
	}
	metrics.SourceFetchTotal.WithLabelValues(name, "success").Inc()

	batch := a.validator.ValidateBatch(raws, name)
	metrics.ValidationRecordsTotal.WithLabelValues(name, "valid").Add(float64(batch.Counts.Valid))
	metrics.ValidationRecordsTotal.WithLabelValues(name, "invalid").Add(float64(batch.Counts.Invalid))
	if batch.Counts.Invalid > 0 {
		a.logger.Info("source returned invalid records", map[string]interface{}{
			"source":  name,
			"invalid": batch.Counts.Invalid,
			"total":   batch.Counts.Total,
		})
	}

	payload := cache.Payload{Records: batch.Valid, Validation: batch.Counts}
	a.cache.Set(fctx, key, payload, a.ttl(name))

	span.SetAttributes(attribute.Int("valid", batch.Counts.Valid), attribute.Int("invalid", batch.Counts.Invalid))
	a.logger.Debug("source fetched", map[string]interface{}{
		"source":   name,
		"key":      key.String(),
		"records":  batch.Counts.Valid,
		"duration": time.Since(start).String(),
	})
	return sourceResult{
		name:       name,
		records:    batch.Valid,
		validation: batch.Counts,
		fetchedAt:  a.opts.Now(),
	}, nil
}

func (a *Aggregator) keyFor(src sources.Source, params sources.Params) cache.Key {
	key := cache.Key{Source: src.Name()}
	if scoped, ok := src.(sources.ParamScoped); ok && scoped.ScopedByParams() {
		key.Params = params.Canonical()
	}
	return key
}

func (a *Aggregator) ttl(name string) time.Duration {
	if d, ok := a.opts.TTLs[name]; ok && d > 0 {
		return d
	}
	return defaultTTL
}

// paramsFor turns the filters that upstream providers understand into
// adapter params.
func paramsFor(f models.Filters) sources.Params {
	p := sources.Params{}
	if !isAll(f.Country) {
		p["country"] = f.Country
	}
	if !isAll(f.Category) {
		p["category"] = f.Category
	}
	if !isAll(f.LenderType) {
		p["lenderType"] = f.LenderType
	}
	return p
}
