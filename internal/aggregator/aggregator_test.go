package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loan-catalog/internal/cache"
	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/validation"
	"loan-catalog/internal/models"
	"loan-catalog/internal/sources"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test helpers
// ==========================

type fakeSource struct {
	name    string
	records []models.RawRecord
	err     error
	scoped  bool
	block   chan struct{}
	calls   int64

	mu         sync.Mutex
	lastParams sources.Params
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, params sources.Params) ([]models.RawRecord, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.lastParams = params
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.RawRecord, 0, len(f.records))
	for _, r := range f.records {
		cp := models.RawRecord{}
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeSource) Calls() int { return int(atomic.LoadInt64(&f.calls)) }

func (f *fakeSource) ScopedByParams() bool { return f.scoped }

func createTestRaw(id, name, country string, mods ...func(models.RawRecord)) models.RawRecord {
	raw := models.RawRecord{
		"id":             id,
		"name":           name,
		"lender":         "Lender of " + name,
		"lenderType":     "bank",
		"category":       "sme",
		"country":        country,
		"interestRate":   "10%",
		"loanAmount":     map[string]interface{}{"min": 1000, "max": 5000},
		"collateral":     false,
		"description":    "A ten-plus character description.",
		"applicationUrl": "https://example.com/" + id,
		"lastUpdated":    "2024-01-01",
	}
	for _, m := range mods {
		m(raw)
	}
	return raw
}

func set(key string, value interface{}) func(models.RawRecord) {
	return func(r models.RawRecord) { r[key] = value }
}

type testEnv struct {
	agg   *Aggregator
	cache *cache.Cache
	stats *validation.Stats
	now   *time.Time
	mu    *sync.Mutex
}

func (e testEnv) advance(d time.Duration) {
	e.mu.Lock()
	*e.now = e.now.Add(d)
	e.mu.Unlock()
}

func createTestAggregator(t *testing.T, opts Options, srcs ...sources.Source) testEnv {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	mu := &sync.Mutex{}
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	log := logger.NewTestLogger(t)
	c := cache.New(log, cache.WithClock(clock))
	stats := validation.NewStats(10)
	v := validation.NewValidator(stats).WithClock(clock)
	opts.Now = clock
	return testEnv{
		agg:   New(srcs, c, v, opts, log),
		cache: c,
		stats: stats,
		now:   &now,
		mu:    mu,
	}
}

func recordIDs(res *models.QueryResult) []string {
	return ids(res.Records)
}

// ==========================
// Query
// ==========================

func TestAggregator_Query_SourceFailureIsolation(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{
		createTestRaw("s1", "Static One", "Kenya"),
		createTestRaw("s2", "Static Two", "India"),
	}}
	api := &fakeSource{name: models.SourceAPI, err: errors.New("provider down")}
	scraped := &fakeSource{name: models.SourceExtracted, records: []models.RawRecord{
		createTestRaw("x1", "Scraped One", "Nigeria"),
	}}
	env := createTestAggregator(t, Options{}, static, api, scraped)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{Sources: []string{"all"}})

	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	assert.Equal(t, 2, res.Sources.Static)
	assert.Equal(t, 0, res.Sources.API)
	assert.Equal(t, 1, res.Sources.Scraped)
	assert.Equal(t, []string{models.SourceAPI}, res.Sources.Failed)
	assert.Equal(t, models.ValidationCounts{Total: 3, Valid: 3}, res.Sources.Validation)
}

func TestAggregator_Query_AllSourcesFail(t *testing.T) {
	api := &fakeSource{name: models.SourceAPI, err: errors.New("down")}
	scraped := &fakeSource{name: models.SourceExtracted, err: errors.New("down")}
	env := createTestAggregator(t, Options{}, api, scraped)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{})

	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Sources.API)
	assert.Zero(t, res.Sources.Scraped)
	assert.Equal(t, models.ValidationCounts{}, res.Sources.Validation)
	assert.ElementsMatch(t, []string{models.SourceAPI, models.SourceExtracted}, res.Sources.Failed)
}

func TestAggregator_Query_InvalidRecordsExcluded(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{
		createTestRaw("ok", "Good Loan", "Kenya"),
		createTestRaw("bad", "Bad Range", "Kenya", set("loanAmount", map[string]interface{}{"min": 9000, "max": 1000})),
		createTestRaw("young", "Bad Ages", "Kenya", set("eligibility", map[string]interface{}{"minAge": 60, "maxAge": 21})),
	}}
	env := createTestAggregator(t, Options{}, static)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{Sources: []string{"static"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, recordIDs(res))
	assert.Equal(t, models.ValidationCounts{Total: 3, Valid: 1, Invalid: 2}, res.Sources.Validation)
	for _, r := range res.Records {
		assert.LessOrEqual(t, r.LoanAmount.Min, r.LoanAmount.Max)
		if r.Eligibility.MaxAge > 0 {
			assert.LessOrEqual(t, r.Eligibility.MinAge, r.Eligibility.MaxAge)
		}
	}
	assert.Equal(t, int64(2), env.stats.GetStats().Invalid)
}

func TestAggregator_Query_DedupAcrossSources(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{
		createTestRaw("dup", "Biz Loan", "usa", set("lender", "ABC Bank")),
	}}
	api := &fakeSource{name: models.SourceAPI, records: []models.RawRecord{
		createTestRaw("dup", "Biz Loan", "United States", set("lender", "ABC Bank"), set("lastUpdated", "2024-06-01")),
		createTestRaw("dup", "Other Loan", "United States"),
	}}
	env := createTestAggregator(t, Options{}, static, api)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{})

	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 3, res.Meta.TotalAvailable)
	assert.Equal(t, 2, res.Meta.AfterFiltering)

	byName := map[string]models.LoanRecord{}
	for _, r := range res.Records {
		byName[r.Name] = r
	}
	assert.Equal(t, models.SourceAPI, byName["Biz Loan"].Source)
	assert.Equal(t, "2024-06-01", byName["Biz Loan"].LastUpdated.Format("2006-01-02"))
	assert.NotEqual(t, res.Records[0].ID, res.Records[1].ID)
}

func TestAggregator_Query_CollateralFree(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{
		createTestRaw("secured", "Secured", "Kenya", set("collateral", true)),
		createTestRaw("free", "Free", "Kenya"),
		createTestRaw("secured-2", "Secured Two", "India", set("collateral", "yes")),
	}}
	env := createTestAggregator(t, Options{}, static)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{Filters: models.Filters{CollateralFree: true}})

	require.NoError(t, err)
	assert.Equal(t, []string{"free"}, recordIDs(res))
	for _, r := range res.Records {
		assert.False(t, r.Collateral)
	}
}

func TestAggregator_Query_Truncation(t *testing.T) {
	var raws []models.RawRecord
	for i := 0; i < 5; i++ {
		raws = append(raws, createTestRaw(fmt.Sprintf("r%d", i), fmt.Sprintf("Loan %d", i), "Kenya"))
	}
	static := &fakeSource{name: models.SourceStatic, records: raws}
	env := createTestAggregator(t, Options{MaxResults: 2}, static)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{})

	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 5, res.Meta.TotalAvailable)
	assert.Equal(t, 5, res.Meta.AfterFiltering)
}

func TestAggregator_Query_UnknownSource(t *testing.T) {
	env := createTestAggregator(t, Options{}, &fakeSource{name: models.SourceStatic})

	_, err := env.agg.Query(context.Background(), models.QueryRequest{Sources: []string{"ftp"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, commonerrors.ErrUnknownSource))
}

// ==========================
// Cache interaction
// ==========================

func TestAggregator_CacheTTLHonored(t *testing.T) {
	api := &fakeSource{name: models.SourceAPI, records: []models.RawRecord{createTestRaw("a", "Api Loan", "Kenya")}}
	env := createTestAggregator(t, Options{TTLs: map[string]time.Duration{models.SourceAPI: time.Hour}}, api)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.agg.Query(ctx, models.QueryRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.Calls())

	env.advance(59 * time.Minute)
	_, err := env.agg.Query(ctx, models.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.Calls())

	env.advance(time.Minute)
	_, err = env.agg.Query(ctx, models.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls())

	_, err = env.agg.Query(ctx, models.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls())
}

func TestAggregator_ForceRefreshBypassesCache(t *testing.T) {
	api := &fakeSource{name: models.SourceAPI, records: []models.RawRecord{createTestRaw("a", "Api Loan", "Kenya")}}
	env := createTestAggregator(t, Options{}, api)
	ctx := context.Background()

	_, _ = env.agg.Query(ctx, models.QueryRequest{})
	_, _ = env.agg.Query(ctx, models.QueryRequest{ForceRefresh: true})

	assert.Equal(t, 2, api.Calls())
}

func TestAggregator_ConcurrentMissesShareOneFetch(t *testing.T) {
	api := &fakeSource{
		name:    models.SourceAPI,
		records: []models.RawRecord{createTestRaw("a", "Api Loan", "Kenya")},
		block:   make(chan struct{}),
	}
	env := createTestAggregator(t, Options{}, api)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*models.QueryResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.agg.Query(context.Background(), models.QueryRequest{})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(api.block)
	wg.Wait()

	assert.Equal(t, 1, api.Calls())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Len(t, res.Records, 1)
	}
}

func TestAggregator_StaleFallback(t *testing.T) {
	api := &fakeSource{name: models.SourceAPI, records: []models.RawRecord{createTestRaw("a", "Api Loan", "Kenya")}}
	env := createTestAggregator(t, Options{TTLs: map[string]time.Duration{models.SourceAPI: time.Minute}}, api)
	ctx := context.Background()

	_, err := env.agg.Query(ctx, models.QueryRequest{})
	require.NoError(t, err)

	env.advance(time.Hour)
	api.err = errors.New("provider down")

	res, err := env.agg.Query(ctx, models.QueryRequest{})

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, recordIDs(res))
	assert.Equal(t, 1, res.Sources.API)
	assert.Equal(t, []string{models.SourceAPI}, res.Sources.Stale)
	assert.Empty(t, res.Sources.Failed)
	assert.Equal(t, 2, api.Calls())
}

func TestAggregator_AdapterTimeout(t *testing.T) {
	slow := &fakeSource{name: models.SourceAPI, block: make(chan struct{})}
	defer close(slow.block)
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{createTestRaw("s", "Static", "Kenya")}}
	env := createTestAggregator(t, Options{AdapterTimeout: 50 * time.Millisecond}, static, slow)

	res, err := env.agg.Query(context.Background(), models.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, recordIDs(res))
	assert.Equal(t, []string{models.SourceAPI}, res.Sources.Failed)

	_, err = env.agg.Refresh(context.Background(), []string{models.SourceAPI}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, commonerrors.ErrSourceTimeout))
}

func TestAggregator_ParamScopedKeys(t *testing.T) {
	api := &fakeSource{name: models.SourceAPI, scoped: true, records: []models.RawRecord{createTestRaw("a", "Api Loan", "Kenya")}}
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{createTestRaw("s", "Static", "Kenya")}}
	env := createTestAggregator(t, Options{}, api, static)
	ctx := context.Background()

	_, _ = env.agg.Query(ctx, models.QueryRequest{Filters: models.Filters{Country: "Kenya"}})
	_, _ = env.agg.Query(ctx, models.QueryRequest{Filters: models.Filters{Country: "kenya"}})
	_, _ = env.agg.Query(ctx, models.QueryRequest{Filters: models.Filters{Country: "India"}})

	assert.Equal(t, 2, api.Calls())
	assert.Equal(t, 1, static.Calls())
	assert.Equal(t, sources.Params{"country": "India"}, api.lastParams)
}

// ==========================
// Refresh
// ==========================

func TestAggregator_Refresh(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{
		createTestRaw("s1", "One", "Kenya"),
		createTestRaw("bad", "Bad", "Kenya", set("applicationUrl", "ftp://nope")),
	}}
	api := &fakeSource{name: models.SourceAPI, err: errors.New("down")}
	env := createTestAggregator(t, Options{}, static, api)
	ctx := context.Background()

	tests := []struct {
		name          string
		sources       []string
		expectError   error
		expectCount   int
		expectFailed  []string
		expectInvalid int
	}{
		{name: "all sources", sources: []string{"all"}, expectCount: 1, expectFailed: []string{models.SourceAPI}, expectInvalid: 1},
		{name: "single healthy source", sources: []string{models.SourceStatic}, expectCount: 1, expectInvalid: 1},
		{name: "single failing source", sources: []string{models.SourceAPI}, expectError: commonerrors.ErrSourceUnavailable, expectFailed: []string{models.SourceAPI}},
		{name: "unknown source", sources: []string{"scheduler"}, expectError: commonerrors.ErrUnknownSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.agg.Refresh(ctx, tt.sources, false)
			if tt.expectError != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectError))
				if res != nil {
					assert.Equal(t, tt.expectFailed, res.Failed)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectCount, res.Refreshed)
			assert.Equal(t, tt.expectFailed, res.Failed)
			assert.Equal(t, tt.expectInvalid, res.Validation.Invalid)
		})
	}
}

func TestAggregator_RefreshClearsCache(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{createTestRaw("s1", "One", "Kenya")}}
	scraped := &fakeSource{name: models.SourceExtracted, records: []models.RawRecord{createTestRaw("x1", "Two", "Kenya")}}
	env := createTestAggregator(t, Options{}, static, scraped)
	ctx := context.Background()

	_, _ = env.agg.Query(ctx, models.QueryRequest{})
	require.Equal(t, 2, env.cache.Stats().Entries)

	res, err := env.agg.Refresh(ctx, []string{models.SourceStatic}, true)

	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.SourceStatic: 1}, res.PerSource)
	assert.Equal(t, 1, env.cache.Stats().Entries)
}

// ==========================
// Catalog views
// ==========================

func TestAggregator_CountriesAndStats(t *testing.T) {
	static := &fakeSource{name: models.SourceStatic, records: []models.RawRecord{
		createTestRaw("s1", "One", "usa"),
		createTestRaw("s2", "Two", "kenya", set("lenderType", "government")),
	}}
	api := &fakeSource{name: models.SourceAPI, records: []models.RawRecord{
		createTestRaw("a1", "Three", "India", set("category", "startup")),
	}}
	env := createTestAggregator(t, Options{}, static, api)
	ctx := context.Background()

	assert.Equal(t, []string{"Kenya", "United States"}, env.agg.Countries(ctx))
	assert.Equal(t, 0, api.Calls())

	_, err := env.agg.Refresh(ctx, []string{models.SourceAPI}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"India", "Kenya", "United States"}, env.agg.Countries(ctx))

	stats := env.agg.Stats(ctx)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"India": 1, "Kenya": 1, "United States": 1}, stats.ByCountry)
	assert.Equal(t, map[string]int{"bank": 2, "government": 1}, stats.ByLenderType)
	assert.Equal(t, map[string]int{"sme": 2, "startup": 1}, stats.ByCategory)
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestAggregator_Describe(t *testing.T) {
	env := createTestAggregator(t, Options{MaxResults: 10, TTLs: map[string]time.Duration{models.SourceStatic: 24 * time.Hour}},
		&fakeSource{name: models.SourceStatic}, &fakeSource{name: models.SourceAPI})

	desc := env.agg.Describe()

	require.Contains(t, desc, models.SourceStatic)
	assert.Equal(t, "24h0m0s", desc[models.SourceStatic].(map[string]interface{})["ttl"])
	assert.Equal(t, "1h0m0s", desc[models.SourceAPI].(map[string]interface{})["ttl"])
	assert.Equal(t, 10, desc["maxResults"])
	assert.Equal(t, []string{models.SourceStatic, models.SourceAPI}, env.agg.SourceNames())
}
