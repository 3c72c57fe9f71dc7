package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"loan-catalog/internal/common/config"
	"loan-catalog/internal/common/database"
	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeProvider struct {
	name    string
	records []models.RawRecord
	err     error
	delay   time.Duration
	calls   int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, _ Params) ([]models.RawRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

type fakeExtractor struct {
	records []models.RawRecord
	err     error
}

func (f *fakeExtractor) Extract(context.Context) ([]models.RawRecord, error) {
	return f.records, f.err
}

type fakeSearcher struct {
	index string
	docs  []map[string]interface{}
	err   error
}

func (f *fakeSearcher) SearchDocuments(_ context.Context, index, _ string, _ int) ([]map[string]interface{}, error) {
	f.index = index
	return f.docs, f.err
}

type failingStore struct{}

func (failingStore) ActiveLoanSchemes(context.Context) ([]map[string]interface{}, error) {
	return nil, errors.New("connection refused")
}

func raw(id string) models.RawRecord {
	return models.RawRecord{"id": id}
}

// ==========================
// Params
// ==========================

func TestParams_Canonical(t *testing.T) {
	p := Params{"Country": " USA ", "category": "sme", "empty": " "}
	assert.Equal(t, "category=sme&country=usa", p.Canonical())
	assert.Equal(t, "", Params{}.Canonical())
}

// ==========================
// Static Source
// ==========================

func TestStaticSource_EmbeddedDataset(t *testing.T) {
	src := NewStaticSource("", nil, logger.NewTestLogger(t))

	records, err := src.Fetch(context.Background(), nil)

	require.NoError(t, err)
	assert.NotEmpty(t, records)
	assert.Equal(t, models.SourceStatic, src.Name())
	assert.Equal(t, "embedded", src.Describe()["origin"])
}

func TestStaticSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loans.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"t1","schemes":[{"id":"a"},{"id":"b"}]}`), 0o600))

	src := NewStaticSource(path, nil, logger.NewTestLogger(t))
	records, err := src.Fetch(context.Background(), nil)

	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "t1", src.Describe()["version"])
}

func TestStaticSource_LoadFailureDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name string
		src  func(t *testing.T) *StaticSource
	}{
		{
			name: "missing file",
			src: func(t *testing.T) *StaticSource {
				return NewStaticSource(filepath.Join(t.TempDir(), "nope.json"), nil, logger.NewTestLogger(t))
			},
		},
		{
			name: "database error",
			src: func(t *testing.T) *StaticSource {
				return NewStaticSource("", failingStore{}, logger.NewTestLogger(t))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src(t)

			assert.Error(t, src.Load(context.Background()))
			records, err := src.Fetch(context.Background(), nil)

			require.NoError(t, err)
			assert.Empty(t, records)
			assert.Contains(t, src.Describe(), "loadError")
		})
	}
}

func TestStaticSource_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, payload FROM loan_schemes").WillReturnRows(
		sqlmock.NewRows([]string{"id", "payload"}).
			AddRow("pg-1", []byte(`{"name":"Row Loan"}`)),
	)

	src := NewStaticSource("", database.NewPostgresFromDB(db), logger.NewTestLogger(t))

	records, err := src.Fetch(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pg-1", records[0]["id"])

	// second fetch is served from memory
	_, err = src.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// API Source
// ==========================

func TestAPISource_Fetch(t *testing.T) {
	tests := []struct {
		name        string
		providers   []Provider
		expectIDs   []string
		expectError bool
	}{
		{
			name: "all providers succeed",
			providers: []Provider{
				&fakeProvider{name: "p1", records: []models.RawRecord{raw("a"), raw("b")}},
				&fakeProvider{name: "p2", records: []models.RawRecord{raw("c")}},
			},
			expectIDs: []string{"a", "b", "c"},
		},
		{
			name: "one provider down",
			providers: []Provider{
				&fakeProvider{name: "p1", err: errors.New("503")},
				&fakeProvider{name: "p2", records: []models.RawRecord{raw("c")}},
			},
			expectIDs: []string{"c"},
		},
		{
			name: "slow provider times out",
			providers: []Provider{
				&fakeProvider{name: "slow", delay: time.Second, records: []models.RawRecord{raw("late")}},
				&fakeProvider{name: "fast", records: []models.RawRecord{raw("quick")}},
			},
			expectIDs: []string{"quick"},
		},
		{
			name: "every provider down",
			providers: []Provider{
				&fakeProvider{name: "p1", err: errors.New("503")},
				&fakeProvider{name: "p2", err: errors.New("timeout")},
			},
			expectError: true,
		},
		{
			name:      "no providers configured",
			providers: nil,
			expectIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewAPISource(tt.providers, 50*time.Millisecond, logger.NewTestLogger(t))

			records, err := src.Fetch(context.Background(), nil)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, commonerrors.ErrSourceUnavailable))
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r["id"].(string))
			}
			assert.Equal(t, tt.expectIDs, ids)
		})
	}
}

func TestHTTPProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nested":
			assert.Equal(t, "Bearer k-123", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"data":{"items":[{"id":"n1"},"junk",{"id":"n2"}]}}`))
		case "/flat":
			_, _ = w.Write([]byte(`[{"id":"f1"}]`))
		case "/object":
			_, _ = w.Write([]byte(`{"data":{"items":{"id":"x"}}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	tests := []struct {
		name        string
		cfg         config.ProviderConfig
		expectLen   int
		expectError string
	}{
		{
			name:      "nested records path",
			cfg:       config.ProviderConfig{Name: "nested", URL: server.URL + "/nested", RecordsPath: "data.items", APIKey: "k-123"},
			expectLen: 3,
		},
		{
			name:      "top level array",
			cfg:       config.ProviderConfig{Name: "flat", URL: server.URL + "/flat"},
			expectLen: 1,
		},
		{
			name:        "path to object",
			cfg:         config.ProviderConfig{Name: "object", URL: server.URL + "/object", RecordsPath: "data.items"},
			expectError: "does not point at an array",
		},
		{
			name:        "server error",
			cfg:         config.ProviderConfig{Name: "broken", URL: server.URL + "/broken"},
			expectError: "unexpected status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewHTTPProvider(tt.cfg, 2*time.Second)

			records, err := p.Fetch(context.Background(), nil)

			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tt.expectLen)
		})
	}
}

func TestHTTPProvider_ForwardsParams(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	p := NewHTTPProvider(config.ProviderConfig{Name: "p", URL: server.URL + "/loans?format=json"}, time.Second)
	_, err := p.Fetch(context.Background(), Params{"country": "kenya", "category": ""})

	require.NoError(t, err)
	assert.Equal(t, "country=kenya&format=json", got)
}

func TestHTTPProvider_NonObjectEntriesBecomeNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"ok"}, 42]`))
	}))
	defer server.Close()

	records, err := NewHTTPProvider(config.ProviderConfig{Name: "p", URL: server.URL}, time.Second).
		Fetch(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Nil(t, records[1])
}

func TestElasticProvider_Fetch(t *testing.T) {
	searcher := &fakeSearcher{docs: []map[string]interface{}{{"id": "es-1"}, {"id": "es-2"}}}
	p := NewElasticProvider(config.ProviderConfig{Name: "es", Kind: "elasticsearch", Index: "loans"}, searcher, 0)

	records, err := p.Fetch(context.Background(), nil)

	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "loans", searcher.index)

	searcher.err = errors.New("cluster red")
	_, err = p.Fetch(context.Background(), nil)
	assert.Error(t, err)
}

// ==========================
// Extracted Source
// ==========================

const listingPage = `<html><body>
<div class="scheme">
  <h3 class="title">Green Growth Loan</h3>
  <span class="lender">Eco Bank</span>
  <span class="amount-min">₹50,000</span>
  <span class="amount-max">10 lakh</span>
  <p class="desc">Finance for   energy efficient equipment.</p>
  <ul><li class="benefit">Low rate</li><li class="benefit">Fast</li></ul>
  <a class="apply" href="https://eco.example/apply">Apply</a>
</div>
<div class="scheme">
  <h3 class="title">Farm Boost</h3>
  <span class="lender">Agri Coop</span>
  <a class="apply" href="agri.example/apply">Apply</a>
</div>
<div class="scheme"></div>
</body></html>`

func createTestTarget() *ExtractionTarget {
	return &ExtractionTarget{
		Name:         "Eco Portal",
		ItemSelector: "div.scheme",
		Fields: map[string]string{
			"name":           "h3.title",
			"lender":         ".lender",
			"loanAmount.min": ".amount-min",
			"loanAmount.max": ".amount-max",
			"description":    ".desc",
			"benefits":       "li.benefit",
			"applicationUrl": "a.apply@href",
		},
		Defaults: map[string]string{
			"country":    "India",
			"collateral": "false",
		},
	}
}

func TestExtractionTarget_Parse(t *testing.T) {
	records, err := createTestTarget().Parse(strings.NewReader(listingPage))

	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "eco-portal-green-growth-loan", first["id"])
	assert.Equal(t, "Green Growth Loan", first["name"])
	assert.Equal(t, "Finance for energy efficient equipment.", first["description"])
	assert.Equal(t, map[string]interface{}{"min": 50000.0, "max": 1000000.0}, first["loanAmount"])
	assert.Equal(t, []interface{}{"Low rate", "Fast"}, first["benefits"])
	assert.Equal(t, "https://eco.example/apply", first["applicationUrl"])
	assert.Equal(t, "India", first["country"])
	assert.Equal(t, "false", first["collateral"])

	second := records[1]
	assert.Equal(t, "Farm Boost", second["name"])
	assert.NotContains(t, second, "loanAmount")
}

func TestExtractionTarget_MissingMarkup(t *testing.T) {
	records, err := createTestTarget().Parse(strings.NewReader(`<html><body><p>Site redesign</p></body></html>`))

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExtractionTarget_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingPage))
	}))
	defer server.Close()

	target := NewExtractionTarget(config.ExtractionTargetConfig{
		Name:         "eco",
		URL:          server.URL,
		ItemSelector: "div.scheme",
		Fields:       map[string]string{"name": "h3.title"},
	}, time.Second)

	records, err := target.Extract(context.Background())

	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParseAmount(t *testing.T) {
	tests := map[string]float64{
		"$1,000":        1000,
		"Up to 5 lakh":  500000,
		"2 crore":       20000000,
		"1.5 million":   1500000,
		"25k":           25000,
		"25 k":          25000,
		"USD 10,000.50": 10000.5,
	}
	for text, expected := range tests {
		t.Run(text, func(t *testing.T) {
			got, ok := parseAmount(text)
			require.True(t, ok)
			assert.InDelta(t, expected, got, 1e-6)
		})
	}

	_, ok := parseAmount("contact us")
	assert.False(t, ok)
}

func TestExtractedSource_Fetch(t *testing.T) {
	tests := []struct {
		name        string
		targets     map[string]Extractor
		expectLen   int
		expectError bool
	}{
		{
			name: "targets joined",
			targets: map[string]Extractor{
				"a": &fakeExtractor{records: []models.RawRecord{raw("a1"), raw("a2")}},
				"b": &fakeExtractor{records: []models.RawRecord{raw("b1")}},
			},
			expectLen: 3,
		},
		{
			name: "empty page and failed target",
			targets: map[string]Extractor{
				"empty":  &fakeExtractor{records: []models.RawRecord{}},
				"broken": &fakeExtractor{err: errors.New("dns")},
			},
			expectLen: 0,
		},
		{
			name: "all targets failed",
			targets: map[string]Extractor{
				"broken": &fakeExtractor{err: errors.New("dns")},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewExtractedSource(tt.targets, time.Second, logger.NewTestLogger(t))

			records, err := src.Fetch(context.Background(), nil)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, commonerrors.ErrSourceUnavailable))
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tt.expectLen)
		})
	}
}
