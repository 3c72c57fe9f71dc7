package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"loan-catalog/internal/common/config"
	commonerrors "loan-catalog/internal/common/errors"
	httpclient "loan-catalog/internal/common/http"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Provider is one live upstream behind the API source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, params Params) ([]models.RawRecord, error)
}

// DocumentSearcher is the Elasticsearch capability used by ElasticProvider.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, index, query string, size int) ([]map[string]interface{}, error)
}

// APISource fans out to every provider concurrently. A failing provider is
// logged and skipped; the fetch fails only when every provider fails.
type APISource struct {
	providers       []Provider
	providerTimeout time.Duration
	logger          logger.Logger
}

func NewAPISource(providers []Provider, providerTimeout time.Duration, log logger.Logger) *APISource {
	return &APISource{
		providers:       providers,
		providerTimeout: providerTimeout,
		logger:          log.WithFields(map[string]interface{}{"source": models.SourceAPI}),
	}
}

func (s *APISource) Name() string { return models.SourceAPI }

// ScopedByParams reports that provider output depends on the query params.
func (s *APISource) ScopedByParams() bool { return true }

func (s *APISource) Fetch(ctx context.Context, params Params) ([]models.RawRecord, error) {
	if len(s.providers) == 0 {
		return []models.RawRecord{}, nil
	}

	results := make([][]models.RawRecord, len(s.providers))
	errs := make([]error, len(s.providers))

	var g errgroup.Group
	for i, p := range s.providers {
		i, p := i, p
		g.Go(func() error {
			pctx := ctx
			if s.providerTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, s.providerTimeout)
				defer cancel()
			}
			records, err := p.Fetch(pctx, params)
			if err != nil {
				errs[i] = commonerrors.NewProviderFailedError(p.Name(), err)
				s.logger.Warn("provider fetch failed", map[string]interface{}{
					"provider": p.Name(),
					"error":    err.Error(),
				})
				return nil
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	var out []models.RawRecord
	failed := 0
	for i := range s.providers {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(s.providers) {
		return nil, fmt.Errorf("%w: all %d providers failed", commonerrors.ErrSourceUnavailable, failed)
	}
	if out == nil {
		out = []models.RawRecord{}
	}
	return out, nil
}

func (s *APISource) Describe() map[string]interface{} {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	return map[string]interface{}{
		"providers":       names,
		"providerTimeout": s.providerTimeout.String(),
	}
}

// HTTPProvider reads a JSON document and takes records from RecordsPath, a
// dotted path to an array. An empty path expects a top-level array.
type HTTPProvider struct {
	name        string
	url         string
	recordsPath string
	apiKey      string
	client      *httpclient.Client
}

func NewHTTPProvider(cfg config.ProviderConfig, timeout time.Duration) *HTTPProvider {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	return &HTTPProvider{
		name:        cfg.Name,
		url:         cfg.URL,
		recordsPath: cfg.RecordsPath,
		apiKey:      cfg.APIKey,
		client:      httpclient.NewLimitedClient(timeout, limit, cfg.Burst),
	}
}

func (p *HTTPProvider) Name() string { return p.name }

// Fetch forwards non-empty params as query string arguments.
func (p *HTTPProvider) Fetch(ctx context.Context, params Params) ([]models.RawRecord, error) {
	target, err := withQuery(p.url, params)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Accept": "application/json"}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	body, err := p.client.Get(ctx, target, headers)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	items, err := extractPath(doc, p.recordsPath)
	if err != nil {
		return nil, err
	}
	return toRaw(items), nil
}

func withQuery(raw string, params Params) (string, error) {
	if len(params) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("provider url %q: %w", raw, err)
	}
	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func extractPath(doc interface{}, path string) ([]interface{}, error) {
	current := doc
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("records path %q: %q is not an object", path, part)
			}
			current = m[part]
		}
	}
	items, ok := current.([]interface{})
	if !ok {
		return nil, fmt.Errorf("records path %q does not point at an array", path)
	}
	return items, nil
}

// ElasticProvider reads listing documents from an Elasticsearch index.
type ElasticProvider struct {
	name     string
	index    string
	size     int
	searcher DocumentSearcher
}

func NewElasticProvider(cfg config.ProviderConfig, searcher DocumentSearcher, size int) *ElasticProvider {
	if size <= 0 {
		size = 500
	}
	return &ElasticProvider{name: cfg.Name, index: cfg.Index, size: size, searcher: searcher}
}

func (p *ElasticProvider) Name() string { return p.name }

func (p *ElasticProvider) Fetch(ctx context.Context, _ Params) ([]models.RawRecord, error) {
	docs, err := p.searcher.SearchDocuments(ctx, p.index, "", p.size)
	if err != nil {
		return nil, err
	}
	return mapsToRaw(docs), nil
}
