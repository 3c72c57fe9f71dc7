// Package sources holds the adapters that produce raw loan records. Every
// adapter satisfies Source so the aggregator never depends on a concrete
// origin.
package sources

import (
	"context"
	"sort"
	"strings"

	"loan-catalog/internal/models"
)

// Params are the normalized query parameters forwarded to an adapter. They
// form part of the cache key.
type Params map[string]string

// Canonical renders params in sorted key order. Empty values are skipped.
func (p Params) Canonical() string {
	keys := make([]string, 0, len(p))
	for k, v := range p {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(strings.ToLower(strings.TrimSpace(k)))
		b.WriteByte('=')
		b.WriteString(strings.ToLower(strings.TrimSpace(p[k])))
	}
	return b.String()
}

// Source produces raw records from one origin.
type Source interface {
	Name() string
	Fetch(ctx context.Context, params Params) ([]models.RawRecord, error)
}

// ParamScoped is implemented by sources whose output depends on Params.
// Other sources are cached under their name alone.
type ParamScoped interface {
	ScopedByParams() bool
}

// Describer is implemented by sources that can report their configuration
// for the system status endpoint.
type Describer interface {
	Describe() map[string]interface{}
}

// toRaw converts decoded JSON documents into raw records. Non-object
// entries become nil records, which the validator rejects.
func toRaw(items []interface{}) []models.RawRecord {
	out := make([]models.RawRecord, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, models.RawRecord(m))
			continue
		}
		out = append(out, nil)
	}
	return out
}

func mapsToRaw(items []map[string]interface{}) []models.RawRecord {
	out := make([]models.RawRecord, 0, len(items))
	for _, m := range items {
		out = append(out, models.RawRecord(m))
	}
	return out
}
