// internal/models/query.go
package models

import "time"

// Source names accepted by the aggregator. SourceAll expands to every
// configured source.
const (
	SourceStatic    = "static"
	SourceAPI       = "api"
	SourceExtracted = "scraped"
	SourceAll       = "all"
)

// AllSources is the expansion of SourceAll, in merge order.
var AllSources = []string{SourceStatic, SourceAPI, SourceExtracted}

// Filters are the caller-supplied narrowing options of a query. Nil pointers
// and empty strings mean "not set".
type Filters struct {
	Country        string   `json:"country,omitempty"`
	Category       string   `json:"category,omitempty"`
	LenderType     string   `json:"lenderType,omitempty"`
	MinAmount      *float64 `json:"minAmount,omitempty"`
	MaxAmount      *float64 `json:"maxAmount,omitempty"`
	CollateralFree bool     `json:"collateralFree,omitempty"`
}

// QueryRequest is the aggregator input.
type QueryRequest struct {
	Sources      []string `json:"sources"`
	Filters      Filters  `json:"filters"`
	ForceRefresh bool     `json:"forceRefresh,omitempty"`
}

// ValidationCounts summarises one validated batch.
type ValidationCounts struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// Add accumulates other into c.
func (c *ValidationCounts) Add(other ValidationCounts) {
	c.Total += other.Total
	c.Valid += other.Valid
	c.Invalid += other.Invalid
}

// SourceStats reports how many valid records each source contributed.
type SourceStats struct {
	Static     int              `json:"static"`
	API        int              `json:"api"`
	Scraped    int              `json:"scraped"`
	Validation ValidationCounts `json:"validation"`
	Stale      []string         `json:"stale,omitempty"`
	Failed     []string         `json:"failed,omitempty"`
}

// Set records the contribution of a named source.
func (s *SourceStats) Set(source string, count int) {
	switch source {
	case SourceStatic:
		s.Static = count
	case SourceAPI:
		s.API = count
	case SourceExtracted:
		s.Scraped = count
	}
}

// QueryMeta carries the truncation counters of a query.
type QueryMeta struct {
	LastUpdated    time.Time `json:"lastUpdated"`
	TotalAvailable int       `json:"totalAvailable"`
	AfterFiltering int       `json:"afterFiltering"`
}

// QueryResult is the aggregator output.
type QueryResult struct {
	Records []LoanRecord `json:"data"`
	Sources SourceStats  `json:"sources"`
	Meta    QueryMeta    `json:"meta"`
}

// RefreshResult reports a refresh of one or more sources.
type RefreshResult struct {
	Source     string           `json:"source"`
	Refreshed  int              `json:"refreshed"`
	Validation ValidationCounts `json:"validation"`
	PerSource  map[string]int   `json:"perSource,omitempty"`
	Failed     []string         `json:"failed,omitempty"`
}

// CatalogStats is the aggregate breakdown served by the stats endpoint.
type CatalogStats struct {
	Total        int            `json:"total"`
	ByCountry    map[string]int `json:"byCountry"`
	ByLenderType map[string]int `json:"byLenderType"`
	ByCategory   map[string]int `json:"byCategory"`
	LastUpdated  time.Time      `json:"lastUpdated"`
}
