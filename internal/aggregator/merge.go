package aggregator

import (
	"sort"
	"strconv"
	"strings"

	"loan-catalog/internal/common/validation"
	"loan-catalog/internal/models"
)

// isAll reports a filter value that means "no filter".
func isAll(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "all", "all countries":
		return true
	}
	return false
}

// Filter keeps the records matching every set filter. Text filters are
// case-insensitive exact matches; the amount filter keeps records whose
// range overlaps the requested one.
func Filter(records []models.LoanRecord, f models.Filters) []models.LoanRecord {
	country := ""
	if !isAll(f.Country) {
		country = strings.TrimSpace(f.Country)
	}
	canonical := ""
	if country != "" {
		canonical = validation.CanonicalCountry(country)
	}

	out := make([]models.LoanRecord, 0, len(records))
	for _, r := range records {
		if country != "" && !strings.EqualFold(r.Country, country) && !strings.EqualFold(r.Country, canonical) {
			continue
		}
		if !isAll(f.Category) && !strings.EqualFold(r.Category, strings.TrimSpace(f.Category)) {
			continue
		}
		if !isAll(f.LenderType) && !strings.EqualFold(r.LenderType, strings.TrimSpace(f.LenderType)) {
			continue
		}
		if f.MinAmount != nil && *f.MinAmount > r.LoanAmount.Max {
			continue
		}
		if f.MaxAmount != nil && *f.MaxAmount < r.LoanAmount.Min {
			continue
		}
		if f.CollateralFree && r.Collateral {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DedupKey identifies the same listing reported by several sources.
func DedupKey(r models.LoanRecord) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return norm(r.Name) + "|" + norm(r.Lender) + "|" + norm(r.Country)
}

// Deduplicate keeps one record per DedupKey: the most recently updated, or
// the first seen on a tie. The survivor takes the slot of the first
// occurrence.
func Deduplicate(records []models.LoanRecord) []models.LoanRecord {
	index := make(map[string]int, len(records))
	out := make([]models.LoanRecord, 0, len(records))
	for _, r := range records {
		key := DedupKey(r)
		if i, ok := index[key]; ok {
			if r.LastUpdated.After(out[i].LastUpdated) {
				out[i] = r
			}
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// Sort orders government lenders first, then newest first. The sort is
// stable.
func Sort(records []models.LoanRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		gi := records[i].LenderType == models.LenderGovernment
		gj := records[j].LenderType == models.LenderGovernment
		if gi != gj {
			return gi
		}
		return records[i].LastUpdated.After(records[j].LastUpdated)
	})
}

// UniqueIDs suffixes ids shared by distinct listings with the record
// source, and a counter if that still collides.
func UniqueIDs(records []models.LoanRecord) {
	seen := make(map[string]bool, len(records))
	for i := range records {
		id := records[i].ID
		if seen[id] {
			base := id
			if records[i].Source != "" {
				base = id + "-" + records[i].Source
			}
			id = base
			for n := 2; seen[id]; n++ {
				id = base + "-" + strconv.Itoa(n)
			}
			records[i].ID = id
		}
		seen[id] = true
	}
}

// Merge runs filter, dedupe, sort and id fixing over the working set.
func Merge(records []models.LoanRecord, f models.Filters) []models.LoanRecord {
	out := Deduplicate(Filter(records, f))
	Sort(out)
	UniqueIDs(out)
	return out
}
