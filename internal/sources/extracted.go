package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"loan-catalog/internal/common/config"
	commonerrors "loan-catalog/internal/common/errors"
	httpclient "loan-catalog/internal/common/http"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Fields collected as lists rather than single values.
var listFields = map[string]bool{
	"benefits":                     true,
	"documents":                    true,
	"features":                     true,
	"eligibility.organizationType": true,
	"eligibility.sector":           true,
}

// Fields parsed as numbers from their text.
var numberFields = map[string]bool{
	"loanAmount.min":             true,
	"loanAmount.max":             true,
	"repaymentTerm.min":          true,
	"repaymentTerm.max":          true,
	"eligibility.minAge":         true,
	"eligibility.maxAge":         true,
	"eligibility.minIncome":      true,
	"eligibility.creditScoreMin": true,
	"eligibility.businessAge":    true,
}

var numberPattern = regexp.MustCompile(`[0-9][0-9,]*(\.[0-9]+)?`)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// ExtractionTarget pulls listings out of one web page. Each element matched
// by ItemSelector is one listing; Fields maps a record field (dotted for
// nested fields) to a selector inside the item. "sel@attr" reads an
// attribute instead of the text.
type ExtractionTarget struct {
	Name         string
	URL          string
	ItemSelector string
	Fields       map[string]string
	Defaults     map[string]string
	client       *httpclient.Client
}

func NewExtractionTarget(cfg config.ExtractionTargetConfig, timeout time.Duration) *ExtractionTarget {
	return &ExtractionTarget{
		Name:         cfg.Name,
		URL:          cfg.URL,
		ItemSelector: cfg.ItemSelector,
		Fields:       cfg.Fields,
		Defaults:     cfg.Defaults,
		client:       httpclient.NewLimitedClient(timeout, rate.Every(time.Second), 1),
	}
}

// Extract downloads the page and parses it.
func (t *ExtractionTarget) Extract(ctx context.Context) ([]models.RawRecord, error) {
	body, err := t.client.Get(ctx, t.URL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, err
	}
	return t.Parse(bytes.NewReader(body))
}

// Parse extracts listings from an HTML document. A page without matching
// markup yields an empty list.
func (t *ExtractionTarget) Parse(r io.Reader) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	records := []models.RawRecord{}
	doc.Find(t.ItemSelector).Each(func(i int, item *goquery.Selection) {
		rec := models.RawRecord{}
		for field, selector := range t.Fields {
			if value, ok := extractField(item, field, selector); ok {
				setPath(rec, field, value)
			}
		}
		if len(rec) == 0 {
			return
		}
		for field, value := range t.Defaults {
			if _, ok := getPath(rec, field); !ok {
				setPath(rec, field, value)
			}
		}
		if _, ok := rec["id"]; !ok {
			rec["id"] = t.recordID(rec, i)
		}
		records = append(records, rec)
	})
	return records, nil
}

func (t *ExtractionTarget) recordID(rec models.RawRecord, index int) string {
	prefix := slug(t.Name)
	if name, ok := rec["name"].(string); ok && slug(name) != "" {
		return prefix + "-" + slug(name)
	}
	return prefix + "-" + strconv.Itoa(index+1)
}

func extractField(item *goquery.Selection, field, selector string) (interface{}, bool) {
	css, attr := selector, ""
	if i := strings.LastIndex(selector, "@"); i >= 0 {
		css, attr = selector[:i], selector[i+1:]
	}

	sel := item
	if strings.TrimSpace(css) != "" {
		sel = item.Find(css)
	}
	if sel.Length() == 0 {
		return nil, false
	}

	read := func(s *goquery.Selection) string {
		if attr != "" {
			v, _ := s.Attr(attr)
			return strings.TrimSpace(v)
		}
		return strings.Join(strings.Fields(s.Text()), " ")
	}

	if listFields[field] {
		var values []interface{}
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := read(s); v != "" {
				values = append(values, v)
			}
		})
		return values, len(values) > 0
	}

	text := read(sel.First())
	if text == "" {
		return nil, false
	}
	if numberFields[field] {
		if n, ok := parseAmount(text); ok {
			return n, true
		}
		return nil, false
	}
	return text, true
}

// parseAmount reads the first number in text, honouring common magnitude
// suffixes.
func parseAmount(text string) (float64, bool) {
	loc := numberPattern.FindStringIndex(text)
	if loc == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(text[loc[0]:loc[1]], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	rest := strings.ToLower(strings.TrimSpace(text[loc[1]:]))
	switch {
	case strings.HasPrefix(rest, "crore"):
		n *= 1e7
	case strings.HasPrefix(rest, "lakh"):
		n *= 1e5
	case strings.HasPrefix(rest, "million"), strings.HasPrefix(rest, "m ") || rest == "m":
		n *= 1e6
	case strings.HasPrefix(rest, "k ") || rest == "k":
		n *= 1e3
	}
	return n, true
}

func setPath(rec models.RawRecord, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(rec)
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func getPath(rec models.RawRecord, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(rec)
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	v, ok := current[parts[len(parts)-1]]
	return v, ok
}

func slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Extractor is one extraction job run by ExtractedSource.
type Extractor interface {
	Extract(ctx context.Context) ([]models.RawRecord, error)
}

// ExtractedSource runs every target concurrently and joins the results.
type ExtractedSource struct {
	targets       map[string]Extractor
	targetTimeout time.Duration
	logger        logger.Logger
}

func NewExtractedSource(targets map[string]Extractor, targetTimeout time.Duration, log logger.Logger) *ExtractedSource {
	return &ExtractedSource{
		targets:       targets,
		targetTimeout: targetTimeout,
		logger:        log.WithFields(map[string]interface{}{"source": models.SourceExtracted}),
	}
}

func (s *ExtractedSource) Name() string { return models.SourceExtracted }

func (s *ExtractedSource) Fetch(ctx context.Context, _ Params) ([]models.RawRecord, error) {
	if len(s.targets) == 0 {
		return []models.RawRecord{}, nil
	}

	names := sortedKeys(s.targets)
	results := make([][]models.RawRecord, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			tctx := ctx
			if s.targetTimeout > 0 {
				var cancel context.CancelFunc
				tctx, cancel = context.WithTimeout(ctx, s.targetTimeout)
				defer cancel()
			}
			records, err := s.targets[name].Extract(tctx)
			if err != nil {
				errs[i] = err
				s.logger.Warn("extraction failed", map[string]interface{}{
					"target": name,
					"error":  err.Error(),
				})
				return nil
			}
			if len(records) == 0 {
				s.logger.Info("extraction found no listings", map[string]interface{}{"target": name})
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	out := []models.RawRecord{}
	failed := 0
	for i := range names {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(names) {
		return nil, fmt.Errorf("%w: all %d extraction targets failed", commonerrors.ErrSourceUnavailable, failed)
	}
	return out, nil
}

func (s *ExtractedSource) Describe() map[string]interface{} {
	return map[string]interface{}{
		"targets":       sortedKeys(s.targets),
		"targetTimeout": s.targetTimeout.String(),
	}
}

func sortedKeys(m map[string]Extractor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
