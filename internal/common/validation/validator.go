package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"loan-catalog/internal/models"
)

// Outcome is the verdict for one raw record. Record is set only when the
// record is valid.
type Outcome struct {
	IsValid  bool               `json:"isValid"`
	Errors   []ValidationError  `json:"errors"`
	Warnings []ValidationError  `json:"warnings"`
	Record   *models.LoanRecord `json:"normalizedRecord,omitempty"`
}

// InvalidRecord is a rejected batch member.
type InvalidRecord struct {
	Index  int               `json:"index"`
	ID     string            `json:"id,omitempty"`
	Errors []ValidationError `json:"errors"`
}

// BatchResult is the outcome of ValidateBatch.
type BatchResult struct {
	Valid   []models.LoanRecord     `json:"valid"`
	Invalid []InvalidRecord         `json:"invalid"`
	Counts  models.ValidationCounts `json:"counts"`
}

// Validator checks raw records against the canonical schema and produces
// normalized copies. It is safe for concurrent use.
type Validator struct {
	stats *Stats
	now   func() time.Time
}

// NewValidator returns a Validator recording into stats. A nil stats
// disables recording.
func NewValidator(stats *Stats) *Validator {
	return &Validator{stats: stats, now: time.Now}
}

// WithClock replaces the clock used for lastUpdated defaults.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Stats returns the collector this validator records into.
func (v *Validator) Stats() *Stats {
	return v.stats
}

// Validate checks raw and returns its outcome. It never panics and never
// returns a fault; malformed input yields an invalid outcome.
func (v *Validator) Validate(raw interface{}, source string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = invalidOutcome(fmt.Sprintf("record could not be processed: %v", r))
		}
		v.record(out, source, raw)
	}()

	fields, err := copyRecord(raw)
	if err != nil {
		return invalidOutcome(err.Error())
	}

	c := &checker{raw: fields, now: v.now}
	c.run()
	c.rec.Source = source

	out = Outcome{
		IsValid:  len(c.errs) == 0,
		Errors:   c.errs,
		Warnings: c.warns,
	}
	if out.Errors == nil {
		out.Errors = []ValidationError{}
	}
	if out.Warnings == nil {
		out.Warnings = []ValidationError{}
	}
	if out.IsValid {
		rec := c.rec
		out.Record = &rec
	}
	return out
}

// ValidateBatch validates every record independently.
func (v *Validator) ValidateBatch(raws []models.RawRecord, source string) BatchResult {
	result := BatchResult{
		Valid:   make([]models.LoanRecord, 0, len(raws)),
		Invalid: []InvalidRecord{},
	}
	for i, raw := range raws {
		outcome := v.Validate(raw, source)
		result.Counts.Total++
		if outcome.IsValid {
			result.Valid = append(result.Valid, *outcome.Record)
			result.Counts.Valid++
			continue
		}
		result.Counts.Invalid++
		result.Invalid = append(result.Invalid, InvalidRecord{
			Index:  i,
			ID:     rawID(raw),
			Errors: outcome.Errors,
		})
	}
	return result
}

func (v *Validator) record(out Outcome, source string, raw interface{}) {
	if v.stats == nil {
		return
	}
	id := ""
	if m, ok := asMap(raw); ok {
		id = rawID(m)
	}
	v.stats.Record(out, source, id)
}

func invalidOutcome(msg string) Outcome {
	return Outcome{
		IsValid:  false,
		Errors:   []ValidationError{{Message: msg, Code: CodeInvalidRecord}},
		Warnings: []ValidationError{},
	}
}

func asMap(raw interface{}) (map[string]interface{}, bool) {
	switch m := raw.(type) {
	case models.RawRecord:
		return m, m != nil
	case map[string]interface{}:
		return m, m != nil
	}
	return nil, false
}

// copyRecord deep-copies raw through JSON so the checks never alias caller
// data and all numbers arrive as float64.
func copyRecord(raw interface{}) (map[string]interface{}, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, fmt.Errorf("record must be an object, got %T", raw)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("record could not be copied: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("record could not be copied: %v", err)
	}
	return out, nil
}

func rawID(m map[string]interface{}) string {
	switch id := m["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	}
	return ""
}

// checker accumulates findings for one record while building its
// normalized form.
type checker struct {
	raw   map[string]interface{}
	now   func() time.Time
	rec   models.LoanRecord
	errs  []ValidationError
	warns []ValidationError
}

func (c *checker) fail(field, code, format string, args ...interface{}) {
	c.errs = append(c.errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) warn(field, code, format string, args ...interface{}) {
	c.warns = append(c.warns, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) run() {
	c.checkRequired()

	c.rec.ID = c.text(idRule)
	c.rec.Name = c.text(nameRule)
	c.rec.Lender = c.text(lenderRule)
	c.rec.InterestRate = c.text(interestRateRule)
	c.rec.Description = c.text(descriptionRule)
	c.rec.LenderType = c.enum("lenderType", lenderTypeSet)
	c.rec.Category = c.enum("category", categorySet)
	c.rec.Country = c.country()
	c.rec.ApplicationURL = c.applicationURL()
	c.rec.Collateral = c.collateral()

	c.rec.LoanAmount = c.loanAmount()
	c.rec.RepaymentTerm = c.repaymentTerm()
	c.rec.Eligibility = c.eligibility()

	c.rec.Benefits = c.list("benefits", c.raw["benefits"])
	c.rec.Documents = c.list("documents", c.raw["documents"])
	c.rec.Features = c.list("features", c.raw["features"])

	c.rec.ProcessingFee = c.textOrDefault(feeRule, DefaultProcessingFee)
	c.rec.ProcessingTime = c.textOrDefault(timeRule, DefaultProcessingTime)
	c.rec.LastUpdated = c.lastUpdated()
}

func (c *checker) checkRequired() {
	for _, field := range requiredFields {
		v, ok := c.raw[field]
		if !ok || v == nil {
			c.fail(field, CodeRequired, "%s is required", field)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			c.fail(field, CodeRequired, "%s is required", field)
		}
	}
}

// present reports whether field carries a non-blank value. Missing required
// fields are already reported by checkRequired.
func (c *checker) present(field string) (interface{}, bool) {
	v, ok := c.raw[field]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

func (c *checker) text(rule stringRule) string {
	v, ok := c.present(rule.Field)
	if !ok {
		return ""
	}
	s, ok := c.asText(rule, v)
	if !ok {
		return ""
	}
	return c.bound(rule, s)
}

func (c *checker) textOrDefault(rule stringRule, def string) string {
	v, ok := c.present(rule.Field)
	if !ok {
		return def
	}
	s, ok := c.asText(rule, v)
	if !ok {
		return def
	}
	if s = c.bound(rule, s); s == "" {
		return def
	}
	return s
}

func (c *checker) asText(rule stringRule, v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		if rule.AcceptNumber {
			c.warn(rule.Field, CodeCoerced, "%s converted from number to text", rule.Field)
			return strconv.FormatFloat(t, 'f', -1, 64), true
		}
	}
	if rule.Required {
		c.fail(rule.Field, CodeInvalidType, "%s must be a string", rule.Field)
	} else {
		c.warn(rule.Field, CodeInvalidType, "%s must be a string, ignored", rule.Field)
	}
	return "", false
}

func (c *checker) bound(rule stringRule, s string) string {
	n := utf8.RuneCountInString(s)
	if rule.Min > 0 && n < rule.Min {
		c.fail(rule.Field, CodeMinLength, "%s must be at least %d characters", rule.Field, rule.Min)
		return s
	}
	if rule.Max > 0 && n > rule.Max {
		c.warn(rule.Field, CodeMaxLength, "%s truncated to %d characters", rule.Field, rule.Max)
		s = strings.TrimSpace(string([]rune(s)[:rule.Max]))
	}
	return s
}

func (c *checker) enum(field string, allowed map[string]bool) string {
	v, ok := c.present(field)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		c.fail(field, CodeInvalidType, "%s must be a string", field)
		return ""
	}
	norm := strings.ToLower(strings.TrimSpace(s))
	if !allowed[norm] {
		c.fail(field, CodeInvalidEnum, "%s has unsupported value %q", field, s)
		return ""
	}
	return norm
}

func (c *checker) country() string {
	s := c.text(countryRule)
	if s == "" {
		return ""
	}
	canonical := CanonicalCountry(s)
	if canonical != s {
		c.warn(countryRule.Field, CodeNormalized, "country normalized from %q to %q", s, canonical)
	}
	return canonical
}

func (c *checker) applicationURL() string {
	s := c.text(urlRule)
	if s == "" || urlPattern.MatchString(s) {
		return s
	}
	if looksLikeDomain(s) {
		c.warn(urlRule.Field, CodeNormalized, "applicationUrl prefixed with https://")
		return "https://" + s
	}
	c.fail(urlRule.Field, CodePattern, "applicationUrl must start with http:// or https://")
	return ""
}

func (c *checker) collateral() bool {
	v, ok := c.present("collateral")
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "required":
			c.warn("collateral", CodeCoerced, "collateral converted from text to boolean")
			return true
		case "false", "no", "n", "0", "none", "not required":
			c.warn("collateral", CodeCoerced, "collateral converted from text to boolean")
			return false
		}
	}
	c.fail("collateral", CodeInvalidType, "collateral must be a boolean")
	return false
}

// number coerces v to float64. Numeric strings are accepted with a warning.
func (c *checker) number(field string, v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			c.warn(field, CodeCoerced, "%s converted from text to number", field)
			return f, true
		}
	}
	c.fail(field, CodeInvalidType, "%s must be a number", field)
	return 0, false
}

func (c *checker) inRange(field string, f float64, rule numberRule) bool {
	if f < rule.Min || f > rule.Max {
		c.fail(field, CodeOutOfRange, "%s must be between %s and %s", field, formatNumber(rule.Min), formatNumber(rule.Max))
		return false
	}
	return true
}

func (c *checker) object(field string) (map[string]interface{}, bool) {
	v, ok := c.present(field)
	if !ok {
		return nil, false
	}
	m, isMap := v.(map[string]interface{})
	if !isMap {
		c.fail(field, CodeInvalidType, "%s must be an object", field)
		return nil, false
	}
	return m, true
}

func (c *checker) loanAmount() models.Range {
	m, ok := c.object("loanAmount")
	if !ok {
		return models.Range{}
	}
	var r models.Range
	minOK := c.rangeEnd(m, "loanAmount.min", "min", amountRule, &r.Min, true)
	maxOK := c.rangeEnd(m, "loanAmount.max", "max", amountRule, &r.Max, true)
	if minOK && maxOK && r.Min > r.Max {
		c.fail("loanAmount", CodeRangeOrder, "loanAmount.min cannot be greater than loanAmount.max")
	}
	return r
}

func (c *checker) repaymentTerm() models.Range {
	if _, ok := c.present("repaymentTerm"); !ok {
		c.warn("repaymentTerm", CodeDefaulted, "repaymentTerm missing, defaulted to %s-%s months",
			formatNumber(defaultRepaymentTerm.Min), formatNumber(defaultRepaymentTerm.Max))
		return defaultRepaymentTerm
	}
	m, ok := c.object("repaymentTerm")
	if !ok {
		return models.Range{}
	}
	r := defaultRepaymentTerm
	minOK := c.rangeEnd(m, "repaymentTerm.min", "min", termRule, &r.Min, false)
	maxOK := c.rangeEnd(m, "repaymentTerm.max", "max", termRule, &r.Max, false)
	if minOK && maxOK && r.Min > r.Max {
		c.fail("repaymentTerm", CodeRangeOrder, "repaymentTerm.min cannot be greater than repaymentTerm.max")
	}
	return r
}

// rangeEnd reads one end of a range into dst. A missing optional end keeps
// dst's current value with a warning.
func (c *checker) rangeEnd(m map[string]interface{}, field, key string, rule numberRule, dst *float64, required bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			c.fail(field, CodeRequired, "%s is required", field)
			return false
		}
		c.warn(field, CodeDefaulted, "%s missing, defaulted to %s", field, formatNumber(*dst))
		return true
	}
	f, ok := c.number(field, v)
	if !ok || !c.inRange(field, f, rule) {
		return false
	}
	*dst = f
	return true
}

func (c *checker) eligibility() models.Eligibility {
	e := models.Eligibility{OrganizationType: []string{}, Sector: []string{}}
	if _, ok := c.present("eligibility"); !ok {
		return e
	}
	m, ok := c.object("eligibility")
	if !ok {
		return e
	}

	minAge, minAgeOK := c.optionalNumber(m, "eligibility.minAge", "minAge", ageRule)
	maxAge, maxAgeOK := c.optionalNumber(m, "eligibility.maxAge", "maxAge", ageRule)
	e.MinAge = int(math.Round(minAge))
	e.MaxAge = int(math.Round(maxAge))
	if minAgeOK && maxAgeOK && e.MinAge > 0 && e.MaxAge > 0 && e.MinAge > e.MaxAge {
		c.fail("eligibility", CodeRangeOrder, "eligibility.minAge cannot be greater than eligibility.maxAge")
	}

	e.MinIncome, _ = c.optionalNumber(m, "eligibility.minIncome", "minIncome", incomeRule)
	credit, _ := c.optionalNumber(m, "eligibility.creditScoreMin", "creditScoreMin", creditRule)
	e.CreditScoreMin = int(math.Round(credit))
	e.BusinessAge, _ = c.optionalNumber(m, "eligibility.businessAge", "businessAge", businessAgeRule)

	for _, org := range c.list("eligibility.organizationType", m["organizationType"]) {
		norm := strings.ToLower(org)
		if !orgTypeSet[norm] {
			c.fail("eligibility.organizationType", CodeInvalidEnum, "eligibility.organizationType has unsupported value %q", org)
			continue
		}
		e.OrganizationType = append(e.OrganizationType, norm)
	}
	e.Sector = c.list("eligibility.sector", m["sector"])
	return e
}

// optionalNumber returns 0 for an absent value. Zero is treated as unset
// so a normalized record re-validates unchanged.
func (c *checker) optionalNumber(m map[string]interface{}, field, key string, rule numberRule) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, true
	}
	f, ok := c.number(field, v)
	if !ok {
		return 0, false
	}
	if f == 0 && rule.Min > 0 {
		return 0, true
	}
	if !c.inRange(field, f, rule) {
		return 0, false
	}
	return f, true
}

// list coerces v into a string slice. A comma-separated string is split
// with a warning; anything else unusable becomes empty with a warning.
func (c *checker) list(field string, v interface{}) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
		return out
	case []interface{}:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				if f, isNum := item.(float64); isNum {
					s = strconv.FormatFloat(f, 'f', -1, 64)
				} else {
					c.warn(field, CodeInvalidType, "%s entry of type %T dropped", field, item)
					continue
				}
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return out
		}
		c.warn(field, CodeCoerced, "%s converted from comma-separated text to a list", field)
		return splitList(t)
	}
	c.warn(field, CodeInvalidType, "%s must be a list, defaulted to empty", field)
	return out
}

func (c *checker) lastUpdated() time.Time {
	v, ok := c.present("lastUpdated")
	if !ok {
		c.warn("lastUpdated", CodeDefaulted, "lastUpdated missing, defaulted to now")
		return c.now().UTC()
	}
	t, ok := ParseTimestamp(v)
	if !ok {
		c.warn("lastUpdated", CodeDefaulted, "lastUpdated %v is not a timestamp, defaulted to now", v)
		return c.now().UTC()
	}
	return t
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
