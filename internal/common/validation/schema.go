// Package validation holds the canonical loan schema, the Validator that
// checks and normalizes raw records against it, and the process-wide
// validation statistics.
package validation

import (
	"regexp"

	"loan-catalog/internal/models"
)

// Error codes attached to ValidationError.
const (
	CodeRequired      = "REQUIRED_FIELD_MISSING"
	CodeInvalidType   = "INVALID_TYPE"
	CodeMinLength     = "MIN_LENGTH_VIOLATION"
	CodeMaxLength     = "MAX_LENGTH_VIOLATION"
	CodeInvalidEnum   = "INVALID_ENUM"
	CodePattern       = "PATTERN_MISMATCH"
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeRangeOrder    = "RANGE_ORDER_VIOLATION"
	CodeCoerced       = "TYPE_COERCED"
	CodeDefaulted     = "DEFAULT_APPLIED"
	CodeNormalized    = "VALUE_NORMALIZED"
	CodeInvalidRecord = "INVALID_RECORD"
)

// ValidationError describes one field-level finding. It is used for both
// errors and warnings.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e ValidationError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// stringRule bounds a free-text field. Values shorter than Min are errors,
// longer than Max are truncated with a warning.
type stringRule struct {
	Field    string
	Min      int
	Max      int
	Required bool
	// Numeric values are converted to text with a warning.
	AcceptNumber bool
}

type numberRule struct {
	Field string
	Min   float64
	Max   float64
}

// Fields that must be present and non-blank.
var requiredFields = []string{
	"id", "name", "lender", "lenderType", "category", "country",
	"interestRate", "loanAmount", "description", "applicationUrl", "collateral",
}

var (
	idRule           = stringRule{Field: "id", Min: 1, Max: 200, Required: true, AcceptNumber: true}
	nameRule         = stringRule{Field: "name", Min: 3, Max: 200, Required: true}
	lenderRule       = stringRule{Field: "lender", Min: 2, Max: 200, Required: true}
	interestRateRule = stringRule{Field: "interestRate", Min: 1, Max: 100, Required: true, AcceptNumber: true}
	countryRule      = stringRule{Field: "country", Min: 2, Max: 100, Required: true}
	descriptionRule  = stringRule{Field: "description", Min: 10, Max: 1000, Required: true}
	urlRule          = stringRule{Field: "applicationUrl", Min: 1, Max: 500, Required: true}
	feeRule          = stringRule{Field: "processingFee", Max: 200}
	timeRule         = stringRule{Field: "processingTime", Max: 200}
)

var (
	amountRule      = numberRule{Field: "loanAmount", Min: 0, Max: 1e15}
	termRule        = numberRule{Field: "repaymentTerm", Min: 1, Max: 600}
	ageRule         = numberRule{Field: "eligibility.age", Min: 18, Max: 100}
	incomeRule      = numberRule{Field: "eligibility.minIncome", Min: 0, Max: 1e15}
	creditRule      = numberRule{Field: "eligibility.creditScoreMin", Min: 300, Max: 900}
	businessAgeRule = numberRule{Field: "eligibility.businessAge", Min: 0, Max: 100}
)

var urlPattern = regexp.MustCompile(`^https?://`)

// Defaults for optional-but-expected fields.
const (
	DefaultProcessingFee  = "Not specified"
	DefaultProcessingTime = "Variable"
)

var defaultRepaymentTerm = models.Range{Min: 12, Max: 60}

var (
	lenderTypeSet = toSet(models.LenderTypes)
	categorySet   = toSet(models.Categories)
	orgTypeSet    = toSet(models.OrganizationTypes)
)

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
