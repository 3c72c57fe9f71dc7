// internal/models/loan.go
package models

import "time"

// Lender types.
const (
	LenderGovernment = "government"
	LenderBank       = "bank"
	LenderNBFC       = "nbfc"
	LenderPrivate    = "private"
	LenderFintech    = "fintech"
	LenderOther      = "other"
)

// Loan categories.
const (
	CategoryStartup     = "startup"
	CategorySME         = "sme"
	CategoryNGO         = "ngo"
	CategoryEducation   = "education"
	CategoryAgriculture = "agriculture"
	CategoryPersonal    = "personal"
	CategoryHome        = "home"
	CategoryGeneral     = "general"
)

// LenderTypes lists the accepted lenderType values.
var LenderTypes = []string{
	LenderGovernment, LenderBank, LenderNBFC, LenderPrivate, LenderFintech, LenderOther,
}

// Categories lists the accepted category values.
var Categories = []string{
	CategoryStartup, CategorySME, CategoryNGO, CategoryEducation,
	CategoryAgriculture, CategoryPersonal, CategoryHome, CategoryGeneral,
}

// OrganizationTypes lists the accepted eligibility.organizationType entries.
var OrganizationTypes = []string{
	"individual", "startup", "sme", "msme", "ngo", "corporate", "cooperative",
	"student", "farmer", "partnership", "proprietorship", "llp", "government", "other",
}

// RawRecord is a loan listing as produced by a source, before validation.
type RawRecord map[string]interface{}

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Eligibility holds the applicant constraints of a listing. Zero means unset.
type Eligibility struct {
	MinAge           int      `json:"minAge,omitempty"`
	MaxAge           int      `json:"maxAge,omitempty"`
	MinIncome        float64  `json:"minIncome,omitempty"`
	CreditScoreMin   int      `json:"creditScoreMin,omitempty"`
	OrganizationType []string `json:"organizationType"`
	BusinessAge      float64  `json:"businessAge,omitempty"`
	Sector           []string `json:"sector"`
}

// LoanRecord is the canonical, validated form of a listing.
type LoanRecord struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Lender         string      `json:"lender"`
	LenderType     string      `json:"lenderType"`
	Category       string      `json:"category"`
	Country        string      `json:"country"`
	InterestRate   string      `json:"interestRate"`
	LoanAmount     Range       `json:"loanAmount"`
	RepaymentTerm  Range       `json:"repaymentTerm"`
	ProcessingFee  string      `json:"processingFee"`
	ProcessingTime string      `json:"processingTime"`
	Collateral     bool        `json:"collateral"`
	Description    string      `json:"description"`
	Benefits       []string    `json:"benefits"`
	Documents      []string    `json:"documents"`
	Features       []string    `json:"features"`
	Eligibility    Eligibility `json:"eligibility"`
	ApplicationURL string      `json:"applicationUrl"`
	LastUpdated    time.Time   `json:"lastUpdated"`
	Source         string      `json:"source,omitempty"`
}

// ToRaw converts a canonical record back into raw form so it can be
// re-validated.
func (r LoanRecord) ToRaw() RawRecord {
	return RawRecord{
		"id":             r.ID,
		"name":           r.Name,
		"lender":         r.Lender,
		"lenderType":     r.LenderType,
		"category":       r.Category,
		"country":        r.Country,
		"interestRate":   r.InterestRate,
		"loanAmount":     map[string]interface{}{"min": r.LoanAmount.Min, "max": r.LoanAmount.Max},
		"repaymentTerm":  map[string]interface{}{"min": r.RepaymentTerm.Min, "max": r.RepaymentTerm.Max},
		"processingFee":  r.ProcessingFee,
		"processingTime": r.ProcessingTime,
		"collateral":     r.Collateral,
		"description":    r.Description,
		"benefits":       toInterfaces(r.Benefits),
		"documents":      toInterfaces(r.Documents),
		"features":       toInterfaces(r.Features),
		"eligibility":    r.Eligibility.toRaw(),
		"applicationUrl": r.ApplicationURL,
		"lastUpdated":    r.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
}

// toRaw omits unset numeric constraints so they stay unset on re-validation.
func (e Eligibility) toRaw() map[string]interface{} {
	out := map[string]interface{}{
		"organizationType": toInterfaces(e.OrganizationType),
		"sector":           toInterfaces(e.Sector),
	}
	if e.MinAge != 0 {
		out["minAge"] = float64(e.MinAge)
	}
	if e.MaxAge != 0 {
		out["maxAge"] = float64(e.MaxAge)
	}
	if e.MinIncome != 0 {
		out["minIncome"] = e.MinIncome
	}
	if e.CreditScoreMin != 0 {
		out["creditScoreMin"] = float64(e.CreditScoreMin)
	}
	if e.BusinessAge != 0 {
		out["businessAge"] = e.BusinessAge
	}
	return out
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
