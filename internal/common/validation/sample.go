package validation

import "loan-catalog/internal/models"

// SampleSource is the source name recorded for SampleRecord runs.
const SampleSource = "validation-test"

// SampleRecord returns a record that exercises normalization: an aliased
// country, a bare-domain URL, comma-separated lists and a missing
// repayment term.
func SampleRecord() models.RawRecord {
	return models.RawRecord{
		"id":           "sample-001",
		"name":         "  Small Business Working Capital Loan  ",
		"lender":       "Sample Community Bank",
		"lenderType":   "Bank",
		"category":     "SME",
		"country":      "usa",
		"interestRate": "8.5% - 12% p.a.",
		"loanAmount": map[string]interface{}{
			"min": 5000,
			"max": "250000",
		},
		"collateral":     false,
		"description":    "Working capital financing for small businesses with at least one year of trading history.",
		"benefits":       "No prepayment penalty, Flexible drawdown",
		"documents":      []interface{}{"Business registration", "Bank statements"},
		"applicationUrl": "samplebank.example/apply",
		"eligibility": map[string]interface{}{
			"minAge":           21,
			"maxAge":           65,
			"creditScoreMin":   650,
			"organizationType": []interface{}{"SME", "startup"},
			"businessAge":      1,
			"sector":           "retail, services",
		},
		"lastUpdated": "2024-03-15",
	}
}
