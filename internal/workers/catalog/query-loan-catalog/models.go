// internal/workers/catalog/query-loan-catalog/models.go
package queryloancatalog

import "loan-catalog/internal/models"

type Input struct {
	Country        string   `json:"country,omitempty" validate:"max=100"`
	Category       string   `json:"category,omitempty" validate:"omitempty,oneof=all startup sme ngo education agriculture personal home general"`
	LenderType     string   `json:"lenderType,omitempty" validate:"omitempty,oneof=all government bank nbfc private fintech other"`
	MinAmount      *float64 `json:"minAmount,omitempty" validate:"omitempty,gte=0"`
	MaxAmount      *float64 `json:"maxAmount,omitempty" validate:"omitempty,gte=0"`
	CollateralFree bool     `json:"collateralFree,omitempty"`
	Sources        []string `json:"sources,omitempty" validate:"dive,max=50"`
	ForceRefresh   bool     `json:"forceRefresh,omitempty"`
	// Limit caps the loans returned to the process; 0 keeps the catalog cap.
	Limit int `json:"limit,omitempty" validate:"gte=0"`
}

type Output struct {
	Loans          []models.LoanRecord `json:"loans"`
	LoanCount      int                 `json:"loanCount"`
	TotalAvailable int                 `json:"totalAvailable"`
	Sources        models.SourceStats  `json:"sourceStats"`
}
