package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/models"

	"github.com/go-playground/validator/v10"
)

// loansQuery is the raw query string of GET /loans. Values are lowercased
// before the enum checks run.
type loansQuery struct {
	Country        string `form:"country" validate:"max=100"`
	Source         string `form:"source" validate:"max=100"`
	Category       string `form:"category" validate:"omitempty,oneof=all startup sme ngo education agriculture personal home general"`
	LenderType     string `form:"lenderType" validate:"omitempty,oneof=all government bank nbfc private fintech other"`
	MinAmount      string `form:"minAmount" validate:"omitempty,numeric"`
	MaxAmount      string `form:"maxAmount" validate:"omitempty,numeric"`
	CollateralFree string `form:"collateralFree" validate:"omitempty,oneof=true false 1 0 yes no"`
	ForceRefresh   string `form:"forceRefresh" validate:"omitempty,oneof=true false 1 0 yes no"`
}

// refreshBody is the JSON body of POST /loans/refresh.
type refreshBody struct {
	Source     string `json:"source" validate:"omitempty,max=50"`
	ClearCache bool   `json:"clearCache"`
	Job        string `json:"job" validate:"omitempty,max=100"`
}

var validate = validator.New()

// queryParamNames maps struct fields to their query parameter names.
var queryParamNames = map[string]string{
	"Country":        "country",
	"Source":         "source",
	"Category":       "category",
	"LenderType":     "lenderType",
	"MinAmount":      "minAmount",
	"MaxAmount":      "maxAmount",
	"CollateralFree": "collateralFree",
	"ForceRefresh":   "forceRefresh",
}

func (q *loansQuery) normalize() {
	q.Country = strings.TrimSpace(q.Country)
	q.Source = strings.ToLower(strings.TrimSpace(q.Source))
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	q.LenderType = strings.ToLower(strings.TrimSpace(q.LenderType))
	q.MinAmount = strings.TrimSpace(q.MinAmount)
	q.MaxAmount = strings.TrimSpace(q.MaxAmount)
	q.CollateralFree = strings.ToLower(strings.TrimSpace(q.CollateralFree))
	q.ForceRefresh = strings.ToLower(strings.TrimSpace(q.ForceRefresh))
}

// toRequest validates q and converts it to an aggregator request.
func (q loansQuery) toRequest() (models.QueryRequest, *commonerrors.StandardError) {
	q.normalize()
	if err := validate.Struct(q); err != nil {
		return models.QueryRequest{}, fromValidation(err)
	}

	req := models.QueryRequest{
		Filters: models.Filters{
			Country:        q.Country,
			Category:       q.Category,
			LenderType:     q.LenderType,
			CollateralFree: truthy(q.CollateralFree),
		},
		ForceRefresh: truthy(q.ForceRefresh),
	}
	if q.Source != "" {
		for _, s := range strings.Split(q.Source, ",") {
			if s = strings.TrimSpace(s); s != "" {
				req.Sources = append(req.Sources, s)
			}
		}
	}

	minAmount, stdErr := parseAmount("minAmount", q.MinAmount)
	if stdErr != nil {
		return req, stdErr
	}
	maxAmount, stdErr := parseAmount("maxAmount", q.MaxAmount)
	if stdErr != nil {
		return req, stdErr
	}
	if minAmount != nil && maxAmount != nil && *minAmount > *maxAmount {
		return req, commonerrors.NewInvalidQueryParameterError("minAmount", "minAmount cannot be greater than maxAmount")
	}
	req.Filters.MinAmount = minAmount
	req.Filters.MaxAmount = maxAmount
	return req, nil
}

func parseAmount(name, v string) (*float64, *commonerrors.StandardError) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, commonerrors.NewInvalidQueryParameterError(name, fmt.Sprintf("%s must be a number", name))
	}
	if f < 0 {
		return nil, commonerrors.NewInvalidQueryParameterError(name, fmt.Sprintf("%s cannot be negative", name))
	}
	return &f, nil
}

func truthy(v string) bool {
	switch v {
	case "true", "1", "yes":
		return true
	}
	return false
}

// fromValidation reports the first failed field.
func fromValidation(err error) *commonerrors.StandardError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return commonerrors.NewInvalidQueryParameterError("query", err.Error())
	}
	fe := verrs[0]
	name := queryParamNames[fe.StructField()]
	if name == "" {
		name = fe.Field()
	}
	var details string
	switch fe.Tag() {
	case "oneof":
		details = fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "numeric":
		details = fmt.Sprintf("%s must be a number", name)
	case "max":
		details = fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	default:
		details = fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
	return commonerrors.NewInvalidQueryParameterError(name, details)
}
