package queryloancatalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Querier
// ==========================

type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueryResult), args.Error(1)
}

// ==========================
// Test Helpers
// ==========================

func createTestHandler(t *testing.T, querier Querier) *Handler {
	t.Helper()
	h, err := NewHandler(&Config{Enabled: true, MaxJobsActive: 2, Timeout: 5 * time.Second}, querier, logger.NewTestLogger(t))
	require.NoError(t, err)
	return h
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func createTestResult(ids ...string) *models.QueryResult {
	res := &models.QueryResult{Sources: models.SourceStats{Static: len(ids)}}
	for _, id := range ids {
		res.Records = append(res.Records, models.LoanRecord{ID: id, Name: "Loan " + id})
	}
	res.Meta.TotalAvailable = len(ids)
	res.Meta.AfterFiltering = len(ids)
	return res
}

func floatPtr(f float64) *float64 { return &f }

// ==========================
// Execute
// ==========================

func TestHandler_Execute_PassesFilters(t *testing.T) {
	querier := &MockQuerier{}
	expected := models.QueryRequest{
		Sources: []string{"static"},
		Filters: models.Filters{
			Country:        "Kenya",
			Category:       "agriculture",
			MinAmount:      floatPtr(100),
			CollateralFree: true,
		},
	}
	querier.On("Query", mock.Anything, expected).Return(createTestResult("a", "b"), nil)
	h := createTestHandler(t, querier)

	out, err := h.Execute(context.Background(), &Input{
		Country:        "Kenya",
		Category:       "agriculture",
		MinAmount:      floatPtr(100),
		CollateralFree: true,
		Sources:        []string{"static"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, out.LoanCount)
	assert.Equal(t, 2, out.TotalAvailable)
	assert.Equal(t, 2, out.Sources.Static)
	querier.AssertExpectations(t)
}

func TestHandler_Execute_Limit(t *testing.T) {
	querier := &MockQuerier{}
	querier.On("Query", mock.Anything, mock.Anything).Return(createTestResult("a", "b", "c"), nil)
	h := createTestHandler(t, querier)

	out, err := h.Execute(context.Background(), &Input{Limit: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, out.LoanCount)
	assert.Equal(t, "b", out.Loans[1].ID)
	assert.Equal(t, 3, out.TotalAvailable)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name       string
		input      *Input
		queryErr   error
		expectCode commonerrors.ErrorCode
	}{
		{
			name:       "nil input",
			expectCode: commonerrors.ErrCodeInvalidRequestBody,
		},
		{
			name:       "inverted range",
			input:      &Input{MinAmount: floatPtr(500), MaxAmount: floatPtr(10)},
			expectCode: commonerrors.ErrCodeInvalidQueryParameter,
		},
		{
			name:       "unknown source",
			input:      &Input{Sources: []string{"ftp"}},
			queryErr:   commonerrors.NewUnknownSourceError("ftp"),
			expectCode: commonerrors.ErrCodeSourceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			querier := &MockQuerier{}
			if tt.queryErr != nil {
				querier.On("Query", mock.Anything, mock.Anything).Return(nil, tt.queryErr)
			}
			h := createTestHandler(t, querier)

			_, err := h.Execute(context.Background(), tt.input)

			require.Error(t, err)
			assert.Equal(t, tt.expectCode, commonerrors.Normalize(err).Code)
		})
	}
}

// ==========================
// Input Parsing
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	tests := []struct {
		name        string
		variables   map[string]interface{}
		expectInput *Input
		expectCode  commonerrors.ErrorCode
	}{
		{
			name: "filters normalised",
			variables: map[string]interface{}{
				"country":    "India",
				"category":   "SME",
				"lenderType": "Government",
				"maxAmount":  5000000,
			},
			expectInput: &Input{Country: "India", Category: "sme", LenderType: "government", MaxAmount: floatPtr(5000000)},
		},
		{
			name:       "unknown category",
			variables:  map[string]interface{}{"category": "crypto"},
			expectCode: commonerrors.ErrCodeInvalidRequestBody,
		},
		{
			name:       "negative amount",
			variables:  map[string]interface{}{"minAmount": -1},
			expectCode: commonerrors.ErrCodeInvalidRequestBody,
		},
		{
			name:       "wrong type",
			variables:  map[string]interface{}{"sources": "static"},
			expectCode: commonerrors.ErrCodeInputParsingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, &MockQuerier{})

			input, err := h.parseInput(createMockJob(7, tt.variables))

			if tt.expectCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectCode, commonerrors.Normalize(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectInput, input)
		})
	}
}
