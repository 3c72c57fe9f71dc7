// Package errors provides the catalog's structured error model and its
// mapping onto HTTP responses and Zeebe (BPMN) job failures.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeSourceFetchFailed ErrorCode = "SOURCE_FETCH_FAILED"
	ErrCodeSourceTimeout     ErrorCode = "SOURCE_TIMEOUT"
	ErrCodeSourceNotFound    ErrorCode = "SOURCE_NOT_FOUND"
	ErrCodeProviderFailed    ErrorCode = "PROVIDER_FAILED"
	ErrCodeDatasetLoadFailed ErrorCode = "DATASET_LOAD_FAILED"

	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"

	ErrCodeInvalidQueryParameter ErrorCode = "INVALID_QUERY_PARAMETER"
	ErrCodeInvalidRequestBody    ErrorCode = "INVALID_REQUEST_BODY"

	ErrCodeJobNotFound      ErrorCode = "JOB_NOT_FOUND"
	ErrCodeJobFailed        ErrorCode = "JOB_FAILED"
	ErrCodeSchedulerStopped ErrorCode = "SCHEDULER_STOPPED"

	ErrCodeBrokerUnavailable  ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeInputParsingFailed ErrorCode = "INPUT_PARSING_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels shared across packages. Wrap with %w and test with errors.Is.
var (
	ErrSourceUnavailable = errors.New(string(ErrCodeSourceFetchFailed))
	ErrSourceTimeout     = errors.New(string(ErrCodeSourceTimeout))
	ErrUnknownSource     = errors.New(string(ErrCodeSourceNotFound))
	ErrJobNotFound       = errors.New(string(ErrCodeJobNotFound))
	ErrSchedulerStopped  = errors.New(string(ErrCodeSchedulerStopped))
	ErrCacheUnavailable  = errors.New(string(ErrCodeCacheUnavailable))
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches the sentinel that corresponds to the error code.
func (e *StandardError) Is(target error) bool {
	sentinel, ok := sentinelByCode[e.Code]
	return ok && sentinel == target
}

var sentinelByCode = map[ErrorCode]error{
	ErrCodeSourceFetchFailed: ErrSourceUnavailable,
	ErrCodeSourceTimeout:     ErrSourceTimeout,
	ErrCodeSourceNotFound:    ErrUnknownSource,
	ErrCodeJobNotFound:       ErrJobNotFound,
	ErrCodeSchedulerStopped:  ErrSchedulerStopped,
	ErrCodeCacheUnavailable:  ErrCacheUnavailable,
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Zeebe workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Zeebe job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewSourceFetchFailedError wraps an adapter failure for one source.
func NewSourceFetchFailedError(source string, err error) *StandardError {
	e := newError(ErrCodeSourceFetchFailed, fmt.Sprintf("Source '%s' fetch failed", source), err.Error(), true)
	e.Metadata = map[string]interface{}{"source": source}
	return e
}

// NewSourceTimeoutError reports an adapter that exceeded its deadline.
func NewSourceTimeoutError(source string) *StandardError {
	e := newError(ErrCodeSourceTimeout, fmt.Sprintf("Source '%s' timed out", source), "", true)
	e.Metadata = map[string]interface{}{"source": source}
	return e
}

func NewUnknownSourceError(source string) *StandardError {
	return newError(ErrCodeSourceNotFound, "Unknown source", fmt.Sprintf("source: %s", source), false)
}

func NewProviderFailedError(provider string, err error) *StandardError {
	return newError(ErrCodeProviderFailed, fmt.Sprintf("Provider '%s' failed", provider), err.Error(), true)
}

func NewDatasetLoadFailedError(err error) *StandardError {
	return newError(ErrCodeDatasetLoadFailed, "Static dataset could not be loaded", err.Error(), false)
}

func NewCacheUnavailableError(err error) *StandardError {
	return newError(ErrCodeCacheUnavailable, "Cache backend unavailable", err.Error(), true)
}

// NewInvalidQueryParameterError is returned at the query boundary for
// malformed filters; these never reach the Validator.
func NewInvalidQueryParameterError(param, details string) *StandardError {
	e := newError(ErrCodeInvalidQueryParameter, fmt.Sprintf("Invalid query parameter '%s'", param), details, false)
	e.Metadata = map[string]interface{}{"parameter": param}
	return e
}

func NewInvalidRequestBodyError(details string) *StandardError {
	return newError(ErrCodeInvalidRequestBody, "Invalid request body", details, false)
}

func NewJobNotFoundError(job string) *StandardError {
	return newError(ErrCodeJobNotFound, "Scheduler job not found", fmt.Sprintf("job: %s", job), false)
}

func NewJobFailedError(job string, err error) *StandardError {
	e := newError(ErrCodeJobFailed, fmt.Sprintf("Job '%s' failed", job), err.Error(), true)
	e.Metadata = map[string]interface{}{"job": job}
	return e
}

func NewSchedulerStoppedError() *StandardError {
	return newError(ErrCodeSchedulerStopped, "Scheduler is not running", "", true)
}

// NewBrokerUnavailableError reports a Zeebe gateway command that could not
// be delivered.
func NewBrokerUnavailableError(operation string, err error) *StandardError {
	e := newError(ErrCodeBrokerUnavailable, fmt.Sprintf("Zeebe operation '%s' failed", operation), err.Error(), true)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

func NewInputParsingFailedError(err error) *StandardError {
	return newError(ErrCodeInputParsingFailed, "Failed to parse job variables", err.Error(), false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// Normalize turns any error into a StandardError, recognising the package
// sentinels.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return newError(ErrCodeJobNotFound, "Scheduler job not found", err.Error(), false)
	case errors.Is(err, ErrSchedulerStopped):
		return newError(ErrCodeSchedulerStopped, "Scheduler is not running", err.Error(), true)
	case errors.Is(err, ErrUnknownSource):
		return newError(ErrCodeSourceNotFound, "Unknown source", err.Error(), false)
	case errors.Is(err, ErrSourceTimeout):
		return newError(ErrCodeSourceTimeout, "Source timed out", err.Error(), true)
	case errors.Is(err, ErrSourceUnavailable):
		return newError(ErrCodeSourceFetchFailed, "Source fetch failed", err.Error(), true)
	case errors.Is(err, ErrCacheUnavailable):
		return newError(ErrCodeCacheUnavailable, "Cache backend unavailable", err.Error(), true)
	}
	return NewInternalError(err)
}

// ==========================
// 4. Error Conversion
// ==========================

// HTTPStatus maps an error code to the status used by the query surface.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidQueryParameter, ErrCodeInvalidRequestBody, ErrCodeSourceNotFound:
		return http.StatusBadRequest
	case ErrCodeJobNotFound:
		return http.StatusNotFound
	case ErrCodeSchedulerStopped:
		return http.StatusConflict
	case ErrCodeSourceFetchFailed, ErrCodeProviderFailed:
		return http.StatusBadGateway
	case ErrCodeSourceTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeCacheUnavailable, ErrCodeBrokerUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSourceFetchFailed,
		ErrCodeProviderFailed,
		ErrCodeCacheUnavailable,
		ErrCodeBrokerUnavailable,
		ErrCodeJobFailed:
		return 3

	case ErrCodeSourceTimeout,
		ErrCodeSchedulerStopped:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Zeebe.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "SOURCE") || strings.HasPrefix(codeStr, "PROVIDER") || strings.HasPrefix(codeStr, "DATASET"):
		return "SOURCE"
	case strings.HasPrefix(codeStr, "CACHE"):
		return "CACHE"
	case strings.HasPrefix(codeStr, "JOB") || strings.HasPrefix(codeStr, "SCHEDULER"):
		return "SCHEDULER"
	case strings.HasPrefix(codeStr, "BROKER"):
		return "BROKER"
	case strings.HasPrefix(codeStr, "INVALID") || strings.HasPrefix(codeStr, "INPUT"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
