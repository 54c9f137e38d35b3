package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	// Generic
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Database
	ErrCodeDBConnection ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery      ErrorCode = "DB_QUERY_ERROR"
	ErrCodeDBConstraint ErrorCode = "DB_CONSTRAINT_ERROR"

	// Cache
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"

	// Market data
	ErrCodeSnapshotStoreUnavailable ErrorCode = "SNAPSHOT_STORE_UNAVAILABLE"
	ErrCodeHistoryStoreUnavailable  ErrorCode = "HISTORY_STORE_UNAVAILABLE"
	ErrCodeDataQuality              ErrorCode = "DATA_QUALITY_ERROR"
)

// ErrorSeverity ranks how loudly an error should be reported.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the error type crossing component boundaries and the API.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeDBConstraint:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeDataQuality:
		return http.StatusUnprocessableEntity
	case ErrCodeServiceUnavailable, ErrCodeDBConnection, ErrCodeCacheConnection,
		ErrCodeSnapshotStoreUnavailable, ErrCodeHistoryStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError builds an error with severity derived from the code.
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails builds an error carrying a detail string.
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext attaches a key/value to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID tags the error with the originating request.
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeDBConnection:
		return SeverityCritical
	case ErrCodeDBQuery, ErrCodeServiceUnavailable,
		ErrCodeSnapshotStoreUnavailable, ErrCodeHistoryStoreUnavailable:
		return SeverityHigh
	case ErrCodeCacheConnection, ErrCodeCacheOperation, ErrCodeDataQuality:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable reports whether the caller may retry the operation.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeDBConnection, ErrCodeCacheConnection,
		ErrCodeServiceUnavailable, ErrCodeSnapshotStoreUnavailable,
		ErrCodeHistoryStoreUnavailable:
		return true
	default:
		return false
	}
}

// ErrorResponse is the API error payload.
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// NewErrorResponse wraps an AppError for transport.
func NewErrorResponse(err *AppError, path string) *ErrorResponse {
	return &ErrorResponse{
		Error:     err,
		Success:   false,
		Timestamp: time.Now(),
		Path:      path,
	}
}

// Predefined errors for the common cases.
var (
	ErrInternalServer     = NewAppError(ErrCodeInternal, "Internal server error", nil)
	ErrValidation         = NewAppError(ErrCodeValidation, "Invalid request parameters", nil)
	ErrNotFound           = NewAppError(ErrCodeNotFound, "Resource not found", nil)
	ErrUnauthorized       = NewAppError(ErrCodeUnauthorized, "Unauthorized access", nil)
	ErrForbidden          = NewAppError(ErrCodeForbidden, "Access forbidden", nil)
	ErrTimeout            = NewAppError(ErrCodeTimeout, "Request timeout", nil)
	ErrRateLimit          = NewAppError(ErrCodeRateLimit, "Rate limit exceeded", nil)
	ErrServiceUnavailable = NewAppError(ErrCodeServiceUnavailable, "Service temporarily unavailable", nil)
)

// WrapError converts a plain error into an AppError. Existing AppErrors
// pass through unchanged.
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewAppError(code, message, err)
}

// IsAppError reports whether err is an AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts the AppError or returns nil.
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return nil
}
