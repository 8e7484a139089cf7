// Package errors provides typed error definitions for orchestra.
// Every failure surfaced by the worktree and zone managers carries one of the
// codes below so callers can branch on kind instead of message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique identifier for different error types
type ErrorCode string

const (
	// Lifecycle errors
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrBranchInvalid     ErrorCode = "BRANCH_INVALID"
	ErrPortsExhausted    ErrorCode = "PORTS_EXHAUSTED"
	ErrImmutableField    ErrorCode = "IMMUTABLE_FIELD"

	// Collaborator errors
	ErrVCSOperationFailed ErrorCode = "VCS_OPERATION_FAILED"
	ErrActionFailed       ErrorCode = "ACTION_FAILED"
	ErrContextUnavailable ErrorCode = "CONTEXT_UNAVAILABLE"

	// Configuration errors
	ErrConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Database errors
	ErrDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Validation errors
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrInvalidPort  ErrorCode = "INVALID_PORT"

	// Internal errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrShuttingDown ErrorCode = "SHUTTING_DOWN"
)

// OrchestraError represents a structured error with additional context
type OrchestraError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *OrchestraError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *OrchestraError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *OrchestraError) WithContext(key string, value interface{}) *OrchestraError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause error
func (e *OrchestraError) WithCause(cause error) *OrchestraError {
	e.Cause = cause
	return e
}

// GetHTTPStatus returns the appropriate HTTP status code for this error
func (e *OrchestraError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}

	switch e.Code {
	case ErrNotFound, ErrConfigNotFound:
		return http.StatusNotFound
	case ErrBranchInvalid, ErrInvalidInput, ErrInvalidPort, ErrImmutableField, ErrConfigValidation:
		return http.StatusBadRequest
	case ErrInvalidTransition:
		return http.StatusConflict
	case ErrPortsExhausted, ErrShuttingDown:
		return http.StatusServiceUnavailable
	case ErrVCSOperationFailed, ErrContextUnavailable:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new OrchestraError
func New(code ErrorCode, message string) *OrchestraError {
	return &OrchestraError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails creates a new OrchestraError with details
func NewWithDetails(code ErrorCode, message, details string) *OrchestraError {
	return &OrchestraError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap creates a new OrchestraError that wraps an existing error
func Wrap(code ErrorCode, message string, cause error) *OrchestraError {
	return &OrchestraError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetails creates a new OrchestraError with details that wraps an existing error
func WrapWithDetails(code ErrorCode, message, details string, cause error) *OrchestraError {
	return &OrchestraError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// As returns the first OrchestraError in err's chain.
func As(err error) (*OrchestraError, bool) {
	var oe *OrchestraError
	if stderrors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// GetCode extracts the error code from an error chain, if it holds an OrchestraError
func GetCode(err error) ErrorCode {
	if oe, ok := As(err); ok {
		return oe.Code
	}
	return ""
}

// HasCode checks if an error has a specific error code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
