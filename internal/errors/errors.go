package errors

import (
	"fmt"
)

// LoreError is the structured error type for Loreweave.
// It provides rich context for error handling, logging, and user presentation.
type LoreError struct {
	// Code is the unique error code (e.g., "ERR_201_STORE_UNREACHABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *LoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LoreError.
func (e *LoreError) Is(target error) bool {
	if t, ok := target.(*LoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LoreError) WithDetail(key, value string) *LoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *LoreError) WithSuggestion(suggestion string) *LoreError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LoreError {
	return &LoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LoreError from an existing error.
// The error's message becomes the LoreError message.
func Wrap(code string, err error) *LoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *LoreError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a store-backend error. Search strategies treat
// these as "that strategy returns empty"; they never fail the query.
func StorageError(message string, cause error) *LoreError {
	return New(ErrCodeStoreUnreachable, message, cause)
}

// ModelUnavailableError indicates no provider could serve an embedding
// model. Ingestion continues with the remaining models.
func ModelUnavailableError(model string, cause error) *LoreError {
	return New(ErrCodeModelUnavailable, fmt.Sprintf("embedding model %q is not available", model), cause).
		WithDetail("model", model)
}

// TimeoutError creates a bounded-timeout error. Timeouts are handled
// exactly like StorageError during query execution.
func TimeoutError(message string, cause error) *LoreError {
	return New(ErrCodeTimeout, message, cause)
}

// ValidationError creates a validation-related error. Validation errors
// reject the request explicitly; they are never conflated with an empty
// result set.
func ValidationError(message string, cause error) *LoreError {
	return New(ErrCodeValidationFailed, message, cause)
}

// PlanningError records a malformed externally supplied search plan.
// Callers recover by synthesizing missing fields deterministically.
func PlanningError(message string, cause error) *LoreError {
	return New(ErrCodePlanningInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *LoreError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a LoreError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if le, ok := err.(*LoreError); ok {
		return le.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if le, ok := err.(*LoreError); ok {
		return le.Severity == SeverityFatal
	}
	return false
}

// IsValidation reports whether an error is a caller-input validation
// failure. Surfaces use this to distinguish a rejected request from a
// successful query with no evidence.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// GetCode extracts the error code from a LoreError.
// Returns empty string if not a LoreError.
func GetCode(err error) string {
	if le, ok := err.(*LoreError); ok {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from a LoreError.
// Returns empty string if not a LoreError.
func GetCategory(err error) Category {
	if le, ok := err.(*LoreError); ok {
		return le.Category
	}
	return ""
}
