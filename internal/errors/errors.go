package errors

import (
	"fmt"
)

// LensError is the structured error type for loclens.
// It provides rich context for error handling, logging, and API responses.
type LensError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Upstream, etc.).
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
func (e *LensError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LensError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LensError.
func (e *LensError) Is(target error) bool {
	if t, ok := target.(*LensError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LensError) WithDetail(key, value string) *LensError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *LensError) WithSuggestion(suggestion string) *LensError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LensError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LensError {
	return &LensError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LensError from an existing error.
// The error's message becomes the LensError message.
func Wrap(code string, err error) *LensError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *LensError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// FileError creates a file-related error.
func FileError(message string, cause error) *LensError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ExtractionError creates an extraction-related error.
func ExtractionError(message string, cause error) *LensError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// UpstreamError creates an upstream service error.
// Upstream errors are typically retryable.
func UpstreamError(message string, cause error) *LensError {
	return New(ErrCodeOllamaUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *LensError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFoundError creates a not-found error for API lookups.
func NotFoundError(message string) *LensError {
	return New(ErrCodeNotFound, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *LensError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a LensError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if le, ok := err.(*LensError); ok {
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
	if le, ok := err.(*LensError); ok {
		return le.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a LensError.
// Returns empty string if not a LensError.
func GetCode(err error) string {
	if le, ok := err.(*LensError); ok {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from a LensError.
// Returns empty string if not a LensError.
func GetCategory(err error) Category {
	if le, ok := err.(*LensError); ok {
		return le.Category
	}
	return ""
}
