package errors

import (
	"fmt"
)

// StoreError is the structured error type for identistore.
// It provides rich context for error handling, logging, and diagnostics.
type StoreError struct {
	// Code is the unique error code (e.g., "ERR_202_VERSION_CONFLICT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Setup, Document, Store, Validation).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried as-is.
	Retryable bool
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with StoreError.
func (e *StoreError) Is(target error) bool {
	if t, ok := target.(*StoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *StoreError) WithDetail(key, value string) *StoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new StoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *StoreError {
	return &StoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a StoreError from an existing error.
// The error's message becomes the StoreError message.
func Wrap(code string, err error) *StoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidArgument creates a validation error for a nil or empty
// required parameter. Raised before any I/O happens.
func InvalidArgument(message string) *StoreError {
	return New(ErrCodeInvalidArgument, message, nil)
}

// NotFound creates an error for a missing document or index.
func NotFound(message string) *StoreError {
	return New(ErrCodeNotFound, message, nil)
}

// VersionConflict creates an error for a write rejected because the
// supplied version no longer matches the store's current version.
func VersionConflict(id string, supplied, current int64) *StoreError {
	return New(ErrCodeVersionConflict,
		fmt.Sprintf("document %q changed since last read", id), nil).
		WithDetail("supplied", fmt.Sprintf("%d", supplied)).
		WithDetail("current", fmt.Sprintf("%d", current))
}

// DuplicateID creates an error for a create-only write that hit an
// already existing document id.
func DuplicateID(id string) *StoreError {
	return New(ErrCodeDuplicateID,
		fmt.Sprintf("document %q already exists", id), nil)
}

// Unavailable creates an error for a transient store failure.
// Unavailable errors are retryable, but the adapter never retries them
// itself; callers needing resilience retry with backoff externally.
func Unavailable(message string, cause error) *StoreError {
	return New(ErrCodeUnavailable, message, cause)
}

// SetupFailure creates an error for index creation or deletion failing
// with anything other than "already exists". Fatal for the repository
// instance that hit it.
func SetupFailure(message string, cause error) *StoreError {
	return New(ErrCodeIndexSetup, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a StoreError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StoreError); ok {
		return se.Retryable
	}
	return false
}

// IsCode reports whether err is a StoreError carrying the given code.
func IsCode(err error, code string) bool {
	if se, ok := err.(*StoreError); ok {
		return se.Code == code
	}
	return false
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}

// IsVersionConflict reports whether err is an optimistic concurrency
// rejection.
func IsVersionConflict(err error) bool {
	return IsCode(err, ErrCodeVersionConflict)
}

// Detail extracts a detail value from a StoreError.
// Returns empty string if the detail is absent or err is not a StoreError.
func Detail(err error, key string) string {
	if se, ok := err.(*StoreError); ok {
		return se.Details[key]
	}
	return ""
}

// GetCode extracts the error code from a StoreError.
// Returns empty string if not a StoreError.
func GetCode(err error) string {
	if se, ok := err.(*StoreError); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a StoreError.
// Returns empty string if not a StoreError.
func GetCategory(err error) Category {
	if se, ok := err.(*StoreError); ok {
		return se.Category
	}
	return ""
}
