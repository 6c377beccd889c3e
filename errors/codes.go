// Package errors provides structured error handling for identistore.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Index setup errors
//   - 2XX: Document errors (missing, conflicting)
//   - 3XX: Store availability errors
//   - 4XX: Validation errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategorySetup indicates index provisioning errors.
	CategorySetup Category = "SETUP"
	// CategoryDocument indicates per-document errors (missing, conflicting).
	CategoryDocument Category = "DOCUMENT"
	// CategoryStore indicates store availability errors.
	CategoryStore Category = "STORE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Setup errors (100-199)
	ErrCodeIndexSetup  = "ERR_101_INDEX_SETUP"
	ErrCodeIndexExists = "ERR_102_INDEX_EXISTS"

	// Document errors (200-299)
	ErrCodeNotFound        = "ERR_201_NOT_FOUND"
	ErrCodeVersionConflict = "ERR_202_VERSION_CONFLICT"
	ErrCodeDuplicateID     = "ERR_203_DUPLICATE_ID"

	// Store errors (300-399)
	ErrCodeUnavailable = "ERR_301_STORE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidArgument = "ERR_401_INVALID_ARGUMENT"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryStore
	}

	// Extract the leading digit of the numeric portion
	// (e.g., "2" from "ERR_201_NOT_FOUND").
	switch code[4] {
	case '1':
		return CategorySetup
	case '2':
		return CategoryDocument
	case '3':
		return CategoryStore
	case '4':
		return CategoryValidation
	default:
		return CategoryStore
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Setup failures poison the repository instance until a new one is built.
	if code == ErrCodeIndexSetup {
		return SeverityFatal
	}

	// Retryable errors get warning severity.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Version conflicts are deliberately not retryable: the caller must
// re-read the document before trying again.
func isRetryableCode(code string) bool {
	return code == ErrCodeUnavailable
}
