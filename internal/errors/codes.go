// Package errors provides structured error handling for Loreweave.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (relational, lexical, vector, artifacts)
//   - 3XX: Network and provider errors (embedding models, oracle)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates store and index backend errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates network and model-provider errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreUnreachable = "ERR_201_STORE_UNREACHABLE"
	ErrCodeArtifactCorrupt  = "ERR_202_ARTIFACT_CORRUPT"
	ErrCodeIndexCorrupt     = "ERR_203_INDEX_CORRUPT"

	// Network and provider errors (300-399)
	ErrCodeModelUnavailable  = "ERR_301_MODEL_UNAVAILABLE"
	ErrCodeTimeout           = "ERR_302_TIMEOUT"
	ErrCodeOracleUnavailable = "ERR_303_ORACLE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeValidationFailed  = "ERR_401_VALIDATION_FAILED"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodePlanningInvalid   = "ERR_403_PLANNING_INVALID"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeMarkerInvalid     = "ERR_405_MARKER_INVALID"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIngestFailed    = "ERR_504_INGEST_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_STORE_UNREACHABLE")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	if code == ErrCodeIndexCorrupt {
		return SeverityFatal
	}

	// A malformed external plan is always recovered with the
	// deterministic default plan, so it only warrants a warning.
	if code == ErrCodePlanningInvalid {
		return SeverityWarning
	}

	// Retryable errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreUnreachable, ErrCodeModelUnavailable, ErrCodeTimeout, ErrCodeOracleUnavailable:
		return true
	default:
		return false
	}
}
