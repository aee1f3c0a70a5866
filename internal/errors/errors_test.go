package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoreError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with LoreError
	loreErr := New(ErrCodeStoreUnreachable, "lexical backend unreachable", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, loreErr)
	assert.Equal(t, originalErr, errors.Unwrap(loreErr))
	assert.True(t, errors.Is(loreErr, originalErr))
}

func TestLoreError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "storage error",
			code:     ErrCodeStoreUnreachable,
			message:  "vector partition offline",
			expected: "[ERR_201_STORE_UNREACHABLE] vector partition offline",
		},
		{
			name:     "model error",
			code:     ErrCodeModelUnavailable,
			message:  "no provider for nomic-embed-text",
			expected: "[ERR_301_MODEL_UNAVAILABLE] no provider for nomic-embed-text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestLoreError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with same code
	err1 := New(ErrCodeModelUnavailable, "model A missing", nil)
	err2 := New(ErrCodeModelUnavailable, "model B missing", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestLoreError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(ErrCodeModelUnavailable, "model missing", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	// Then: they don't match
	assert.False(t, errors.Is(err1, err2))
}

func TestLoreError_WithDetails_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeStoreUnreachable, "store down", nil)

	// When: adding details
	err = err.WithDetail("strategy", "structured_data")
	err = err.WithDetail("table", "characters")

	// Then: details are available
	assert.Equal(t, "structured_data", err.Details["strategy"])
	assert.Equal(t, "characters", err.Details["table"])
}

func TestLoreError_WithSuggestion_AddsSuggestion(t *testing.T) {
	// Given: a provider error
	err := New(ErrCodeModelUnavailable, "ollama not reachable", nil)

	// When: adding suggestion
	err = err.WithSuggestion("Start ollama or switch the model to the static provider")

	// Then: suggestion is available
	assert.Equal(t, "Start ollama or switch the model to the static provider", err.Suggestion)
}

func TestLoreError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeStoreUnreachable, CategoryStorage},
		{ErrCodeArtifactCorrupt, CategoryStorage},
		{ErrCodeModelUnavailable, CategoryNetwork},
		{ErrCodeOracleUnavailable, CategoryNetwork},
		{ErrCodeValidationFailed, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodePlanningInvalid, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodeEmbeddingFailed, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestLoreError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeIndexCorrupt, SeverityFatal},
		{ErrCodeValidationFailed, SeverityError},
		{ErrCodePlanningInvalid, SeverityWarning}, // Recovered deterministically
		{ErrCodeModelUnavailable, SeverityWarning}, // Retryable, so warning
		{ErrCodeTimeout, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestLoreError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeStoreUnreachable, true},
		{ErrCodeModelUnavailable, true},
		{ErrCodeTimeout, true},
		{ErrCodeOracleUnavailable, true},
		{ErrCodeValidationFailed, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodePlanningInvalid, false},
		{ErrCodeIndexCorrupt, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesLoreErrorFromError(t *testing.T) {
	// Given: a standard error
	originalErr := errors.New("something went wrong")

	// When: wrapping with a code
	loreErr := Wrap(ErrCodeInternal, originalErr)

	// Then: creates proper LoreError
	require.NotNil(t, loreErr)
	assert.Equal(t, ErrCodeInternal, loreErr.Code)
	assert.Equal(t, "something went wrong", loreErr.Message)
	assert.Equal(t, originalErr, loreErr.Cause)
}

func TestConfigError_CreatesConfigCategoryError(t *testing.T) {
	err := ConfigError("invalid yaml syntax", nil)

	assert.Equal(t, CategoryConfig, err.Category)
	assert.Contains(t, err.Code, "CONFIG")
}

func TestStorageError_CreatesRetryableStorageError(t *testing.T) {
	err := StorageError("cannot open lore.db", nil)

	assert.Equal(t, CategoryStorage, err.Category)
	assert.True(t, err.Retryable)
}

func TestModelUnavailableError_CarriesModelDetail(t *testing.T) {
	err := ModelUnavailableError("nomic-embed-text", nil)

	assert.Equal(t, CategoryNetwork, err.Category)
	assert.True(t, err.Retryable)
	assert.Equal(t, "nomic-embed-text", err.Details["model"])
}

func TestValidationError_CreatesValidationCategoryError(t *testing.T) {
	err := ValidationError("query cannot be empty", nil)

	assert.Equal(t, CategoryValidation, err.Category)
	assert.True(t, IsValidation(err))
	assert.False(t, err.Retryable)
}

func TestPlanningError_IsRecoverableWarning(t *testing.T) {
	err := PlanningError("plan has no strategies", nil)

	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestIsValidation_DistinguishesEmptyResultsFromRejection(t *testing.T) {
	assert.True(t, IsValidation(ValidationError("bad filter", nil)))
	assert.False(t, IsValidation(StorageError("store down", nil)))
	assert.False(t, IsValidation(errors.New("plain")))
	assert.False(t, IsValidation(nil))
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable LoreError",
			err:      New(ErrCodeTimeout, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable LoreError",
			err:      New(ErrCodeValidationFailed, "bad input", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeTimeout, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeIndexCorrupt, "vector partition corrupt", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeStoreUnreachable, "store down", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
