package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LensError Construction Tests
// =============================================================================

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
	}{
		{"config code", ErrCodeConfigInvalid, CategoryConfig},
		{"file code", ErrCodeFileNotFound, CategoryIO},
		{"upstream code", ErrCodeOllamaUnavailable, CategoryUpstream},
		{"validation code", ErrCodeInvalidInput, CategoryValidation},
		{"internal code", ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestNew_RetryableUpstreamCodes(t *testing.T) {
	// Given: upstream timeout
	err := New(ErrCodeUpstreamTimeout, "embed timed out", nil)

	// Then: retryable with warning severity
	assert.True(t, err.Retryable)
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestNew_FatalCodes(t *testing.T) {
	err := New(ErrCodeCorruptIndex, "index corrupted", nil)

	assert.Equal(t, SeverityFatal, err.Severity)
	assert.True(t, IsFatal(err))
}

func TestError_Format(t *testing.T) {
	err := New(ErrCodeFileNotFound, "no such file", nil)

	assert.Equal(t, "[ERR_201_FILE_NOT_FOUND] no such file", err.Error())
}

// =============================================================================
// Wrapping and Chain Tests
// =============================================================================

func TestWrap_NilReturnsNil(t *testing.T) {
	var le *LensError = Wrap(ErrCodeInternal, nil)
	assert.Nil(t, le)
}

func TestWrap_PreservesCause(t *testing.T) {
	// Given: an underlying error
	cause := fmt.Errorf("disk exploded")

	// When: wrapped
	err := Wrap(ErrCodeStoreFailed, cause)

	// Then: errors.Is finds the cause through the chain
	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "disk exploded", err.Message)
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeNotFound, "document missing", nil)
	b := New(ErrCodeNotFound, "different message", nil)

	assert.True(t, stderrors.Is(a, b))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeExtractionFailed, "pdf broke", nil).
		WithDetail("path", "/tmp/a.pdf").
		WithSuggestion("check the file is a valid PDF")

	assert.Equal(t, "/tmp/a.pdf", err.Details["path"])
	assert.Equal(t, "check the file is a valid PDF", err.Suggestion)
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestIsRetryable_NonLensError(t *testing.T) {
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeQueryEmpty, GetCode(New(ErrCodeQueryEmpty, "", nil)))
	assert.Equal(t, "", GetCode(fmt.Errorf("plain")))
}
