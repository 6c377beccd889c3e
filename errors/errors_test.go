package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverityFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeIndexSetup, CategorySetup, SeverityFatal},
		{ErrCodeIndexExists, CategorySetup, SeverityError},
		{ErrCodeNotFound, CategoryDocument, SeverityError},
		{ErrCodeVersionConflict, CategoryDocument, SeverityError},
		{ErrCodeDuplicateID, CategoryDocument, SeverityError},
		{ErrCodeUnavailable, CategoryStore, SeverityWarning},
		{ErrCodeInvalidArgument, CategoryValidation, SeverityError},
	}

	for _, tt := range tests {
		err := New(tt.code, "message", nil)
		assert.Equal(t, tt.category, err.Category, tt.code)
		assert.Equal(t, tt.severity, err.Severity, tt.code)
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code but different messages
	a := VersionConflict("u1", 1, 2)
	b := VersionConflict("u2", 3, 4)

	// Then: errors.Is matches them
	assert.True(t, stderrors.Is(a, b))

	// And: a different code does not match
	assert.False(t, stderrors.Is(a, NotFound("u1")))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")

	err := Wrap(ErrCodeUnavailable, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Contains(t, err.Error(), ErrCodeUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeUnavailable, nil))
}

func TestWithDetail_Chains(t *testing.T) {
	err := DuplicateID("u1").WithDetail("index", "users")

	assert.Equal(t, "users", err.Details["index"])
	assert.Equal(t, "users", Detail(err, "index"))
	assert.Equal(t, "", Detail(err, "absent"))
	assert.Equal(t, "", Detail(stderrors.New("plain"), "index"))
}

func TestRetryable_OnlyUnavailable(t *testing.T) {
	// Transient store failures may be retried externally.
	assert.True(t, IsRetryable(Unavailable("warming up", nil)))

	// Version conflicts must never be retried as-is: the caller has to
	// re-read first.
	assert.False(t, IsRetryable(VersionConflict("u1", 1, 2)))
	assert.False(t, IsRetryable(SetupFailure("boom", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestVersionConflict_CarriesVersions(t *testing.T) {
	err := VersionConflict("u1", 1, 3)

	assert.True(t, IsVersionConflict(err))
	assert.Equal(t, "1", err.Details["supplied"])
	assert.Equal(t, "3", err.Details["current"])
}

func TestCodeHelpers(t *testing.T) {
	err := NotFound("missing")

	assert.True(t, IsNotFound(err))
	assert.True(t, IsCode(err, ErrCodeNotFound))
	assert.Equal(t, ErrCodeNotFound, GetCode(err))
	assert.Equal(t, CategoryDocument, GetCategory(err))

	plain := stderrors.New("plain")
	assert.False(t, IsNotFound(plain))
	assert.Equal(t, "", GetCode(plain))
}
