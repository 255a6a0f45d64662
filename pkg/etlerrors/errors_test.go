package etlerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeExtraction, "read failed")
	assert.Equal(t, ErrorTypeExtraction, err.Type)
	assert.Equal(t, "extraction: read failed", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeQuery, "statement %q rejected", "DELETE")
	assert.Equal(t, `query: statement "DELETE" rejected`, err.Error())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrorTypeConnection, "failed to reach source")

	assert.Equal(t, "connection: failed to reach source: connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeLoad, "ignored"))
}

func TestWrapPreservesOriginalStack(t *testing.T) {
	inner := New(ErrorTypeQuery, "bad statement")
	outer := Wrap(inner, ErrorTypeExtraction, "extraction failed")

	require.NotEmpty(t, outer.Stack)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, errors.Is(outer, inner))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeLoad, "copy failed").
		WithDetail("table", "patient").
		WithDetail("rows", 1200)

	assert.Equal(t, "patient", err.Details["table"])
	assert.Equal(t, 1200, err.Details["rows"])
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeExtraction, true},
		{ErrorTypeLoad, true},
		{ErrorTypeWatermark, true},
		{ErrorTypeConnection, true},
		{ErrorTypeQuery, true},
		{ErrorTypeConfig, false},
		{ErrorTypeAccess, false},
		{ErrorTypeValidation, false},
		{ErrorTypeData, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(New(tt.errType, "boom")))
		})
	}

	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrorTypeConfig, "bad registry")))
	assert.True(t, IsFatal(New(ErrorTypeAccess, "privileged account")))
	assert.False(t, IsFatal(New(ErrorTypeExtraction, "read failed")))
	assert.False(t, IsFatal(errors.New("plain error")))
}

func TestIsTypeThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeAccess, "source is writable")
	wrapped := fmt.Errorf("environment validation: %w", inner)

	assert.True(t, IsType(wrapped, ErrorTypeAccess))
	assert.False(t, IsType(wrapped, ErrorTypeLoad))
}
