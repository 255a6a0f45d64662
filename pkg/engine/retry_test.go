package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
)

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)

	attempts := 0
	err := policy.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	boom := errors.New("still broken")

	attempts := 0
	err := policy.Execute(context.Background(), func() error {
		attempts++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestExecuteWithConditionStopsOnNonRetryable(t *testing.T) {
	policy := NewRetryPolicy(5, time.Millisecond)

	attempts := 0
	err := policy.ExecuteWithCondition(context.Background(), func() error {
		attempts++
		return etlerrors.New(etlerrors.ErrorTypeAccess, "source is writable")
	}, etlerrors.IsRetryable)

	require.Error(t, err)
	// A fatal error is returned immediately, without burning attempts.
	assert.Equal(t, 1, attempts)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeAccess))
}

func TestExecuteCancelledBetweenAttempts(t *testing.T) {
	policy := NewRetryPolicy(10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func() error {
			attempts++
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestNewRetryPolicyClampsAttempts(t *testing.T) {
	assert.Equal(t, 1, NewRetryPolicy(0, time.Second).MaxAttempts)
	assert.Equal(t, 1, NewRetryPolicy(-2, time.Second).MaxAttempts)
}

func TestAggressiveRetryPolicy(t *testing.T) {
	assert.Equal(t, 3, AggressiveRetryPolicy(3).MaxAttempts)
	// Unset configuration falls back to the default attempt count.
	assert.Equal(t, 5, AggressiveRetryPolicy(0).MaxAttempts)
}
