package engine

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy defines fixed-delay retry behavior. Table syncs use the
// per-table settings from the registry; watermark commits use the
// aggressive policy since by then the data is already durable and only
// bookkeeping is at risk.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NewRetryPolicy creates a fixed-delay retry policy
func NewRetryPolicy(maxAttempts int, delay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
	}
}

// AggressiveRetryPolicy returns the policy for watermark commits. The
// short delay is deliberate: the table's data is already durable and the
// run should not stall long on bookkeeping.
func AggressiveRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       2 * time.Second,
	}
}

// Execute runs fn with the retry policy
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs fn, retrying only while shouldRetry accepts
// the error.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == rp.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(rp.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}
