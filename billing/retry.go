package billing

import (
	"context"
	"time"
)

// RetryConfig bounds the retry behavior for provider calls that are
// safe to repeat.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is a single bounded retry: idempotent reads and
// checkout-session creation are attempted twice, mutations once.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// withRetry runs operation up to config.MaxAttempts times with
// exponential backoff between attempts. Context cancellation stops the
// backoff wait immediately.
func withRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error

	delay := config.BaseDelay
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if lastErr = operation(); lastErr == nil {
			return nil
		}
	}

	return lastErr
}
