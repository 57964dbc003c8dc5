package importer

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy describes how batch-level transient failures are retried.
// Delays grow geometrically: BaseDelay, BaseDelay*Multiplier, and so on.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy matches the backing store's tolerance for reconnects.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
	}
}

// Do runs fn until it succeeds, the attempt cap is reached, or the context is
// cancelled. The last error is returned wrapped with the attempt count.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}
