package providers

import (
	"context"
	"time"
)

// BaseRetrier holds shared exponential-backoff retry configuration for
// the transport_error same-provider retry path (§4.3: "transport_error
// is retried with exponential backoff on the same provider up to a
// small cap before falling back").
type BaseRetrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewBaseRetrier returns a BaseRetrier with sane defaults.
func NewBaseRetrier(maxAttempts int, baseDelay time.Duration) BaseRetrier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return BaseRetrier{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Retry runs op, retrying with exponential backoff while shouldRetry(err)
// is true, up to MaxAttempts. It stops immediately if ctx is canceled or
// shouldRetry returns false, returning the last error in either case.
func (b BaseRetrier) Retry(ctx context.Context, shouldRetry func(error) bool, op func() error) error {
	var lastErr error
	delay := b.BaseDelay
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry == nil || !shouldRetry(err) || attempt == b.MaxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
