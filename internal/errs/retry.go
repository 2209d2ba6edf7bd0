package errs

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries   int           // retry attempts after the initial try
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig matches the Embedding Provider's retry budget: 150ms
// base delay doubling per attempt, up to 3 attempts (the initial try plus
// two retries).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 150 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// terminalError marks an error as non-transient: Retry returns it immediately
// without consuming further attempts or sleeping. Use Stop to construct one.
type terminalError struct{ err error }

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Stop wraps err so Retry surfaces it on the current attempt instead of
// retrying, for callers whose fn can classify an error as non-transient
// (e.g. a tagged *Error from a 4xx response) partway through the budget.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Retry executes fn with exponential backoff, honoring ctx cancellation
// between attempts. A fn error wrapped with Stop is returned immediately,
// unwrapped, without retrying. The last error is returned, wrapped with
// attempt count, once the budget is exhausted.
func Retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return New(Cancelled, "retry", "context cancelled", ctx.Err())
		default:
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if t, ok := err.(*terminalError); ok {
			return t.err
		}
		lastErr = err
		if attempt >= cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return New(Cancelled, "retry", "context cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
