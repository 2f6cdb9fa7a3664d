package graph

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RetryConfig configures retry behavior for store operations.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries (caps exponential backoff)
	Timeout    time.Duration // Per-attempt timeout, 0 disables
	// Retryable reports whether an error is transient. Nil uses
	// DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// RetryStore wraps a Store with per-attempt timeouts and exponential backoff.
type RetryStore struct {
	inner  Store
	config *RetryConfig
}

// NewRetryStore wraps inner with retry logic.
func NewRetryStore(inner Store, config *RetryConfig) *RetryStore {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.Retryable == nil {
		config.Retryable = DefaultRetryable
	}
	return &RetryStore{inner: inner, config: config}
}

// Apply applies op, retrying transient failures.
func (r *RetryStore) Apply(ctx context.Context, op Operation) error {
	return r.do(ctx, func(ctx context.Context) error { return r.inner.Apply(ctx, op) })
}

// Reset clears the store, retrying transient failures.
func (r *RetryStore) Reset(ctx context.Context) error {
	return r.do(ctx, r.inner.Reset)
}

// Callees queries the inner store, retrying transient failures.
func (r *RetryStore) Callees(ctx context.Context, file, qualname string) ([]string, error) {
	var out []string
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Callees(ctx, file, qualname)
		return err
	})
	return out, err
}

// Close closes the inner store.
func (r *RetryStore) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}

func (r *RetryStore) do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.config.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		}
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.config.Retryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, lastErr)
}

// backoff returns the delay for the given attempt: delay * 2^(attempt-1),
// capped at MaxDelay.
func (r *RetryStore) backoff(attempt int) time.Duration {
	delay := r.config.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			return r.config.MaxDelay
		}
	}
	return delay
}

// DefaultRetryable treats timeouts and network timeouts as transient.
func DefaultRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

var _ Store = (*RetryStore)(nil)
