package errors

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// AttemptTimeout bounds every single attempt. Zero means no bound.
	// An attempt that exceeds it is abandoned and counted as failed; its
	// context is cancelled, but retrying does not wait for it to return.
	AttemptTimeout time.Duration

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool

	// OnAttempt is called after every failed attempt.
	OnAttempt func(attempt int, err error)
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent retrying.
	Duration time.Duration
}

// WithRetryContext executes a function with retries, respecting context cancellation.
// Each attempt receives a context bounded by cfg.AttemptTimeout.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:      &ExhaustedError{Err: err, Attempts: attempt, Context: "context cancelled"},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		result, err := runAttempt(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return RetryResult[T]{
				Value:    result,
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		lastErr = err
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt+1, err)
		}

		if !isRetryable(err) {
			return RetryResult[T]{
				Err:      &ExhaustedError{Err: err, Attempts: attempt + 1},
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		// Don't sleep after the last attempt
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return RetryResult[T]{
					Err:      &ExhaustedError{Err: ctx.Err(), Attempts: attempt + 1, Context: "context cancelled during backoff"},
					Attempts: attempt + 1,
					Duration: time.Since(start),
				}
			case <-time.After(calculateBackoff(backoff, cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return RetryResult[T]{
		Err:      &ExhaustedError{Err: lastErr, Attempts: maxAttempts, Context: "max retries exceeded"},
		Attempts: maxAttempts,
		Duration: time.Since(start),
	}
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt runs fn once under the per-attempt timeout.
// A deadline hit by the attempt itself (not the parent) becomes a TimeoutError.
// When the deadline passes, fn keeps running in the background and its
// result is discarded.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := fn(attemptCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, &TimeoutError{Operation: res.err.Error(), Duration: timeout.String()}
		}
		return res.value, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Operation: "attempt abandoned", Duration: timeout.String()}
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}

	// Calculate jitter: base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// WithAttemptTimeout bounds each attempt.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.AttemptTimeout = d
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableFunc = fn
	}
}

// WithOnAttempt sets a callback invoked after each failed attempt.
func WithOnAttempt(fn func(attempt int, err error)) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.OnAttempt = fn
	}
}

// RetryAll treats every error as retryable.
func RetryAll(error) bool { return true }

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
