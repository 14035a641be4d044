// Package retry re-runs lazy initialization with exponential backoff.
//
// A failed factory leaves its cell uninitialized, so the next GetOrInit runs
// the factory again. GetOrInit in this package does that in a loop, sleeping
// between attempts, until the cell is initialized, the error is not
// retryable, attempts run out, or the context ends.
//
//	db, err := retry.GetOrInit(ctx, &s.db, retry.Default, openDB)
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit"
)

// Config configures retry behavior.
type Config struct {
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

	// RetryableFunc overrides lazyinit.IsRetryable.
	RetryableFunc func(error) bool
}

// Default is the standard retry configuration.
var Default = Config{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// None disables retries.
var None = Config{
	MaxAttempts: 1,
}

// Result contains the outcome of Do.
type Result[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error, a *Error, if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent, including backoff.
	Duration time.Duration
}

// Error reports why Do gave up.
type Error struct {
	Err      error
	Attempts int
	Reason   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Reason, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Reasons recorded in Error.
const (
	ReasonNotRetryable = "not retryable"
	ReasonExhausted    = "max attempts exceeded"
	ReasonCanceled     = "context canceled"
)

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx ends.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) Result[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	maxAttempts := max(cfg.MaxAttempts, 1)
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = lazyinit.IsRetryable
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{
				Err:      &Error{Err: err, Attempts: attempt, Reason: ReasonCanceled},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return Result[T]{
				Value:    v,
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}
		lastErr = err

		if !isRetryable(err) {
			return Result[T]{
				Err:      &Error{Err: err, Attempts: attempt + 1, Reason: ReasonNotRetryable},
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		// No sleep after the last attempt.
		if attempt < maxAttempts-1 {
			timer := time.NewTimer(calculateBackoff(backoff, cfg.Jitter))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result[T]{
					Err:      &Error{Err: ctx.Err(), Attempts: attempt + 1, Reason: ReasonCanceled},
					Attempts: attempt + 1,
					Duration: time.Since(start),
				}
			case <-timer.C:
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return Result[T]{
		Err:      &Error{Err: lastErr, Attempts: maxAttempts, Reason: ReasonExhausted},
		Attempts: maxAttempts,
		Duration: time.Since(start),
	}
}

// GetOrInit calls cell.GetOrInit under Do. Attempts that find the cell
// already initialized, or that wait on another goroutine's successful
// attempt, return immediately.
func GetOrInit[T any](ctx context.Context, cell *lazyinit.Cell[T], cfg Config, init lazyinit.Factory[T]) (T, error) {
	res := Do(ctx, cfg, func(ctx context.Context) (T, error) {
		return cell.GetOrInit(ctx, init)
	})
	return res.Value, res.Err
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// Option configures a Config.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(cfg *Config) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) Option {
	return func(cfg *Config) {
		cfg.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) Option {
	return func(cfg *Config) {
		cfg.Jitter = j
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) Option {
	return func(cfg *Config) {
		cfg.RetryableFunc = fn
	}
}

// NewConfig returns Default with opts applied.
func NewConfig(opts ...Option) Config {
	cfg := Default
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
