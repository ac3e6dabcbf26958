// Package retry provides the single generic retry/backoff combinator that
// every retrying call site in autoclaude (VCS push and PR creation in
// internal/worktree, phase retries in internal/pipeline) funnels through,
// per the design notes' "extract a
// single generic retry combinator" guidance.
package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff computes the delay before attempt n (0-indexed, so n=0 is the
// delay before the second attempt).
type Backoff func(attempt int) time.Duration

// Exponential returns a Backoff of base*2^attempt capped at max.
func Exponential(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// Options configures a Do invocation.
type Options struct {
	MaxAttempts int
	IsRetryable func(error) bool
	Backoff     Backoff
	// OnRetry is called after a failed attempt, before sleeping, with the
	// attempt index (0-based) and the error that triggered the retry.
	OnRetry func(attempt int, err error)
}

// DefaultOptions returns sane defaults: 3 attempts, all errors retryable,
// exponential backoff from 500ms capped at 10s.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		IsRetryable: func(error) bool { return true },
		Backoff:     Exponential(500*time.Millisecond, 10*time.Second),
	}
}

// ErrExhausted wraps the last error once all attempts are spent.
type ErrExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrExhausted) Error() string {
	return "retry: exhausted after attempts"
}

func (e *ErrExhausted) Unwrap() error { return e.Last }

// Do runs op, retrying according to opts until it succeeds, a non-retryable
// error occurs, attempts are exhausted, or ctx is cancelled.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = func(error) bool { return true }
	}
	if opts.Backoff == nil {
		opts.Backoff = Exponential(500*time.Millisecond, 10*time.Second)
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !opts.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Backoff(attempt)):
		}
	}
	return &ErrExhausted{Attempts: opts.MaxAttempts, Last: lastErr}
}

// IsExhausted reports whether err is (or wraps) an ErrExhausted.
func IsExhausted(err error) bool {
	var e *ErrExhausted
	return errors.As(err, &e)
}
