// Package retry runs transient-failure-prone operations with bounded
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is returned (wrapping the last error) when every attempt failed.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
}

// Presets for store mutations and reads.
var (
	Insert = Policy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	Search = Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
)

// Delay returns the wait before the attempt following attempt (1-based):
// BaseDelay * 2^(attempt-1), capped by MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether err is transient, meaning it is non-nil and was
// not marked Permanent. Errors are retryable unless stated otherwise.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// Option configures Do.
type Option func(*runner)

type runner struct {
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
	name   string
}

// WithLogger logs every failed attempt at warn level.
func WithLogger(l *zap.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithName labels log lines with the operation name.
func WithName(name string) Option {
	return func(r *runner) { r.name = name }
}

// WithSleep replaces the wait function; tests use it to avoid real delays.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *runner) { r.sleep = sleep }
}

// Do calls fn until it succeeds, returns a Permanent error, the context is
// done, or MaxAttempts calls have been made. After the last failed attempt it
// returns an error wrapping both ErrExhausted and fn's last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, opts ...Option) error {
	r := &runner{sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if r.logger != nil {
			r.logger.Warn("operation failed, retrying",
				zap.String("operation", r.name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}
	if r.logger != nil {
		r.logger.Error("operation failed after retries", zap.String("operation", r.name), zap.Int("attempts", attempts), zap.Error(lastErr))
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
