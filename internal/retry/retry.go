// Package retry provides bounded retry with exponential backoff for
// ledger-facing operations. The delay sequence is deterministic (no jitter)
// so tests can assert it exactly.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do stops immediately when op
// returns a permanent error, surfacing the underlying error wrapped as
// usual. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy describes one operation class's retry behavior. MaxRetries counts
// additional attempts after the first, so MaxRetries=3 means up to 4 calls.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Sleep, when non-nil, replaces the default context-aware sleep.
	// Tests use it to observe the backoff sequence without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do invokes op until it succeeds or the policy is exhausted. Between
// attempts it sleeps the current delay, then multiplies it, clamped at
// MaxDelay. On final failure the returned error wraps msg and the last
// underlying error.
func Do[T any](ctx context.Context, p Policy, msg string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, fmt.Errorf("%s: %w", msg, perm.err)
		}
		if attempt == p.MaxRetries {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", msg, err)
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return zero, fmt.Errorf("%s: %w", msg, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
