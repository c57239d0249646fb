// Package retry implements bounded, fixed-interval polling for device-side
// conditions that are known to become true eventually (provisioning settling,
// dhclient restarting, a device group propagating over trust).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts int
	Interval    time.Duration

	// ShouldRetry decides whether a failure is acceptable to retry.
	// Nil means every failure is retried.
	ShouldRetry func(error) bool
}

// ExhaustedError is returned when every attempt failed. Its message is the
// last underlying failure so callers see the real device condition.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must stop the retry loop immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, the policy is exhausted, op returns a
// Permanent error, or ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Until polls cond until it reports true. A false result without an error is
// reported as notMet when the policy runs out.
func Until(ctx context.Context, p Policy, notMet string, cond func(ctx context.Context) (bool, error)) error {
	return Do(ctx, p, func(ctx context.Context) error {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(notMet)
		}
		return nil
	})
}
