// Package retry runs gateway operations a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"autoconfig.org/internal/obs"
)

// ErrExhausted marks an operation that failed on every allowed attempt.
var ErrExhausted = errors.New("retry: attempts exhausted")

const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Policy bounds how often an operation is attempted. Backoff is constant:
// no jitter and no growth between attempts.
type Policy struct {
	Name        string
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultPolicy returns three attempts spaced by one second.
func DefaultPolicy(name string) Policy {
	return Policy{Name: name, MaxAttempts: DefaultAttempts, Backoff: DefaultBackoff}
}

// Named returns a copy of p labelled for logs and metrics.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// ExhaustedError carries the error of the final attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("retry: %d attempts failed: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retry %s: %d attempts failed: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both ErrExhausted and the last underlying error to errors.Is/As.
func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Err} }

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do applies op up to p.MaxAttempts times, sleeping p.Backoff between
// attempts. When every attempt fails the last error is returned wrapped in
// *ExhaustedError. Cancelling ctx stops the loop with ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	max := p.attempts()
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(max-1)),
		ctx,
	)

	attempts := 0
	var permanent bool
	res, err := backoff.RetryNotifyWithData[T](func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil {
			var perm *backoff.PermanentError
			permanent = errors.As(err, &perm)
		}
		return v, err
	}, b, func(err error, wait time.Duration) {
		obs.ObserveRetry(p.Name)
		obs.Logger().Debug("retrying gateway operation",
			zap.String("op", p.Name),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", max),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return zero, err
	}
	if permanent {
		return zero, err
	}
	obs.ObserveRetry(p.Name)
	return zero, &ExhaustedError{Op: p.Name, Attempts: attempts, Err: err}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
