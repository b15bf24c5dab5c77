/*
Package extcall bounds calls to external dependencies (database, identity checks).

Each attempt runs under its own deadline. An attempt that times out is retried
at most once after a backoff; a second timeout surfaces as errs.ErrTimeout.
*/
package extcall

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"studyhub/internal/pkg/errs"
)

// Policy configures a bounded external call.
type Policy struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Backoff is the delay before the single retry.
	Backoff time.Duration
}

// DefaultBackoff is used when Policy.Backoff is zero.
const DefaultBackoff = 100 * time.Millisecond

// Do runs fn under p. fn receives a context carrying the attempt deadline;
// if fn ignores it, Do still returns once the deadline passes.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for calls that produce a result. Only the attempt that returns
// within its deadline supplies the result; a late attempt is discarded.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	b := retry.WithMaxRetries(1, retry.NewExponential(backoff))

	var out T
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		v, err := attempt(ctx, p.Timeout, fn)
		if isTimeout(err) && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})

	if isTimeout(err) {
		var zero T
		return zero, errs.NewError(errs.ErrTimeout)
	}
	if err != nil {
		var zero T
		return zero, err
	}

	return out, nil
}

type result[T any] struct {
	val T
	err error
}

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errs.HasCode(err, errs.ErrTimeout)
}
