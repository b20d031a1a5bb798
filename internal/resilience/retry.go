package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of a single external call.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Permanent marks err as not worth retrying (4xx responses, malformed
// replies). Retry returns the unwrapped error immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Retry runs op with exponential backoff until it succeeds, returns a
// permanent error, the attempts are exhausted or ctx is done. When a
// breaker is given every attempt goes through it and an open circuit
// stops retrying.
func Retry[T any](ctx context.Context, p RetryPolicy, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		var out T
		call := func(ctx context.Context) error {
			v, err := op(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		}
		var err error
		if b != nil {
			err = b.Execute(ctx, call)
		} else {
			err = call(ctx)
		}
		if errors.Is(err, ErrCircuitOpen) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(attempts))
}
