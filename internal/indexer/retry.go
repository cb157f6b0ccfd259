package indexer

import (
	"context"
	"time"
)

// RetryPolicy bounds the attempts of an RPC call. The delay doubles after
// each failure.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func withRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := policy.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

// Retry runs fn until it succeeds, the policy is exhausted or ctx ends.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := withRetry(ctx, policy, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
