package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rustyeddy/challenger/store"
)

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// retrier runs store calls with bounded exponential backoff. Sentinel
// store errors and context cancellation are never retried.
type retrier struct {
	policy RetryPolicy
	log    *slog.Logger
}

func (r retrier) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := max(r.policy.MaxAttempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func (r retrier) do(ctx context.Context, op string, fn func() error) error {
	_, err := retryData(ctx, r, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func retryData[T any](ctx context.Context, r retrier, op string, fn func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := fn()
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		r.log.Debug("store call failed, retrying",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
}

func permanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrPositionNotOpen) ||
		errors.Is(err, store.ErrDuplicateViolation) ||
		errors.Is(err, store.ErrStatusConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
