package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// RetryPolicy controls how transport failures are retried.
// MaxAttempts counts the first call. NewBackOff is called once per Score call.
type RetryPolicy struct {
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
	Retryable   func(error) bool
}

// DefaultRetryPolicy builds an exponential schedule without jitter from the oracle config.
// With the default config the delays are 1s, 2s, 4s.
func DefaultRetryPolicy(cfg domain.OracleConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.InitialBackoff
			b.Multiplier = cfg.BackoffMultiplier
			b.MaxInterval = cfg.MaxBackoff
			b.RandomizationFactor = 0
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		Retryable: IsRetryable,
	}
}

// IsRetryable reports whether a transport error is worth another attempt.
// Cancellation by the caller is not.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsRetryable(err)
	}
	return p.Retryable(err)
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	return p.NewBackOff()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
