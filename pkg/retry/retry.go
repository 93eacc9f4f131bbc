// Package retry runs index writes with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int

	// InitialInterval is the delay before the first retry (default 100ms).
	// Each following delay doubles.
	InitialInterval time.Duration
}

// DefaultPolicy returns three retries starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialInterval: 100 * time.Millisecond}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, ctx ends, or
// 1+MaxRetries attempts have failed. It returns the last error.
//
// Delays are deterministic: InitialInterval, then doubling, without jitter.
func Do(ctx context.Context, policy Policy, op func() error) error {
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultPolicy().InitialInterval
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = policy.InitialInterval << 6

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}
