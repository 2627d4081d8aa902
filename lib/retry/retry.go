// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry re-runs backend operations that failed transiently.
//
// Only errors classified by lakeerr.Retryable are retried; everything
// else (not found, corrupt data, permission, cancellation) returns on
// the first attempt. Delays follow exponential backoff with full
// jitter, bounded by MaxDelay, and the total number of attempts is
// bounded by MaxAttempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/connected-data-lake/cdl/lib/clock"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/metrics"
)

// Defaults applied by Policy.normalize for zero fields.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// minDelay keeps every backoff observable as a real wait.
const minDelay = time.Millisecond

// Policy bounds retries of one operation.
type Policy struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Clock drives backoff waits. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives one Debug record per retry. Nil discards.
	Logger *slog.Logger
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Do calls fn until it succeeds, fails permanently, exhausts the
// policy, or ctx is done. operation labels logs and the retry counter.
// The last error is returned; cancellation while waiting returns
// lakeerr.ErrCancelled.
func Do(ctx context.Context, policy Policy, operation string, fn func(ctx context.Context) error) error {
	policy = policy.normalize()
	var err error
	for attempt := range policy.MaxAttempts {
		if attempt > 0 {
			delay := Jitter(attempt-1, policy.BaseDelay, policy.MaxDelay)
			metrics.BackendRetries.WithLabelValues(operation).Inc()
			policy.Logger.Debug("retrying after transient backend failure",
				"operation", operation,
				"attempt", attempt+1,
				"max_attempts", policy.MaxAttempts,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return lakeerr.Cancelled(ctx.Err())
			case <-policy.Clock.After(delay):
			}
		}
		if err = ctx.Err(); err != nil {
			return lakeerr.Cancelled(err)
		}
		err = fn(ctx)
		if err == nil || !lakeerr.Retryable(err) {
			return lakeerr.Cancelled(err)
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", operation, policy.MaxAttempts, err)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, policy Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, operation, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// Jitter returns an exponential delay with full jitter:
//
//	delay = max(minDelay, rand(0, min(cap, base * 2^attempt)))
func Jitter(attempt int, base, cap time.Duration) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	if exp > float64(cap) || exp <= 0 {
		exp = float64(cap)
	}
	if exp < 1 {
		return minDelay
	}
	jitter := time.Duration(rand.Int64N(int64(exp)))
	if jitter < minDelay {
		jitter = minDelay
	}
	return jitter
}
