// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations the lake engine waits on,
// so retry backoff and timestamping can be driven deterministically in
// tests. Production code uses Real(); tests use Fake().
package clock

import "time"

// Clock is the subset of the time package the engine depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
