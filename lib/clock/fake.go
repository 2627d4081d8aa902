// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock that moves only when Advance is called. It is
// safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time

	// pending is ordered by deadline; timers with equal deadlines keep
	// registration order.
	pending []fakeTimer

	// registered is closed and replaced each time a timer is added.
	registered chan struct{}
}

type fakeTimer struct {
	deadline time.Time
	fire     chan time.Time
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start, registered: make(chan struct{})}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that receives the clock's time once Advance
// reaches now+d. A non-positive d fires immediately.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	fire := make(chan time.Time, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if d <= 0 {
		fire <- f.now
		return fire
	}
	timer := fakeTimer{deadline: f.now.Add(d), fire: fire}
	index := sort.Search(len(f.pending), func(i int) bool {
		return f.pending[i].deadline.After(timer.deadline)
	})
	f.pending = slices.Insert(f.pending, index, timer)
	close(f.registered)
	f.registered = make(chan struct{})
	return fire
}

// Advance moves the clock forward by d and fires the timers that have
// come due, earliest first.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	split := sort.Search(len(f.pending), func(i int) bool {
		return f.pending[i].deadline.After(now)
	})
	due := f.pending[:split]
	f.pending = slices.Clone(f.pending[split:])
	f.mu.Unlock()

	for _, timer := range due {
		timer.fire <- now
	}
}

// WaitForTimers blocks until at least n timers are pending. Call it
// before Advance when another goroutine is about to start waiting:
//
//	go func() { done <- retry.Do(ctx, policy, "get", fn) }()
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
func (f *FakeClock) WaitForTimers(n int) {
	for {
		f.mu.Lock()
		count, registered := len(f.pending), f.registered
		f.mu.Unlock()
		if count >= n {
			return
		}
		<-registered
	}
}

// PendingCount returns the number of timers that have not fired.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
