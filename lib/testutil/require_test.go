// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

type recordingTB struct {
	failed  bool
	message string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "value"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireClosed(t *testing.T) {
	ch := make(chan struct{})
	close(ch)
	RequireClosed(t, ch, time.Second, "closed channel")
}

func TestRequireClosedTimesOut(t *testing.T) {
	recorder := &recordingTB{}
	RequireClosed(recorder, make(chan struct{}), 10*time.Millisecond, "waiting for %s", "ready")
	if !recorder.failed {
		t.Fatal("RequireClosed did not fail on an open channel")
	}
	if want := "timed out after 10ms waiting for channel close: waiting for ready"; recorder.message != want {
		t.Errorf("message = %q, want %q", recorder.message, want)
	}
}
