// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/connected-data-lake/cdl/lib/backend"
	"github.com/connected-data-lake/cdl/lib/blobcache"
	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/location"
	"github.com/connected-data-lake/cdl/lib/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

// faultBackend wraps a backend, counting calls and injecting failures.
type faultBackend struct {
	backend.Backend

	mu       sync.Mutex
	gets     map[string]int
	puts     map[string]int
	failGets int
	failPuts int
	onGet    func()
	onPut    func(key string)
}

func newFaultBackend(inner backend.Backend) *faultBackend {
	return &faultBackend{Backend: inner, gets: make(map[string]int), puts: make(map[string]int)}
}

var errInjected = lakeerr.Unavailable(errors.New("injected connection reset"))

func (f *faultBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.gets[key]++
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	hook := f.onGet
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return nil, errInjected
	}
	return f.Backend.Get(ctx, key)
}

func (f *faultBackend) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	f.puts[key]++
	fail := f.failPuts > 0
	if fail {
		f.failPuts--
	}
	hook := f.onPut
	f.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	if fail {
		return errInjected
	}
	return f.Backend.Put(ctx, key, data)
}

func (f *faultBackend) getCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[key]
}

func (f *faultBackend) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.puts {
		total += n
	}
	return total
}

type testLake struct {
	view    *View
	local   *backend.Local
	faults  *faultBackend
	catalog *catalog.Catalog
	cache   *blobcache.Cache
}

func newTestLake(t *testing.T, cacheSize int64) *testLake {
	t.Helper()
	root := t.TempDir()
	local, err := backend.NewLocal(location.MustParse(filepath.Join(root, "objects")), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	cat, err := catalog.Open(context.Background(), catalog.Config{Path: filepath.Join(root, "catalog.db")})
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	faults := newFaultBackend(local)
	cache := blobcache.New(blobcache.Config{MaxSize: cacheSize})
	view := Ready(local.Location(), Config{Cache: cache, Retry: fastRetry}, faults, cat)
	return &testLake{view: view, local: local, faults: faults, catalog: cat, cache: cache}
}

func writeTestFiles(t *testing.T, view *View, files ...File) {
	t.Helper()
	if _, err := view.WriteFiles(context.Background(), files); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
}

func textFile(parent, name, content string) File {
	return File{
		Parent:  parent,
		Name:    name,
		Data:    []byte(content),
		Codec:   compress.CodecNone,
		ModTime: time.Unix(1700000000, 0),
	}
}

func entryNames(listing *catalog.Listing) []string {
	names := make([]string, len(listing.Entries))
	for i, entry := range listing.Entries {
		names[i] = entry.Key().Path()
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
