// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobcache is the bounded, content-addressed byte cache in
// front of backend reads.
//
// Entries are keyed by content checksum and hold decoded bytes, so the
// cache can never serve the wrong content for a key: every fetched
// value is verified against its key before it is returned or retained.
// Losing the cache is always safe.
//
// Concurrent requests for the same key share one in-flight fetch
// (singleflight), and fetches for different keys run in parallel up to
// a configured bound (a weighted semaphore) so a cold training epoch
// does not overwhelm the backend.
package blobcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/connected-data-lake/cdl/lib/checksum"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/metrics"
)

// DefaultMaxConcurrentFetches bounds backend fetches when the config
// leaves it unset.
const DefaultMaxConcurrentFetches = 16

// Config configures a Cache.
type Config struct {
	// MaxSize is the capacity in bytes. Zero disables retention: every
	// request fetches, though concurrent requests still coalesce.
	MaxSize int64

	// MinObjectSize keeps objects smaller than this out of the cache.
	MinObjectSize int64

	// MaxConcurrentFetches bounds fetches in flight across all keys.
	// Zero or negative means DefaultMaxConcurrentFetches.
	MaxConcurrentFetches int

	Logger *slog.Logger
}

// FetchFunc produces the decoded bytes for a key from the backend.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Fetches   int64
	Evictions int64
	Entries   int
	Bytes     int64
}

// Cache is safe for concurrent use.
type Cache struct {
	maxSize       int64
	minObjectSize int64
	fetchSlots    *semaphore.Weighted
	flights       singleflight.Group
	logger        *slog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	size    int64

	hits      atomic.Int64
	misses    atomic.Int64
	fetches   atomic.Int64
	evictions atomic.Int64
}

type cacheEntry struct {
	key  string
	data []byte
}

// New constructs a Cache.
func New(config Config) *Cache {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	slots := config.MaxConcurrentFetches
	if slots <= 0 {
		slots = DefaultMaxConcurrentFetches
	}
	return &Cache{
		maxSize:       max(config.MaxSize, 0),
		minObjectSize: config.MinObjectSize,
		fetchSlots:    semaphore.NewWeighted(int64(slots)),
		logger:        logger,
		entries:       make(map[string]*list.Element),
		order:         list.New(),
	}
}

// GetOrFetch returns the decoded bytes for sum, calling fetch on a miss.
//
// The fetched bytes are verified against sum. On a mismatch, or when
// fetch itself reports lakeerr.ErrCorruptData, the object is fetched
// from the backend exactly once more; a second failure is returned as
// ErrCorruptData and nothing is retained. Concurrent callers for the
// same sum share one fetch and its outcome, success or failure.
//
// The returned slice may be shared with other callers and with the
// cache itself and must not be modified.
func (c *Cache) GetOrFetch(ctx context.Context, sum string, sizeHint int64, fetch FetchFunc) ([]byte, error) {
	if data, ok := c.lookup(sum); ok {
		c.hits.Add(1)
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return data, nil
	}
	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	for {
		flight := c.flights.DoChan(sum, func() (any, error) {
			return c.load(ctx, sum, sizeHint, fetch)
		})
		select {
		case <-ctx.Done():
			return nil, lakeerr.Cancelled(ctx.Err())
		case result := <-flight:
			if result.Shared {
				metrics.CacheRequests.WithLabelValues("shared").Inc()
			}
			if result.Err != nil {
				// The caller that started the flight was cancelled;
				// this caller is still live, so start a new one.
				if isContextError(result.Err) {
					if ctx.Err() == nil {
						continue
					}
					return nil, lakeerr.Cancelled(result.Err)
				}
				return nil, result.Err
			}
			return result.Val.([]byte), nil
		}
	}
}

// load runs once per flight. A flight that starts just after another
// one finished finds the bytes already retained.
func (c *Cache) load(ctx context.Context, sum string, sizeHint int64, fetch FetchFunc) ([]byte, error) {
	if data, ok := c.lookup(sum); ok {
		return data, nil
	}

	if err := c.fetchSlots.Acquire(ctx, 1); err != nil {
		return nil, lakeerr.Cancelled(err)
	}
	defer c.fetchSlots.Release(1)

	data, err := c.fetchVerified(ctx, sum, fetch)
	if err != nil && errors.Is(err, lakeerr.ErrCorruptData) {
		metrics.CacheCorrupt.Inc()
		c.logger.Warn("fetched object failed verification, fetching again from backend",
			"checksum", sum,
			"size_hint", sizeHint,
			"error", err,
		)
		data, err = c.fetchVerified(ctx, sum, fetch)
		if err != nil && errors.Is(err, lakeerr.ErrCorruptData) {
			metrics.CacheCorrupt.Inc()
		}
	}
	if err != nil {
		return nil, err
	}

	c.store(sum, data, sizeHint)
	return data, nil
}

func (c *Cache) fetchVerified(ctx context.Context, sum string, fetch FetchFunc) ([]byte, error) {
	c.fetches.Add(1)
	metrics.CacheFetches.Inc()
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := checksum.Verify(data, sum); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Cache) lookup(sum string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.entries[sum]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*cacheEntry).data, true
}

// store retains data if it fits the admission rules, then evicts from
// the least recently used end until the cache is within capacity.
func (c *Cache) store(sum string, data []byte, sizeHint int64) {
	size := int64(len(data))
	if c.maxSize == 0 || size > c.maxSize || size < c.minObjectSize {
		return
	}
	if sizeHint > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[sum]; ok {
		return
	}
	c.entries[sum] = c.order.PushFront(&cacheEntry{key: sum, data: data})
	c.size += size

	for c.size > c.maxSize {
		back := c.order.Back()
		evicted := back.Value.(*cacheEntry)
		c.order.Remove(back)
		delete(c.entries, evicted.key)
		c.size -= int64(len(evicted.data))
		c.evictions.Add(1)
		metrics.CacheEvictions.Inc()
	}
	metrics.CacheBytes.Set(float64(c.size))
}

// Contains reports whether sum is retained, without touching recency.
func (c *Cache) Contains(sum string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[sum]
	return ok
}

// Stats returns counters and current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, size := len(c.entries), c.size
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetches.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
		Bytes:     size,
	}
}

// String summarizes the cache for logs.
func (c *Cache) String() string {
	stats := c.Stats()
	return fmt.Sprintf("blobcache{entries=%d bytes=%d/%d hits=%d misses=%d}",
		stats.Entries, stats.Bytes, c.maxSize, stats.Hits, stats.Misses)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, lakeerr.ErrCancelled)
}
