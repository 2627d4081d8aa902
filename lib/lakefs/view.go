// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package lakefs is the filesystem view of one lake namespace: the
// facade that composes a catalog, a backend, the shared byte cache and
// the codec layer to serve listing, querying, reading, writing and
// copying.
//
// A View is minted by a lake for one location. It starts Unopened,
// moves to Opening while its backend and catalog are resolved in the
// background, and becomes Ready (or Failed) when that completes. Every
// operation waits for the outcome instead of failing early, so callers
// can start issuing reads as soon as they hold a View.
//
// Objects are content-addressed: an entry's bytes live at
// objects/<aa>/<bb>/<checksum>.<codec> on the backend, so identical
// content stored with the same codec is written once, and a copy can
// tell whether a destination already holds an object from its key.
package lakefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"

	"github.com/connected-data-lake/cdl/lib/backend"
	"github.com/connected-data-lake/cdl/lib/blobcache"
	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/clock"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/location"
	"github.com/connected-data-lake/cdl/lib/retry"
)

// State is a View's lifecycle stage.
type State int32

const (
	StateUnopened State = iota
	StateOpening
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults for Config fields left zero.
const (
	DefaultCopyConcurrency  = 8
	DefaultReadConcurrency  = 32
	DefaultWriteConcurrency = 8
)

// Resolver opens the view for a destination location string. The lake
// supplies it so CopyTo can address destinations by URL.
type Resolver func(ctx context.Context, destination string) (*View, error)

// Config configures a View.
type Config struct {
	// Cache is shared across views of a lake. Nil gives the view a
	// private zero-capacity cache (coalescing only).
	Cache *blobcache.Cache

	// Retry bounds retries of individual backend operations.
	Retry retry.Policy

	CopyConcurrency  int
	ReadConcurrency  int
	WriteConcurrency int

	// Resolve turns CopyTo destination strings into views. Nil makes
	// CopyTo by string unavailable; CopyToView still works.
	Resolve Resolver

	// Clock stamps files written without a modification time. Nil uses
	// the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

func (c Config) normalize() Config {
	if c.Cache == nil {
		c.Cache = blobcache.New(blobcache.Config{Logger: c.Logger})
	}
	if c.CopyConcurrency <= 0 {
		c.CopyConcurrency = DefaultCopyConcurrency
	}
	if c.ReadConcurrency <= 0 {
		c.ReadConcurrency = DefaultReadConcurrency
	}
	if c.WriteConcurrency <= 0 {
		c.WriteConcurrency = DefaultWriteConcurrency
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Retry.Logger == nil {
		c.Retry.Logger = c.Logger
	}
	return c
}

// OpenFunc resolves a view's backend and catalog. It runs once, in the
// background, when the view is started.
type OpenFunc func(ctx context.Context) (backend.Backend, *catalog.Catalog, error)

// View is safe for concurrent use.
type View struct {
	location location.Location
	config   Config
	logger   *slog.Logger

	state   atomic.Int32
	start   sync.Once
	ready   chan struct{}
	openErr error

	// Set once before ready closes; read-only afterwards.
	backend backend.Backend
	catalog *catalog.Catalog
}

// New returns an Unopened view of loc. Operations block until Start
// has been called and the open has finished.
func New(loc location.Location, config Config) *View {
	config = config.normalize()
	return &View{
		location: loc,
		config:   config,
		logger:   config.Logger.With("location", loc.String()),
		ready:    make(chan struct{}),
	}
}

// Open is New followed by Start.
func Open(ctx context.Context, loc location.Location, config Config, open OpenFunc) *View {
	view := New(loc, config)
	view.Start(ctx, open)
	return view
}

// Ready returns a view that is already open over the given backend and
// catalog.
func Ready(loc location.Location, config Config, store backend.Backend, cat *catalog.Catalog) *View {
	view := New(loc, config)
	view.Start(context.Background(), func(context.Context) (backend.Backend, *catalog.Catalog, error) {
		return store, cat, nil
	})
	<-view.ready
	return view
}

// Start moves the view to Opening and runs open in a new goroutine.
// ctx bounds the open, not the view's lifetime. Calls after the first
// have no effect.
func (v *View) Start(ctx context.Context, open OpenFunc) {
	v.start.Do(func() {
		v.state.Store(int32(StateOpening))
		go func() {
			store, cat, err := open(ctx)
			if err != nil {
				v.openErr = fmt.Errorf("lakefs: open %s: %w", v.location, lakeerr.Cancelled(err))
				v.state.Store(int32(StateFailed))
				v.logger.Error("lake view failed to open", "error", err)
			} else {
				v.backend, v.catalog = store, cat
				v.state.Store(int32(StateReady))
				v.logger.Debug("lake view ready", "catalog", cat.Path())
			}
			close(v.ready)
		}()
	})
}

// State returns the current lifecycle stage.
func (v *View) State() State { return State(v.state.Load()) }

// Location returns the location the view was opened for.
func (v *View) Location() location.Location { return v.location }

// Wait blocks until the view is Ready or Failed, or ctx is done. It
// returns the open error for a Failed view.
func (v *View) Wait(ctx context.Context) error {
	select {
	case <-v.ready:
		return v.openErr
	default:
	}
	select {
	case <-v.ready:
		return v.openErr
	case <-ctx.Done():
		return lakeerr.Cancelled(ctx.Err())
	}
}

// Catalog returns the view's catalog once it is ready.
func (v *View) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.catalog, nil
}

// Backend returns the view's backend once it is ready.
func (v *View) Backend(ctx context.Context) (backend.Backend, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.backend, nil
}

// ObjectKey is the backend key of content with the given checksum
// stored with codec.
func ObjectKey(sum string, codec compress.Codec) string {
	if len(sum) < 4 {
		return path.Join("objects", sum+"."+codec.String())
	}
	return path.Join("objects", sum[:2], sum[2:4], sum+"."+codec.String())
}

// get fetches the stored bytes at key, retrying transient failures.
func (v *View) get(ctx context.Context, store backend.Backend, key string) ([]byte, error) {
	return retry.Value(ctx, v.config.Retry, "get", func(ctx context.Context) ([]byte, error) {
		return store.Get(ctx, key)
	})
}

// holds reports whether store already has an object of size bytes at
// key. Keys are content-addressed, so a same-length object at the key
// is the same object.
func (v *View) holds(ctx context.Context, store backend.Backend, key string, size int64) (bool, error) {
	info, err := retry.Value(ctx, v.config.Retry, "stat", func(ctx context.Context) (backend.ObjectInfo, error) {
		return store.Stat(ctx, key)
	})
	switch {
	case err == nil:
		return info.Size == size, nil
	case errors.Is(err, backend.ErrObjectNotFound):
		return false, nil
	default:
		return false, err
	}
}

// put stores data at key unless store already holds it, and reports
// whether bytes were written.
func (v *View) put(ctx context.Context, store backend.Backend, key string, data []byte) (bool, error) {
	present, err := v.holds(ctx, store, key, int64(len(data)))
	if err != nil || present {
		return false, err
	}
	err = retry.Do(ctx, v.config.Retry, "put", func(ctx context.Context) error {
		return store.Put(ctx, key, data)
	})
	return err == nil, err
}
