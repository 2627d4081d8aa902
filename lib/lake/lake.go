// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package lake is the top-level handle of the connected data lake. A
// Lake owns the catalogs of every namespace it has opened and one byte
// cache shared by all of them, and mints a lakefs.View per location.
//
// Catalog state lives under the configured state directory, one SQLite
// database per namespace, named by a digest of the namespace's
// canonical location. A namespace with no local state is initialized
// from the manifest stored on its backend, if there is one, so a lake
// copied to object storage can be opened from anywhere.
package lake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/connected-data-lake/cdl/lib/backend"
	"github.com/connected-data-lake/cdl/lib/blobcache"
	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/checksum"
	"github.com/connected-data-lake/cdl/lib/lakefs"
	"github.com/connected-data-lake/cdl/lib/location"
	"github.com/connected-data-lake/cdl/lib/retry"
)

// ErrClosed reports use of a Lake after Close.
var ErrClosed = errors.New("lake: closed")

// Config configures a Lake.
type Config struct {
	// StateDir holds catalog databases. Required.
	StateDir string

	Cache   blobcache.Config
	Retry   retry.Policy
	Backend backend.Options

	CopyConcurrency int
	ReadConcurrency int

	Logger *slog.Logger
}

// Lake is safe for concurrent use.
type Lake struct {
	config Config
	cache  *blobcache.Cache
	logger *slog.Logger

	// ctx bounds background opens; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	views  map[string]*lakefs.View
}

// New creates a Lake, creating the state directory if needed.
func New(config Config) (*Lake, error) {
	if config.StateDir == "" {
		return nil, errors.New("lake: state directory is required")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Cache.Logger == nil {
		config.Cache.Logger = config.Logger
	}
	if config.Backend.Logger == nil {
		config.Backend.Logger = config.Logger
	}
	if err := os.MkdirAll(filepath.Join(config.StateDir, "catalogs"), 0o755); err != nil {
		return nil, fmt.Errorf("lake: creating state directory: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lake{
		config: config,
		cache:  blobcache.New(config.Cache),
		logger: config.Logger,
		ctx:    ctx,
		cancel: cancel,
		views:  make(map[string]*lakefs.View),
	}, nil
}

// Cache returns the cache shared by the lake's views.
func (l *Lake) Cache() *blobcache.Cache { return l.cache }

// Open returns the view of the namespace at raw. The location is parsed
// before Open returns, so a malformed one fails immediately with
// lakeerr.ErrInvalidLocation; the backend and catalog are resolved in
// the background and the view's operations wait for them. Opening the
// same namespace again returns the same view unless its open failed.
func (l *Lake) Open(ctx context.Context, raw string) (*lakefs.View, error) {
	loc, err := location.Parse(raw)
	if err != nil {
		return nil, err
	}
	if loc.Kind == location.Local {
		if loc, err = loc.Absolute(); err != nil {
			return nil, err
		}
	}
	canonical := loc.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if view, ok := l.views[canonical]; ok && view.State() != lakefs.StateFailed {
		return view, nil
	}

	view := lakefs.Open(l.ctx, loc, lakefs.Config{
		Cache:           l.cache,
		Retry:           l.config.Retry,
		CopyConcurrency: l.config.CopyConcurrency,
		ReadConcurrency: l.config.ReadConcurrency,
		Resolve:         l.Open,
		Logger:          l.logger,
	}, func(ctx context.Context) (backend.Backend, *catalog.Catalog, error) {
		return l.openNamespace(ctx, loc)
	})
	l.views[canonical] = view
	return view, nil
}

// CatalogPath returns the database file backing the namespace with the
// given canonical location.
func (l *Lake) CatalogPath(canonical string) string {
	return filepath.Join(l.config.StateDir, "catalogs", checksum.Namespace(canonical).String()+".db")
}

func (l *Lake) openNamespace(ctx context.Context, loc location.Location) (backend.Backend, *catalog.Catalog, error) {
	logger := l.logger.With("namespace", loc.String())
	store, err := backend.Open(ctx, loc, l.config.Backend)
	if err != nil {
		return nil, nil, err
	}

	path := l.CatalogPath(loc.String())
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	cat, err := catalog.Open(ctx, catalog.Config{Path: path, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	if !fresh {
		return store, cat, nil
	}

	manifest, err := lakefs.LoadManifest(ctx, store, l.config.Retry)
	if err != nil {
		cat.Close()
		os.Remove(path)
		return nil, nil, err
	}
	if manifest == nil {
		logger.Info("created empty catalog", "catalog", path)
		return store, cat, nil
	}
	stats, err := cat.Load(ctx, manifest)
	if err != nil {
		cat.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("lake: loading manifest of %s: %w", loc, err)
	}
	logger.Info("initialized catalog from backend manifest",
		"catalog", path,
		"entries", stats.Added,
		"manifest_version", manifest.Version,
	)
	return store, cat, nil
}

// Close cancels pending opens and closes every catalog. Views minted by
// the lake must not be used afterwards.
func (l *Lake) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	views := l.views
	l.views = nil
	l.mu.Unlock()

	l.cancel()
	l.logger.Debug("closing lake", "views", len(views), "cache", l.cache.String())
	var errs []error
	for _, view := range views {
		cat, err := view.Catalog(context.Background())
		if err != nil {
			continue
		}
		if err := cat.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
