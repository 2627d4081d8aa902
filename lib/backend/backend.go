// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides the physical storage behind a lake: a flat
// namespace of immutable objects addressed by slash-separated keys
// relative to the lake root.
//
// Every variant implements the same capability set (resolve, fetch, put,
// stat, list). Transient failures are reported wrapped in
// lakeerr.ErrBackendUnavailable; missing objects as ErrObjectNotFound.
// Backends do not retry. Retry policy belongs to the caller, which knows
// the granularity the failure should be retried at.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/connected-data-lake/cdl/lib/location"
)

// ErrObjectNotFound reports a key with no stored object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is a physical storage medium. Implementations are safe for
// concurrent use.
type Backend interface {
	// Location returns the location the backend was resolved from.
	Location() location.Location

	// Get returns the full contents of the object at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data at key. Readers never observe a partially
	// written object.
	Put(ctx context.Context, key string, data []byte) error

	// Stat returns metadata for the object at key.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object whose key starts with prefix, sorted
	// by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Options configures backend construction.
type Options struct {
	S3 S3Options

	// Logger receives backend diagnostics. Nil discards.
	Logger *slog.Logger
}

// Open constructs the backend for loc. Construction performs no I/O
// against the storage itself; failures surface on first use.
func Open(ctx context.Context, loc location.Location, options Options) (Backend, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch loc.Kind {
	case location.Local:
		return NewLocal(loc, logger)
	case location.S3:
		return NewS3(ctx, loc, options.S3, logger)
	default:
		return nil, fmt.Errorf("backend: unsupported location kind %s", loc.Kind)
	}
}

// ValidKey reports whether key is a usable object key: relative,
// slash-separated, already clean, and free of "." or ".." elements.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	for _, element := range strings.Split(key, "/") {
		if element == "." || element == ".." {
			return false
		}
	}
	return true
}

func invalidKey(key string) error {
	return fmt.Errorf("backend: invalid object key %q", key)
}
