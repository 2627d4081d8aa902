// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/metrics"
)

// ReadDir returns the entries directly under dir, ordered by name.
func (v *View) ReadDir(ctx context.Context, dir string) (*catalog.Listing, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.catalog.List(ctx, dir, false)
}

// Walk returns every entry at or beneath dir, ordered by (parent, name).
func (v *View) Walk(ctx context.Context, dir string) (*catalog.Listing, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.catalog.List(ctx, dir, true)
}

// ReadDirAll returns every live entry in catalog order.
func (v *View) ReadDirAll(ctx context.Context) (*catalog.Listing, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.catalog.ListAll(ctx)
}

// Subdirectories returns the names of the implicit directories directly
// under dir.
func (v *View) Subdirectories(ctx context.Context, dir string) ([]string, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.catalog.Directories(ctx, dir)
}

// SQL runs a read-only query against the rootfs table.
func (v *View) SQL(ctx context.Context, statement string) (*catalog.Result, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.catalog.Query(ctx, statement)
}

// Stat returns the live entry at logical path p.
func (v *View) Stat(ctx context.Context, p string) (*catalog.Entry, error) {
	entries, err := v.resolve(ctx, Paths(p))
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// ReadFile returns the content of the entry at logical path p.
func (v *View) ReadFile(ctx context.Context, p string) ([]byte, error) {
	contents, err := v.ReadFiles(ctx, Paths(p))
	if err != nil {
		return nil, err
	}
	return contents[0], nil
}

// ReadFiles returns the decoded content of every selected entry, in
// selector order. It fails as a whole when any entry is missing from
// the catalog snapshot or cannot be read; there are no partial results.
//
// Returned slices may be shared with the cache and must not be
// modified.
func (v *View) ReadFiles(ctx context.Context, selector Selector) ([][]byte, error) {
	started := time.Now()
	defer func() { metrics.ReadFilesDuration.Observe(time.Since(started).Seconds()) }()

	entries, err := v.resolve(ctx, selector)
	if err != nil {
		return nil, err
	}

	contents := make([][]byte, len(entries))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(v.config.ReadConcurrency)
	for i, entry := range entries {
		group.Go(func() error {
			data, err := v.readEntry(groupCtx, entry)
			if err != nil {
				return err
			}
			contents[i] = data
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lakefs: read files: %w", lakeerr.Cancelled(ctx.Err()))
		}
		return nil, fmt.Errorf("lakefs: read files: %w", err)
	}
	return contents, nil
}

// RowResult is one selected entry's outcome in ReadFilesPerRow.
type RowResult struct {
	Key  catalog.Key
	Data []byte
	Err  error
}

// ReadFilesPerRow is ReadFiles with per-row outcomes: a missing or
// unreadable entry fails only its own row. The returned error covers
// selector resolution and cancellation.
func (v *View) ReadFilesPerRow(ctx context.Context, selector Selector) ([]RowResult, error) {
	started := time.Now()
	defer func() { metrics.ReadFilesDuration.Observe(time.Since(started).Seconds()) }()

	keys, err := selector.Keys()
	if err != nil {
		return nil, err
	}
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	_, entries, err := v.catalog.Lookup(ctx, keys)
	if err != nil {
		return nil, err
	}

	results := make([]RowResult, len(keys))
	var group errgroup.Group
	group.SetLimit(v.config.ReadConcurrency)
	for i, entry := range entries {
		results[i].Key = keys[i]
		if entry == nil {
			results[i].Err = lakeerr.Entry(lakeerr.ErrEntryNotFound, keys[i].Parent, keys[i].Name)
			continue
		}
		if ctx.Err() != nil {
			results[i].Err = lakeerr.Cancelled(ctx.Err())
			continue
		}
		group.Go(func() error {
			results[i].Data, results[i].Err = v.readEntry(ctx, entry)
			return nil
		})
	}
	group.Wait()
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("lakefs: read files: %w", lakeerr.Cancelled(err))
	}
	return results, nil
}

// resolve looks the selector's keys up in one catalog snapshot. Any key
// without a live entry fails the whole resolution.
func (v *View) resolve(ctx context.Context, selector Selector) ([]*catalog.Entry, error) {
	keys, err := selector.Keys()
	if err != nil {
		return nil, err
	}
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	_, entries, err := v.catalog.Lookup(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i, entry := range entries {
		if entry == nil {
			return nil, lakeerr.Entry(lakeerr.ErrEntryNotFound, keys[i].Parent, keys[i].Name)
		}
	}
	return entries, nil
}

// readEntry returns the decoded content of entry through the cache. A
// miss fetches the stored bytes (retrying transient failures) and
// decodes them; the cache verifies the checksum.
func (v *View) readEntry(ctx context.Context, entry *catalog.Entry) ([]byte, error) {
	data, err := v.config.Cache.GetOrFetch(ctx, entry.Checksum, entry.Size, func(ctx context.Context) ([]byte, error) {
		stored, err := v.get(ctx, v.backend, entry.StorageURI)
		if err != nil {
			return nil, err
		}
		return compress.Decode(entry.Compression, stored, entry.Size)
	})
	if err != nil {
		return nil, lakeerr.Entry(err, entry.Parent, entry.Name)
	}
	return data, nil
}
