// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connected-data-lake/cdl/lib/backend"
	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/checksum"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/retry"
)

// File is content to be written into the lake.
type File struct {
	Parent string
	Name   string
	Data   []byte

	// Codec stores the payload with a fixed codec. AutoCodec overrides
	// it with one chosen by sampling the payload's compressibility.
	Codec     compress.Codec
	AutoCodec bool

	// Mode defaults to 0644 and ModTime to the current time.
	Mode     fs.FileMode
	ModTime  time.Time
	Metadata map[string]any
}

// WriteFiles stores each file's payload and appends all entries in one
// atomic batch. A key that already has a live entry fails the batch
// with lakeerr.ErrDuplicateEntry; objects stored before the failure
// are left for reuse, since they are content-addressed.
func (v *View) WriteFiles(ctx context.Context, files []File) (int64, error) {
	entries, err := v.storeFiles(ctx, files)
	if err != nil {
		return 0, err
	}
	return v.catalog.Append(ctx, entries)
}

// ReplaceFiles is WriteFiles that supersedes existing entries at the
// same keys instead of failing.
func (v *View) ReplaceFiles(ctx context.Context, files []File) (int64, error) {
	entries, err := v.storeFiles(ctx, files)
	if err != nil {
		return 0, err
	}
	return v.catalog.Replace(ctx, entries)
}

// Remove tombstones the entries at the given logical paths in one
// batch. Stored objects are not deleted.
func (v *View) Remove(ctx context.Context, paths ...string) (int64, error) {
	keys, err := Paths(paths...).Keys()
	if err != nil {
		return 0, err
	}
	if err := v.Wait(ctx); err != nil {
		return 0, err
	}
	return v.catalog.Remove(ctx, keys)
}

func (v *View) storeFiles(ctx context.Context, files []File) ([]catalog.Entry, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	entries := make([]catalog.Entry, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(v.config.WriteConcurrency)
	for i := range files {
		group.Go(func() error {
			entry, err := v.storeFile(groupCtx, files[i])
			if err != nil {
				return lakeerr.Entry(err, files[i].Parent, files[i].Name)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("lakefs: write files: %w", lakeerr.Cancelled(err))
	}
	return entries, nil
}

func (v *View) storeFile(ctx context.Context, file File) (catalog.Entry, error) {
	var (
		encoded []byte
		codec   = file.Codec
		err     error
	)
	if file.AutoCodec {
		encoded, codec, err = compress.EncodeAuto(file.Data)
	} else {
		encoded, err = compress.Encode(codec, file.Data)
	}
	if err != nil {
		return catalog.Entry{}, err
	}

	sum := checksum.Content(file.Data).String()
	key := ObjectKey(sum, codec)
	if _, err := v.put(ctx, v.backend, key, encoded); err != nil {
		return catalog.Entry{}, err
	}

	mode, modTime := file.Mode, file.ModTime
	if mode == 0 {
		mode = 0o644
	}
	if modTime.IsZero() {
		modTime = v.config.Clock.Now()
	}
	return catalog.Entry{
		Parent:      file.Parent,
		Name:        file.Name,
		Size:        int64(len(file.Data)),
		Checksum:    sum,
		StorageURI:  key,
		Compression: codec,
		StoredSize:  int64(len(encoded)),
		Mode:        mode.Perm(),
		ModTime:     modTime,
		Metadata:    file.Metadata,
	}, nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Parent is the logical directory the imported tree is placed
	// under. Empty means the root.
	Parent string

	Codec     compress.Codec
	AutoCodec bool

	// Replace supersedes existing entries instead of failing on them.
	Replace bool
}

// ImportReport summarizes an Import.
type ImportReport struct {
	Version int64
	Files   int
	Bytes   int64

	// Skipped counts symlinks and other non-regular files.
	Skipped int
}

// Import copies every regular file under dir into the lake as one
// batch. A file's parent is its directory relative to dir, under
// options.Parent; mode and modification time are taken from the file.
// Symlinks are not followed.
//
// Objects are stored while the tree is walked, at most WriteConcurrency
// files in memory at a time; only the entries are held until the single
// catalog commit at the end.
func (v *View) Import(ctx context.Context, dir string, options ImportOptions) (*ImportReport, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	report := &ImportReport{}
	var (
		stored []*catalog.Entry
		bytes  atomic.Int64
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(v.config.WriteConcurrency)
	err := filepath.WalkDir(dir, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := groupCtx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			report.Skipped++
			v.logger.Debug("import skipping non-regular file", "path", current, "type", d.Type().String())
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(dir, filepath.Dir(current))
		if err != nil {
			return err
		}
		file := File{
			Parent:    path.Join("/", options.Parent, filepath.ToSlash(relative)),
			Name:      d.Name(),
			Codec:     options.Codec,
			AutoCodec: options.AutoCodec,
			Mode:      info.Mode().Perm(),
			ModTime:   info.ModTime(),
		}
		entry := &catalog.Entry{}
		stored = append(stored, entry)
		group.Go(func() error {
			data, err := os.ReadFile(current)
			if err != nil {
				return lakeerr.Entry(err, file.Parent, file.Name)
			}
			file.Data = data
			if *entry, err = v.storeFile(groupCtx, file); err != nil {
				return lakeerr.Entry(err, file.Parent, file.Name)
			}
			bytes.Add(int64(len(data)))
			return nil
		})
		return nil
	})
	// A store failure cancels the walk; report the failure, not the
	// cancellation it caused.
	if storeErr := group.Wait(); storeErr != nil {
		err = storeErr
	}
	if err != nil {
		return nil, fmt.Errorf("lakefs: import %s: %w", dir, lakeerr.Cancelled(err))
	}

	report.Files = len(stored)
	report.Bytes = bytes.Load()
	if len(stored) == 0 {
		return report, nil
	}
	entries := make([]catalog.Entry, len(stored))
	for i, entry := range stored {
		entries[i] = *entry
	}
	if options.Replace {
		report.Version, err = v.catalog.Replace(ctx, entries)
	} else {
		report.Version, err = v.catalog.Append(ctx, entries)
	}
	if err != nil {
		return nil, err
	}
	v.logger.Info("imported directory",
		"dir", dir,
		"files", report.Files,
		"bytes", report.Bytes,
		"skipped", report.Skipped,
		"version", report.Version,
	)
	return report, nil
}

// Export writes every live entry beneath root as a file under dir,
// restoring mode and modification time, and returns the number of
// files written. Existing files are overwritten.
func (v *View) Export(ctx context.Context, root, dir string) (int, error) {
	listing, err := v.Walk(ctx, root)
	if err != nil {
		return 0, err
	}
	root = catalog.CleanParent(root)

	var group errgroup.Group
	group.SetLimit(v.config.ReadConcurrency)
	for i := range listing.Entries {
		entry := &listing.Entries[i]
		group.Go(func() error {
			data, err := v.readEntry(ctx, entry)
			if err != nil {
				return err
			}
			relative, err := filepath.Rel(filepath.FromSlash(root), filepath.FromSlash(entry.Key().Path()))
			if err != nil {
				return err
			}
			target := filepath.Join(dir, relative)
			if err := writeExported(target, data, entry.Mode, entry.ModTime); err != nil {
				return lakeerr.Entry(err, entry.Parent, entry.Name)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, fmt.Errorf("lakefs: export to %s: %w", dir, lakeerr.Cancelled(err))
	}
	return len(listing.Entries), nil
}

func writeExported(target string, data []byte, mode fs.FileMode, modTime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(target, data, mode.Perm()); err != nil {
		return err
	}
	// WriteFile leaves the mode of an existing file alone.
	if err := os.Chmod(target, mode.Perm()); err != nil {
		return err
	}
	if !modTime.IsZero() {
		return os.Chtimes(target, modTime, modTime)
	}
	return nil
}

// Checkpoint writes the catalog manifest to the view's backend so the
// lake can be reopened from the backend alone.
func (v *View) Checkpoint(ctx context.Context) (*catalog.Manifest, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	return v.writeManifest(ctx, v.catalog, v.backend)
}

func (v *View) writeManifest(ctx context.Context, cat *catalog.Catalog, store backend.Backend) (*catalog.Manifest, error) {
	manifest, err := cat.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := manifest.Encode()
	if err != nil {
		return nil, err
	}
	err = retry.Do(ctx, v.config.Retry, "put", func(ctx context.Context) error {
		return store.Put(ctx, catalog.ManifestKey, encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("lakefs: write manifest: %w", err)
	}
	return manifest, nil
}

// LoadManifest reads the catalog manifest stored on a backend. It
// returns (nil, nil) when the backend has none.
func LoadManifest(ctx context.Context, store backend.Backend, policy retry.Policy) (*catalog.Manifest, error) {
	encoded, err := retry.Value(ctx, policy, "get", func(ctx context.Context) ([]byte, error) {
		return store.Get(ctx, catalog.ManifestKey)
	})
	if errors.Is(err, backend.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lakefs: read manifest: %w", err)
	}
	return catalog.DecodeManifest(encoded)
}
