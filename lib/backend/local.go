// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/location"
)

// tmpDir holds in-progress writes. It lives under the root so the final
// rename never crosses a filesystem boundary.
const tmpDir = ".tmp"

// Local stores objects as files under a root directory.
type Local struct {
	location location.Location
	root     string
	logger   *slog.Logger
}

// NewLocal returns a backend rooted at loc.Path. Relative paths are
// resolved against the working directory. The root is created lazily
// by the first Put.
func NewLocal(loc location.Location, logger *slog.Logger) (*Local, error) {
	if loc.Kind != location.Local {
		return nil, fmt.Errorf("backend: %s is not a local location", loc)
	}
	absolute, err := loc.Absolute()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Local{
		location: absolute,
		root:     absolute.Path,
		logger:   logger.With("backend", "local", "root", absolute.Path),
	}, nil
}

func (l *Local) Location() location.Location { return l.location }

// Root returns the directory objects are stored under.
func (l *Local) Root() string { return l.root }

// Path returns the file backing key.
func (l *Local) Path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, invalidKey(key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Path(key))
	if err != nil {
		return nil, classifyLocal(key, err)
	}
	return data, nil
}

// Put writes data through a temporary file and renames it into place.
func (l *Local) Put(ctx context.Context, key string, data []byte) error {
	if !ValidKey(key) {
		return invalidKey(key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(l.root, tmpDir), 0o755); err != nil {
		return classifyLocal(key, err)
	}
	tmpFile, err := os.CreateTemp(filepath.Join(l.root, tmpDir), "object-*")
	if err != nil {
		return classifyLocal(key, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return classifyLocal(key, err)
	}
	if err := tmpFile.Close(); err != nil {
		return classifyLocal(key, err)
	}

	finalPath := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return classifyLocal(key, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return classifyLocal(key, err)
	}
	success = true
	l.logger.Debug("stored object", "key", key, "size", len(data))
	return nil
}

func (l *Local) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if !ValidKey(key) {
		return ObjectInfo{}, invalidKey(key)
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(l.Path(key))
	if err != nil {
		return ObjectInfo{}, classifyLocal(key, err)
	}
	if !info.Mode().IsRegular() {
		return ObjectInfo{}, fmt.Errorf("%w: %s is not a regular file", ErrObjectNotFound, key)
	}
	return ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List walks the directory containing prefix. The temporary directory
// is never listed.
func (l *Local) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := l.root
	if dir := prefix[:strings.LastIndex(prefix, "/")+1]; dir != "" {
		start = l.Path(strings.TrimSuffix(dir, "/"))
	}

	var objects []ObjectInfo
	err := filepath.WalkDir(start, func(walkPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		relative, err := filepath.Rel(l.root, walkPath)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relative)
		if entry.IsDir() {
			if key == tmpDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyLocal(prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// classifyLocal maps filesystem errors onto the backend taxonomy.
// Missing files are ErrObjectNotFound, permission and path problems are
// permanent, and everything else (EIO, ENOSPC, stale NFS handles) is
// treated as transient.
func classifyLocal(key string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, fs.ErrInvalid):
		return fmt.Errorf("local backend: %s: %w", key, err)
	default:
		return lakeerr.Unavailable(fmt.Errorf("local backend: %s: %w", key, err))
	}
}
