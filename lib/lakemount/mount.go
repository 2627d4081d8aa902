// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package lakemount exposes a lake view as a read-only FUSE filesystem.
//
// The tree mirrors the catalog: implicit directories become directories,
// live entries become regular files with the entry's size, permission
// bits (write bits cleared) and modification time. Every lookup and
// listing reads the catalog at that moment, so commits made through
// the view after mounting appear once the kernel's entry timeout
// expires. File contents are read through the view, and therefore
// through the lake's shared cache, when a file is opened.
package lakemount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/lakefs"
)

// Options configures a mount.
type Options struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	View *lakefs.View

	// AllowOther lets other users read the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// EntryTimeout is how long the kernel caches lookups and
	// attributes. Zero uses one second.
	EntryTimeout time.Duration

	Logger *slog.Logger
}

// Mount waits for the view to become ready and mounts it. The caller
// unmounts through the returned server.
func Mount(ctx context.Context, options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("lakemount: mountpoint is required")
	}
	if options.View == nil {
		return nil, fmt.Errorf("lakemount: view is required")
	}
	if options.EntryTimeout <= 0 {
		options.EntryTimeout = time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	options.Logger = options.Logger.With("mountpoint", options.Mountpoint, "lake", options.View.Location().String())

	if err := options.View.Wait(ctx); err != nil {
		return nil, fmt.Errorf("lakemount: %w", err)
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("lakemount: creating mountpoint: %w", err)
	}

	negativeTimeout := options.EntryTimeout / 10
	root := &dirNode{options: &options, dir: "/"}
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &options.EntryTimeout,
		AttrTimeout:     &options.EntryTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.View.Location().String(),
			Name:       "cdl",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lakemount: mounting at %s: %w", options.Mountpoint, err)
	}
	options.Logger.Info("lake mounted")
	return server, nil
}

// dirNode is an implicit catalog directory.
type dirNode struct {
	gofuse.Inode
	options *Options
	dir     string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = unix.S_IFDIR | 0o555
	return 0
}

// Lookup resolves name as a subdirectory first, then as an entry. A
// name that is both shows as the directory.
func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	child := path.Join(d.dir, name)

	subdirectories, err := d.options.View.Subdirectories(ctx, d.dir)
	if err != nil {
		return nil, d.errno("lookup", child, err)
	}
	for _, subdirectory := range subdirectories {
		if subdirectory == name {
			out.Mode = unix.S_IFDIR | 0o555
			node := &dirNode{options: d.options, dir: child}
			return d.NewInode(ctx, node, gofuse.StableAttr{Mode: unix.S_IFDIR}), 0
		}
	}

	entry, err := d.options.View.Stat(ctx, child)
	if err != nil {
		return nil, d.errno("lookup", child, err)
	}
	node := &fileNode{options: d.options, entry: *entry}
	fillAttr(&out.Attr, entry)
	return d.NewInode(ctx, node, gofuse.StableAttr{Mode: unix.S_IFREG}), 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	subdirectories, err := d.options.View.Subdirectories(ctx, d.dir)
	if err != nil {
		return nil, d.errno("readdir", d.dir, err)
	}
	listing, err := d.options.View.ReadDir(ctx, d.dir)
	if err != nil {
		return nil, d.errno("readdir", d.dir, err)
	}

	seen := make(map[string]bool, len(subdirectories))
	entries := make([]fuse.DirEntry, 0, len(subdirectories)+len(listing.Entries))
	for _, name := range subdirectories {
		seen[name] = true
		entries = append(entries, fuse.DirEntry{Name: name, Mode: unix.S_IFDIR})
	}
	for _, entry := range listing.Entries {
		if seen[entry.Name] {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: entry.Name, Mode: unix.S_IFREG})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (d *dirNode) errno(operation, logical string, err error) syscall.Errno {
	errno := errnoFor(err)
	if errno == unix.EIO {
		d.options.Logger.Error(operation+" failed", "path", logical, "error", err)
	}
	return errno
}

// fileNode is one live entry, captured at lookup time.
type fileNode struct {
	gofuse.Inode
	options *Options
	entry   catalog.Entry
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, &f.entry)
	return 0
}

// Open reads the whole entry into the handle. The entry is immutable,
// so the kernel page cache stays valid for the life of the inode.
func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(unix.O_WRONLY|unix.O_RDWR|unix.O_TRUNC|unix.O_APPEND) != 0 {
		return nil, 0, unix.EROFS
	}
	data, err := f.options.View.ReadFiles(ctx, lakefs.Keys(f.entry.Key()))
	if err != nil {
		errno := errnoFor(err)
		if errno == unix.EIO {
			f.options.Logger.Error("open failed", "path", f.entry.Key().Path(), "error", err)
		}
		return nil, 0, errno
	}
	return &fileHandle{data: data[0]}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, handle gofuse.FileHandle, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	opened, ok := handle.(*fileHandle)
	if !ok {
		return nil, unix.EBADF
	}
	return fuse.ReadResultData(opened.slice(dest, offset)), 0
}

// fileHandle holds the decoded content of an open file. The slice may
// be shared with the cache and is never written.
type fileHandle struct {
	data []byte
}

func (h *fileHandle) slice(dest []byte, offset int64) []byte {
	if offset < 0 || offset >= int64(len(h.data)) {
		return nil
	}
	end := min(offset+int64(len(dest)), int64(len(h.data)))
	return h.data[offset:end]
}

func fillAttr(out *fuse.Attr, entry *catalog.Entry) {
	out.Mode = unix.S_IFREG | uint32(entry.Mode.Perm()&^0o222)
	out.Size = uint64(entry.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Nlink = 1
	modTime := entry.ModTime
	out.SetTimes(nil, &modTime, &modTime)
}

// errnoFor maps lake errors onto the errno a filesystem caller expects.
func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, lakeerr.ErrEntryNotFound), errors.Is(err, lakeerr.ErrInvalidLocation):
		return unix.ENOENT
	case errors.Is(err, lakeerr.ErrCancelled):
		return unix.EINTR
	case errors.Is(err, lakeerr.ErrBackendUnavailable):
		return unix.EAGAIN
	default:
		return unix.EIO
	}
}
