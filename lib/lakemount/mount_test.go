// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakemount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/connected-data-lake/cdl/lib/blobcache"
	"github.com/connected-data-lake/cdl/lib/lake"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/lakefs"
	"github.com/connected-data-lake/cdl/lib/testutil"
)

var testModTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// testMount mounts a lake holding the given files and returns the
// mountpoint. The mount is removed when the test ends.
func testMount(t *testing.T, files []lakefs.File) (string, *lakefs.View) {
	t.Helper()
	if !testutil.FUSEAvailable() {
		t.Skip("skipping: FUSE not available")
	}
	ctx := context.Background()

	handle, err := lake.New(lake.Config{
		StateDir: t.TempDir(),
		Cache:    blobcache.Config{MaxSize: 1 << 20},
	})
	if err != nil {
		t.Fatalf("lake.New: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	view, err := handle.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := view.WriteFiles(ctx, files); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}

	mountpoint := filepath.Join(t.TempDir(), "mount")
	server, err := Mount(ctx, Options{Mountpoint: mountpoint, View: view, EntryTimeout: time.Millisecond})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint, view
}

func sampleFiles() []lakefs.File {
	return []lakefs.File{
		{Parent: "/", Name: "README", Data: []byte("top level"), Mode: 0o644, ModTime: testModTime},
		{Parent: "/images/train", Name: "0001.jpg", Data: bytes.Repeat([]byte("jpeg"), 4096), Mode: 0o600, ModTime: testModTime},
		{Parent: "/images/train", Name: "0002.jpg", Data: []byte("second"), Mode: 0o644, ModTime: testModTime},
		{Parent: "/images/val", Name: "0001.jpg", Data: []byte("validation"), Mode: 0o644, ModTime: testModTime},
	}
}

func readDirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir %s: %v", dir, err)
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
		if entry.IsDir() {
			names[i] += "/"
		}
	}
	sort.Strings(names)
	return names
}

func TestMountTree(t *testing.T) {
	mountpoint, _ := testMount(t, sampleFiles())

	tests := []struct {
		dir  string
		want []string
	}{
		{".", []string{"README", "images/"}},
		{"images", []string{"train/", "val/"}},
		{"images/train", []string{"0001.jpg", "0002.jpg"}},
	}
	for _, test := range tests {
		t.Run(test.dir, func(t *testing.T) {
			got := readDirNames(t, filepath.Join(mountpoint, test.dir))
			if fmt.Sprint(got) != fmt.Sprint(test.want) {
				t.Errorf("entries = %v, want %v", got, test.want)
			}
		})
	}
}

func TestMountReadsContentAndAttributes(t *testing.T) {
	mountpoint, _ := testMount(t, sampleFiles())

	for _, file := range sampleFiles() {
		target := filepath.Join(mountpoint, filepath.FromSlash(file.Parent), file.Name)
		got, err := os.ReadFile(target)
		if err != nil {
			t.Fatalf("ReadFile %s: %v", target, err)
		}
		if !bytes.Equal(got, file.Data) {
			t.Errorf("%s: content differs (%d bytes, want %d)", target, len(got), len(file.Data))
		}
		info, err := os.Stat(target)
		if err != nil {
			t.Fatalf("Stat %s: %v", target, err)
		}
		if want := file.Mode.Perm() &^ 0o222; info.Mode().Perm() != want {
			t.Errorf("%s: mode = %v, want %v", target, info.Mode().Perm(), want)
		}
		if !info.ModTime().Equal(testModTime) {
			t.Errorf("%s: mtime = %v, want %v", target, info.ModTime(), testModTime)
		}
	}
}

func TestMountIsReadOnly(t *testing.T) {
	mountpoint, _ := testMount(t, sampleFiles())

	_, err := os.OpenFile(filepath.Join(mountpoint, "README"), os.O_WRONLY, 0)
	if !errors.Is(err, unix.EROFS) {
		t.Errorf("open for write error = %v, want EROFS", err)
	}
	err = os.WriteFile(filepath.Join(mountpoint, "new"), []byte("x"), 0o644)
	if err == nil {
		t.Error("creating a file succeeded on a read-only mount")
	}
}

func TestMountSeesLaterCommits(t *testing.T) {
	mountpoint, view := testMount(t, sampleFiles())

	if _, err := os.Stat(filepath.Join(mountpoint, "late")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Stat before commit error = %v, want not exist", err)
	}
	_, err := view.WriteFiles(context.Background(), []lakefs.File{{Parent: "/", Name: "late", Data: []byte("arrived")}})
	if err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := os.ReadFile(filepath.Join(mountpoint, "late"))
		if err == nil {
			if string(got) != "arrived" {
				t.Errorf("content = %q", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("committed file never appeared: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestErrnoFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"missing entry", lakeerr.Entry(lakeerr.ErrEntryNotFound, "/a", "b"), unix.ENOENT},
		{"cancelled", lakeerr.Cancelled(context.Canceled), unix.EINTR},
		{"unavailable", lakeerr.Unavailable(errors.New("503")), unix.EAGAIN},
		{"corrupt", lakeerr.ErrCorruptData, unix.EIO},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := errnoFor(test.err); got != test.want {
				t.Errorf("errnoFor = %v, want %v", got, test.want)
			}
		})
	}
}

func TestFileHandleSlice(t *testing.T) {
	handle := &fileHandle{data: []byte("0123456789")}
	tests := []struct {
		offset int64
		size   int
		want   string
	}{
		{0, 4, "0123"},
		{8, 4, "89"},
		{10, 4, ""},
		{-1, 4, ""},
		{3, 0, ""},
	}
	for _, test := range tests {
		if got := string(handle.slice(make([]byte, test.size), test.offset)); got != test.want {
			t.Errorf("slice(%d, off %d) = %q, want %q", test.size, test.offset, got, test.want)
		}
	}
}
