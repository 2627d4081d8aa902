// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/connected-data-lake/cdl/lib/checksum"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := catalog.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return catalog
}

func testEntry(parent, name, content string) Entry {
	sum := checksum.Content([]byte(content)).String()
	return Entry{
		Parent:      parent,
		Name:        name,
		Size:        int64(len(content)),
		Checksum:    sum,
		StorageURI:  "objects/" + sum[:2] + "/" + sum[2:4] + "/" + sum,
		Compression: compress.CodecNone,
		StoredSize:  int64(len(content)),
		Mode:        0o644,
		ModTime:     time.Unix(1700000000, 123),
	}
}

func names(listing *Listing) []string {
	var result []string
	for _, entry := range listing.Entries {
		result = append(result, entry.Key().Path())
	}
	return result
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

func TestAppendAndListInNameOrder(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	version, err := catalog.Append(ctx, []Entry{
		testEntry("/a", "z", "zed"),
		testEntry("/a", "x", "ex"),
		testEntry("/a", "y", "why"),
		testEntry("/b", "x", "other directory"),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	listing, err := catalog.List(ctx, "/a", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got, want := names(listing), []string{"/a/x", "/a/y", "/a/z"}; !equalStrings(got, want) {
		t.Errorf("List(/a) = %v, want %v", got, want)
	}
	if listing.Version != 1 {
		t.Errorf("listing version = %d, want 1", listing.Version)
	}

	first := listing.Entries[0]
	if first.Size != 2 || first.Mode != 0o644 || first.ModTime.UnixNano() != time.Unix(1700000000, 123).UnixNano() {
		t.Errorf("entry attributes not preserved: %+v", first)
	}

	again, err := catalog.List(ctx, "a/", false)
	if err != nil {
		t.Fatal(err)
	}
	if !equalStrings(names(again), names(listing)) {
		t.Error("repeated listing with an unnormalized path differs")
	}
}

func TestDuplicateLeavesCatalogUnchanged(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	if _, err := catalog.Append(ctx, []Entry{testEntry("/a", "x", "1")}); err != nil {
		t.Fatal(err)
	}

	_, err := catalog.Append(ctx, []Entry{
		testEntry("/a", "new", "2"),
		testEntry("/a", "x", "3"),
	})
	if !errors.Is(err, lakeerr.ErrDuplicateEntry) {
		t.Fatalf("Append duplicate error = %v, want ErrDuplicateEntry", err)
	}

	listing, err := catalog.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(listing); !equalStrings(got, []string{"/a/x"}) {
		t.Errorf("after rejected batch ListAll = %v, want [/a/x]", got)
	}
	if listing.Version != 1 {
		t.Errorf("version after rejected batch = %d, want 1", listing.Version)
	}

	_, err = catalog.Append(ctx, []Entry{testEntry("/c", "d", "1"), testEntry("/c/", "d", "2")})
	if !errors.Is(err, lakeerr.ErrDuplicateEntry) {
		t.Errorf("in-batch duplicate error = %v, want ErrDuplicateEntry", err)
	}
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	tests := map[string]func(*Entry){
		"empty name":       func(e *Entry) { e.Name = "" },
		"slash in name":    func(e *Entry) { e.Name = "a/b" },
		"bad checksum":     func(e *Entry) { e.Checksum = "xyz" },
		"no storage":       func(e *Entry) { e.StorageURI = "" },
		"bad codec":        func(e *Entry) { e.Compression = compress.Codec(9) },
		"reserved column":  func(e *Entry) { e.Metadata = map[string]any{"size": 1} },
		"bad column name":  func(e *Entry) { e.Metadata = map[string]any{"has space": 1} },
		"bad column value": func(e *Entry) { e.Metadata = map[string]any{"nested": []int{1}} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			entry := testEntry("/v", "file", "content")
			mutate(&entry)
			if _, err := catalog.Append(ctx, []Entry{entry}); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Append error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestRecursiveListMatchesWholeSegments(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	if _, err := catalog.Append(ctx, []Entry{
		testEntry("/", "root", "r"),
		testEntry("/a", "1", "a1"),
		testEntry("/a/b", "2", "ab2"),
		testEntry("/a/b/c", "3", "abc3"),
		testEntry("/ab", "4", "ab4"),
	}); err != nil {
		t.Fatal(err)
	}

	listing, err := catalog.List(ctx, "/a", true)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := names(listing), []string{"/a/1", "/a/b/2", "/a/b/c/3"}; !equalStrings(got, want) {
		t.Errorf("List(/a, recursive) = %v, want %v", got, want)
	}

	all, err := catalog.List(ctx, "/", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Entries) != 5 {
		t.Errorf("List(/, recursive) = %d entries, want 5", len(all.Entries))
	}

	top, err := catalog.List(ctx, "/", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(top); !equalStrings(got, []string{"/root"}) {
		t.Errorf("List(/) = %v", got)
	}

	// The recursive listing agrees with the equivalent SQL filter.
	result, err := catalog.Query(ctx, `SELECT parent, name FROM rootfs
		WHERE parent = '/a' OR parent LIKE '/a/%' ORDER BY parent, name`)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != len(listing.Entries) {
		t.Errorf("SQL prefix filter = %d rows, recursive list = %d", len(result.Rows), len(listing.Entries))
	}
}

func TestRemoveAndReplace(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	if _, err := catalog.Append(ctx, []Entry{testEntry("/d", "keep", "k"), testEntry("/d", "drop", "d")}); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.Remove(ctx, []Key{{Parent: "/d", Name: "drop"}}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := catalog.Remove(ctx, []Key{{Parent: "/d", Name: "drop"}}); !errors.Is(err, lakeerr.ErrEntryNotFound) {
		t.Errorf("second Remove error = %v, want ErrEntryNotFound", err)
	}

	listing, _ := catalog.List(ctx, "/d", false)
	if got := names(listing); !equalStrings(got, []string{"/d/keep"}) {
		t.Errorf("after Remove = %v", got)
	}

	// The removed name can be appended again.
	if _, err := catalog.Append(ctx, []Entry{testEntry("/d", "drop", "reborn")}); err != nil {
		t.Fatalf("Append after Remove: %v", err)
	}

	replacement := testEntry("/d", "keep", "new content")
	version, err := catalog.Replace(ctx, []Entry{replacement})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	_, found, err := catalog.Lookup(ctx, []Key{{Parent: "/d", Name: "keep"}})
	if err != nil {
		t.Fatal(err)
	}
	if found[0] == nil || found[0].Checksum != replacement.Checksum {
		t.Errorf("Lookup after Replace = %+v, want checksum %s", found[0], replacement.Checksum)
	}
	if version != 4 {
		t.Errorf("version after four batches = %d", version)
	}
}

func TestLookupAlignsWithKeys(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)
	if _, err := catalog.Append(ctx, []Entry{testEntry("/l", "a", "a"), testEntry("/l", "b", "b")}); err != nil {
		t.Fatal(err)
	}

	_, found, err := catalog.Lookup(ctx, []Key{
		{Parent: "/l", Name: "b"},
		{Parent: "/l", Name: "missing"},
		{Parent: "l", Name: "a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if found[0] == nil || found[0].Name != "b" {
		t.Errorf("found[0] = %+v", found[0])
	}
	if found[1] != nil {
		t.Errorf("found[1] = %+v, want nil", found[1])
	}
	if found[2] == nil || found[2].Name != "a" {
		t.Errorf("found[2] = %+v", found[2])
	}
}

func TestMetadataColumns(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	cat := testEntry("/img", "cat.jpg", "meow")
	cat.Metadata = map[string]any{"label": "cat", "width": 640, "score": 0.5}
	dog := testEntry("/img", "dog.jpg", "woof")
	dog.Metadata = map[string]any{"label": "dog", "width": 320}
	if _, err := catalog.Append(ctx, []Entry{cat, dog}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	schema, err := catalog.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantColumns := []Column{{"label", TypeText}, {"score", TypeReal}, {"width", TypeInteger}}
	if len(schema.Metadata) != len(wantColumns) {
		t.Fatalf("schema = %+v, want %+v", schema.Metadata, wantColumns)
	}
	for i, column := range wantColumns {
		if schema.Metadata[i] != column {
			t.Errorf("column %d = %+v, want %+v", i, schema.Metadata[i], column)
		}
	}

	listing, err := catalog.List(ctx, "/img", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := listing.Entries[0].Metadata["width"]; got != int64(640) {
		t.Errorf("width = %v (%T), want int64 640", got, got)
	}
	if got := listing.Entries[1].Metadata["score"]; got != nil {
		t.Errorf("dog score = %v, want absent", got)
	}
	if last := listing.Columns[len(listing.Columns)-1]; last != "width" {
		t.Errorf("listing columns end with %q, want width", last)
	}

	result, err := catalog.Query(ctx, "SELECT name, width FROM rootfs WHERE label = 'dog'")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "dog.jpg" || result.Rows[0][1] != int64(320) {
		t.Errorf("Query rows = %v", result.Rows)
	}

	if err := catalog.Declare(ctx, []Column{{Name: "split", Type: TypeText}}); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	result, err = catalog.Query(ctx, "SELECT COUNT(*) FROM rootfs WHERE split IS NULL")
	if err != nil {
		t.Fatalf("Query declared column: %v", err)
	}
	if result.Rows[0][0] != int64(2) {
		t.Errorf("count = %v, want 2", result.Rows[0][0])
	}
}

func TestQuerySurface(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)
	var entries []Entry
	for i := range 6 {
		entries = append(entries, testEntry(fmt.Sprintf("/q/%d", i%2), fmt.Sprintf("f%d.txt", i), fmt.Sprintf("payload-%d", i)))
	}
	if _, err := catalog.Append(ctx, entries); err != nil {
		t.Fatal(err)
	}

	result, err := catalog.Query(ctx, `
		-- group and order
		SELECT parent, COUNT(*) AS files, SUM(size) AS bytes
		FROM rootfs
		WHERE name LIKE 'f%' AND size >= 9
		GROUP BY parent
		ORDER BY parent DESC`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got, want := result.Columns, []string{"parent", "files", "bytes"}; !equalStrings(got, want) {
		t.Errorf("columns = %v, want %v", got, want)
	}
	if len(result.Rows) != 2 || result.Rows[0][0] != "/q/1" || result.Rows[0][1] != int64(3) {
		t.Errorf("rows = %v", result.Rows)
	}
	if result.Version != 1 {
		t.Errorf("result version = %d", result.Version)
	}

	result, err = catalog.Query(ctx, "SELECT len(name), length(name) FROM rootfs LIMIT 1;")
	if err != nil {
		t.Fatalf("Query len: %v", err)
	}
	if result.Rows[0][0] != result.Rows[0][1] {
		t.Errorf("len = %v, length = %v", result.Rows[0][0], result.Rows[0][1])
	}

	keys, err := result.Keys([]int{0})
	if err == nil {
		t.Errorf("Keys without parent/name columns = %v, want error", keys)
	}
}

func TestQueryRejectsMutation(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)
	if _, err := catalog.Append(ctx, []Entry{testEntry("/m", "x", "x")}); err != nil {
		t.Fatal(err)
	}

	for _, statement := range []string{
		"DELETE FROM entries",
		"  insert into entries (version, op, parent, name) values (9, 'put', '/', 'evil')",
		"UPDATE entries SET name = 'y'",
		"DROP VIEW rootfs",
		"PRAGMA query_only = OFF",
		"/* sneaky */ CREATE TABLE t (x)",
		"SELECT 1; DELETE FROM entries",
		"WITH doomed AS (SELECT seq FROM entries) DELETE FROM entries WHERE seq IN (SELECT seq FROM doomed)",
		"ATTACH DATABASE ':memory:' AS other",
		"",
	} {
		t.Run(statement, func(t *testing.T) {
			_, err := catalog.Query(ctx, statement)
			if !errors.Is(err, lakeerr.ErrReadOnlyViolation) {
				t.Errorf("Query(%q) error = %v, want ErrReadOnlyViolation", statement, err)
			}
		})
	}

	listing, err := catalog.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Entries) != 1 {
		t.Errorf("catalog changed by rejected statements: %v", names(listing))
	}
}

func TestQueryHidesInternalTables(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)
	kept := testEntry("/p", "kept", "kept")
	kept.Metadata = map[string]any{"label": "kept"}
	if _, err := catalog.Append(ctx, []Entry{kept, testEntry("/p", "gone", "gone")}); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.Remove(ctx, []Key{{Parent: "/p", Name: "gone"}}); err != nil {
		t.Fatal(err)
	}

	for _, statement := range []string{
		"SELECT op, parent, name, checksum FROM entries",
		"SELECT * FROM ENTRIES WHERE op = 'tomb'",
		"SELECT name FROM rootfs WHERE name IN (SELECT name FROM entries)",
		"WITH log AS (SELECT * FROM entries) SELECT COUNT(*) FROM log",
		"SELECT name, type FROM metadata_columns",
		"SELECT version FROM catalog_state",
		"SELECT * FROM (SELECT * FROM entries) AS log",
		"WITH rootfs AS (SELECT * FROM entries) SELECT * FROM rootfs",
		"WITH \"live_entries\"(n) /* renamed */ AS MATERIALIZED (SELECT name FROM entries) SELECT n FROM live_entries",
	} {
		t.Run(statement, func(t *testing.T) {
			result, err := catalog.Query(ctx, statement)
			if !errors.Is(err, lakeerr.ErrReadOnlyViolation) {
				t.Errorf("Query(%q) = %v, %v; want ErrReadOnlyViolation", statement, result, err)
			}
		})
	}

	result, err := catalog.Query(ctx, "SELECT name, label FROM rootfs ORDER BY name")
	if err != nil {
		t.Fatalf("Query rootfs after denied statements: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "kept" || result.Rows[0][1] != "kept" {
		t.Errorf("rootfs rows = %v, want [[kept kept]]", result.Rows)
	}
	for _, statement := range []string{
		"SELECT COUNT(*) FROM live_entries",
		"WITH recent AS (SELECT name FROM rootfs) SELECT COUNT(*) FROM recent",
		"SELECT COUNT(*) FROM rootfs WHERE name <> 'rootfs AS ('",
	} {
		result, err := catalog.Query(ctx, statement)
		if err != nil {
			t.Fatalf("Query(%q): %v", statement, err)
		}
		if result.Rows[0][0] != int64(1) {
			t.Errorf("Query(%q) count = %v, want 1", statement, result.Rows[0][0])
		}
	}
}

func TestMetadataKeysFoldToDeclaredSpelling(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	first := testEntry("/c", "a", "first")
	first.Metadata = map[string]any{"Label": "first"}
	if _, err := catalog.Append(ctx, []Entry{first}); err != nil {
		t.Fatal(err)
	}
	second := testEntry("/c", "b", "second")
	second.Metadata = map[string]any{"label": "second"}
	third := testEntry("/c", "c", "third")
	third.Metadata = map[string]any{"LABEL": "third", "Width": 3}
	fourth := testEntry("/c", "d", "fourth")
	fourth.Metadata = map[string]any{"width": 4}
	if _, err := catalog.Append(ctx, []Entry{second, third, fourth}); err != nil {
		t.Fatal(err)
	}

	result, err := catalog.Query(ctx, "SELECT name, label, width FROM rootfs ORDER BY name")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := [][]any{
		{"a", "first", nil},
		{"b", "second", nil},
		{"c", "third", int64(3)},
		{"d", nil, int64(4)},
	}
	if len(result.Rows) != len(want) {
		t.Fatalf("rows = %v, want %v", result.Rows, want)
	}
	for i := range want {
		for j := range want[i] {
			if result.Rows[i][j] != want[i][j] {
				t.Errorf("row %d column %d = %v, want %v", i, j, result.Rows[i][j], want[i][j])
			}
		}
	}

	schema, err := catalog.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := schema.Columns()[len(CoreColumns):]; !equalStrings(got, []string{"Label", "Width"}) {
		t.Errorf("metadata columns = %v, want [Label Width]", got)
	}

	listing, err := catalog.List(ctx, "/c", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := listing.Entries[1].Metadata["Label"]; got != "second" {
		t.Errorf("stored metadata for b = %v, want Label key", listing.Entries[1].Metadata)
	}

	clash := testEntry("/c", "e", "clash")
	clash.Metadata = map[string]any{"tag": "x", "TAG": "y"}
	if _, err := catalog.Append(ctx, []Entry{clash}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Append with keys differing in case: err = %v, want ErrInvalidEntry", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	const batches = 20
	const batchSize = 25

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		for batch := range batches {
			var entries []Entry
			for i := range batchSize {
				entries = append(entries, testEntry("/s", fmt.Sprintf("%03d-%03d", batch, i), fmt.Sprintf("%d/%d", batch, i)))
			}
			if _, err := catalog.Append(ctx, entries); err != nil {
				t.Errorf("Append batch %d: %v", batch, err)
				return
			}
		}
	}()

	errs := make(chan error, 4)
	for range 4 {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for range 50 {
				listing, err := catalog.List(ctx, "/s", false)
				if err != nil {
					errs <- err
					return
				}
				if len(listing.Entries)%batchSize != 0 {
					errs <- fmt.Errorf("listing saw %d entries, not a whole number of batches", len(listing.Entries))
					return
				}
				if int64(len(listing.Entries)) != listing.Version*batchSize {
					errs <- fmt.Errorf("listing at version %d has %d entries", listing.Version, len(listing.Entries))
					return
				}
				result, err := catalog.Query(ctx, "SELECT COUNT(*) FROM rootfs")
				if err != nil {
					errs <- err
					return
				}
				if count := result.Rows[0][0].(int64); count%batchSize != 0 {
					errs <- fmt.Errorf("query saw %d rows, not a whole number of batches", count)
					return
				}
			}
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)
	if _, err := catalog.Append(ctx, []Entry{testEntry("/m", "same", "s"), testEntry("/m", "stale", "old")}); err != nil {
		t.Fatal(err)
	}

	incoming := []Entry{
		testEntry("/m", "same", "s"),
		testEntry("/m", "stale", "new"),
		testEntry("/m", "fresh", "f"),
	}
	stats, err := catalog.Merge(ctx, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats != (MergeStats{Added: 1, Replaced: 1, Unchanged: 1}) {
		t.Errorf("first Merge stats = %+v", stats)
	}
	versionAfterFirst, _ := catalog.Version(ctx)

	stats, err = catalog.Merge(ctx, incoming)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (MergeStats{Unchanged: 3}) {
		t.Errorf("second Merge stats = %+v", stats)
	}
	versionAfterSecond, _ := catalog.Version(ctx)
	if versionAfterSecond != versionAfterFirst {
		t.Errorf("no-op merge bumped version %d -> %d", versionAfterFirst, versionAfterSecond)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := openTestCatalog(t)

	tagged := testEntry("/data", "a.bin", "alpha")
	tagged.Compression = compress.CodecGeneral
	tagged.StoredSize = 3
	tagged.Metadata = map[string]any{"label": "a", "index": 7, "weight": 1.5, "train": true}
	if _, err := source.Append(ctx, []Entry{tagged, testEntry("/data/sub", "b.bin", "beta")}); err != nil {
		t.Fatal(err)
	}

	manifest, err := source.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeManifest(encoded)
	if err != nil {
		t.Fatalf("DecodeManifest: %v", err)
	}

	destination := openTestCatalog(t)
	stats, err := destination.Load(ctx, decoded)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.Added != 2 {
		t.Errorf("Load stats = %+v", stats)
	}

	want, _ := source.ListAll(ctx)
	got, _ := destination.ListAll(ctx)
	if !equalStrings(names(got), names(want)) {
		t.Fatalf("loaded entries %v, want %v", names(got), names(want))
	}
	for i := range want.Entries {
		w, g := want.Entries[i], got.Entries[i]
		if !sameObject(w, g) || w.Mode != g.Mode || !w.ModTime.Equal(g.ModTime) || w.StoredSize != g.StoredSize {
			t.Errorf("entry %d: got %+v, want %+v", i, g, w)
		}
		for key, value := range w.Metadata {
			if g.Metadata[key] != value {
				t.Errorf("entry %d metadata %s = %v (%T), want %v (%T)", i, key, g.Metadata[key], g.Metadata[key], value, value)
			}
		}
	}
	if !equalStrings(got.Columns, want.Columns) {
		t.Errorf("loaded columns %v, want %v", got.Columns, want.Columns)
	}

	if _, err := DecodeManifest([]byte{0xa0}); err == nil {
		t.Error("DecodeManifest of an empty map should fail on format")
	}
}

func TestKeyFromPath(t *testing.T) {
	tests := map[string]Key{
		"/a/b/c.txt": {Parent: "/a/b", Name: "c.txt"},
		"top":        {Parent: "/", Name: "top"},
		"/x/":        {Parent: "/", Name: "x"},
	}
	for input, want := range tests {
		if got := KeyFromPath(input); got != want {
			t.Errorf("KeyFromPath(%q) = %+v, want %+v", input, got, want)
		}
	}
}

func TestDirectoriesAndListingKeys(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)
	if _, err := catalog.Append(ctx, []Entry{
		testEntry("/", "top", "0"),
		testEntry("/a", "x", "1"),
		testEntry("/a/b", "y", "2"),
		testEntry("/a/c/d", "z", "3"),
		testEntry("/ab", "w", "4"),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for _, tc := range []struct {
		parent string
		want   []string
	}{
		{"/", []string{"a", "ab"}},
		{"/a", []string{"b", "c"}},
		{"/a/c", []string{"d"}},
		{"/a/b", nil},
		{"/missing", nil},
	} {
		t.Run(tc.parent, func(t *testing.T) {
			got, err := catalog.Directories(ctx, tc.parent)
			if err != nil {
				t.Fatalf("Directories: %v", err)
			}
			if !equalStrings(got, tc.want) {
				t.Errorf("Directories(%q) = %v, want %v", tc.parent, got, tc.want)
			}
		})
	}

	listing, err := catalog.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	keys, err := listing.Keys([]int{2, 0})
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if keys[0] != listing.Entries[2].Key() || keys[1] != listing.Entries[0].Key() {
		t.Errorf("Keys = %v", keys)
	}
	if _, err := listing.Keys([]int{len(listing.Entries)}); !errors.Is(err, lakeerr.ErrEntryNotFound) {
		t.Errorf("out-of-range Keys error = %v, want ErrEntryNotFound", err)
	}
}
