// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/connected-data-lake/cdl/lib/backend"
)

func TestUnreferencedAfterReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	lake := newTestLake(t, 0)
	writeTestFiles(t, lake.view,
		textFile("/u", "kept", "kept"),
		textFile("/u", "replaced", "old content"),
		textFile("/u", "removed", "removed content"),
		textFile("/u", "shared", "kept"),
	)
	before := make(map[string]string)
	for _, name := range []string{"replaced", "removed"} {
		entry, err := lake.view.Stat(ctx, "/u/"+name)
		if err != nil {
			t.Fatal(err)
		}
		before[name] = entry.StorageURI
	}

	orphans, err := lake.view.Unreferenced(ctx)
	if err != nil {
		t.Fatalf("Unreferenced: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("orphans after write = %v, want none", orphans)
	}

	if _, err := lake.view.ReplaceFiles(ctx, []File{textFile("/u", "replaced", "new content")}); err != nil {
		t.Fatal(err)
	}
	if _, err := lake.view.Remove(ctx, "/u/removed", "/u/shared"); err != nil {
		t.Fatal(err)
	}
	if _, err := lake.view.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}

	orphans, err = lake.view.Unreferenced(ctx)
	if err != nil {
		t.Fatalf("Unreferenced: %v", err)
	}
	var keys []string
	for _, object := range orphans {
		keys = append(keys, object.Key)
		if !strings.HasPrefix(object.Key, ObjectPrefix) {
			t.Errorf("orphan %s is outside %s", object.Key, ObjectPrefix)
		}
	}
	want := []string{before["removed"], before["replaced"]}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	if !equalStrings(keys, want) {
		t.Errorf("orphans = %v, want %v", keys, want)
	}
}

func TestDiagnoseManifest(t *testing.T) {
	ctx := context.Background()
	lake := newTestLake(t, 0)
	if _, err := lake.view.DiagnoseManifest(ctx); !errors.Is(err, backend.ErrObjectNotFound) {
		t.Fatalf("DiagnoseManifest without a manifest: err = %v, want ErrObjectNotFound", err)
	}

	writeTestFiles(t, lake.view, textFile("/d", "entry.txt", "payload"))
	if _, err := lake.view.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}
	diagnostic, err := lake.view.DiagnoseManifest(ctx)
	if err != nil {
		t.Fatalf("DiagnoseManifest: %v", err)
	}
	for _, want := range []string{`"version": 1`, `"name": "entry.txt"`, `"parent": "/d"`} {
		if !strings.Contains(diagnostic, want) {
			t.Errorf("diagnostic does not contain %s: %s", want, diagnostic)
		}
	}
}
