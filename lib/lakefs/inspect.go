// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"context"
	"fmt"

	"github.com/connected-data-lake/cdl/lib/backend"
	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/codec"
	"github.com/connected-data-lake/cdl/lib/retry"
)

// ObjectPrefix is the key prefix of every stored content object.
const ObjectPrefix = "objects/"

// Unreferenced lists the stored objects no live entry points at, sorted
// by key. They are left behind by removed or replaced entries and by
// writes whose commit failed. Nothing is deleted.
func (v *View) Unreferenced(ctx context.Context) ([]backend.ObjectInfo, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	listing, err := v.catalog.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]bool, len(listing.Entries))
	for _, entry := range listing.Entries {
		referenced[entry.StorageURI] = true
	}

	objects, err := retry.Value(ctx, v.config.Retry, "list", func(ctx context.Context) ([]backend.ObjectInfo, error) {
		return v.backend.List(ctx, ObjectPrefix)
	})
	if err != nil {
		return nil, fmt.Errorf("lakefs: listing objects: %w", err)
	}
	var unreferenced []backend.ObjectInfo
	for _, object := range objects {
		if !referenced[object.Key] {
			unreferenced = append(unreferenced, object)
		}
	}
	return unreferenced, nil
}

// DiagnoseManifest returns the manifest stored on the view's backend in
// CBOR diagnostic notation. A backend without one fails with
// backend.ErrObjectNotFound.
func (v *View) DiagnoseManifest(ctx context.Context) (string, error) {
	if err := v.Wait(ctx); err != nil {
		return "", err
	}
	encoded, err := v.get(ctx, v.backend, catalog.ManifestKey)
	if err != nil {
		return "", fmt.Errorf("lakefs: read manifest: %w", err)
	}
	diagnostic, err := codec.Diagnose(encoded)
	if err != nil {
		return "", fmt.Errorf("lakefs: manifest %s: %w", catalog.ManifestKey, err)
	}
	return diagnostic, nil
}
