// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/connected-data-lake/cdl/lib/codec"
	"github.com/connected-data-lake/cdl/lib/compress"
)

// ManifestKey is where a lake's catalog manifest lives on its backend.
const ManifestKey = "_cdl/catalog.cbor"

// manifestFormat versions the manifest layout.
const manifestFormat = 1

// Manifest is a portable snapshot of a catalog's live entries, stored
// alongside the blobs so a lake can be reopened from its backend alone.
type Manifest struct {
	Format  int             `cbor:"format"`
	Version int64           `cbor:"version"`
	Columns []Column        `cbor:"columns,omitempty"`
	Entries []manifestEntry `cbor:"entries"`
}

type manifestEntry struct {
	Parent      string         `cbor:"parent"`
	Name        string         `cbor:"name"`
	Size        int64          `cbor:"size"`
	Checksum    string         `cbor:"checksum"`
	StorageURI  string         `cbor:"storage_uri"`
	Compression compress.Codec `cbor:"compression"`
	StoredSize  int64          `cbor:"stored_size"`
	Mode        uint32         `cbor:"mode"`
	ModTime     int64          `cbor:"mtime,omitempty"`
	Metadata    map[string]any `cbor:"metadata,omitempty"`
}

// NewManifest builds a manifest from a listing and its declared
// columns.
func NewManifest(version int64, columns []Column, entries []Entry) *Manifest {
	manifest := &Manifest{
		Format:  manifestFormat,
		Version: version,
		Columns: columns,
		Entries: make([]manifestEntry, len(entries)),
	}
	for i, entry := range entries {
		record := manifestEntry{
			Parent:      entry.Parent,
			Name:        entry.Name,
			Size:        entry.Size,
			Checksum:    entry.Checksum,
			StorageURI:  entry.StorageURI,
			Compression: entry.Compression,
			StoredSize:  entry.StoredSize,
			Mode:        uint32(entry.Mode),
			Metadata:    entry.Metadata,
		}
		if !entry.ModTime.IsZero() {
			record.ModTime = entry.ModTime.UnixNano()
		}
		manifest.Entries[i] = record
	}
	return manifest
}

// CatalogEntries converts the manifest back into catalog entries.
func (m *Manifest) CatalogEntries() []Entry {
	entries := make([]Entry, len(m.Entries))
	for i, record := range m.Entries {
		entry := Entry{
			Parent:      record.Parent,
			Name:        record.Name,
			Size:        record.Size,
			Checksum:    record.Checksum,
			StorageURI:  record.StorageURI,
			Compression: record.Compression,
			StoredSize:  record.StoredSize,
			Mode:        fs.FileMode(record.Mode),
			Metadata:    normalizeMetadata(record.Metadata),
		}
		if record.ModTime != 0 {
			entry.ModTime = time.Unix(0, record.ModTime)
		}
		entries[i] = entry
	}
	return entries
}

// Encode serializes the manifest as deterministic CBOR.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest produced by Encode.
func DecodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if manifest.Format != manifestFormat {
		return nil, fmt.Errorf("decoding manifest: unsupported format %d", manifest.Format)
	}
	return &manifest, nil
}

// Manifest snapshots the live entries and declared columns.
func (c *Catalog) Manifest(ctx context.Context) (*Manifest, error) {
	var (
		version int64
		columns []Column
		entries []Entry
	)
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		if version, err = readVersion(conn); err != nil {
			return err
		}
		if columns, err = readColumns(conn); err != nil {
			return err
		}
		return sqlitex.Execute(conn, entrySelect+" ORDER BY parent, name", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: manifest: %w", err)
	}
	return NewManifest(version, columns, entries), nil
}

// Load merges a manifest into the catalog: columns are declared, then
// entries are merged as one batch.
func (c *Catalog) Load(ctx context.Context, manifest *Manifest) (MergeStats, error) {
	if len(manifest.Columns) > 0 {
		if err := c.Declare(ctx, manifest.Columns); err != nil {
			return MergeStats{}, err
		}
	}
	return c.Merge(ctx, manifest.CatalogEntries())
}

// normalizeMetadata maps CBOR's unsigned integers onto int64 so values
// read from a manifest compare equal to values read from SQLite.
func normalizeMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	normalized := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if unsigned, ok := value.(uint64); ok && unsigned <= 1<<63-1 {
			value = int64(unsigned)
		}
		normalized[key] = value
	}
	return normalized
}
