// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the authoritative metadata table of a lake.
//
// A catalog is an append-only sequence of rows in a SQLite database.
// Appends commit atomically in batches; each committed batch bumps the
// catalog version. Rows are never updated in place: removing an entry
// appends a tombstone, and replacing one appends a tombstone and a new
// entry in the same batch. Every read runs inside a single SQLite read
// transaction, so it observes exactly one committed version.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/sqlitepool"
)

// Config configures Open.
type Config struct {
	// Path is the SQLite database file. Its directory must exist.
	Path string

	// PoolSize bounds concurrent readers. Zero picks a default.
	PoolSize int

	Logger *slog.Logger
}

// Catalog is safe for concurrent use. Writers are serialized by
// SQLite's write lock; readers run in parallel and never wait for a
// writer's I/O.
type Catalog struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	path   string
}

// Listing is an ordered set of entries read from one catalog version.
type Listing struct {
	Version int64
	Columns []string
	Entries []Entry
}

// Open opens or creates the catalog at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Catalog, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  cfg.PoolSize,
		Logger:    logger,
		OnConnect: registerFunctions,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, schemaScript, nil); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
		return rebuildView(conn)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: initializing %s: %w", cfg.Path, err)
	}

	return &Catalog{
		pool:   pool,
		logger: logger.With("catalog", cfg.Path),
		path:   cfg.Path,
	}, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.pool.Close()
}

// Path returns the database file backing the catalog.
func (c *Catalog) Path() string { return c.path }

// Append commits entries as one batch. If any entry is invalid or
// collides with a live entry (or with another entry of the batch) on
// (parent, name), nothing is committed and the error wraps
// lakeerr.ErrDuplicateEntry or ErrInvalidEntry. Returns the new
// version.
func (c *Catalog) Append(ctx context.Context, entries []Entry) (int64, error) {
	version, _, err := c.commit(ctx, entries, nil, commitAppend)
	return version, err
}

// Replace commits entries as one batch, tombstoning any live entry
// with the same key first.
func (c *Catalog) Replace(ctx context.Context, entries []Entry) (int64, error) {
	version, _, err := c.commit(ctx, entries, nil, commitReplace)
	return version, err
}

// MergeStats counts what Merge did with each entry.
type MergeStats struct {
	Added     int
	Replaced  int
	Unchanged int
}

// Merge makes the catalog contain entries as one batch: keys without a
// live entry are added, keys whose live entry differs in content or
// location are replaced, identical entries are left alone. Merging the
// same entries twice commits nothing the second time.
func (c *Catalog) Merge(ctx context.Context, entries []Entry) (MergeStats, error) {
	_, stats, err := c.commit(ctx, entries, nil, commitMerge)
	return stats, err
}

// Remove tombstones the live entries at keys as one batch. A key with
// no live entry fails the batch with lakeerr.ErrEntryNotFound.
func (c *Catalog) Remove(ctx context.Context, keys []Key) (int64, error) {
	version, _, err := c.commit(ctx, nil, keys, commitAppend)
	return version, err
}

// Declare adds metadata columns to the schema. Columns that already
// exist are left as they are.
func (c *Catalog) Declare(ctx context.Context, columns []Column) error {
	return c.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return declareColumns(conn, columns)
	})
}

// Schema returns the current column set.
func (c *Catalog) Schema(ctx context.Context) (Schema, error) {
	var schema Schema
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		columns, err := readColumns(conn)
		schema.Metadata = columns
		return err
	})
	return schema, err
}

// Version returns the latest committed version.
func (c *Catalog) Version(ctx context.Context) (int64, error) {
	var version int64
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		version, err = readVersion(conn)
		return err
	})
	return version, err
}

type commitMode int

const (
	commitAppend commitMode = iota
	commitReplace
	commitMerge
)

func (c *Catalog) commit(ctx context.Context, puts []Entry, removes []Key, mode commitMode) (int64, MergeStats, error) {
	var stats MergeStats
	validated := make([]Entry, len(puts))
	seen := make(map[Key]bool, len(puts))
	var newColumns []Column
	for i, entry := range puts {
		entry, err := entry.validate()
		if err != nil {
			return 0, stats, err
		}
		if seen[entry.Key()] {
			return 0, stats, lakeerr.Entry(fmt.Errorf("%w: repeated within batch", lakeerr.ErrDuplicateEntry), entry.Parent, entry.Name)
		}
		seen[entry.Key()] = true
		validated[i] = entry
		for column, value := range entry.Metadata {
			columnType, _ := inferType(value)
			newColumns = append(newColumns, Column{Name: column, Type: columnType})
		}
	}
	sortColumns(newColumns)
	tombstones := make([]Key, len(removes))
	for i, key := range removes {
		tombstones[i] = Key{Parent: CleanParent(key.Parent), Name: key.Name}
	}

	var version int64
	err := c.pool.Write(ctx, func(conn *sqlite.Conn) error {
		current, err := readVersion(conn)
		if err != nil {
			return err
		}
		version = current + 1
		changed := false

		for _, key := range tombstones {
			live, err := liveEntry(conn, key)
			if err != nil {
				return err
			}
			if live == nil {
				return lakeerr.Entry(lakeerr.ErrEntryNotFound, key.Parent, key.Name)
			}
			if err := insertTombstone(conn, version, key); err != nil {
				return err
			}
			changed = true
		}

		spellings, err := columnSpellings(conn, newColumns)
		if err != nil {
			return err
		}

		for _, entry := range validated {
			entry.Metadata = canonicalMetadata(entry.Metadata, spellings)
			live, err := liveEntry(conn, entry.Key())
			if err != nil {
				return err
			}
			if live != nil {
				switch {
				case mode == commitAppend:
					return lakeerr.Entry(lakeerr.ErrDuplicateEntry, entry.Parent, entry.Name)
				case mode == commitMerge && sameObject(*live, entry):
					stats.Unchanged++
					continue
				}
				if err := insertTombstone(conn, version, entry.Key()); err != nil {
					return err
				}
				stats.Replaced++
			} else {
				stats.Added++
			}
			if err := insertEntry(conn, version, entry); err != nil {
				return err
			}
			changed = true
		}

		if len(newColumns) > 0 {
			if err := declareColumns(conn, newColumns); err != nil {
				return err
			}
		}

		if !changed {
			version = current
			return nil
		}
		return sqlitex.Execute(conn, "UPDATE catalog_state SET version = ? WHERE id = 1", &sqlitex.ExecOptions{
			Args: []any{version},
		})
	})
	if err != nil {
		return 0, MergeStats{}, fmt.Errorf("catalog: commit: %w", err)
	}

	c.logger.Debug("committed batch",
		"version", version,
		"entries", len(validated),
		"tombstones", len(tombstones),
	)
	return version, stats, nil
}

// sameObject reports whether two entries describe the same stored
// object, ignoring attributes that do not affect the content.
func sameObject(a, b Entry) bool {
	return a.Checksum == b.Checksum &&
		a.Size == b.Size &&
		a.StorageURI == b.StorageURI &&
		a.Compression == b.Compression
}

// sortColumns orders implicitly declared columns by name so that the
// declaration order does not depend on map iteration.
func sortColumns(columns []Column) {
	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })
}

func liveEntry(conn *sqlite.Conn, key Key) (*Entry, error) {
	var found *Entry
	err := sqlitex.Execute(conn, entrySelect+" WHERE parent = ? AND name = ?", &sqlitex.ExecOptions{
		Args: []any{key.Parent, key.Name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			found = &entry
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", key, err)
	}
	return found, nil
}

func insertTombstone(conn *sqlite.Conn, version int64, key Key) error {
	err := sqlitex.Execute(conn, "INSERT INTO entries (version, op, parent, name) VALUES (?, 'tomb', ?, ?)", &sqlitex.ExecOptions{
		Args: []any{version, key.Parent, key.Name},
	})
	if err != nil {
		return fmt.Errorf("tombstoning %s: %w", key, err)
	}
	return nil
}

func insertEntry(conn *sqlite.Conn, version int64, entry Entry) error {
	metadata, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return lakeerr.Entry(err, entry.Parent, entry.Name)
	}
	var mtime int64
	if !entry.ModTime.IsZero() {
		mtime = entry.ModTime.UnixNano()
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO entries (version, op, parent, name, size, checksum, compression,
			storage_uri, stored_size, mode, mtime, metadata)
		VALUES (?, 'put', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			version, entry.Parent, entry.Name, entry.Size, entry.Checksum,
			entry.Compression.String(), entry.StorageURI, entry.StoredSize,
			int64(entry.Mode), mtime, metadata,
		},
	})
	if err != nil {
		return fmt.Errorf("inserting %s: %w", entry.Key(), err)
	}
	return nil
}

func readVersion(conn *sqlite.Conn) (int64, error) {
	var version int64
	err := sqlitex.Execute(conn, "SELECT version FROM catalog_state WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reading catalog version: %w", err)
	}
	return version, nil
}

// entrySelect reads the columns scanEntry expects, in order.
const entrySelect = `SELECT parent, name, size, checksum, compression, storage_uri,
	stored_size, mode, mtime, metadata FROM live_entries`

func scanEntry(stmt *sqlite.Stmt) (Entry, error) {
	codec, err := compress.ParseCodec(stmt.ColumnText(4))
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		Parent:      stmt.ColumnText(0),
		Name:        stmt.ColumnText(1),
		Size:        stmt.ColumnInt64(2),
		Checksum:    stmt.ColumnText(3),
		Compression: codec,
		StorageURI:  stmt.ColumnText(5),
		StoredSize:  stmt.ColumnInt64(6),
		Mode:        fs.FileMode(stmt.ColumnInt64(7)),
	}
	if mtime := stmt.ColumnInt64(8); mtime != 0 {
		entry.ModTime = time.Unix(0, mtime)
	}
	entry.Metadata, err = decodeMetadata(stmt.ColumnText(9))
	if err != nil {
		return Entry{}, lakeerr.Entry(err, entry.Parent, entry.Name)
	}
	return entry, nil
}

// List returns the live entries directly under parent, or anywhere
// beneath it when recursive is set, ordered by (parent, name). The
// recursive form matches on whole path segments: "/a" covers "/a" and
// "/a/b" but not "/ab".
func (c *Catalog) List(ctx context.Context, parent string, recursive bool) (*Listing, error) {
	parent = CleanParent(parent)
	switch {
	case !recursive:
		return c.list(ctx, entrySelect+" WHERE parent = ? ORDER BY parent, name", parent)
	case parent == "/":
		return c.list(ctx, entrySelect+" ORDER BY parent, name")
	default:
		prefix := parent + "/"
		return c.list(ctx, entrySelect+` WHERE parent = ?1 OR substr(parent, 1, length(?2)) = ?2
			ORDER BY parent, name`, parent, prefix)
	}
}

// ListAll returns every live entry ordered by (parent, name).
func (c *Catalog) ListAll(ctx context.Context) (*Listing, error) {
	return c.list(ctx, entrySelect+" ORDER BY parent, name")
}

func (c *Catalog) list(ctx context.Context, query string, args ...any) (*Listing, error) {
	listing := &Listing{}
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		if listing.Version, err = readVersion(conn); err != nil {
			return err
		}
		columns, err := readColumns(conn)
		if err != nil {
			return err
		}
		listing.Columns = Schema{Metadata: columns}.Columns()
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				entry, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				listing.Entries = append(listing.Entries, entry)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", lakeerr.Cancelled(err))
	}
	return listing, nil
}

// Lookup resolves keys against one snapshot. The result is aligned with
// keys; a key with no live entry yields nil at its position.
func (c *Catalog) Lookup(ctx context.Context, keys []Key) (int64, []*Entry, error) {
	found := make([]*Entry, len(keys))
	var version int64
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		if version, err = readVersion(conn); err != nil {
			return err
		}
		for i, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := liveEntry(conn, Key{Parent: CleanParent(key.Parent), Name: key.Name})
			if err != nil {
				return err
			}
			found[i] = entry
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("catalog: lookup: %w", lakeerr.Cancelled(err))
	}
	return version, found, nil
}

// ByChecksum returns a live entry with the given checksum, if any.
func (c *Catalog) ByChecksum(ctx context.Context, sum string) (*Entry, error) {
	var found *Entry
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, entrySelect+" WHERE checksum = ? ORDER BY parent, name LIMIT 1", &sqlitex.ExecOptions{
			Args: []any{sum},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				found = &entry
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: by checksum: %w", err)
	}
	return found, nil
}

// Keys returns the keys of the entries at indices, in the given order.
// An index outside the listing fails with lakeerr.ErrEntryNotFound.
func (l *Listing) Keys(indices []int) ([]Key, error) {
	keys := make([]Key, len(indices))
	for i, index := range indices {
		if index < 0 || index >= len(l.Entries) {
			return nil, fmt.Errorf("%w: row %d of %d", lakeerr.ErrEntryNotFound, index, len(l.Entries))
		}
		keys[i] = l.Entries[index].Key()
	}
	return keys, nil
}

// Directories returns the names of the immediate subdirectories of
// parent, sorted. Directories are implicit: one exists wherever a live
// entry's parent lies beneath it.
func (c *Catalog) Directories(ctx context.Context, parent string) ([]string, error) {
	parent = CleanParent(parent)
	prefix := parent + "/"
	if parent == "/" {
		prefix = "/"
	}
	seen := make(map[string]bool)
	var names []string
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT DISTINCT parent FROM live_entries
			WHERE substr(parent, 1, length(?1)) = ?1 AND parent != ?2`, &sqlitex.ExecOptions{
			Args: []any{prefix, parent},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rest := strings.TrimPrefix(stmt.ColumnText(0), prefix)
				child, _, _ := strings.Cut(rest, "/")
				if child != "" && !seen[child] {
					seen[child] = true
					names = append(names, child)
				}
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: directories of %s: %w", parent, lakeerr.Cancelled(err))
	}
	sort.Strings(names)
	return names, nil
}
