// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"slices"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ColumnType is the declared type of a metadata column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
)

func (t ColumnType) valid() bool {
	return t == TypeText || t == TypeInteger || t == TypeReal
}

// Column is a declared metadata column.
type Column struct {
	Name string     `cbor:"name"`
	Type ColumnType `cbor:"type"`
}

// CoreColumns are the columns every listing and the rootfs table start
// with, in order.
var CoreColumns = []string{
	"parent", "name", "size", "checksum", "compression",
	"storage_uri", "stored_size", "mode", "mtime",
}

// Schema is the full column set of a catalog.
type Schema struct {
	Metadata []Column
}

// Columns returns the core column names followed by the metadata
// column names.
func (s Schema) Columns() []string {
	columns := make([]string, 0, len(CoreColumns)+len(s.Metadata))
	columns = append(columns, CoreColumns...)
	for _, column := range s.Metadata {
		columns = append(columns, column.Name)
	}
	return columns
}

func inferType(value any) (ColumnType, error) {
	switch value.(type) {
	case string:
		return TypeText, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger, nil
	case float32, float64:
		return TypeReal, nil
	default:
		return "", fmt.Errorf("unsupported metadata value type %T", value)
	}
}

// TableName is the name user queries address the catalog by.
const TableName = "rootfs"

// schemaScript creates the persistent tables. entries is append-only:
// a row with op 'put' adds an entry and a row with op 'tomb' removes
// the most recent entry with the same key. live_entries resolves the
// latest row per key.
const schemaScript = `
CREATE TABLE IF NOT EXISTS entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	version     INTEGER NOT NULL,
	op          TEXT    NOT NULL CHECK (op IN ('put', 'tomb')),
	parent      TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT    NOT NULL DEFAULT '',
	compression TEXT    NOT NULL DEFAULT 'none',
	storage_uri TEXT    NOT NULL DEFAULT '',
	stored_size INTEGER NOT NULL DEFAULT 0,
	mode        INTEGER NOT NULL DEFAULT 0,
	mtime       INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT    NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS entries_key ON entries (parent, name, seq);
CREATE INDEX IF NOT EXISTS entries_checksum ON entries (checksum);

CREATE TABLE IF NOT EXISTS metadata_columns (
	name     TEXT PRIMARY KEY,
	type     TEXT NOT NULL,
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_state (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);
INSERT OR IGNORE INTO catalog_state (id, version) VALUES (1, 0);

CREATE VIEW IF NOT EXISTS live_entries AS
SELECT e.* FROM entries e
WHERE e.op = 'put' AND NOT EXISTS (
	SELECT 1 FROM entries later
	WHERE later.parent = e.parent AND later.name = e.name AND later.seq > e.seq
);
`

// readColumns returns the declared metadata columns in declaration
// order.
func readColumns(conn *sqlite.Conn) ([]Column, error) {
	var columns []Column
	err := sqlitex.Execute(conn, "SELECT name, type FROM metadata_columns ORDER BY position", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			columns = append(columns, Column{Name: stmt.ColumnText(0), Type: ColumnType(stmt.ColumnText(1))})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading metadata columns: %w", err)
	}
	return columns, nil
}

// declareColumns adds any columns not yet declared and rebuilds the
// rootfs view when the set changed. Must run inside a write
// transaction.
func declareColumns(conn *sqlite.Conn, wanted []Column) error {
	existing, err := readColumns(conn)
	if err != nil {
		return err
	}
	known := make(map[string]ColumnType, len(existing))
	for _, column := range existing {
		known[strings.ToLower(column.Name)] = column.Type
	}

	position := len(existing)
	added := false
	for _, column := range wanted {
		if _, ok := known[strings.ToLower(column.Name)]; ok {
			continue
		}
		if err := validColumnName(column.Name); err != nil {
			return err
		}
		if !column.Type.valid() {
			return fmt.Errorf("%w: column %s has unknown type %q", ErrInvalidEntry, column.Name, column.Type)
		}
		err := sqlitex.Execute(conn, "INSERT INTO metadata_columns (name, type, position) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{column.Name, string(column.Type), position},
		})
		if err != nil {
			return fmt.Errorf("declaring column %s: %w", column.Name, err)
		}
		known[strings.ToLower(column.Name)] = column.Type
		position++
		added = true
	}
	if !added {
		return nil
	}
	return rebuildView(conn)
}

// columnSpellings maps each lower-cased column name to the spelling the
// rootfs view reads it by: the declared spelling when the column
// exists, otherwise the first spelling in wanted.
func columnSpellings(conn *sqlite.Conn, wanted []Column) (map[string]string, error) {
	existing, err := readColumns(conn)
	if err != nil {
		return nil, err
	}
	spellings := make(map[string]string, len(existing)+len(wanted))
	for _, column := range slices.Concat(existing, wanted) {
		folded := strings.ToLower(column.Name)
		if _, ok := spellings[folded]; !ok {
			spellings[folded] = column.Name
		}
	}
	return spellings, nil
}

// canonicalMetadata rewrites metadata keys to their canonical spelling,
// since json_extract matches keys case-sensitively while column names
// do not.
func canonicalMetadata(metadata map[string]any, spellings map[string]string) map[string]any {
	if len(metadata) == 0 {
		return metadata
	}
	canonical := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if spelling, ok := spellings[strings.ToLower(key)]; ok {
			key = spelling
		}
		canonical[key] = value
	}
	return canonical
}

// rebuildView recreates rootfs from the declared columns. Metadata
// column names are validated identifiers, so quoting them is enough.
func rebuildView(conn *sqlite.Conn) error {
	columns, err := readColumns(conn)
	if err != nil {
		return err
	}
	var view strings.Builder
	view.WriteString("CREATE VIEW " + TableName + " AS SELECT ")
	view.WriteString(strings.Join(CoreColumns, ", "))
	for _, column := range columns {
		fmt.Fprintf(&view, `, json_extract(metadata, '$.%s') AS "%s"`, column.Name, column.Name)
	}
	view.WriteString(" FROM live_entries")

	if err := sqlitex.ExecuteTransient(conn, "DROP VIEW IF EXISTS "+TableName, nil); err != nil {
		return fmt.Errorf("dropping %s view: %w", TableName, err)
	}
	if err := sqlitex.ExecuteTransient(conn, view.String(), nil); err != nil {
		return fmt.Errorf("creating %s view: %w", TableName, err)
	}
	return nil
}

// registerFunctions adds the SQL helpers available to queries.
func registerFunctions(conn *sqlite.Conn) error {
	return conn.CreateFunction("len", &sqlite.FunctionImpl{
		NArgs:         1,
		Deterministic: true,
		Scalar: func(ctx sqlite.Context, args []sqlite.Value) (sqlite.Value, error) {
			switch args[0].Type() {
			case sqlite.TypeNull:
				return sqlite.Value{}, nil
			case sqlite.TypeBlob:
				return sqlite.IntegerValue(int64(len(args[0].Blob()))), nil
			default:
				return sqlite.IntegerValue(int64(len([]rune(args[0].Text())))), nil
			}
		},
	})
}
