// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/connected-data-lake/cdl/lib/compress"
)

// ErrInvalidEntry reports an entry that fails validation before any
// write is attempted.
var ErrInvalidEntry = errors.New("invalid entry")

// Key identifies an entry within a catalog snapshot.
type Key struct {
	Parent string
	Name   string
}

// Path returns the logical path of the key ("/a/b" for parent "/a",
// name "b").
func (k Key) Path() string {
	return path.Join(k.Parent, k.Name)
}

func (k Key) String() string { return k.Path() }

// KeyFromPath splits a logical path into parent and name.
func KeyFromPath(logical string) Key {
	cleaned := CleanParent(logical)
	parent, name := path.Split(cleaned)
	return Key{Parent: CleanParent(parent), Name: name}
}

// Entry is one committed object. Entries never change once appended;
// a newer version of the same path is a tombstone plus a new entry.
type Entry struct {
	Parent string
	Name   string

	// Size is the decoded content length.
	Size int64

	// Checksum is the hex content digest of the decoded bytes.
	Checksum string

	// StorageURI is the object key within the lake's backend.
	StorageURI string

	Compression compress.Codec

	// StoredSize is the encoded length as stored in the backend.
	StoredSize int64

	Mode    fs.FileMode
	ModTime time.Time

	// Metadata holds user columns. Values are strings, integers
	// (int64), floats (float64) or booleans.
	Metadata map[string]any
}

// Key returns the entry's catalog key.
func (e Entry) Key() Key {
	return Key{Parent: e.Parent, Name: e.Name}
}

// CleanParent normalizes a directory path: rooted, slash separated, no
// trailing slash. The root is "/".
func CleanParent(parent string) string {
	return path.Clean("/" + strings.TrimSpace(parent))
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedColumns cannot be used as metadata column names.
var reservedColumns = map[string]bool{
	"parent": true, "name": true, "size": true, "checksum": true,
	"storage_uri": true, "compression": true, "stored_size": true,
	"mode": true, "mtime": true, "metadata": true, "seq": true,
	"op": true, "version": true,
}

func validColumnName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: metadata column %q is not an identifier", ErrInvalidEntry, name)
	}
	if reservedColumns[strings.ToLower(name)] {
		return fmt.Errorf("%w: metadata column %q is reserved", ErrInvalidEntry, name)
	}
	return nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: name %q", ErrInvalidEntry, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: name %q contains a separator or NUL", ErrInvalidEntry, name)
	}
	return nil
}

// validate checks an entry and returns it with its parent normalized.
func (e Entry) validate() (Entry, error) {
	e.Parent = CleanParent(e.Parent)
	if err := validName(e.Name); err != nil {
		return e, err
	}
	if e.Size < 0 || e.StoredSize < 0 {
		return e, fmt.Errorf("%w: %s: negative size", ErrInvalidEntry, e.Key())
	}
	if len(e.Checksum) != 64 || strings.Trim(e.Checksum, "0123456789abcdef") != "" {
		return e, fmt.Errorf("%w: %s: checksum %q is not a lowercase hex digest", ErrInvalidEntry, e.Key(), e.Checksum)
	}
	if e.StorageURI == "" {
		return e, fmt.Errorf("%w: %s: empty storage URI", ErrInvalidEntry, e.Key())
	}
	if !e.Compression.Valid() {
		return e, fmt.Errorf("%w: %s: codec %s", ErrInvalidEntry, e.Key(), e.Compression)
	}
	folded := make(map[string]string, len(e.Metadata))
	for column, value := range e.Metadata {
		if err := validColumnName(column); err != nil {
			return e, err
		}
		if other, ok := folded[strings.ToLower(column)]; ok {
			return e, fmt.Errorf("%w: %s: metadata columns %q and %q differ only in case", ErrInvalidEntry, e.Key(), other, column)
		}
		folded[strings.ToLower(column)] = column
		if _, err := inferType(value); err != nil {
			return e, fmt.Errorf("%w: %s: column %s: %v", ErrInvalidEntry, e.Key(), column, err)
		}
	}
	return e, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(encoded), nil
}

func decodeMetadata(text string) (map[string]any, error) {
	if text == "" || text == "{}" {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	for key, value := range raw {
		number, ok := value.(json.Number)
		if !ok {
			continue
		}
		if integer, err := number.Int64(); err == nil {
			raw[key] = integer
		} else if float, err := number.Float64(); err == nil {
			raw[key] = float
		}
	}
	return raw, nil
}
