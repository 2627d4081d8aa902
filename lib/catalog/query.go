// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"zombiezen.com/go/sqlite"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

// Result is the outcome of a query: column names and rows of values.
// Values are int64, float64, string, []byte or nil.
type Result struct {
	Version int64
	Columns []string
	Rows    [][]any
}

// Column returns the index of the named column, or -1.
func (r *Result) Column(name string) int {
	for i, column := range r.Columns {
		if strings.EqualFold(column, name) {
			return i
		}
	}
	return -1
}

// Keys returns the (parent, name) keys of the rows at indices, in the
// given order. The result must carry parent and name columns.
func (r *Result) Keys(indices []int) ([]Key, error) {
	parentColumn, nameColumn := r.Column("parent"), r.Column("name")
	if parentColumn < 0 || nameColumn < 0 {
		return nil, errors.New("catalog: result has no parent and name columns")
	}
	keys := make([]Key, len(indices))
	for i, index := range indices {
		if index < 0 || index >= len(r.Rows) {
			return nil, fmt.Errorf("%w: row %d of %d", lakeerr.ErrEntryNotFound, index, len(r.Rows))
		}
		parent, parentOK := r.Rows[index][parentColumn].(string)
		name, nameOK := r.Rows[index][nameColumn].(string)
		if !parentOK || !nameOK {
			return nil, fmt.Errorf("%w: row %d has no text parent and name", lakeerr.ErrEntryNotFound, index)
		}
		keys[i] = Key{Parent: parent, Name: name}
	}
	return keys, nil
}

// readOnlyKeywords are the statement kinds a query may start with.
var readOnlyKeywords = map[string]bool{
	"SELECT": true,
	"WITH":   true,
	"VALUES": true,
}

// Query runs a single read-only SQL statement against the catalog. The
// table is named rootfs and exposes the core columns followed by the
// declared metadata columns; only live entries are visible. The raw
// entry log and the bookkeeping tables cannot be read directly.
//
// Statements that are not queries fail with lakeerr.ErrReadOnlyViolation
// before reaching SQLite. As a second line, the statement runs on a
// connection in query_only mode, so a write hidden inside an otherwise
// acceptable statement fails the same way.
func (c *Catalog) Query(ctx context.Context, statement string) (*Result, error) {
	keyword, _ := leadingKeyword(statement)
	if !readOnlyKeywords[keyword] {
		return nil, fmt.Errorf("%w: %s statements are not allowed", lakeerr.ErrReadOnlyViolation, describeKeyword(keyword))
	}

	if view, ok := shadowedView(statement); ok {
		return nil, fmt.Errorf("%w: common table expression shadows the %s view", lakeerr.ErrReadOnlyViolation, view)
	}

	result := &Result{}
	err := c.pool.QueryOnly(ctx, func(conn *sqlite.Conn) error {
		var err error
		if result.Version, err = readVersion(conn); err != nil {
			return err
		}

		if err := conn.SetAuthorizer(sqlite.AuthorizeFunc(authorizeQuery)); err != nil {
			return err
		}
		defer conn.SetAuthorizer(nil)

		stmt, trailing, err := conn.PrepareTransient(statement)
		if err != nil {
			return err
		}
		defer stmt.Finalize()

		if tail := statement[len(statement)-trailing:]; !blank(tail) {
			nextKeyword, _ := leadingKeyword(tail)
			if !readOnlyKeywords[nextKeyword] {
				return fmt.Errorf("%w: trailing %s statement", lakeerr.ErrReadOnlyViolation, describeKeyword(nextKeyword))
			}
			return errors.New("only one statement per query is supported")
		}

		columnCount := stmt.ColumnCount()
		result.Columns = make([]string, columnCount)
		for i := range columnCount {
			result.Columns[i] = stmt.ColumnName(i)
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				return nil
			}
			result.Rows = append(result.Rows, scanRow(stmt, columnCount))
		}
	})
	if err != nil {
		switch sqlite.ErrCode(err).ToPrimary() {
		case sqlite.ResultReadOnly, sqlite.ResultAuth:
			err = fmt.Errorf("%w: %w", lakeerr.ErrReadOnlyViolation, err)
		}
		return nil, fmt.Errorf("catalog: query: %w", lakeerr.Cancelled(err))
	}
	return result, nil
}

// internalTables hold the raw log and bookkeeping. Queries reach
// entries only through the rootfs and live_entries views.
var internalTables = map[string]bool{
	"entries":          true,
	"metadata_columns": true,
	"catalog_state":    true,
}

// views may read the internal tables on a query's behalf.
var views = map[string]bool{
	TableName:      true,
	"live_entries": true,
}

// authorizeQuery denies reads of the internal tables except from inside
// one of the views. SQLite names the innermost FROM item as accessor,
// which is why shadowedView rejects CTEs reusing a view's name.
func authorizeQuery(action sqlite.Action) sqlite.AuthResult {
	switch action.Type() {
	case sqlite.OpRead:
		if internalTables[strings.ToLower(action.Table())] && !views[strings.ToLower(action.Accessor())] {
			return sqlite.AuthResultDeny
		}
	case sqlite.OpPragma, sqlite.OpAttach:
		return sqlite.AuthResultDeny
	}
	return sqlite.AuthResultOK
}

var cteNamePattern = regexp.MustCompile("(?i)(?:^|[\\s,(])[\"`\\[]?([a-z_][a-z0-9_]*)[\"`\\]]?\\s*(?:\\([^)]*\\)\\s*)?AS\\s*(?:NOT\\s+)?(?:MATERIALIZED\\s*)?\\(")

// shadowedView reports a common table expression named like one of the
// views.
func shadowedView(statement string) (string, bool) {
	for _, match := range cteNamePattern.FindAllStringSubmatch(stripComments(statement), -1) {
		if name := strings.ToLower(match[1]); views[name] {
			return name, true
		}
	}
	return "", false
}

// stripComments replaces comments with a space and empties string
// literals, leaving identifiers and keywords in place.
func stripComments(statement string) string {
	var out strings.Builder
	for i := 0; i < len(statement); i++ {
		switch {
		case statement[i] == '\'':
			end := i + 1
			for end < len(statement) {
				if statement[end] == '\'' {
					if end+1 < len(statement) && statement[end+1] == '\'' {
						end += 2
						continue
					}
					break
				}
				end++
			}
			out.WriteString("''")
			i = end
		case strings.HasPrefix(statement[i:], "--"):
			end := strings.IndexByte(statement[i:], '\n')
			if end < 0 {
				return out.String()
			}
			out.WriteByte(' ')
			i += end
		case strings.HasPrefix(statement[i:], "/*"):
			end := strings.Index(statement[i+2:], "*/")
			if end < 0 {
				return out.String()
			}
			out.WriteByte(' ')
			i += end + 3
		default:
			out.WriteByte(statement[i])
		}
	}
	return out.String()
}

func scanRow(stmt *sqlite.Stmt, columnCount int) []any {
	row := make([]any, columnCount)
	for i := range columnCount {
		switch stmt.ColumnType(i) {
		case sqlite.TypeInteger:
			row[i] = stmt.ColumnInt64(i)
		case sqlite.TypeFloat:
			row[i] = stmt.ColumnFloat(i)
		case sqlite.TypeText:
			row[i] = stmt.ColumnText(i)
		case sqlite.TypeBlob:
			data := make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, data)
			row[i] = data
		default:
			row[i] = nil
		}
	}
	return row
}

// leadingKeyword returns the first keyword of statement, upper-cased,
// skipping whitespace, comments and opening parentheses, plus the
// remaining text.
func leadingKeyword(statement string) (string, string) {
	rest := statement
	for {
		rest = strings.TrimLeftFunc(rest, func(r rune) bool { return unicode.IsSpace(r) || r == '(' || r == ';' })
		switch {
		case strings.HasPrefix(rest, "--"):
			if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
				rest = rest[newline+1:]
				continue
			}
			return "", ""
		case strings.HasPrefix(rest, "/*"):
			if end := strings.Index(rest[2:], "*/"); end >= 0 {
				rest = rest[end+4:]
				continue
			}
			return "", ""
		}
		break
	}
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	if end < 0 {
		end = len(rest)
	}
	return strings.ToUpper(rest[:end]), rest[end:]
}

// blank reports whether text holds only whitespace, semicolons and
// comments.
func blank(text string) bool {
	keyword, rest := leadingKeyword(text)
	return keyword == "" && rest == ""
}

func describeKeyword(keyword string) string {
	if keyword == "" {
		return "empty"
	}
	return keyword
}
