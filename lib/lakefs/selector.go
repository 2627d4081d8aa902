// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/connected-data-lake/cdl/lib/catalog"
)

// ErrInvalidSelector reports a selector that cannot be resolved to a
// list of keys: a malformed predicate, or indices against a source
// without parent and name columns.
var ErrInvalidSelector = errors.New("invalid selector")

// KeySource is anything rows can be selected from by index: a
// catalog.Listing from ReadDir, or a catalog.Result from SQL.
type KeySource interface {
	Keys(indices []int) ([]catalog.Key, error)
}

// Selector names the entries a read or copy targets, as an ordered list
// of catalog keys. Every constructor resolves its input to keys
// immediately; nothing downstream depends on how the selection was
// written.
type Selector struct {
	keys []catalog.Key
	err  error
}

// Keys selects entries by key, in order.
func Keys(keys ...catalog.Key) Selector {
	return Selector{keys: keys}
}

// Paths selects entries by logical path, in order.
func Paths(paths ...string) Selector {
	keys := make([]catalog.Key, len(paths))
	for i, logical := range paths {
		keys[i] = catalog.KeyFromPath(logical)
	}
	return Selector{keys: keys}
}

// Indices selects rows of a previously obtained listing or query
// result, in the given order.
func Indices(source KeySource, indices ...int) Selector {
	keys, err := source.Keys(indices)
	return Selector{keys: keys, err: err}
}

// Predicate selects entries named by a disjunction of equality clauses:
//
//	(parent = '/a' AND name = 'x') OR (parent = '/b' AND name = 'y')
//
// Clauses select in the order written. Within a clause the two
// comparisons may appear in either order and LIKE may stand in for =;
// the right-hand side is always matched literally. Quotes inside a
// literal are doubled, as in SQL. A parent literal must already be in
// the form rootfs stores ("/a", not "/a/" or "a"), so the predicate
// selects exactly what the same text matches in a query.
func Predicate(expression string) Selector {
	keys, err := parsePredicate(expression)
	if err != nil {
		return Selector{err: err}
	}
	return Selector{keys: keys}
}

// Keys returns the resolved keys, or the error that prevented
// resolution.
func (s Selector) Keys() ([]catalog.Key, error) {
	return s.keys, s.err
}

// PredicateFor renders keys as a predicate that Predicate parses back
// to the same keys, and that selects the same rows as a WHERE clause
// against the rootfs table.
func PredicateFor(keys []catalog.Key) string {
	var builder strings.Builder
	for i, key := range keys {
		if i > 0 {
			builder.WriteString(" OR ")
		}
		fmt.Fprintf(&builder, "(parent = %s AND name = %s)", quote(key.Parent), quote(key.Name))
	}
	return builder.String()
}

func quote(literal string) string {
	return "'" + strings.ReplaceAll(literal, "'", "''") + "'"
}

type tokenKind int

const (
	tokenEnd tokenKind = iota
	tokenOpen
	tokenClose
	tokenWord
	tokenEquals
	tokenString
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(expression string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expression); {
		c := expression[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenOpen, pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenClose, pos: i})
			i++
		case c == '=':
			tokens = append(tokens, token{kind: tokenEquals, text: "=", pos: i})
			i++
		case c == '\'':
			start := i
			var literal strings.Builder
			i++
			for {
				if i >= len(expression) {
					return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidSelector, start)
				}
				if expression[i] == '\'' {
					if i+1 < len(expression) && expression[i+1] == '\'' {
						literal.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				literal.WriteByte(expression[i])
				i++
			}
			tokens = append(tokens, token{kind: tokenString, text: literal.String(), pos: start})
		case c == '_' || unicode.IsLetter(rune(c)):
			start := i
			for i < len(expression) && (expression[i] == '_' || unicode.IsLetter(rune(expression[i])) || unicode.IsDigit(rune(expression[i]))) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: strings.ToLower(expression[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidSelector, c, i)
		}
	}
	return append(tokens, token{kind: tokenEnd, pos: len(expression)}), nil
}

type predicateParser struct {
	tokens []token
	next   int
}

func (p *predicateParser) peek() token { return p.tokens[p.next] }

func (p *predicateParser) take() token {
	t := p.tokens[p.next]
	if t.kind != tokenEnd {
		p.next++
	}
	return t
}

func (p *predicateParser) fail(t token, expected string) error {
	return fmt.Errorf("%w: expected %s at offset %d", ErrInvalidSelector, expected, t.pos)
}

func parsePredicate(expression string) ([]catalog.Key, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, err
	}
	parser := &predicateParser{tokens: tokens}
	if parser.peek().kind == tokenEnd {
		return nil, fmt.Errorf("%w: empty predicate", ErrInvalidSelector)
	}

	var keys []catalog.Key
	for {
		key, err := parser.clause()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)

		next := parser.take()
		switch {
		case next.kind == tokenEnd:
			return keys, nil
		case next.kind == tokenWord && next.text == "or":
		default:
			return nil, parser.fail(next, "OR or end of predicate")
		}
	}
}

// clause parses "(c AND c)" or "c AND c" where each c constrains parent
// or name.
func (p *predicateParser) clause() (catalog.Key, error) {
	parenthesized := p.peek().kind == tokenOpen
	if parenthesized {
		p.take()
	}

	values := make(map[string]string, 2)
	for i := range 2 {
		if i == 1 {
			if t := p.take(); t.kind != tokenWord || t.text != "and" {
				return catalog.Key{}, p.fail(t, "AND")
			}
		}
		column := p.take()
		if column.kind != tokenWord || (column.text != "parent" && column.text != "name") {
			return catalog.Key{}, p.fail(column, "parent or name")
		}
		if _, dup := values[column.text]; dup {
			return catalog.Key{}, fmt.Errorf("%w: %s constrained twice at offset %d", ErrInvalidSelector, column.text, column.pos)
		}
		operator := p.take()
		if operator.kind != tokenEquals && (operator.kind != tokenWord || operator.text != "like") {
			return catalog.Key{}, p.fail(operator, "= or LIKE")
		}
		literal := p.take()
		if literal.kind != tokenString {
			return catalog.Key{}, p.fail(literal, "a quoted string")
		}
		values[column.text] = literal.text
	}

	if parenthesized {
		if t := p.take(); t.kind != tokenClose {
			return catalog.Key{}, p.fail(t, ")")
		}
	}
	parent := values["parent"]
	if parent != catalog.CleanParent(parent) {
		return catalog.Key{}, fmt.Errorf("%w: parent %q is not a clean path (want %q)",
			ErrInvalidSelector, parent, catalog.CleanParent(parent))
	}
	return catalog.Key{Parent: parent, Name: values["name"]}, nil
}
