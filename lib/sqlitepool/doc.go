// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind lake
// catalogs.
//
// It wraps zombiezen.com/go/sqlite with fixed defaults: WAL journal
// mode (readers never block the single writer), synchronous=NORMAL,
// a five second busy timeout, memory-mapped reads and in-memory temp
// storage.
//
// Besides raw Take/Put, the pool offers three transaction shapes that
// map directly onto catalog semantics:
//
//   - [Pool.Read]: a deferred transaction, giving every statement inside
//     it one consistent snapshot.
//   - [Pool.QueryOnly]: the same, with PRAGMA query_only enabled so
//     user-supplied SQL cannot modify anything.
//   - [Pool.Write]: an IMMEDIATE transaction that serializes writers and
//     commits all-or-nothing.
//
// There is no query builder. Callers write SQL and use sqlitex.Execute.
package sqlitepool
