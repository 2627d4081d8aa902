// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/connected-data-lake/cdl/lib/sqlitepool"
)

func TestOpenAppliesPragmas(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestOnConnect(t *testing.T) {
	var called bool
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		called = true
		return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS t (v TEXT NOT NULL);`, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if !called {
		t.Error("OnConnect was not called")
	}
	if err := sqlitex.Execute(conn, "INSERT INTO t (v) VALUES (?)", &sqlitex.ExecOptions{Args: []any{"x"}}); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	pool := openTestPool(t, numbersSchema)

	failure := errors.New("validation failed")
	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (1), (2)", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Write error = %v, want %v", err, failure)
	}
	if got := countNumbers(t, pool); got != 0 {
		t.Errorf("rows after rolled back write = %d, want 0", got)
	}

	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (1), (2)", nil)
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := countNumbers(t, pool); got != 2 {
		t.Errorf("rows after committed write = %d, want 2", got)
	}
}

func TestQueryOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	pool := openTestPool(t, numbersSchema)

	err := pool.QueryOnly(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (7)", nil)
	})
	if err == nil {
		t.Fatal("write under QueryOnly succeeded")
	}
	if code := sqlite.ErrCode(err).ToPrimary(); code != sqlite.ResultReadOnly {
		t.Errorf("error code = %v, want SQLITE_READONLY", code)
	}

	// The connection must be writable again once back in the pool.
	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (7)", nil)
	})
	if err != nil {
		t.Fatalf("Write after QueryOnly: %v", err)
	}
}

func TestReadSeesOneSnapshot(t *testing.T) {
	ctx := context.Background()
	pool := openTestPool(t, numbersSchema)

	var before, after int64
	err := pool.Read(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM numbers", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error { before = stmt.ColumnInt64(0); return nil },
		}); err != nil {
			return err
		}
		// A writer commits on another connection mid-read.
		if err := pool.Write(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (1), (2), (3)", nil)
		}); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM numbers", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error { after = stmt.ColumnInt64(0); return nil },
		})
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if before != 0 || after != 0 {
		t.Errorf("snapshot counts = %d then %d, want 0 and 0", before, after)
	}
	if got := countNumbers(t, pool); got != 3 {
		t.Errorf("count after read = %d, want 3", got)
	}
}

func TestConcurrentReads(t *testing.T) {
	pool := openTestPool(t, numbersSchema)
	if err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `INSERT INTO numbers (value) VALUES (1), (2), (3), (4), (5);`, nil)
	}); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	const goroutineCount = 8
	var waitGroup sync.WaitGroup
	errs := make(chan error, goroutineCount)
	for range goroutineCount {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			var sum int64
			err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
				return sqlitex.Execute(conn, "SELECT value FROM numbers", &sqlitex.ExecOptions{
					ResultFunc: func(stmt *sqlite.Stmt) error {
						sum += stmt.ColumnInt64(0)
						return nil
					},
				})
			})
			if err != nil {
				errs <- err
				return
			}
			if sum != 15 {
				errs <- fmt.Errorf("sum = %d, want 15", sum)
			}
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeCancelled(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	pool.Put(conn)
}

func numbersSchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS numbers (value INTEGER NOT NULL);`, nil)
}

func countNumbers(t *testing.T, pool *sqlitepool.Pool) int64 {
	t.Helper()
	var count int64
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM numbers", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  4,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
