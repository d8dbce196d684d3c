// Package sqlite is the concrete Store implementation backing the merge
// queue on a SQLite database, generalizing the teacher's
// internal/storage/sqlite package (same transaction and event-append
// idioms) from issues to queue entries.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kieranlane/mergequeue/internal/storage/sqlite/migrations"
)

// Store is the SQLite-backed implementation of storage.Store.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database at dsn and applies any
// pending migrations. Pass "file::memory:?mode=memory&cache=private" for
// an isolated in-memory database, following the teacher's test-isolation
// comment in internal/storage/sqlite/test_helpers.go.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection serializes writers at the Go level; SQLite itself
	// only allows one writer at a time regardless, and the claim/transition
	// protocol's correctness depends on serializable transactions rather
	// than connection-pool parallelism.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Apply(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// now is overridable in tests that need deterministic timestamps; it
// defaults to time.Now so production code never has to thread a clock
// through every call.
var now = time.Now
