// Package migrations applies the merge queue schema to a *sql.DB as a
// sequence of numbered, idempotent steps, one function per version,
// following the teacher's internal/storage/sqlite/migrations layout
// (one file per version, recorded in a schema_version table, gaps
// forbidden).
package migrations

import (
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting a Migration's
// Up/Down steps run either standalone (rarely useful) or, as Apply/Rollback
// always do, inside a single transaction alongside the schema_version
// bookkeeping row.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Migration is one versioned schema step with both directions: Up applies
// it, Down reverses it, per spec.md §6's "monotonic integer versions with
// up + down SQL, applied atomically."
type Migration struct {
	Version     int
	Description string
	Up          func(db execer) error
	Down        func(db execer) error
}

// All is the ordered, gapless list of migrations. Appending a new version
// means appending here with Version == len(All)+1.
var All = []Migration{
	{1, "initial entries and events tables", migrateInitialSchemaUp, migrateInitialSchemaDown},
	{2, "partial unique index on dedupe_key for non-terminal entries", migrateDedupeKeyIndexUp, migrateDedupeKeyIndexDown},
	{3, "claim-order index", migrateClaimOrderIndexUp, migrateClaimOrderIndexDown},
	{4, "event cursoring indexes", migrateEventIndexesUp, migrateEventIndexesDown},
}

// Apply runs every migration whose version is greater than the database's
// current schema_version. Each migration's Up step and its schema_version
// bookkeeping row are committed together in a single transaction, so a
// crash mid-migration never leaves the version table out of sync with the
// schema it describes.
func Apply(db *sql.DB) error {
	if err := ensureVersionTable(db); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}

	for i, m := range All {
		if m.Version != i+1 {
			return fmt.Errorf("migrations.All has a gap: expected version %d at index %d, got %d", i+1, i, m.Version)
		}
		if m.Version <= current {
			continue
		}
		if err := applyOne(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// Rollback reverses migrations down to (and not including) target,
// running each migration's Down step and removing its schema_version row
// atomically, in descending version order.
func Rollback(db *sql.DB, target int) error {
	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}

	for v := current; v > target; v-- {
		m := All[v-1]
		if err := rollbackOne(db, m); err != nil {
			return fmt.Errorf("rollback migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func applyOne(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.Up(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

func rollbackOne(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.Down(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, m.Version); err != nil {
		return fmt.Errorf("unrecord migration: %w", err)
	}
	return tx.Commit()
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var v sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func migrateInitialSchemaUp(db execer) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace TEXT NOT NULL,
			bead_id TEXT NOT NULL DEFAULT '',
			dedupe_key TEXT NOT NULL,
			status TEXT NOT NULL,
			stack_state TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			agent_id TEXT NOT NULL DEFAULT '',
			lease_until INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			last_error_kind TEXT NOT NULL DEFAULT '',
			tested_against_sha TEXT NOT NULL DEFAULT '',
			merged_sha TEXT NOT NULL DEFAULT '',
			parent_workspace TEXT NOT NULL DEFAULT '',
			stack_depth INTEGER NOT NULL DEFAULT 0,
			stack_root TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create entries: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id INTEGER NOT NULL REFERENCES entries(id),
			kind TEXT NOT NULL,
			at INTEGER NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			payload BLOB
		)
	`)
	if err != nil {
		return fmt.Errorf("create events: %w", err)
	}
	return nil
}

func migrateInitialSchemaDown(db execer) error {
	if _, err := db.Exec(`DROP TABLE IF EXISTS events`); err != nil {
		return err
	}
	_, err := db.Exec(`DROP TABLE IF EXISTS entries`)
	return err
}

func migrateDedupeKeyIndexUp(db execer) error {
	// Non-terminal statuses only, per invariant 1 in spec.md §3: at most one
	// non-terminal entry may exist per dedupe_key. SQLite partial indexes
	// support this directly.
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_dedupe_key_active
		ON entries(dedupe_key)
		WHERE status NOT IN ('merged', 'failed_terminal', 'cancelled')
	`)
	return err
}

func migrateDedupeKeyIndexDown(db execer) error {
	_, err := db.Exec(`DROP INDEX IF EXISTS idx_entries_dedupe_key_active`)
	return err
}

func migrateClaimOrderIndexUp(db execer) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entries_claim_order
		ON entries(status, stack_state, priority, created_at, id)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_workspace ON entries(workspace)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_parent_workspace ON entries(parent_workspace)`)
	return err
}

func migrateClaimOrderIndexDown(db execer) error {
	if _, err := db.Exec(`DROP INDEX IF EXISTS idx_entries_claim_order`); err != nil {
		return err
	}
	if _, err := db.Exec(`DROP INDEX IF EXISTS idx_entries_workspace`); err != nil {
		return err
	}
	_, err := db.Exec(`DROP INDEX IF EXISTS idx_entries_parent_workspace`)
	return err
}

func migrateEventIndexesUp(db execer) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_entry_id ON events(entry_id, id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, id)`)
	return err
}

func migrateEventIndexesDown(db execer) error {
	if _, err := db.Exec(`DROP INDEX IF EXISTS idx_events_entry_id`); err != nil {
		return err
	}
	_, err := db.Exec(`DROP INDEX IF EXISTS idx_events_kind`)
	return err
}
