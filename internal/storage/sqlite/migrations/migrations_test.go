package migrations_test

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/kieranlane/mergequeue/internal/storage/sqlite/migrations"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=private")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var got string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return got == name
}

func TestApply_CreatesAllTablesAndRecordsVersions(t *testing.T) {
	db := openRaw(t)

	require.NoError(t, migrations.Apply(db))
	require.True(t, tableExists(t, db, "entries"))
	require.True(t, tableExists(t, db, "events"))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count))
	require.Equal(t, len(migrations.All), count)
}

func TestApply_IsIdempotent(t *testing.T) {
	db := openRaw(t)

	require.NoError(t, migrations.Apply(db))
	require.NoError(t, migrations.Apply(db), "re-applying against an up-to-date database must be a no-op")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count))
	require.Equal(t, len(migrations.All), count)
}

func TestRollback_ReversesDownToTarget(t *testing.T) {
	db := openRaw(t)
	require.NoError(t, migrations.Apply(db))

	require.NoError(t, migrations.Rollback(db, 0))
	require.False(t, tableExists(t, db, "entries"), "rolling back to 0 must drop the tables migration 1 created")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count))
	require.Zero(t, count)

	require.NoError(t, migrations.Apply(db), "re-applying after a full rollback must rebuild the schema")
	require.True(t, tableExists(t, db, "entries"))
}

func TestRollback_ToIntermediateVersionKeepsEarlierTables(t *testing.T) {
	db := openRaw(t)
	require.NoError(t, migrations.Apply(db))

	require.NoError(t, migrations.Rollback(db, 1))
	require.True(t, tableExists(t, db, "entries"), "rolling back to version 1 must not touch migration 1's own tables")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count))
	require.Equal(t, 1, count)
}
