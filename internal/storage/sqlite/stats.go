package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
)

// Stats implements spec.md §6's stats() plus the per-status/per-stack-root
// breakdown SPEC_FULL.md §6.2 adds. It is read-only aggregation, not
// reordering, so it does not touch the "no global optimisation" Non-goal.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	result := storage.Stats{
		ByStatus:    map[types.Status]int{},
		ByStackRoot: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM entries GROUP BY status`)
	if err != nil {
		return result, wrapDBError("Stats.byStatus", err)
	}
	for rows.Next() {
		var status types.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return result, wrapDBError("Stats.byStatus.scan", err)
		}
		result.ByStatus[status] = count
		result.Total += count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, wrapDBError("Stats.byStatus.rows", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT stack_root, COUNT(*) FROM entries
		WHERE stack_root != ''
		GROUP BY stack_root
	`)
	if err != nil {
		return result, wrapDBError("Stats.byStackRoot", err)
	}
	for rows.Next() {
		var root string
		var count int
		if err := rows.Scan(&root, &count); err != nil {
			rows.Close()
			return result, wrapDBError("Stats.byStackRoot.scan", err)
		}
		result.ByStackRoot[root] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, wrapDBError("Stats.byStackRoot.rows", err)
	}
	rows.Close()

	result.PendingDepth = result.ByStatus[types.StatusPending]

	var oldest sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM entries WHERE status = ?
	`, types.StatusPending).Scan(&oldest)
	if err != nil {
		return result, wrapDBError("Stats.oldestPending", err)
	}
	if oldest.Valid {
		t := fromUnixNano(oldest.Int64)
		result.OldestPending = &t
	}

	return result, nil
}

// RetentionSweep implements SPEC_FULL.md §6.4 / spec.md §9's retention
// Open Question: terminal entries (and their events, deleted explicitly
// first) older than olderThan are hard-deleted. Non-terminal entries, and any
// entry still referenced as a parent by a non-terminal child, are left
// alone regardless of age (spec.md §3: "never hard-deleted while
// referenced by children").
func (s *Store) RetentionSweep(ctx context.Context, olderThan time.Time) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM entries e
			WHERE e.status IN ('merged', 'failed_terminal', 'cancelled')
			AND e.updated_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM entries c
				WHERE c.parent_workspace = e.workspace
				AND c.status NOT IN ('merged', 'failed_terminal', 'cancelled')
			)
		`, toUnixNano(olderThan))
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE entry_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
				return err
			}
		}
		removed = len(ids)
		return nil
	})
	return removed, err
}
