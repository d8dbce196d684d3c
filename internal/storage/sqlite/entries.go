package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
)

// nonTerminalPredicate is the WHERE-clause fragment matching invariant 1's
// notion of "non-terminal", kept as a single constant so the status list
// never drifts out of sync with types.Status.Terminal().
const nonTerminalPredicate = `status NOT IN ('merged', 'failed_terminal', 'cancelled')`

// InsertOrUpsert implements spec.md §4.2. Because Store serializes all
// writes onto a single connection (see Open), the existence check and the
// insert/update below cannot race with a concurrent caller: SQLite's
// connection-pool queuing does the serialising work the teacher's
// partial-unique-index relies on at the storage-engine level.
func (s *Store) InsertOrUpsert(ctx context.Context, fields storage.SubmitFields, dedupeKey string, stackState types.StackState, stackDepth int, stackRoot string) (*types.Entry, bool, error) {
	var result *types.Entry
	var created bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := findActiveByDedupeKeyTx(ctx, tx, dedupeKey)
		if err != nil {
			return fmt.Errorf("find existing entry: %w", err)
		}

		if existing != nil {
			patch := storage.EntryPatch{
				Priority:        &fields.Priority,
				BeadID:          &fields.BeadID,
				ParentWorkspace: &fields.ParentWorkspace,
			}
			updated, err := applyPatchTx(ctx, tx, existing.ID, patch)
			if err != nil {
				return fmt.Errorf("apply patch: %w", err)
			}
			if _, err := appendEventTx(ctx, tx, existing.ID, types.EventUpdated, "", map[string]any{
				"dedupe_key": dedupeKey,
			}); err != nil {
				return err
			}
			result = updated
			created = false
			return nil
		}

		at := toUnixNano(now())
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entries (
				workspace, bead_id, dedupe_key, status, stack_state, priority,
				agent_id, lease_until, attempts, max_attempts, last_error, last_error_kind,
				tested_against_sha, merged_sha, parent_workspace, stack_depth, stack_root,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, '', NULL, 0, ?, '', '', '', '', ?, ?, ?, ?, ?)
		`, fields.Workspace, fields.BeadID, dedupeKey, types.StatusPending, stackState, fields.Priority,
			fields.MaxAttempts, fields.ParentWorkspace, stackDepth, stackRoot, at, at)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		inserted, err := getEntryTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("reload inserted entry: %w", err)
		}
		if _, err := appendEventTx(ctx, tx, id, types.EventCreated, "", map[string]any{
			"dedupe_key": dedupeKey,
		}); err != nil {
			return err
		}
		result = inserted
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func findActiveByDedupeKeyTx(ctx context.Context, tx *sql.Tx, dedupeKey string) (*types.Entry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE dedupe_key = ? AND `+nonTerminalPredicate+`
	`, dedupeKey)
	e, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Get returns the entry with the given id, or a NotFound error.
func (s *Store) Get(ctx context.Context, id int64) (*types.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, wrapDBError("Get", err)
	}
	return e, nil
}

// GetByWorkspace returns the most recently created entry for a workspace
// name. Workspace names are not unique across time (spec.md §3), so this
// returns the latest one.
func (s *Store) GetByWorkspace(ctx context.Context, workspace string) (*types.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE workspace = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workspace)
	e, err := scanEntry(row)
	if err != nil {
		return nil, wrapDBError("GetByWorkspace", err)
	}
	return e, nil
}

// Children returns every direct child of parentWorkspace, whatever its
// status or stack substate, used by the parent-merge fan-out in spec.md
// §4.6 (which itself skips children that are not blocked_by_parent).
func (s *Store) Children(ctx context.Context, parentWorkspace string) ([]*types.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE parent_workspace = ?
		ORDER BY created_at ASC, id ASC
	`, parentWorkspace)
	if err != nil {
		return nil, wrapDBError("Children", err)
	}
	defer rows.Close()
	out, err := scanEntries(rows)
	if err != nil {
		return nil, wrapDBError("Children.scan", err)
	}
	return out, nil
}

// Query implements the filtered list/read path from spec.md §4.1.
func (s *Store) Query(ctx context.Context, filter storage.Filter, order storage.Order, limit int) ([]*types.Entry, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.StackState != nil {
		where = append(where, "stack_state = ?")
		args = append(args, *filter.StackState)
	}
	if filter.Workspace != "" {
		where = append(where, "workspace = ?")
		args = append(args, filter.Workspace)
	}
	if filter.StackRoot != "" {
		where = append(where, "stack_root = ?")
		args = append(args, filter.StackRoot)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}

	switch order {
	case storage.OrderCreatedDesc:
		query += " ORDER BY created_at DESC, id DESC"
	default:
		query += " ORDER BY priority ASC, created_at ASC, id ASC"
	}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("Query", err)
	}
	defer rows.Close()
	out, err := scanEntries(rows)
	if err != nil {
		return nil, wrapDBError("Query.scan", err)
	}
	return out, nil
}
