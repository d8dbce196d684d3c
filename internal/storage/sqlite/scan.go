package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/kieranlane/mergequeue/internal/types"
)

const entryColumns = `
	id, workspace, bead_id, dedupe_key, status, stack_state, priority,
	agent_id, lease_until, attempts, max_attempts, last_error, last_error_kind,
	tested_against_sha, merged_sha, parent_workspace, stack_depth, stack_root,
	created_at, updated_at
`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*types.Entry, error) {
	var e types.Entry
	var leaseUntil sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&e.ID, &e.Workspace, &e.BeadID, &e.DedupeKey, &e.Status, &e.StackState, &e.Priority,
		&e.AgentID, &leaseUntil, &e.Attempts, &e.MaxAttempts, &e.LastError, &e.LastErrorKind,
		&e.TestedAgainstSHA, &e.MergedSHA, &e.ParentWorkspace, &e.StackDepth, &e.StackRoot,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if leaseUntil.Valid {
		t := fromUnixNano(leaseUntil.Int64)
		e.LeaseUntil = &t
	}
	e.CreatedAt = fromUnixNano(createdAt)
	e.UpdatedAt = fromUnixNano(updatedAt)
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*types.Entry, error) {
	var out []*types.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func getEntryTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id int64) (*types.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func unmarshalPayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var ev types.Event
	var payload []byte
	var at int64
	if err := row.Scan(&ev.ID, &ev.EntryID, &ev.Kind, &at, &ev.Actor, &payload); err != nil {
		return nil, err
	}
	ev.At = fromUnixNano(at)
	p, err := unmarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	ev.Payload = p
	return &ev, nil
}
