package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
)

// appendEventTx inserts an event row inside an already-open transaction.
// Every mutating Store method that changes an entry's state calls this in
// the same transaction as the change it describes, per invariant 7 in
// spec.md §3 ("Event IDs are strictly monotonically increasing globally;
// events are never deleted or rewritten") and the teacher's pattern of
// inserting into `events` alongside the issues UPDATE in ClaimIssue.
func appendEventTx(ctx context.Context, tx *sql.Tx, entryID int64, kind types.EventKind, actor string, payload map[string]any) (*types.Event, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	at := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (entry_id, kind, at, actor, payload)
		VALUES (?, ?, ?, ?, ?)
	`, entryID, kind, toUnixNano(at), actor, data)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("event last insert id: %w", err)
	}

	return &types.Event{
		ID: id, EntryID: entryID, Kind: kind, At: at, Actor: actor, Payload: payload,
	}, nil
}

// AppendEvent records a standalone audit event outside of any lifecycle
// transition, e.g. the worker pipeline logging an intermediate rebase/test
// milestone that does not itself change Status.
func (s *Store) AppendEvent(ctx context.Context, entryID int64, kind types.EventKind, actor string, payload map[string]any) (*types.Event, error) {
	var ev *types.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getEntryTx(ctx, tx, entryID); err != nil {
			return wrapDBError("AppendEvent.get", err)
		}
		e, err := appendEventTx(ctx, tx, entryID, kind, actor, payload)
		if err != nil {
			return err
		}
		ev = e
		return nil
	})
	return ev, err
}

// ListEvents implements the id-range/kind/entry cursoring read path from
// SPEC_FULL.md §6.1, generalizing the teacher's (entry_id, id) / (kind, id)
// index pair into a single filtered query.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter, limit int) ([]*types.Event, error) {
	where := []string{"id > ?"}
	args := []any{filter.AfterID}

	if filter.EntryID != 0 {
		where = append(where, "entry_id = ?")
		args = append(args, filter.EntryID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := `SELECT id, entry_id, kind, at, actor, payload FROM events WHERE `
	for i, w := range where {
		if i > 0 {
			query += " AND "
		}
		query += w
	}
	query += " ORDER BY id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("ListEvents", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("ListEvents.scan", err)
		}
		out = append(out, ev)
	}
	return out, wrapDBError("ListEvents.rows", rows.Err())
}
