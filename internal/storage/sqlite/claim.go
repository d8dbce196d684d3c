package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// ClaimNext implements spec.md §4.4: select the earliest eligible pending
// entry by (priority, created_at, id), atomically stamp ownership and
// lease, bump attempts, and emit "claimed". Mirrors the compare-and-swap
// shape of the teacher's ClaimIssue (internal/storage/sqlite/queries.go),
// generalized from a single conditional UPDATE on one known id to a
// SELECT-then-UPDATE over the best-ranked candidate.
func (s *Store) ClaimNext(ctx context.Context, agentID string, leaseDuration time.Duration, filter storage.Filter) (*types.Entry, error) {
	var claimed *types.Entry

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		where := []string{"status = ?", "stack_state IN (?, ?)"}
		args := []any{types.StatusPending, types.StackNotApplicable, types.StackUnblocked}

		if filter.Workspace != "" {
			where = append(where, "workspace = ?")
			args = append(args, filter.Workspace)
		}
		if filter.StackRoot != "" {
			where = append(where, "stack_root = ?")
			args = append(args, filter.StackRoot)
		}

		query := `SELECT ` + entryColumns + ` FROM entries WHERE `
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
		query += ` ORDER BY priority ASC, created_at ASC, id ASC LIMIT 1`

		row := tx.QueryRowContext(ctx, query, args...)
		candidate, err := scanEntry(row)
		if err == sql.ErrNoRows {
			return nil // no eligible entry; claimed stays nil
		}
		if err != nil {
			return fmt.Errorf("select claim candidate: %w", err)
		}

		leaseUntil := now().Add(leaseDuration)
		newAttempts := candidate.Attempts + 1
		patch := storage.EntryPatch{
			AgentID:    &agentID,
			LeaseUntil: &leaseUntil,
			Attempts:   &newAttempts,
		}
		if err := types.Transition(candidate.Status, types.StatusProcessing); err != nil {
			return err
		}

		updated, err := applyPatchAndStatusTx(ctx, tx, candidate.ID, types.StatusProcessing, patch)
		if err != nil {
			return fmt.Errorf("apply claim patch: %w", err)
		}
		if _, err := appendEventTx(ctx, tx, candidate.ID, types.EventClaimed, agentID, map[string]any{
			"lease_until": leaseUntil,
		}); err != nil {
			return err
		}
		claimed = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// applyPatchAndStatusTx sets status and then applies patch, as two UPDATE
// statements inside the caller's transaction, used by every caller that
// changes status alongside other fields.
func applyPatchAndStatusTx(ctx context.Context, tx *sql.Tx, entryID int64, status types.Status, patch storage.EntryPatch) (*types.Entry, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE entries SET status = ? WHERE id = ?`, status, entryID); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	return applyPatchTx(ctx, tx, entryID, patch)
}

// Renew extends an active lease. Returns NotLockHolder if agentID is not
// the current owner, per spec.md §4.4's heartbeat semantics.
func (s *Store) Renew(ctx context.Context, entryID int64, agentID string, extension time.Duration) (*types.Entry, error) {
	var renewed *types.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntryTx(ctx, tx, entryID)
		if err != nil {
			return wrapDBError("Renew.get", err)
		}
		if entry.Status != types.StatusProcessing || entry.AgentID != agentID {
			return mqerrors.Newf(mqerrors.KindNotLockHolder, "Renew",
				"agent %q does not hold the lease on entry %d", agentID, entryID)
		}

		leaseUntil := now().Add(extension)
		patch := storage.EntryPatch{LeaseUntil: &leaseUntil}
		updated, err := applyPatchTx(ctx, tx, entryID, patch)
		if err != nil {
			return err
		}
		if _, err := appendEventTx(ctx, tx, entryID, types.EventRenewed, agentID, map[string]any{
			"lease_until": leaseUntil,
		}); err != nil {
			return err
		}
		renewed = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

// Transition performs a conditional lifecycle move validated against the
// status machine and the caller-supplied "from" expectation, applying
// patch and emitting eventKind atomically.
func (s *Store) Transition(ctx context.Context, entryID int64, from, to types.Status, patch storage.EntryPatch, actor string, eventKind types.EventKind, payload map[string]any) (*types.Entry, error) {
	var result *types.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntryTx(ctx, tx, entryID)
		if err != nil {
			return wrapDBError("Transition.get", err)
		}
		if entry.Status != from {
			return mqerrors.Newf(mqerrors.KindInvalidTransition, "Transition",
				"entry %d expected status %s, found %s", entryID, from, entry.Status)
		}
		if err := types.Transition(from, to); err != nil {
			return err
		}

		updated, err := applyPatchAndStatusTx(ctx, tx, entryID, to, patch)
		if err != nil {
			return err
		}
		if _, err := appendEventTx(ctx, tx, entryID, eventKind, actor, payload); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release is the inverse of claim: it verifies ownership, applies the
// outcome patch, transitions to the target status, and emits eventKind.
func (s *Store) Release(ctx context.Context, entryID int64, agentID string, to types.Status, patch storage.EntryPatch, eventKind types.EventKind, payload map[string]any) (*types.Entry, error) {
	var result *types.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntryTx(ctx, tx, entryID)
		if err != nil {
			return wrapDBError("Release.get", err)
		}
		if entry.AgentID != agentID {
			return mqerrors.Newf(mqerrors.KindNotLockHolder, "Release",
				"agent %q does not hold the lease on entry %d", agentID, entryID)
		}
		if err := types.Transition(entry.Status, to); err != nil {
			return err
		}

		updated, err := applyPatchAndStatusTx(ctx, tx, entryID, to, patch)
		if err != nil {
			return err
		}
		if _, err := appendEventTx(ctx, tx, entryID, eventKind, agentID, payload); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionStack performs a conditional stack-substate move, independent
// of lifecycle Status, mirroring Transition's shape but against
// types.TransitionStack's table instead of types.Transition's.
func (s *Store) TransitionStack(ctx context.Context, entryID int64, from, to types.StackState, actor string, eventKind types.EventKind, payload map[string]any) (*types.Entry, error) {
	var result *types.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntryTx(ctx, tx, entryID)
		if err != nil {
			return wrapDBError("TransitionStack.get", err)
		}
		if entry.StackState != from {
			return mqerrors.Newf(mqerrors.KindInvalidTransition, "TransitionStack",
				"entry %d expected stack state %s, found %s", entryID, from, entry.StackState)
		}
		if err := types.TransitionStack(from, to); err != nil {
			return err
		}

		patch := storage.EntryPatch{StackState: &to}
		updated, err := applyPatchTx(ctx, tx, entryID, patch)
		if err != nil {
			return err
		}
		if _, err := appendEventTx(ctx, tx, entryID, eventKind, actor, payload); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReclaimStale implements spec.md §4.7: returns entries whose lease
// expired more than grace ago to pending, clearing ownership, without
// incrementing attempts, and reports the affected ids.
func (s *Store) ReclaimStale(ctx context.Context, nowTime time.Time, grace time.Duration) ([]int64, error) {
	var ids []int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cutoff := nowTime.Add(-grace)
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM entries
			WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?
		`, types.StatusProcessing, toUnixNano(cutoff))
		if err != nil {
			return fmt.Errorf("select stale entries: %w", err)
		}
		var staleIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale id: %w", err)
			}
			staleIDs = append(staleIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range staleIDs {
			patch := storage.EntryPatch{ClearAgentID: true, ClearLeaseUntil: true}
			if _, err := applyPatchAndStatusTx(ctx, tx, id, types.StatusPending, patch); err != nil {
				return fmt.Errorf("reclaim entry %d: %w", id, err)
			}
			if _, err := appendEventTx(ctx, tx, id, types.EventReclaimed, "", map[string]any{
				"grace_seconds": grace.Seconds(),
			}); err != nil {
				return err
			}
		}
		ids = staleIDs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
