package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
)

// applyPatchTx builds and executes a dynamic UPDATE from the non-nil
// fields of patch, always bumping updated_at, and returns the reloaded
// entry. It is the single place that translates storage.EntryPatch into
// SQL, used by InsertOrUpsert, Transition, and Release.
func applyPatchTx(ctx context.Context, tx *sql.Tx, entryID int64, patch storage.EntryPatch) (*types.Entry, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toUnixNano(now())}

	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.BeadID != nil {
		sets = append(sets, "bead_id = ?")
		args = append(args, *patch.BeadID)
	}
	if patch.ParentWorkspace != nil {
		sets = append(sets, "parent_workspace = ?")
		args = append(args, *patch.ParentWorkspace)
	}
	if patch.ClearAgentID {
		sets = append(sets, "agent_id = ''")
	} else if patch.AgentID != nil {
		sets = append(sets, "agent_id = ?")
		args = append(args, *patch.AgentID)
	}
	if patch.ClearLeaseUntil {
		sets = append(sets, "lease_until = NULL")
	} else if patch.LeaseUntil != nil {
		sets = append(sets, "lease_until = ?")
		args = append(args, toUnixNano(*patch.LeaseUntil))
	}
	if patch.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *patch.Attempts)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	if patch.LastErrorKind != nil {
		sets = append(sets, "last_error_kind = ?")
		args = append(args, *patch.LastErrorKind)
	}
	if patch.ClearTestedSHA {
		sets = append(sets, "tested_against_sha = ''")
	} else if patch.TestedAgainstSHA != nil {
		sets = append(sets, "tested_against_sha = ?")
		args = append(args, *patch.TestedAgainstSHA)
	}
	if patch.MergedSHA != nil {
		sets = append(sets, "merged_sha = ?")
		args = append(args, *patch.MergedSHA)
	}
	if patch.StackState != nil {
		sets = append(sets, "stack_state = ?")
		args = append(args, *patch.StackState)
	}
	if patch.StackDepth != nil {
		sets = append(sets, "stack_depth = ?")
		args = append(args, *patch.StackDepth)
	}
	if patch.StackRoot != nil {
		sets = append(sets, "stack_root = ?")
		args = append(args, *patch.StackRoot)
	}

	query := "UPDATE entries SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, entryID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update entry %d: %w", entryID, err)
	}

	e, err := getEntryTx(ctx, tx, entryID)
	if err != nil {
		return nil, fmt.Errorf("reload entry %d: %w", entryID, err)
	}
	return e, nil
}
