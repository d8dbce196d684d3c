// Package queue is the Submit API and claim/lease facade sitting on top of
// internal/storage: spec.md §4.2, §4.4, and §4.6, generalizing the
// teacher's CreateIssue/ClaimIssue entry points (internal/storage/sqlite/
// queries.go) from a single flat issue table to a stacked, leased queue.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// Queue wraps a storage.Store with the submit-time validation, dedupe-key
// computation, and stack bookkeeping that the bare Store interface leaves
// to its caller.
type Queue struct {
	store storage.Store
	log   *slog.Logger

	// MaxStackDepth bounds walkStack, overridable from config.Tunables;
	// New seeds it with types.MaxStackDepth so a Queue built without going
	// through the config loader still has a sane bound.
	MaxStackDepth int
}

// New builds a Queue over store. A nil logger falls back to slog.Default,
// matching the teacher's daemon constructors.
func New(store storage.Store, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{store: store, log: log, MaxStackDepth: types.MaxStackDepth}
}

// SubmitRequest is the caller-facing input to Submit; logical_change_fingerprint
// is whatever content-addressable string the submitter derives from the
// workspace's diff (left to the caller, per spec.md's VCS-adapter boundary).
type SubmitRequest struct {
	Workspace                string
	BeadID                   string
	ParentWorkspace          string
	LogicalChangeFingerprint string
	Priority                 int
	MaxAttempts              int
}

// Submit implements spec.md §4.2 end to end: validates the caller-controlled
// fields, walks the parent chain for cycle/depth validation, computes
// dedupe_key/stack_depth/stack_root/initial stack_state, and delegates the
// idempotent upsert to the Store.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (*types.Entry, bool, error) {
	fields := storage.SubmitFields{
		Workspace:                req.Workspace,
		BeadID:                   req.BeadID,
		ParentWorkspace:          req.ParentWorkspace,
		LogicalChangeFingerprint: req.LogicalChangeFingerprint,
		Priority:                 req.Priority,
		MaxAttempts:              req.MaxAttempts,
	}
	if fields.Priority == 0 {
		fields.Priority = types.DefaultPriority
	}
	if fields.MaxAttempts == 0 {
		fields.MaxAttempts = types.DefaultMaxAttempts
	}

	draft := &types.Entry{
		Workspace:       fields.Workspace,
		ParentWorkspace: fields.ParentWorkspace,
		Priority:        fields.Priority,
		MaxAttempts:     fields.MaxAttempts,
	}
	if err := draft.ValidateSubmission(); err != nil {
		return nil, false, err
	}

	stackState := types.StackNotApplicable
	stackDepth := 0
	stackRoot := fields.Workspace

	if fields.ParentWorkspace != "" {
		parent, err := q.store.GetByWorkspace(ctx, fields.ParentWorkspace)
		if err != nil {
			return nil, false, mqerrors.Newf(mqerrors.KindValidation, "Queue.Submit",
				"parent workspace %q is not reachable: %v", fields.ParentWorkspace, err).
				WithSuggestion("submit the parent workspace before its dependents")
		}

		// spec.md §3 invariant 4: parent_workspace must reference either a
		// non-terminal entry or one that merged; a parent that failed
		// terminally or was cancelled can never unblock its children.
		if parent.Status.Terminal() && parent.Status != types.StatusMerged {
			return nil, false, mqerrors.Newf(mqerrors.KindValidation, "Queue.Submit",
				"parent workspace %q is terminal with status %q, not merged", fields.ParentWorkspace, parent.Status).
				WithSuggestion("a child may only reference a non-terminal or merged parent")
		}

		depth, root, err := q.walkStack(ctx, parent, fields.Workspace)
		if err != nil {
			return nil, false, err
		}
		stackDepth = depth
		stackRoot = root

		// spec.md §4.6: blocked_by_parent if the parent is non-terminal,
		// else unblocked (the only terminal case reaching here is merged).
		if parent.Status.Terminal() {
			stackState = types.StackUnblocked
		} else {
			stackState = types.StackBlockedByParent
		}
	}

	dedupeKey := computeDedupeKey(fields.Workspace, fields.BeadID, fields.ParentWorkspace, req.LogicalChangeFingerprint)
	entry, created, err := q.store.InsertOrUpsert(ctx, fields, dedupeKey, stackState, stackDepth, stackRoot)
	if err != nil {
		return nil, false, err
	}
	q.log.DebugContext(ctx, "submitted entry", "workspace", fields.Workspace, "created", created, "stack_state", stackState)
	return entry, created, nil
}

// walkStack implements spec.md §4.2's cycle-and-depth check and §4.6's
// stack_depth/stack_root derivation: walk from parent up to its own root,
// rejecting a walk that revisits a workspace (cycle) or exceeds
// q.MaxStackDepth.
func (q *Queue) walkStack(ctx context.Context, parent *types.Entry, child string) (depth int, root string, err error) {
	seen := map[string]bool{child: true}
	current := parent
	depth = 1

	for {
		if seen[current.Workspace] {
			return 0, "", mqerrors.Newf(mqerrors.KindValidation, "Queue.Submit",
				"stack cycle detected at workspace %q", current.Workspace)
		}
		seen[current.Workspace] = true

		if depth > q.MaxStackDepth {
			return 0, "", mqerrors.Newf(mqerrors.KindValidation, "Queue.Submit",
				"stack depth exceeds MaxStackDepth (%d)", q.MaxStackDepth)
		}

		if current.ParentWorkspace == "" {
			return depth, current.StackRoot, nil
		}

		next, err := q.store.GetByWorkspace(ctx, current.ParentWorkspace)
		if err != nil {
			return 0, "", mqerrors.Newf(mqerrors.KindValidation, "Queue.Submit",
				"parent chain broken at workspace %q: %v", current.ParentWorkspace, err)
		}
		current = next
		depth++
	}
}

// Claim is a thin facade over Store.ClaimNext, present so callers depend on
// internal/queue rather than reaching into internal/storage directly.
func (q *Queue) Claim(ctx context.Context, agentID string, leaseDuration time.Duration, filter storage.Filter) (*types.Entry, error) {
	return q.store.ClaimNext(ctx, agentID, leaseDuration, filter)
}

// Renew extends agentID's lease on entryID.
func (q *Queue) Renew(ctx context.Context, entryID int64, agentID string, extension time.Duration) (*types.Entry, error) {
	return q.store.Renew(ctx, entryID, agentID, extension)
}

// Cancel moves entryID to cancelled from any non-terminal status, per
// spec.md §4.3's "any non-terminal → cancelled" rule. actor is recorded as
// the event's actor for audit purposes; it need not be the lease holder,
// since cancellation is an operator action rather than a worker outcome.
func (q *Queue) Cancel(ctx context.Context, entryID int64, actor string) (*types.Entry, error) {
	entry, err := q.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return nil, mqerrors.Newf(mqerrors.KindInvalidTransition, "Queue.Cancel",
			"entry %d is already terminal (%s)", entryID, entry.Status)
	}
	return q.store.Transition(ctx, entryID, entry.Status, types.StatusCancelled, storage.EntryPatch{}, actor, types.EventCancelled, nil)
}

// Report lets a worker hand back an outcome after its pipeline phases run:
// outcome-specific patch and target status are the caller's responsibility
// (internal/worker), since only that package knows which phase produced
// which error classification. Report simply delegates to Store.Release
// under the held lease.
func (q *Queue) Report(ctx context.Context, entryID int64, agentID string, to types.Status, patch storage.EntryPatch, eventKind types.EventKind, payload map[string]any) (*types.Entry, error) {
	return q.store.Release(ctx, entryID, agentID, to, patch, eventKind, payload)
}

// Yield implements spec.md §9's resolved Open Question: a worker holding
// a lease may voluntarily return an entry to pending without incrementing
// attempts, distinct from both a reported failure (which does count
// against the attempt budget) and ReclaimStale (which acts on an expired
// lease without verifying ownership). Used for cooperative preemption,
// e.g. a worker yielding a lower-priority entry to pick up newly-submitted
// higher-priority work.
func (q *Queue) Yield(ctx context.Context, entryID int64, agentID string) (*types.Entry, error) {
	patch := storage.EntryPatch{ClearAgentID: true, ClearLeaseUntil: true}
	return q.store.Release(ctx, entryID, agentID, types.StatusPending, patch, types.EventReleased, map[string]any{
		"voluntary": true,
	})
}

// Event appends a standalone audit event for entryID without changing its
// lifecycle status or stack substate, used by the worker pipeline's
// intermediate rebase/test milestones.
func (q *Queue) Event(ctx context.Context, entryID int64, kind types.EventKind, actor string, payload map[string]any) (*types.Event, error) {
	return q.store.AppendEvent(ctx, entryID, kind, actor, payload)
}

// OnParentMerged implements spec.md §4.6's parent-merge fan-out: for each
// direct child of parentWorkspace still blocked_by_parent, unblock it and
// emit parent_merged; children in any other stack state are left alone.
func (q *Queue) OnParentMerged(ctx context.Context, parentWorkspace string) ([]*types.Entry, error) {
	children, err := q.store.Children(ctx, parentWorkspace)
	if err != nil {
		return nil, fmt.Errorf("load children of %q: %w", parentWorkspace, err)
	}

	var unblocked []*types.Entry
	for _, child := range children {
		if child.StackState != types.StackBlockedByParent {
			continue
		}
		updated, err := q.store.TransitionStack(ctx, child.ID, types.StackBlockedByParent, types.StackUnblocked, "", types.EventParentMerged, map[string]any{
			"parent_workspace": parentWorkspace,
		})
		if err != nil {
			return nil, fmt.Errorf("unblock child %q: %w", child.Workspace, err)
		}
		unblocked = append(unblocked, updated)
	}
	if len(unblocked) > 0 {
		q.log.InfoContext(ctx, "unblocked stack children", "parent_workspace", parentWorkspace, "count", len(unblocked))
	}
	return unblocked, nil
}
