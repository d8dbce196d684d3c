// Package storage defines the durable-persistence interface the merge
// queue core is built on, generalizing the teacher's issue-storage
// adapter pattern (internal/storage/provider.go) to entries and events.
package storage

import (
	"context"
	"time"

	"github.com/kieranlane/mergequeue/internal/types"
)

// SubmitFields are the submitter-controlled fields accepted by Submit.
type SubmitFields struct {
	Workspace               string
	BeadID                  string
	ParentWorkspace         string
	LogicalChangeFingerprint string
	Priority                int
	MaxAttempts             int
}

// Filter narrows a Query/List call. Zero-value fields are unconstrained.
type Filter struct {
	Status     *types.Status
	StackState *types.StackState
	Workspace  string
	StackRoot  string
	AgentID    string
}

// Order selects the sort applied to a Query/List call.
type Order string

const (
	// OrderClaim is (priority ASC, created_at ASC, id ASC), spec.md §5.
	OrderClaim Order = "claim"
	// OrderCreatedDesc returns the most recently created entries first.
	OrderCreatedDesc Order = "created_desc"
)

// Stats is the aggregate view spec.md §6 names and SPEC_FULL.md §6.2
// extends with a per-status and per-stack-root breakdown.
type Stats struct {
	Total         int
	ByStatus      map[types.Status]int
	ByStackRoot   map[string]int
	PendingDepth  int
	OldestPending *time.Time
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	EntryID int64 // 0 = unconstrained
	Kind    types.EventKind
	AfterID int64 // exclusive cursor
}

// Store is the durable persistence and atomic-state-change interface
// described in spec.md §4.1. All mutating methods execute inside a
// serialisable transaction and append the event describing the change in
// that same transaction (invariant 7, spec.md §3).
type Store interface {
	// InsertOrUpsert implements spec.md §4.2's idempotent upsert keyed on
	// dedupe_key, returning the resulting entry and whether it was newly
	// inserted (as opposed to an update of an existing non-terminal entry,
	// or a fresh resubmission over only-terminal history).
	InsertOrUpsert(ctx context.Context, fields SubmitFields, dedupeKey string, stackState types.StackState, stackDepth int, stackRoot string) (entry *types.Entry, created bool, err error)

	// Transition performs a conditional lifecycle move: it fails with
	// InvalidTransition if the entry's current status is not "from", or if
	// the move itself is illegal per the status machine. patch carries any
	// additional field updates to apply atomically with the transition.
	Transition(ctx context.Context, entryID int64, from, to types.Status, patch EntryPatch, actor string, eventKind types.EventKind, payload map[string]any) (*types.Entry, error)

	// ClaimNext implements spec.md §4.4: atomically selects the earliest
	// eligible pending entry by claim order, stamps ownership and lease,
	// increments attempts, and emits "claimed". Returns (nil, nil) if no
	// eligible entry exists.
	ClaimNext(ctx context.Context, agentID string, leaseDuration time.Duration, filter Filter) (*types.Entry, error)

	// Renew extends an existing lease. Returns NotLockHolder if agentID is
	// not the current owner.
	Renew(ctx context.Context, entryID int64, agentID string, extension time.Duration) (*types.Entry, error)

	// Release is the inverse of claim: it verifies agentID matches the
	// current owner, applies outcome-specific patch fields, and transitions
	// the entry per outcome's lifecycle target.
	Release(ctx context.Context, entryID int64, agentID string, to types.Status, patch EntryPatch, eventKind types.EventKind, payload map[string]any) (*types.Entry, error)

	// TransitionStack performs a conditional stack-substate move,
	// independent of the entry's lifecycle Status, validated against
	// types.CanTransitionStack. Used by the parent-merge fan-out (spec.md
	// §4.6).
	TransitionStack(ctx context.Context, entryID int64, from, to types.StackState, actor string, eventKind types.EventKind, payload map[string]any) (*types.Entry, error)

	// ReclaimStale implements spec.md §4.7: finds entries whose lease
	// expired more than grace ago, returns them to pending, and reports
	// their ids.
	ReclaimStale(ctx context.Context, now time.Time, grace time.Duration) ([]int64, error)

	// AppendEvent records an audit event. It is exposed directly for
	// callers (e.g. the worker pipeline's rebase/test phases) that need to
	// emit an event without an accompanying status transition.
	AppendEvent(ctx context.Context, entryID int64, kind types.EventKind, actor string, payload map[string]any) (*types.Event, error)

	// Children returns all direct children of a workspace, with no filter
	// on status or stack substate, used by the stack layer's parent-merge
	// fan-out.
	Children(ctx context.Context, parentWorkspace string) ([]*types.Entry, error)

	// Get, GetByWorkspace, Query, ListEvents, Stats are the read-side API
	// from spec.md §4.1/§4.8 plus SPEC_FULL.md §6's event-cursoring and
	// stats-breakdown additions.
	Get(ctx context.Context, id int64) (*types.Entry, error)
	GetByWorkspace(ctx context.Context, workspace string) (*types.Entry, error)
	Query(ctx context.Context, filter Filter, order Order, limit int) ([]*types.Entry, error)
	ListEvents(ctx context.Context, filter EventFilter, limit int) ([]*types.Event, error)
	Stats(ctx context.Context) (Stats, error)

	// RetentionSweep deletes terminal entries (and their events) whose
	// UpdatedAt is older than olderThan, implementing SPEC_FULL.md §6.4.
	// It returns the number of entries removed.
	RetentionSweep(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

// EntryPatch carries optional field updates applied alongside a
// Transition/Release call. A nil pointer field means "leave unchanged"
// (a pointer to "" sets the column to ""); ClearX flags explicitly null out a nullable column,
// distinguishing "don't touch" from "set to empty" the way the teacher's
// update-map pattern in queries.go does via presence-in-map rather than
// zero values.
type EntryPatch struct {
	Priority         *int
	BeadID           *string
	ParentWorkspace  *string
	AgentID          *string
	ClearAgentID     bool
	LeaseUntil       *time.Time
	ClearLeaseUntil  bool
	Attempts         *int
	LastError        *string
	LastErrorKind    *string
	TestedAgainstSHA *string
	ClearTestedSHA   bool
	MergedSHA        *string
	StackState       *types.StackState
	StackDepth       *int
	StackRoot        *string
}
