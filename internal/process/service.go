package process

import (
	"context"
	"errors"
	"time"

	"github.com/kieranlane/mergequeue/internal/queue"
	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// Service implements spec.md §6's process interface over a Queue and its
// backing Store, the seam cmd/mergequeued's cobra commands call through so
// the CLI itself stays a thin presentation layer.
type Service struct {
	Queue *queue.Queue
	Store storage.Store
}

// New builds a Service over q and its backing store.
func New(q *queue.Queue, store storage.Store) *Service {
	return &Service{Queue: q, Store: store}
}

// SubmitResult is submit's {entry, created} payload.
type SubmitResult struct {
	Entry   *types.Entry `json:"entry"`
	Created bool         `json:"created"`
}

// Submit implements spec.md §6's submit(fields) -> {entry, created}.
func (s *Service) Submit(ctx context.Context, req queue.SubmitRequest) Envelope[SubmitResult] {
	entry, created, err := s.Queue.Submit(ctx, req)
	if err != nil {
		return Fail[SubmitResult](err)
	}
	return Ok(SubmitResult{Entry: entry, Created: created})
}

// Claim implements claim(agent_id, lease_duration, filter?) -> entry?.
func (s *Service) Claim(ctx context.Context, agentID string, leaseDuration time.Duration, filter storage.Filter) Envelope[*types.Entry] {
	entry, err := s.Queue.Claim(ctx, agentID, leaseDuration, filter)
	if err != nil {
		return Fail[*types.Entry](err)
	}
	return Ok(entry)
}

// Renew implements renew(entry_id, agent_id, extension) -> ok.
func (s *Service) Renew(ctx context.Context, entryID int64, agentID string, extension time.Duration) Envelope[*types.Entry] {
	entry, err := s.Queue.Renew(ctx, entryID, agentID, extension)
	if err != nil {
		return Fail[*types.Entry](err)
	}
	return Ok(entry)
}

// Report implements report(entry_id, agent_id, outcome, payload) -> ok,
// delegating the outcome-to-status/patch mapping to the caller since only
// a worker pipeline phase knows which outcome produced which target state.
func (s *Service) Report(ctx context.Context, entryID int64, agentID string, to types.Status, patch storage.EntryPatch, eventKind types.EventKind, payload map[string]any) Envelope[*types.Entry] {
	entry, err := s.Queue.Report(ctx, entryID, agentID, to, patch, eventKind, payload)
	if err != nil {
		return Fail[*types.Entry](err)
	}
	return Ok(entry)
}

// Yield implements yield(entry_id, agent_id) -> ok, spec.md §9's resolved
// voluntary-preemption Open Question: return a held entry to pending
// without spending an attempt.
func (s *Service) Yield(ctx context.Context, entryID int64, agentID string) Envelope[*types.Entry] {
	entry, err := s.Queue.Yield(ctx, entryID, agentID)
	if err != nil {
		return Fail[*types.Entry](err)
	}
	return Ok(entry)
}

// Cancel implements cancel(entry_id) -> ok.
func (s *Service) Cancel(ctx context.Context, entryID int64, actor string) Envelope[*types.Entry] {
	entry, err := s.Queue.Cancel(ctx, entryID, actor)
	if err != nil {
		return Fail[*types.Entry](err)
	}
	return Ok(entry)
}

// ReclaimStaleResult is reclaim_stale's count payload.
type ReclaimStaleResult struct {
	ReclaimedIDs []int64 `json:"reclaimed_ids"`
	Count        int     `json:"count"`
}

// ReclaimStale implements reclaim_stale(grace?) -> count.
func (s *Service) ReclaimStale(ctx context.Context, grace time.Duration) Envelope[ReclaimStaleResult] {
	ids, err := s.Store.ReclaimStale(ctx, time.Now(), grace)
	if err != nil {
		return Fail[ReclaimStaleResult](err)
	}
	return Ok(ReclaimStaleResult{ReclaimedIDs: ids, Count: len(ids)})
}

// List implements list(filter, order, limit).
func (s *Service) List(ctx context.Context, filter storage.Filter, order storage.Order, limit int) Envelope[[]*types.Entry] {
	entries, err := s.Store.Query(ctx, filter, order, limit)
	if err != nil {
		return Fail[[]*types.Entry](err)
	}
	return Ok(entries)
}

// Status implements status(entry_id | workspace); idOrWorkspace is parsed
// by the caller (cmd/mergequeued) into exactly one of the two lookups.
func (s *Service) Status(ctx context.Context, id int64, workspace string) Envelope[*types.Entry] {
	if workspace != "" {
		entry, err := s.Store.GetByWorkspace(ctx, workspace)
		if err != nil {
			return Fail[*types.Entry](err)
		}
		return Ok(entry)
	}
	entry, err := s.Store.Get(ctx, id)
	if err != nil {
		return Fail[*types.Entry](err)
	}
	return Ok(entry)
}

// ListEvents implements SPEC_FULL.md §6's event-cursoring addition to the
// process interface: list_events(filter, limit) -> events.
func (s *Service) ListEvents(ctx context.Context, filter storage.EventFilter, limit int) Envelope[[]*types.Event] {
	events, err := s.Store.ListEvents(ctx, filter, limit)
	if err != nil {
		return Fail[[]*types.Event](err)
	}
	return Ok(events)
}

// Stats implements stats().
func (s *Service) Stats(ctx context.Context) Envelope[storage.Stats] {
	stats, err := s.Store.Stats(ctx)
	if err != nil {
		return Fail[storage.Stats](err)
	}
	return Ok(stats)
}

// ExitCode extracts the spec.md §6 exit code for a (possibly nil) process
// error: 0 on success, the mqerrors.Kind-derived code otherwise, or
// ExitCancelled when the underlying op was itself a cancellation.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	kind := mqerrors.KindOf(err)
	return ExitCodeFor(kind)
}
