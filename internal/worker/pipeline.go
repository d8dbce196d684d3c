package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kieranlane/mergequeue/internal/identity"
	"github.com/kieranlane/mergequeue/internal/queue"
	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/types"
	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
	"github.com/kieranlane/mergequeue/internal/vcs"
)

// DefaultRenewAtFraction is the fraction of a lease's duration remaining at
// which the pipeline proactively renews, resolving the Open Question
// spec.md §9 raises about heartbeat cadence.
const DefaultRenewAtFraction = 0.5

// maxStaleRetries bounds the freshness-guard retry loop so a pathologically
// fast-moving trunk cannot wedge a single RunOnce call forever; hitting the
// bound surfaces as a retryable MergeRejected, leaving the normal attempt
// budget to eventually fail the entry terminal.
const maxStaleRetries = 8

// Pipeline runs the claimed-entry lifecycle through a vcs.Adapter, per
// spec.md §4.5: rebase, test, freshness guard, merge.
type Pipeline struct {
	Queue           *queue.Queue
	VCS             vcs.Adapter
	Log             *slog.Logger
	LeaseDuration   time.Duration
	RenewAtFraction float64
}

// NewPipeline builds a Pipeline with DefaultRenewAtFraction and a fallback
// logger when log is nil.
func NewPipeline(q *queue.Queue, adapter vcs.Adapter, leaseDuration time.Duration, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{Queue: q, VCS: adapter, Log: log, LeaseDuration: leaseDuration, RenewAtFraction: DefaultRenewAtFraction}
}

// RunOnce drives entry through every phase under agentID's lease,
// returning the entry's final state. Errors returned here are store
// failures (including a lost lease); VCS errors and test/merge outcomes are
// classified and recorded on the entry rather than returned.
func (p *Pipeline) RunOnce(ctx context.Context, entry *types.Entry, agentID string) (*types.Entry, error) {
	return p.run(ctx, entry, agentID, 0)
}

// run is RunOnce carrying the count of stale refreshes and rejected merges
// already taken, so a re-test after a stale refresh still counts toward
// maxStaleRetries.
func (p *Pipeline) run(ctx context.Context, entry *types.Entry, agentID string, staleRetries int) (*types.Entry, error) {
	corrID := identity.NewCorrelationID()
	p.Log.InfoContext(ctx, "pipeline run started", "workspace", entry.Workspace, "correlation_id", corrID)

	entry, err := p.maybeRenew(ctx, entry, agentID)
	if err != nil {
		return nil, err
	}

	rebase, err := p.VCS.Rebase(ctx, entry.Workspace)
	if err != nil {
		return p.fail(ctx, entry, agentID, corrID, ClassifyError(err), err)
	}
	if rebase.Conflict {
		return p.fail(ctx, entry, agentID, corrID, mqerrors.KindRebaseConflict, fmt.Errorf("rebase conflict on %s", entry.Workspace))
	}
	if _, err := p.Queue.Event(ctx, entry.ID, types.EventRebased, agentID, map[string]any{"head": rebase.Head, "correlation_id": corrID}); err != nil {
		return nil, err
	}

	test, err := p.VCS.Test(ctx, entry.Workspace)
	if err != nil {
		return p.fail(ctx, entry, agentID, corrID, ClassifyError(err), err)
	}
	if _, err := p.Queue.Event(ctx, entry.ID, types.EventTested, agentID, map[string]any{"passed": test.Passed, "head": test.Head, "correlation_id": corrID}); err != nil {
		return nil, err
	}
	if !test.Passed {
		kind := mqerrors.KindTestFailedOnMerits
		if test.InfraFailed {
			kind = mqerrors.KindTestInfraFailure
		}
		return p.fail(ctx, entry, agentID, corrID, kind, fmt.Errorf("test failed for %s", entry.Workspace))
	}

	testedSHA := test.Head
	entry, err = p.Queue.Report(ctx, entry.ID, agentID, types.StatusReadyToMerge, storage.EntryPatch{TestedAgainstSHA: &testedSHA}, types.EventReady, nil)
	if err != nil {
		return nil, err
	}

	return p.freshnessGuardAndMerge(ctx, entry, agentID, corrID, staleRetries)
}

// freshnessGuardAndMerge implements spec.md §4.5 phases 3 and 4: re-read
// trunk head before merging, looping back through a re-test if it moved,
// and retrying the freshness check if the merge itself is rejected by a
// concurrent trunk advance.
func (p *Pipeline) freshnessGuardAndMerge(ctx context.Context, entry *types.Entry, agentID, corrID string, staleRetries int) (*types.Entry, error) {
	if staleRetries > maxStaleRetries {
		return p.fail(ctx, entry, agentID, corrID, mqerrors.KindMergeRejected, fmt.Errorf("trunk did not settle after %d stale refreshes", maxStaleRetries))
	}

	entry, err := p.maybeRenew(ctx, entry, agentID)
	if err != nil {
		return nil, err
	}

	head, err := p.VCS.Head(ctx)
	if err != nil {
		return p.fail(ctx, entry, agentID, corrID, ClassifyError(err), err)
	}

	if entry.TestedAgainstSHA != head {
		entry, err = p.Queue.Report(ctx, entry.ID, agentID, types.StatusProcessing, storage.EntryPatch{}, types.EventStaleRefresh, map[string]any{"head": head, "correlation_id": corrID})
		if err != nil {
			return nil, err
		}
		restarted, err := p.run(ctx, entry, agentID, staleRetries+1)
		if err != nil {
			return nil, err
		}
		return restarted, nil
	}

	merge, err := p.VCS.Merge(ctx, entry.Workspace, entry.TestedAgainstSHA)
	if err != nil {
		return p.fail(ctx, entry, agentID, corrID, ClassifyError(err), err)
	}
	if merge.Rejected {
		return p.freshnessGuardAndMerge(ctx, entry, agentID, corrID, staleRetries+1)
	}

	mergedSHA := merge.MergedSHA
	final, err := p.Queue.Report(ctx, entry.ID, agentID, types.StatusMerged, storage.EntryPatch{MergedSHA: &mergedSHA}, types.EventMerged, nil)
	if err != nil {
		return nil, err
	}

	if _, err := p.Queue.OnParentMerged(ctx, final.Workspace); err != nil {
		p.Log.WarnContext(ctx, "parent-merge fan-out failed", "workspace", final.Workspace, "error", err)
	}
	if err := p.VCS.ForgetWorkspace(ctx, final.Workspace); err != nil {
		p.Log.WarnContext(ctx, "forget workspace failed", "workspace", final.Workspace, "error", err)
	}

	return final, nil
}

// maybeRenew extends the lease when less than RenewAtFraction of its
// original duration remains, so a worker running a long phase never loses
// ownership mid-pipeline to the reclaimer.
func (p *Pipeline) maybeRenew(ctx context.Context, entry *types.Entry, agentID string) (*types.Entry, error) {
	if entry.LeaseUntil == nil || p.LeaseDuration <= 0 {
		return entry, nil
	}
	remaining := time.Until(*entry.LeaseUntil)
	threshold := time.Duration(float64(p.LeaseDuration) * p.RenewAtFraction)
	if remaining > threshold {
		return entry, nil
	}
	return p.Queue.Renew(ctx, entry.ID, agentID, p.LeaseDuration)
}

// fail records a classified failure on entry: retryable kinds return it to
// failed_retryable unless the attempt budget is exhausted, per §7's "the
// retry budget is hard" rule, in which case it becomes failed_terminal
// regardless of the kind's own retryability. The failed states are only
// reachable from processing (spec.md §4.3), so a failure surfacing while
// entry sits in ready_to_merge (e.g. the freshness guard's own head read)
// is first routed back through processing.
func (p *Pipeline) fail(ctx context.Context, entry *types.Entry, agentID, corrID string, kind mqerrors.Kind, cause error) (*types.Entry, error) {
	if entry.Status == types.StatusReadyToMerge {
		reverted, err := p.Queue.Report(ctx, entry.ID, agentID, types.StatusProcessing, storage.EntryPatch{}, types.EventStaleRefresh, map[string]any{"reason": "phase failure before merge", "correlation_id": corrID})
		if err != nil {
			return nil, fmt.Errorf("revert entry %d to processing before recording failure: %w", entry.ID, err)
		}
		entry = reverted
	}

	to := types.StatusFailedTerminal
	eventKind := types.EventFailedTerminal
	if kind.Retryable() && entry.Attempts < entry.MaxAttempts {
		to = types.StatusFailedRetryable
		eventKind = types.EventFailedRetryable
	}

	msg := cause.Error()
	kindStr := string(kind)
	patch := storage.EntryPatch{LastError: &msg, LastErrorKind: &kindStr}

	updated, err := p.Queue.Report(ctx, entry.ID, agentID, to, patch, eventKind, map[string]any{"kind": kindStr, "correlation_id": corrID})
	if err != nil {
		return nil, fmt.Errorf("record failure for entry %d: %w", entry.ID, err)
	}
	p.Log.InfoContext(ctx, "pipeline phase failed", "workspace", entry.Workspace, "kind", kindStr, "status", to, "correlation_id", corrID)
	return updated, nil
}
