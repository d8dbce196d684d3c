package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kieranlane/mergequeue/internal/queue"
	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/storage/sqlite"
	"github.com/kieranlane/mergequeue/internal/types"
	"github.com/kieranlane/mergequeue/internal/vcs"
	"github.com/kieranlane/mergequeue/internal/worker"
)

func newHarness(t *testing.T) (*queue.Queue, *vcs.Fake) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), "file::memory:?mode=memory&cache=private")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return queue.New(store, nil), vcs.NewFake("H1")
}

func TestPipeline_SingleSubmitMerge(t *testing.T) {
	ctx := context.Background()
	q, fake := newHarness(t)
	pipeline := worker.NewPipeline(q, fake, time.Minute, nil)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	final, err := pipeline.RunOnce(ctx, claimed, "agent-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusMerged, final.Status)
	require.NotEmpty(t, final.MergedSHA)
	require.Equal(t, "H1", final.TestedAgainstSHA)
}

func TestPipeline_StaleHeadTriggersRetest(t *testing.T) {
	ctx := context.Background()
	q, fake := newHarness(t)
	pipeline := worker.NewPipeline(q, fake, time.Minute, nil)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)

	// Simulate another entry's merge landing between test and freshness
	// check by advancing trunk right after the first Test call returns.
	pipeline.VCS = &advanceAfterFirstTest{Fake: fake, next: "H2"}

	final, err := pipeline.RunOnce(ctx, claimed, "agent-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusMerged, final.Status)
	require.Equal(t, "H2", final.TestedAgainstSHA, "the re-test must run against the new head")
}

// advanceAfterFirstTest moves trunk to next once the first Test call has
// reported its result, so that result is stale by the freshness check.
type advanceAfterFirstTest struct {
	*vcs.Fake
	next string
	done bool
}

func (a *advanceAfterFirstTest) Test(ctx context.Context, workspace string) (vcs.TestResult, error) {
	result, err := a.Fake.Test(ctx, workspace)
	if !a.done {
		a.done = true
		a.Fake.AdvanceHead(a.next)
	}
	return result, err
}

func TestPipeline_StackChildUnblockedOnParentMerge(t *testing.T) {
	ctx := context.Background()
	q, fake := newHarness(t)
	pipeline := worker.NewPipeline(q, fake, time.Minute, nil)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-parent"})
	require.NoError(t, err)
	child, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child", ParentWorkspace: "ws-parent"})
	require.NoError(t, err)
	require.Equal(t, types.StackBlockedByParent, child.StackState)

	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, "ws-parent", claimed.Workspace)

	_, err = pipeline.RunOnce(ctx, claimed, "agent-1")
	require.NoError(t, err)

	reloaded, err := q.Claim(ctx, "agent-2", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.NotNil(t, reloaded, "the child is now claimable once unblocked")
	require.Equal(t, "ws-child", reloaded.Workspace)
}

func TestPipeline_RebaseConflictRetriesUntilAttemptBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	q, fake := newHarness(t)
	pipeline := worker.NewPipeline(q, fake, time.Minute, nil)
	fake.SetRebaseConflict("ws-a", true)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a", MaxAttempts: 2})
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)
	final, err := pipeline.RunOnce(ctx, claimed, "agent-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailedRetryable, final.Status, "first conflict is within the attempt budget")

	_, err = q.Report(ctx, final.ID, "agent-1", types.StatusPending,
		storage.EntryPatch{ClearAgentID: true, ClearLeaseUntil: true}, types.EventReleased, nil)
	require.NoError(t, err)

	reclaimed, err := q.Claim(ctx, "agent-2", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	final2, err := pipeline.RunOnce(ctx, reclaimed, "agent-2")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailedTerminal, final2.Status, "the retry budget is hard once attempts == max_attempts")
}

func TestPipeline_TestFailureOnMeritsIsTerminal(t *testing.T) {
	ctx := context.Background()
	q, fake := newHarness(t)
	pipeline := worker.NewPipeline(q, fake, time.Minute, nil)
	fake.SetTestResult("ws-a", vcs.TestResult{Passed: false})

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)

	final, err := pipeline.RunOnce(ctx, claimed, "agent-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailedTerminal, final.Status)
	require.Equal(t, "TestFailedOnMerits", final.LastErrorKind)
}
