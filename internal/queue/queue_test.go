package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kieranlane/mergequeue/internal/queue"
	"github.com/kieranlane/mergequeue/internal/storage"
	"github.com/kieranlane/mergequeue/internal/storage/sqlite"
	"github.com/kieranlane/mergequeue/internal/types"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	store, err := sqlite.Open(context.Background(), "file::memory:?mode=memory&cache=private")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return queue.New(store, nil)
}

func TestSubmit_NewRootEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, created, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, types.StackNotApplicable, entry.StackState)
	require.Equal(t, "ws-a", entry.StackRoot)
	require.Equal(t, 0, entry.StackDepth)
}

func TestSubmit_RejectsEmptyWorkspace(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{})
	require.Error(t, err)
}

func TestSubmit_RejectsSelfParent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a", ParentWorkspace: "ws-a"})
	require.Error(t, err)
}

func TestSubmit_RejectsUnreachableParent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child", ParentWorkspace: "ws-missing"})
	require.Error(t, err)
}

func TestSubmit_ChildBlockedByNonTerminalParent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-parent"})
	require.NoError(t, err)

	child, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child", ParentWorkspace: "ws-parent"})
	require.NoError(t, err)
	require.Equal(t, types.StackBlockedByParent, child.StackState)
	require.Equal(t, "ws-parent", child.StackRoot)
	require.Equal(t, 1, child.StackDepth)
}

func TestSubmit_ChildUnblockedWhenParentAlreadyMerged(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	parent, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-parent"})
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, parent.ID, claimed.ID)

	_, err = q.Report(ctx, claimed.ID, "agent-1", types.StatusReadyToMerge, storage.EntryPatch{}, types.EventReady, nil)
	require.NoError(t, err)
	sha := "deadbeef"
	_, err = q.Report(ctx, claimed.ID, "agent-1", types.StatusMerged, storage.EntryPatch{MergedSHA: &sha}, types.EventMerged, nil)
	require.NoError(t, err)

	child, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child", ParentWorkspace: "ws-parent"})
	require.NoError(t, err)
	require.Equal(t, types.StackUnblocked, child.StackState)
}

func TestSubmit_RejectsParentFailedTerminal(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	parent, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-parent"})
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, parent.ID, claimed.ID)

	_, err = q.Report(ctx, claimed.ID, "agent-1", types.StatusFailedTerminal,
		storage.EntryPatch{}, types.EventFailedTerminal, nil)
	require.NoError(t, err)

	_, _, err = q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child", ParentWorkspace: "ws-parent"})
	require.Error(t, err, "a failed_terminal parent can never unblock a child")
}

func TestSubmit_RejectsParentCancelled(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	submitted, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-parent"})
	require.NoError(t, err)
	parent, err := q.Cancel(ctx, submitted.ID, "operator")
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, parent.Status)

	_, _, err = q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child", ParentWorkspace: "ws-parent"})
	require.Error(t, err, "a cancelled parent can never unblock a child")
}

func TestSubmit_RejectsStackCycle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)
	_, _, err = q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-b", ParentWorkspace: "ws-a"})
	require.NoError(t, err)

	// ws-a cannot retroactively become ws-b's child: this would form a
	// cycle once walked (ws-a -> ws-b -> ws-a).
	_, _, err = q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a", ParentWorkspace: "ws-b"})
	require.Error(t, err, "resubmitting ws-a under its own descendant must fail validation")
}

func TestOnParentMerged_UnblocksOnlyBlockedChildren(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-parent"})
	require.NoError(t, err)
	blocked, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-child-1", ParentWorkspace: "ws-parent"})
	require.NoError(t, err)
	require.Equal(t, types.StackBlockedByParent, blocked.StackState)

	unblocked, err := q.OnParentMerged(ctx, "ws-parent")
	require.NoError(t, err)
	require.Len(t, unblocked, 1)
	require.Equal(t, types.StackUnblocked, unblocked[0].StackState)

	again, err := q.OnParentMerged(ctx, "ws-parent")
	require.NoError(t, err)
	require.Empty(t, again, "children already unblocked are left alone on a second fan-out")
}

func TestYield_ReturnsToPendingWithoutIncrementingAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	submitted, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)
	require.Equal(t, 0, submitted.Attempts)

	claimed, err := q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessing, claimed.Status)
	require.Equal(t, 1, claimed.Attempts, "claiming increments attempts")

	yielded, err := q.Yield(ctx, claimed.ID, "agent-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, yielded.Status)
	require.Equal(t, 1, yielded.Attempts, "yielding must not increment attempts again")
	require.Empty(t, yielded.AgentID, "yield releases the lease back to the pool")

	reclaimed, err := q.Claim(ctx, "agent-2", time.Minute, storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, claimed.ID, reclaimed.ID)
	require.Equal(t, 2, reclaimed.Attempts)
}

func TestYield_RejectsNonHoldingAgent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	submitted, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)
	_, err = q.Claim(ctx, "agent-1", time.Minute, storage.Filter{})
	require.NoError(t, err)

	_, err = q.Yield(ctx, submitted.ID, "agent-2")
	require.Error(t, err, "yield must verify the caller actually holds the lease")
}

func TestCancel_RejectsAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, _, err := q.Submit(ctx, queue.SubmitRequest{Workspace: "ws-a"})
	require.NoError(t, err)

	_, err = q.Cancel(ctx, entry.ID, "operator")
	require.NoError(t, err)

	_, err = q.Cancel(ctx, entry.ID, "operator")
	require.Error(t, err)
}
