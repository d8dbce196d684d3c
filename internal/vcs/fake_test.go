package vcs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kieranlane/mergequeue/internal/vcs"
)

func TestFake_MergeAdvancesHeadAndIsObservable(t *testing.T) {
	ctx := context.Background()
	fake := vcs.NewFake("H1")

	head, err := fake.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, "H1", head)

	result, err := fake.Merge(ctx, "ws-a", "H1")
	require.NoError(t, err)
	require.False(t, result.Rejected)
	require.NotEmpty(t, result.MergedSHA)

	head, err = fake.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, result.MergedSHA, head)
}

func TestFake_MergeRejectsStaleTestedSHA(t *testing.T) {
	ctx := context.Background()
	fake := vcs.NewFake("H1")

	_, err := fake.Merge(ctx, "ws-a", "H1")
	require.NoError(t, err)

	result, err := fake.Merge(ctx, "ws-b", "H1")
	require.NoError(t, err)
	require.True(t, result.Rejected, "ws-b tested against a head that is no longer current")
}

func TestFake_ScriptedRebaseConflict(t *testing.T) {
	ctx := context.Background()
	fake := vcs.NewFake("H1")
	fake.SetRebaseConflict("ws-a", true)

	result, err := fake.Rebase(ctx, "ws-a")
	require.NoError(t, err)
	require.True(t, result.Conflict)
}

func TestFake_ScriptedTestFailure(t *testing.T) {
	ctx := context.Background()
	fake := vcs.NewFake("H1")
	fake.SetTestResult("ws-a", vcs.TestResult{Passed: false})

	result, err := fake.Test(ctx, "ws-a")
	require.NoError(t, err)
	require.False(t, result.Passed)
	require.Equal(t, "H1", result.Head, "Head is backfilled from the current trunk head when unset")
}

func TestFake_ForgetWorkspaceIsObservable(t *testing.T) {
	ctx := context.Background()
	fake := vcs.NewFake("H1")
	require.False(t, fake.Forgotten("ws-a"))

	require.NoError(t, fake.ForgetWorkspace(ctx, "ws-a"))
	require.True(t, fake.Forgotten("ws-a"))
}
