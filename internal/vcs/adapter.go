// Package vcs defines the narrow VCS adapter capability set spec.md §1/§9
// names as the core's only blocking boundary: rebase, test, merge, head,
// and forget-workspace. Only a deterministic in-memory fake lives here;
// a real Jujutsu-backed implementation is out of scope (spec.md §1's
// Non-goals treat "the VCS itself" as an external collaborator).
package vcs

import "context"

// RebaseResult reports the outcome of reapplying a workspace's changes on
// top of the current trunk head (spec.md §4.5 phase 1).
type RebaseResult struct {
	Conflict bool
	Head     string // trunk head the workspace now sits on, if no conflict
}

// TestResult reports the outcome of running the configured test command in
// a workspace (spec.md §4.5 phase 2).
type TestResult struct {
	Passed      bool
	InfraFailed bool   // true if the runner itself crashed/timed out, not the tests
	Head        string // trunk head the workspace was tested against
}

// MergeResult reports the outcome of creating a merge commit and advancing
// trunk (spec.md §4.5 phase 4).
type MergeResult struct {
	Rejected  bool // true if trunk advanced concurrently (push rejection)
	MergedSHA string
}

// Adapter is the capability set a worker's pipeline needs from the VCS,
// matching spec.md §9's "Dynamic dispatch / adapter variation" testable
// property: represented as an interface with one production-shaped
// implementation per VCS and a deterministic fake for tests.
type Adapter interface {
	// Rebase reapplies workspace's changes on top of the current trunk head.
	Rebase(ctx context.Context, workspace string) (RebaseResult, error)

	// Test runs the configured test command in workspace.
	Test(ctx context.Context, workspace string) (TestResult, error)

	// Merge creates a merge commit for workspace and advances trunk, failing
	// if head has moved since testedAgainstSHA was observed.
	Merge(ctx context.Context, workspace, testedAgainstSHA string) (MergeResult, error)

	// Head returns the current trunk head SHA.
	Head(ctx context.Context) (string, error)

	// ForgetWorkspace releases any VCS-side state associated with workspace
	// (e.g. a working copy or temporary branch) once its entry reaches a
	// terminal status.
	ForgetWorkspace(ctx context.Context, workspace string) error
}
