package vcs

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a deterministic in-memory Adapter for tests: no real VCS calls,
// no timing dependence, and fully scriptable per-workspace outcomes.
// Mirrors the teacher's in-memory test doubles (e.g. test_helpers.go's
// isolated-store-per-test pattern) adapted to a capability interface
// instead of a storage backend.
type Fake struct {
	mu sync.Mutex

	head        string
	mergeSeq    int
	conflicts   map[string]bool
	testResults map[string]TestResult
	rejections  map[string]bool
	forgotten   map[string]bool
}

var _ Adapter = (*Fake)(nil)

// NewFake builds a Fake whose trunk head starts at initialHead.
func NewFake(initialHead string) *Fake {
	return &Fake{
		head:        initialHead,
		conflicts:   map[string]bool{},
		testResults: map[string]TestResult{},
		rejections:  map[string]bool{},
		forgotten:   map[string]bool{},
	}
}

// SetRebaseConflict scripts every later Rebase call for workspace to report
// a conflict (or not), until it is set again.
func (f *Fake) SetRebaseConflict(workspace string, conflict bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[workspace] = conflict
}

// SetTestResult scripts every later Test call for workspace to return
// result, until it is set again.
func (f *Fake) SetTestResult(workspace string, result TestResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testResults[workspace] = result
}

// SetMergeRejected scripts every later Merge call for workspace to report a
// push rejection (or not), until it is set again, simulating a concurrent
// trunk advance.
func (f *Fake) SetMergeRejected(workspace string, rejected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections[workspace] = rejected
}

// Head returns the current trunk head.
func (f *Fake) Head(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

// Rebase reports the scripted conflict for workspace, defaulting to a
// clean rebase onto the current head.
func (f *Fake) Rebase(ctx context.Context, workspace string) (RebaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts[workspace] {
		return RebaseResult{Conflict: true}, nil
	}
	return RebaseResult{Head: f.head}, nil
}

// Test reports the scripted result for workspace, defaulting to a pass
// against the current head.
func (f *Fake) Test(ctx context.Context, workspace string) (TestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if result, ok := f.testResults[workspace]; ok {
		if result.Head == "" {
			result.Head = f.head
		}
		return result, nil
	}
	return TestResult{Passed: true, Head: f.head}, nil
}

// Merge advances trunk with a deterministic, monotonically numbered merge
// SHA unless testedAgainstSHA no longer matches the current head or a
// rejection was scripted.
func (f *Fake) Merge(ctx context.Context, workspace, testedAgainstSHA string) (MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejections[workspace] {
		return MergeResult{Rejected: true}, nil
	}
	if testedAgainstSHA != f.head {
		return MergeResult{Rejected: true}, nil
	}
	f.mergeSeq++
	f.head = fmt.Sprintf("M%d", f.mergeSeq)
	return MergeResult{MergedSHA: f.head}, nil
}

// ForgetWorkspace records that workspace's VCS-side state was released.
func (f *Fake) ForgetWorkspace(ctx context.Context, workspace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten[workspace] = true
	return nil
}

// AdvanceHead forcibly moves the trunk head, for tests that simulate a
// concurrent merge landing between an entry's test and merge phases.
func (f *Fake) AdvanceHead(sha string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = sha
}

// Forgotten reports whether ForgetWorkspace was called for workspace,
// exposed for test assertions.
func (f *Fake) Forgotten(workspace string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forgotten[workspace]
}
