// Package worker runs the claimed-entry pipeline (rebase, test, freshness
// guard, merge) against a vcs.Adapter, generalizing the teacher's
// daemon-loop shape (cmd/bd/daemon_event_loop.go) from a JSONL sync loop
// to a leased work queue.
package worker

import (
	"context"
	"errors"

	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// ClassifyError maps an arbitrary error returned by a vcs.Adapter call to
// one of spec.md §7's kinds. It is a pure function, as the spec requires,
// so the classification rules are testable independent of any live VCS
// call. Phase outcomes that already carry an explicit kind (a scripted
// RebaseConflict, a failed TestResult, a rejected MergeResult) bypass this
// and construct their kind directly; ClassifyError only covers the
// unexpected-error path.
func ClassifyError(err error) mqerrors.Kind {
	if err == nil {
		return mqerrors.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return mqerrors.KindTimeout
	}
	var merr *mqerrors.Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return mqerrors.KindUnknown
}
