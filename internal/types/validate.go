package types

import (
	"strings"

	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// ValidateSubmission checks the fields a submitter controls directly,
// independent of any parent-chain walk (which requires Store access and
// lives in internal/queue). It mirrors the teacher's issue.Validate()
// shape: a pure function over the struct's own fields.
func (e *Entry) ValidateSubmission() error {
	if strings.TrimSpace(e.Workspace) == "" {
		return mqerrors.Newf(mqerrors.KindValidation, "Entry.ValidateSubmission",
			"workspace must not be empty")
	}
	if e.Priority < 0 {
		return mqerrors.Newf(mqerrors.KindValidation, "Entry.ValidateSubmission",
			"priority must be >= 0, got %d", e.Priority)
	}
	if e.MaxAttempts <= 0 {
		return mqerrors.Newf(mqerrors.KindValidation, "Entry.ValidateSubmission",
			"max_attempts must be > 0, got %d", e.MaxAttempts)
	}
	if e.ParentWorkspace != "" && e.ParentWorkspace == e.Workspace {
		return mqerrors.Newf(mqerrors.KindValidation, "Entry.ValidateSubmission",
			"workspace cannot be its own parent")
	}
	return nil
}

// ClaimOrder is the tuple spec.md §4.4/§5 claim ordering sorts by:
// (priority ASC, created_at ASC, id ASC).
type ClaimOrder struct {
	Priority  int
	CreatedAt int64 // unix nanos, for stable ordering independent of monotonic reads
	ID        int64
}

// Less implements the comparison spec.md §5 "Ordering guarantees" names.
func (a ClaimOrder) Less(b ClaimOrder) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
