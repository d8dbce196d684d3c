package process

import "github.com/kieranlane/mergequeue/internal/types/mqerrors"

// Exit codes from spec.md §6: authoritative for CLI consumers.
const (
	ExitSuccess        = 0
	ExitValidation     = 1
	ExitNotFound       = 2
	ExitSystem         = 3
	ExitExternalCommand = 4
	ExitLockOrNotOwner = 5
	ExitCancelled      = 130
)

// ExitCodeFromKind maps an ErrorDetail.Code string (the textual Kind) back
// to the exit code it implies, letting a caller holding only a serialized
// envelope (CLI output, a test assertion) look up the same code ExitCode
// would derive from the live error. The one exception is a context
// cancellation, which carries no Kind of its own: ExitCode maps it to
// ExitCancelled, while its envelope code "Unknown" maps to ExitSystem here.
func ExitCodeFromKind(code string) int {
	return ExitCodeFor(mqerrors.Kind(code))
}

// ExitCodeFor maps a mqerrors.Kind to the exit code spec.md §6 defines.
// Kinds with no explicit entry in that section fall back to ExitSystem,
// since they represent the core's own machinery misbehaving rather than
// a caller mistake.
func ExitCodeFor(kind mqerrors.Kind) int {
	switch kind {
	case mqerrors.KindValidation, mqerrors.KindInvalidTransition:
		return ExitValidation
	case mqerrors.KindNotFound, mqerrors.KindWorkspaceMissing:
		return ExitNotFound
	case mqerrors.KindNotLockHolder, mqerrors.KindLockContention:
		return ExitLockOrNotOwner
	case mqerrors.KindRebaseConflict, mqerrors.KindTestFailedOnMerits,
		mqerrors.KindTestInfraFailure, mqerrors.KindMergeRejected:
		return ExitExternalCommand
	case mqerrors.KindStoreError, mqerrors.KindTimeout, mqerrors.KindUnknown:
		return ExitSystem
	default:
		return ExitSystem
	}
}
