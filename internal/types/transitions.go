package types

import "github.com/kieranlane/mergequeue/internal/types/mqerrors"

// transitionKey identifies a (from, to) pair in the lifecycle transition
// table. Implementers must not branch on string comparisons against
// Status/StackState elsewhere — this table is the only place legality is
// decided (spec.md §4.3).
type transitionKey struct {
	From Status
	To   Status
}

// legalLifecycleTransitions enumerates every allowed (from, to) pair from
// spec.md §4.3. Cancellation ("any non-terminal -> cancelled") is handled
// separately in CanTransition since it is not keyed on a single From.
var legalLifecycleTransitions = map[transitionKey]bool{
	{StatusPending, StatusProcessing}:         true, // claim
	{StatusProcessing, StatusReadyToMerge}:    true, // test passed
	{StatusProcessing, StatusFailedRetryable}: true, // retryable error, attempts < max
	{StatusProcessing, StatusFailedTerminal}:  true, // terminal error, or attempts == max
	{StatusProcessing, StatusPending}:         true, // voluntary yield / reclamation
	{StatusReadyToMerge, StatusProcessing}:    true, // stale result, needs re-test
	{StatusReadyToMerge, StatusMerged}:        true, // fresh merge commit created
	{StatusFailedRetryable, StatusPending}:    true, // after backoff
}

// CanTransition reports whether moving an entry's lifecycle Status from
// "from" to "to" is legal.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	return legalLifecycleTransitions[transitionKey{from, to}]
}

// Transition validates and would-be-applies a lifecycle move, returning an
// InvalidTransition error if illegal. It does not mutate the entry itself;
// callers apply the new status after a successful check inside their own
// transaction (see storage/sqlite).
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return mqerrors.Newf(mqerrors.KindInvalidTransition, "types.Transition",
			"illegal lifecycle transition %s -> %s", from, to)
	}
	return nil
}

// stackTransitionKey identifies a (from, to) pair in the stack-substate
// transition table.
type stackTransitionKey struct {
	From StackState
	To   StackState
}

// legalStackTransitions enumerates every allowed stack-substate move from
// spec.md §4.3.
// Note: "rebasing -> failed_retryable" in spec.md §4.3 describes the
// lifecycle transition a rebase conflict triggers (StatusProcessing ->
// StatusFailedRetryable), not a StackState move; a conflicted child's
// StackState simply stays StackRebasing until retried. It is therefore not
// represented in this table.
var legalStackTransitions = map[stackTransitionKey]bool{
	{StackBlockedByParent, StackUnblocked}: true, // parent reached merged
	{StackUnblocked, StackRebasing}:        true, // worker begins rebasing child
	{StackRebasing, StackUnblocked}:        true, // rebase produced fresh state
	{StackUnblocked, StackMerged}:          true, // child itself reached merged
}

// CanTransitionStack reports whether moving a stack substate from "from"
// to "to" is legal. stack_merged is terminal for the substate: no further
// moves are legal out of it.
func CanTransitionStack(from, to StackState) bool {
	if from == StackMerged {
		return false
	}
	return legalStackTransitions[stackTransitionKey{from, to}]
}

// TransitionStack validates a stack-substate move.
func TransitionStack(from, to StackState) error {
	if !CanTransitionStack(from, to) {
		return mqerrors.Newf(mqerrors.KindInvalidTransition, "types.TransitionStack",
			"illegal stack transition %s -> %s", from, to)
	}
	return nil
}
