package workflow

// State is one stage of the human-in-the-loop lifecycle.
type State string

const (
	StateInterpreting State = "interpreting"
	StatePlanning     State = "planning"
	StateBackupVerify State = "backup_verify"
	StateExecuting    State = "executing"
	StateReviewing    State = "reviewing"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateError        State = "error"
	StateCancelled    State = "cancelled"
)

// validTransitions is the full transition graph. Error is reachable from any
// non-terminal state and is handled separately.
var validTransitions = map[State][]State{
	StateInterpreting: {StateInterpreting, StatePlanning},
	StatePlanning:     {StatePlanning, StateBackupVerify},
	StateBackupVerify: {StateExecuting},
	StateExecuting:    {StateReviewing},
	StateReviewing:    {StateFinalizing, StatePlanning},
	StateFinalizing:   {StateCompleted},
}

// CanTransition reports whether from→to is legal. Error and Cancelled are
// reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError || to == StateCancelled {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// AwaitingFeedback reports whether the state blocks on a human decision when
// its approval gate has not auto-approved.
func (s State) AwaitingFeedback() bool {
	return s == StateInterpreting || s == StatePlanning || s == StateReviewing
}
