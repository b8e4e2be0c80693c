package model

// TrialState represents the persisted lifecycle state of a Trial.
type TrialState string

const (
	TrialReady    TrialState = "ready"
	TrialRunning  TrialState = "running"
	TrialFinished TrialState = "finished"
	TrialFailure  TrialState = "failure"
	TrialTimeout  TrialState = "timeout"
)

// String returns the string representation of the trial state.
func (s TrialState) String() string {
	return string(s)
}

// IsTerminal returns true if the trial is in a final state.
func (s TrialState) IsTerminal() bool {
	switch s {
	case TrialFinished, TrialFailure, TrialTimeout:
		return true
	}
	return false
}

// ValidTrialTransitions defines the allowed forward transitions. The only
// backward move is the resume rollback, which is handled by the store and
// bypasses this table deliberately.
var ValidTrialTransitions = map[TrialState][]TrialState{
	TrialReady:   {TrialRunning},
	TrialRunning: {TrialFinished, TrialFailure, TrialTimeout},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TrialState) CanTransitionTo(next TrialState) bool {
	for _, allowed := range ValidTrialTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
