package workflow

import "fmt"

// State is a step of a bulk transition run.
type State string

const (
	// StateIdle is the state before the run starts.
	StateIdle State = "idle"

	// StateQuerying indicates the bounded query is in flight.
	StateQuerying State = "querying"

	// StateNoMatches indicates the query returned nothing; the run ends.
	StateNoMatches State = "no_matches"

	// StateHasMatches indicates at least one record matched.
	StateHasMatches State = "has_matches"

	// StateConfirming indicates the confirmer has been asked.
	StateConfirming State = "confirming"

	// StateDeclined indicates the operator declined; the run ends without mutation.
	StateDeclined State = "declined"

	// StateConfirmed indicates the operator accepted.
	StateConfirmed State = "confirmed"

	// StateTransitioning indicates records are being transitioned one by one.
	StateTransitioning State = "transitioning"

	// StateCompleted indicates every matched record was transitioned.
	StateCompleted State = "completed"

	// StatePartiallyFailed indicates a transition failed and the run stopped.
	StatePartiallyFailed State = "partially_failed"

	// StateFailed indicates the run stopped on an error returned to the caller.
	StateFailed State = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateNoMatches, StateDeclined, StateCompleted, StatePartiallyFailed, StateFailed:
		return true
	}
	return false
}

// Validate checks that s is a known state.
func (s State) Validate() error {
	if _, ok := transitions[s]; ok || s.IsTerminal() {
		return nil
	}
	return fmt.Errorf("invalid workflow state: %s", s)
}

var transitions = map[State][]State{
	StateIdle:          {StateQuerying, StateFailed},
	StateQuerying:      {StateNoMatches, StateHasMatches, StateFailed},
	StateHasMatches:    {StateConfirming, StateFailed},
	StateConfirming:    {StateDeclined, StateConfirmed, StateFailed},
	StateConfirmed:     {StateTransitioning, StateFailed},
	StateTransitioning: {StateCompleted, StatePartiallyFailed, StateFailed},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
