package registration

import (
	"fmt"
	"slices"
)

// State represents the registration lifecycle against the registrar
type State int

const (
	// StateUnregistered is the initial state, and the state after the transport drops
	StateUnregistered State = iota
	// StateRegistering is a REGISTER in flight
	StateRegistering
	// StateRegistered means the registrar accepted the binding
	StateRegistered
	// StateFailed means the last attempt was rejected; Begin may be retried
	StateFailed
	// StateUnregistering is a REGISTER with Expires: 0 in flight
	StateUnregistering
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateFailed:
		return "RegistrationFailed"
	case StateUnregistering:
		return "Unregistering"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions lists the edges each state may take. Engine events can
// arrive without their preceding "registering", so Registered and Failed are
// reachable from every resting state.
var validTransitions = map[State][]State{
	StateUnregistered:  {StateRegistering, StateRegistered, StateFailed},
	StateRegistering:   {StateRegistering, StateRegistered, StateFailed, StateUnregistered},
	StateRegistered:    {StateRegistering, StateRegistered, StateUnregistering, StateFailed, StateUnregistered},
	StateFailed:        {StateRegistering, StateRegistered, StateFailed, StateUnregistered},
	StateUnregistering: {StateUnregistered, StateRegistering},
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s State) CanTransitionTo(next State) bool {
	return slices.Contains(validTransitions[s], next)
}

// HoldsAddress reports whether the state carries a registered address.
func (s State) HoldsAddress() bool {
	return s == StateRegistering || s == StateRegistered
}
