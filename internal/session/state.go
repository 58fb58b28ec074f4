package session

import (
	"fmt"
	"strings"
)

// Direction indicates whether we placed or received the session
type Direction int

const (
	// DirectionInbound - the remote party offered the session
	DirectionInbound Direction = iota
	// DirectionOutbound - we initiated the session
	DirectionOutbound
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// ParseDirection parses "inbound" or "outbound".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbound", "in":
		return DirectionInbound, nil
	case "outbound", "out":
		return DirectionOutbound, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// State represents the lifecycle state of a session. The registry only uses
// it to classify sessions; the transition set belongs to the signaling engine.
type State int

const (
	// StateIdle is a session that has been created but not yet offered
	StateIdle State = iota
	// StateCalling is an outbound INVITE in flight, or an inbound offer not yet ringing
	StateCalling
	// StateRinging is a session alerting (180 Ringing sent or received)
	StateRinging
	// StateActive is an answered session
	StateActive
	// StateOnHold is an answered session with media held
	StateOnHold
	// StateTerminated is the final state
	StateTerminated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCalling:
		return "Calling"
	case StateRinging:
		return "Ringing"
	case StateActive:
		return "Active"
	case StateOnHold:
		return "OnHold"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsOffering returns true while the session is being offered and has not
// been answered yet.
func (s State) IsOffering() bool {
	return s == StateCalling || s == StateRinging
}

// IsTerminal returns true if this is a terminal state
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// TerminationCause explains why a session ended
type TerminationCause int

const (
	// CauseNone means the session has not terminated
	CauseNone TerminationCause = iota
	// CauseLocalHangup means we sent BYE
	CauseLocalHangup
	// CauseRemoteHangup means the remote party sent BYE
	CauseRemoteHangup
	// CauseCancelled means the caller cancelled before answer
	CauseCancelled
	// CauseRejected means the callee declined the offer
	CauseRejected
	// CauseBusy means 486 Busy Here, or rejected for capacity
	CauseBusy
	// CauseNoAnswer means the offer timed out
	CauseNoAnswer
	// CauseUnavailable means the destination was unreachable
	CauseUnavailable
	// CauseTransportLost means the engine carrying the session went away
	CauseTransportLost
	// CauseError means an internal or protocol error
	CauseError
)

var causeNames = map[TerminationCause]string{
	CauseNone:          "none",
	CauseLocalHangup:   "local-hangup",
	CauseRemoteHangup:  "remote-hangup",
	CauseCancelled:     "cancelled",
	CauseRejected:      "rejected",
	CauseBusy:          "busy",
	CauseNoAnswer:      "no-answer",
	CauseUnavailable:   "unavailable",
	CauseTransportLost: "transport-lost",
	CauseError:         "error",
}

// String returns the string representation of the termination cause
func (c TerminationCause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", c)
}

// ParseCause parses a cause name as produced by String.
func ParseCause(s string) (TerminationCause, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range causeNames {
		if name == s {
			return c, nil
		}
	}
	return CauseNone, fmt.Errorf("unknown termination cause %q", s)
}
