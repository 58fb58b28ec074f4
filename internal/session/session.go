// Package session holds the live set of communication sessions.
package session

import (
	"maps"
	"slices"
	"time"
)

// Session is one inbound or outbound communication attempt.
// Values are copied in and out of the Registry; callers never share
// a Session with the registry.
type Session struct {
	ID        string
	Direction Direction
	State     State

	// Parties
	LocalURI          string
	RemoteURI         string
	RemoteDisplayName string

	// Timing. AnswerTime and EndTime are zero until reached.
	StartTime  time.Time
	AnswerTime time.Time
	EndTime    time.Time

	// Flags
	OnHold         bool
	Muted          bool
	HasLocalMedia  bool
	HasRemoteMedia bool
	Video          bool

	// Cause is set once the session is Terminated
	Cause TerminationCause

	Tags     []string
	Metadata map[string]string
}

// Answered reports whether the session was ever answered.
func (s Session) Answered() bool {
	return !s.AnswerTime.IsZero() || s.State == StateActive || s.State == StateOnHold
}

// Duration returns the talk time: from answer to end, or to now while the
// session is still up. Unanswered sessions have no duration.
func (s Session) Duration() time.Duration {
	return s.DurationAt(time.Now())
}

// DurationAt is Duration evaluated against the given instant.
func (s Session) DurationAt(now time.Time) time.Duration {
	if s.AnswerTime.IsZero() {
		return 0
	}
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	if end.Before(s.AnswerTime) {
		return 0
	}
	return end.Sub(s.AnswerTime)
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Tags = slices.Clone(s.Tags)
	out.Metadata = maps.Clone(s.Metadata)
	return out
}

// Terminate returns a copy of s marked Terminated with the given cause, ended at.
func (s Session) Terminate(cause TerminationCause, at time.Time) Session {
	out := s.Clone()
	out.State = StateTerminated
	out.Cause = cause
	if out.EndTime.IsZero() {
		out.EndTime = at
	}
	return out
}
