// Package history keeps the in-memory ledger of finished sessions.
package history

import (
	"maps"
	"slices"
	"time"

	"github.com/sebas/softphone/internal/session"
)

// Record is an immutable snapshot of a session taken when it left the live
// registry.
type Record struct {
	ID                string
	Direction         session.Direction
	FinalState        session.State
	LocalURI          string
	RemoteURI         string
	RemoteDisplayName string
	StartTime         time.Time
	AnswerTime        time.Time
	EndTime           time.Time
	Duration          time.Duration
	Cause             session.TerminationCause
	Video             bool
	Tags              []string
	Metadata          map[string]string

	WasAnswered bool
	// WasMissed covers every unanswered inbound session, including ones the
	// user declined.
	WasMissed bool
}

// FromSession derives a record from a session snapshot. It does not touch
// any ledger.
func FromSession(s session.Session) Record {
	answered := !s.AnswerTime.IsZero() ||
		s.State == session.StateActive ||
		s.State == session.StateOnHold

	var dur time.Duration
	if !s.EndTime.IsZero() {
		dur = s.DurationAt(s.EndTime)
	}

	return Record{
		ID:                s.ID,
		Direction:         s.Direction,
		FinalState:        s.State,
		LocalURI:          s.LocalURI,
		RemoteURI:         s.RemoteURI,
		RemoteDisplayName: s.RemoteDisplayName,
		StartTime:         s.StartTime,
		AnswerTime:        s.AnswerTime,
		EndTime:           s.EndTime,
		Duration:          dur,
		Cause:             s.Cause,
		Video:             s.Video,
		Tags:              slices.Clone(s.Tags),
		Metadata:          maps.Clone(s.Metadata),
		WasAnswered:       answered,
		WasMissed: s.Direction == session.DirectionInbound &&
			!answered &&
			s.State == session.StateTerminated,
	}
}

func (r Record) clone() Record {
	r.Tags = slices.Clone(r.Tags)
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// Stats are aggregate figures over the whole ledger.
type Stats struct {
	Total    int           `json:"total"`
	Answered int           `json:"answered"`
	Missed   int           `json:"missed"`
	Inbound  int           `json:"inbound"`
	Outbound int           `json:"outbound"`
	TalkTime time.Duration `json:"talk_time"`
}

func (s *Stats) add(r Record) {
	s.Total++
	if r.WasAnswered {
		s.Answered++
	}
	if r.WasMissed {
		s.Missed++
	}
	if r.Direction == session.DirectionInbound {
		s.Inbound++
	} else {
		s.Outbound++
	}
	s.TalkTime += r.Duration
}
