package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/sebas/softphone/internal/session"
)

// Builder constructs events with consistent ids, timestamps and source.
type Builder struct {
	source string
	now    func() time.Time
}

// NewBuilder creates an event builder stamping events with source.
func NewBuilder(source string) *Builder {
	return &Builder{source: source, now: time.Now}
}

// WithClock overrides the time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Source returns the source name stamped on events.
func (b *Builder) Source() string {
	return b.source
}

// newBase creates a BaseEvent with common fields populated.
func (b *Builder) newBase(t EventType) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: t,
		EventTime: b.now().UTC(),
		Source:    b.source,
	}
}

func (b *Builder) Connecting(server string) *ConnectingEvent {
	return &ConnectingEvent{BaseEvent: b.newBase(TransportConnecting), Server: server}
}

func (b *Builder) Connected(server string) *ConnectedEvent {
	return &ConnectedEvent{BaseEvent: b.newBase(TransportConnected), Server: server}
}

// Disconnected builds a DisconnectedEvent; err may be nil.
func (b *Builder) Disconnected(err error) *DisconnectedEvent {
	e := &DisconnectedEvent{BaseEvent: b.newBase(TransportDisconnected), Err: err}
	if err != nil {
		e.Reason = err.Error()
	}
	return e
}

func (b *Builder) Registering(addr string) *RegisteringEvent {
	return &RegisteringEvent{BaseEvent: b.newBase(RegistrationRegistering), Address: addr}
}

func (b *Builder) Registered(addr string, expires int) *RegisteredEvent {
	return &RegisteredEvent{BaseEvent: b.newBase(RegistrationRegistered), Address: addr, Expires: expires}
}

func (b *Builder) Unregistered(addr string) *UnregisteredEvent {
	return &UnregisteredEvent{BaseEvent: b.newBase(RegistrationUnregistered), Address: addr}
}

func (b *Builder) RegistrationFailed(cause string, statusCode int) *RegistrationFailedEvent {
	return &RegistrationFailedEvent{
		BaseEvent:  b.newBase(RegistrationFailed),
		Cause:      cause,
		StatusCode: statusCode,
	}
}

func (b *Builder) RefreshNeeded(addr string) *RefreshNeededEvent {
	return &RefreshNeededEvent{BaseEvent: b.newBase(RegistrationRefreshNeeded), Address: addr}
}

func (b *Builder) SessionOffered(s session.Session) *SessionEvent {
	return &SessionEvent{BaseEvent: b.newBase(SessionOffered), Session: s.Clone()}
}

func (b *Builder) SessionInitiated(s session.Session) *SessionEvent {
	return &SessionEvent{BaseEvent: b.newBase(SessionInitiated), Session: s.Clone()}
}

func (b *Builder) SessionUpdated(s session.Session) *SessionEvent {
	return &SessionEvent{BaseEvent: b.newBase(SessionUpdated), Session: s.Clone()}
}

func (b *Builder) SessionTerminated(id string, cause session.TerminationCause, statusCode int) *SessionTerminatedEvent {
	return &SessionTerminatedEvent{
		BaseEvent:  b.newBase(SessionTerminated),
		SessionID:  id,
		Cause:      cause,
		StatusCode: statusCode,
	}
}

func (b *Builder) Ready(ready bool) *ReadyEvent {
	return &ReadyEvent{BaseEvent: b.newBase(ClientReady), Ready: ready}
}

func (b *Builder) Error(op string, err error) *ErrorEvent {
	return &ErrorEvent{BaseEvent: b.newBase(ClientError), Op: op, Err: err}
}
