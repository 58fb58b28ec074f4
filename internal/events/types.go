// Package events defines the lifecycle events exchanged between the
// signaling engine and the orchestrator, and the bus that carries them.
package events

import (
	"time"

	"github.com/sebas/softphone/internal/session"
)

// EventType identifies the type of event
type EventType string

const (
	// Transport events, emitted by the engine
	TransportConnecting   EventType = "transport.connecting"
	TransportConnected    EventType = "transport.connected"
	TransportDisconnected EventType = "transport.disconnected"

	// Registration events. RefreshNeeded is emitted by the orchestrator when
	// the refresh timer fires; the rest come from the engine.
	RegistrationRegistering   EventType = "registration.registering"
	RegistrationRegistered    EventType = "registration.registered"
	RegistrationUnregistered  EventType = "registration.unregistered"
	RegistrationFailed        EventType = "registration.failed"
	RegistrationRefreshNeeded EventType = "registration.refresh_needed"

	// Session events, emitted by the engine
	SessionOffered    EventType = "session.offered"
	SessionInitiated  EventType = "session.initiated"
	SessionUpdated    EventType = "session.updated"
	SessionTerminated EventType = "session.terminated"

	// Client events, emitted by the orchestrator to its observers
	ClientReady EventType = "client.ready"
	ClientError EventType = "client.error"
)

// Event is the interface implemented by every event
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// ID returns the unique event id
	ID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is a unique identifier for this event instance
	EventID string `json:"event_id"`
	// EventType identifies the event
	EventType EventType `json:"event_type"`
	// EventTime is when the event occurred
	EventTime time.Time `json:"event_time"`
	// Source names the emitter (engine instance or orchestrator)
	Source string `json:"source,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) ID() string           { return e.EventID }

// ConnectingEvent fires when the engine starts opening its transport.
type ConnectingEvent struct {
	BaseEvent
	Server string `json:"server"`
}

// ConnectedEvent fires once the registrar is reachable.
type ConnectedEvent struct {
	BaseEvent
	Server string `json:"server"`
}

// DisconnectedEvent fires when the transport goes away. Err is nil for an
// orderly stop.
type DisconnectedEvent struct {
	BaseEvent
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// RegisteringEvent fires when a REGISTER is sent.
type RegisteringEvent struct {
	BaseEvent
	Address string `json:"address"`
}

// RegisteredEvent fires when the registrar accepts the binding.
type RegisteredEvent struct {
	BaseEvent
	Address string `json:"address"`
	Expires int    `json:"expires"`
}

// UnregisteredEvent fires when the binding was removed.
type UnregisteredEvent struct {
	BaseEvent
	Address string `json:"address,omitempty"`
}

// RegistrationFailedEvent fires when the registrar rejects the REGISTER or
// the request fails.
type RegistrationFailedEvent struct {
	BaseEvent
	Cause      string `json:"cause"`
	StatusCode int    `json:"status_code,omitempty"`
}

// RefreshNeededEvent fires when the current grant should be renewed.
type RefreshNeededEvent struct {
	BaseEvent
	Address string `json:"address"`
}

// SessionEvent carries a session snapshot: offered, initiated or updated.
type SessionEvent struct {
	BaseEvent
	Session session.Session `json:"session"`
}

// SessionTerminatedEvent fires when a session ended.
type SessionTerminatedEvent struct {
	BaseEvent
	SessionID string                   `json:"session_id"`
	Cause     session.TerminationCause `json:"cause"`
	// StatusCode is the SIP status that ended the session, if any
	StatusCode int `json:"status_code,omitempty"`
}

// ReadyEvent fires when readiness flips.
type ReadyEvent struct {
	BaseEvent
	Ready bool `json:"ready"`
}

// ErrorEvent reports a failed command or a protocol failure.
type ErrorEvent struct {
	BaseEvent
	Op  string `json:"op"`
	Err error  `json:"-"`
}

// Message returns the error text.
func (e *ErrorEvent) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
