package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when publishing to a closed bus or publisher.
var ErrClosed = errors.New("events: publisher closed")

// Handler receives events from a Bus.
type Handler func(Event)

type subscription struct {
	id      uint64
	types   []EventType // empty means all
	handler Handler
	active  atomic.Bool
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus delivers events to its subscribers synchronously and in publish order.
//
// Only one goroutine delivers at a time. An event published while a
// delivery is in progress, from a handler or from another goroutine, is
// queued and delivered by the goroutine already delivering, after the
// current event has reached every subscriber. Handlers therefore never run
// concurrently with each other.
type Bus struct {
	name string

	mu          sync.Mutex
	subs        []*subscription
	next        uint64
	queue       []Event
	dispatching bool
	closed      bool

	delivered atomic.Int64
	panics    atomic.Int64
}

// NewBus creates a bus. name appears in log lines.
func NewBus(name string) *Bus {
	return &Bus{name: name}
}

// Subscribe registers h for the given event types, or for every event when
// no type is given. The returned function cancels the subscription; once it
// returns, h receives no further events.
func (b *Bus) Subscribe(h Handler, types ...EventType) (cancel func()) {
	sub := &subscription{handler: h, types: slices.Clone(types)}
	sub.active.Store(true)

	b.mu.Lock()
	b.next++
	sub.id = b.next
	if !b.closed {
		b.subs = append(b.subs, sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s == sub })
			b.mu.Unlock()
		})
	}
}

// Publish enqueues event and, unless another delivery is already running,
// delivers the queue before returning.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		slog.Debug("[Events] Dropped event on closed bus", "bus", b.name, "type", event.Type())
		return ErrClosed
	}
	b.queue = append(b.queue, event)
	if b.dispatching {
		b.mu.Unlock()
		return nil
	}
	b.dispatching = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		subs := slices.Clone(b.subs)
		b.mu.Unlock()

		for _, sub := range subs {
			if sub.active.Load() && sub.wants(next.Type()) {
				b.deliver(sub, next)
			}
		}

		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
	return nil
}

func (b *Bus) deliver(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			slog.Error("[Events] Handler panicked",
				"bus", b.name,
				"type", event.Type(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.handler(event)
	b.delivered.Add(1)
}

// Close drops every subscription and pending event. Later publishes fail
// with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.active.Store(false)
	}
	b.subs = nil
	b.queue = nil
	return nil
}

// Stats returns how many deliveries completed and how many handlers panicked.
func (b *Bus) Stats() (delivered, panics int64) {
	return b.delivered.Load(), b.panics.Load()
}

// LogSubscriber returns a handler that logs every event at debug level.
func LogSubscriber(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		attrs := []any{"type", e.Type(), "event_id", e.ID()}
		switch ev := e.(type) {
		case *DisconnectedEvent:
			attrs = append(attrs, "reason", ev.Reason)
		case *RegisteredEvent:
			attrs = append(attrs, "address", ev.Address, "expires", ev.Expires)
		case *RegistrationFailedEvent:
			attrs = append(attrs, "cause", ev.Cause, "status", ev.StatusCode)
		case *SessionEvent:
			attrs = append(attrs, "session_id", ev.Session.ID, "state", ev.Session.State)
		case *SessionTerminatedEvent:
			attrs = append(attrs, "session_id", ev.SessionID, "cause", ev.Cause)
		case *ReadyEvent:
			attrs = append(attrs, "ready", ev.Ready)
		case *ErrorEvent:
			attrs = append(attrs, "op", ev.Op, "error", ev.Message())
		}
		logger.Debug("[Events] "+string(e.Type()), attrs...)
	}
}
