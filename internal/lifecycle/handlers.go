package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebas/softphone/internal/events"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/registration"
	"github.com/sebas/softphone/internal/session"
)

// handle applies one engine event. The input bus guarantees handlers never
// overlap and see events in emission order.
func (o *Orchestrator) handle(epoch uint64, e events.Event) {
	if !o.current(epoch) {
		slog.Debug("[Orchestrator] Dropping event from replaced engine", "type", e.Type(), "epoch", epoch)
		return
	}

	switch ev := e.(type) {
	case *events.ConnectingEvent:
		o.connection.Set(Connecting)
	case *events.ConnectedEvent:
		o.onConnected(epoch, ev)
	case *events.DisconnectedEvent:
		o.onDisconnected(ev)
	case *events.RegisteringEvent:
		o.onRegistering(ev)
	case *events.RegisteredEvent:
		o.onRegistered(ev)
	case *events.UnregisteredEvent:
		o.onUnregistered()
	case *events.RegistrationFailedEvent:
		o.onRegistrationFailed(ev)
	case *events.RefreshNeededEvent:
		o.onRefreshNeeded(epoch, ev)
	case *events.SessionEvent:
		o.onSession(epoch, ev)
	case *events.SessionTerminatedEvent:
		o.finishSession(ev.SessionID, ev.Cause)
	default:
		slog.Debug("[Orchestrator] Unhandled event", "type", e.Type())
	}

	o.publish(e)
	o.updateReady()
}

func (o *Orchestrator) onConnected(epoch uint64, ev *events.ConnectedEvent) {
	o.mu.Lock()
	o.connected = true
	o.disconnecting = false
	o.registeredNow = false
	autoRegister := o.cfg.Client.AutoRegister
	eng := o.engine
	o.mu.Unlock()

	slog.Info("[Orchestrator] Connected", "server", ev.Server, "auto_register", autoRegister)
	o.connection.Set(Connected)
	o.lastError.Set("")

	if autoRegister && eng != nil {
		o.spawn(epoch, "register", eng.Register)
	}
}

func (o *Orchestrator) onDisconnected(ev *events.DisconnectedEvent) {
	o.mu.Lock()
	o.connected = false
	o.registeredNow = false
	o.disconnecting = false
	o.mu.Unlock()

	slog.Info("[Orchestrator] Disconnected", "reason", ev.Reason)
	o.connection.Set(Disconnected)
	// The transport is gone; there is nothing to unregister from.
	o.reg.ForceUnregistered()

	if ev.Err != nil {
		o.recordError("transport", ev.Err)
		o.failWaiters(&CommandError{Op: "transport", Err: ev.Err})
	}
}

func (o *Orchestrator) isConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

func (o *Orchestrator) onRegistering(ev *events.RegisteringEvent) {
	if !o.isConnected() {
		slog.Warn("[Orchestrator] Registering while disconnected, ignored", "address", ev.Address)
		return
	}
	if err := o.reg.Begin(ev.Address); err != nil {
		slog.Warn("[Orchestrator] Cannot begin registration", "error", err)
	}
}

func (o *Orchestrator) onRegistered(ev *events.RegisteredEvent) {
	if !o.isConnected() {
		slog.Warn("[Orchestrator] Registered while disconnected, ignored", "address", ev.Address)
		return
	}
	if err := o.reg.Succeed(ev.Address, ev.Expires); err != nil {
		slog.Warn("[Orchestrator] Cannot complete registration", "error", err)
		return
	}

	o.mu.Lock()
	first := !o.registeredNow
	o.registeredNow = true
	o.mu.Unlock()

	o.lastError.Set("")
	if first {
		slog.Info("[Orchestrator] Registered", "address", ev.Address, "expires", ev.Expires)
	} else {
		slog.Debug("[Orchestrator] Registration refreshed", "address", ev.Address, "expires", ev.Expires)
	}
}

func (o *Orchestrator) onUnregistered() {
	if o.reg.State() == registration.StateUnregistering {
		if err := o.reg.CompleteUnregister(); err != nil {
			slog.Warn("[Orchestrator] Cannot complete unregister", "error", err)
		}
	} else {
		o.reg.ForceUnregistered()
	}

	o.mu.Lock()
	o.registeredNow = false
	o.mu.Unlock()
}

func (o *Orchestrator) onRegistrationFailed(ev *events.RegistrationFailedEvent) {
	if err := o.reg.Fail(ev.Cause); err != nil {
		slog.Warn("[Orchestrator] Cannot record registration failure", "error", err)
	}

	o.mu.Lock()
	o.registeredNow = false
	o.mu.Unlock()

	err := &RegistrationError{Cause: ev.Cause, StatusCode: ev.StatusCode}
	o.recordError("register", err)
	o.failWaiters(err)
}

func (o *Orchestrator) onRefreshNeeded(epoch uint64, ev *events.RefreshNeededEvent) {
	o.mu.Lock()
	eng := o.engine
	connected := o.connected
	o.mu.Unlock()

	if !connected || eng == nil {
		return
	}
	slog.Debug("[Orchestrator] Refreshing registration", "address", ev.Address)
	o.spawn(epoch, "refresh", eng.Register)
}

func (o *Orchestrator) onSession(epoch uint64, ev *events.SessionEvent) {
	s := ev.Session
	switch ev.Type() {
	case events.SessionOffered:
		o.onOffered(epoch, s)
	case events.SessionInitiated:
		if o.registry.AddSession(s) {
			return
		}
		if _, exists := o.registry.Get(s.ID); exists {
			return
		}
		o.recordError("session", fmt.Errorf("outbound session %s: %w", s.ID, ErrAtCapacity))
	case events.SessionUpdated:
		o.registry.UpdateSession(s)
	}
}

// onOffered admits an inbound offer, or declines it when the client is
// configured to reject while at capacity.
func (o *Orchestrator) onOffered(epoch uint64, s session.Session) {
	o.mu.Lock()
	autoReject := o.cfg.Client.AutoRejectWhenBusy
	eng := o.engine
	o.mu.Unlock()

	if autoReject && o.registry.AtCapacity() {
		if rejecter, ok := eng.(SessionRejecter); ok {
			slog.Info("[Orchestrator] At capacity, rejecting offer", "session_id", s.ID, "remote", s.RemoteURI)
			id := s.ID
			o.spawn(epoch, "reject", func(ctx context.Context) error {
				return rejecter.Reject(ctx, id)
			})
			o.ledger.Append(history.FromSession(s.Terminate(session.CauseBusy, o.clock.Now())))
			return
		}
		slog.Warn("[Orchestrator] At capacity but engine cannot reject, admitting", "session_id", s.ID)
	}

	o.registry.AddSession(s)
}
