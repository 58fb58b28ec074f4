package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/registration"
	"github.com/sebas/softphone/internal/session"
)

// Connect asks the engine to open its transport. State changes arrive as
// events; Connect itself never sets Connecting.
func (o *Orchestrator) Connect(ctx context.Context) error {
	eng, epoch, err := o.currentEngine()
	if err != nil {
		return &CommandError{Op: "connect", Err: err}
	}

	o.mu.Lock()
	o.disconnecting = false
	o.mu.Unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	err = eng.Start(ctx)
	if !o.current(epoch) {
		return &CommandError{Op: "connect", Err: ErrSuperseded}
	}
	if err != nil {
		err = o.fail("connect", err)
		o.failWaiters(err)
		return err
	}
	return nil
}

// Disconnect asks the engine to close its transport. Without an engine it
// does nothing. Readiness drops immediately; the rest of the cleanup
// happens on the disconnected event.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	eng, epoch, err := o.currentEngine()
	if err != nil {
		return nil
	}

	o.mu.Lock()
	o.disconnecting = true
	o.mu.Unlock()
	o.updateReady()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	err = eng.Stop(ctx)
	if !o.current(epoch) {
		return &CommandError{Op: "disconnect", Err: ErrSuperseded}
	}
	if err != nil {
		o.mu.Lock()
		o.disconnecting = false
		o.mu.Unlock()
		o.updateReady()
		return o.fail("disconnect", err)
	}
	return nil
}

// Register sends a REGISTER now, outside the automatic schedule.
func (o *Orchestrator) Register(ctx context.Context) error {
	eng, epoch, err := o.currentEngine()
	if err != nil {
		return &CommandError{Op: "register", Err: err}
	}
	if !o.isConnected() {
		return &CommandError{Op: "register", Err: ErrNotConnected}
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	err = eng.Register(ctx)
	if !o.current(epoch) {
		return &CommandError{Op: "register", Err: ErrSuperseded}
	}
	if err != nil {
		return o.fail("register", err)
	}
	return nil
}

// Unregister removes the binding gracefully: Registered moves to
// Unregistering and the unregistered event completes the transition.
func (o *Orchestrator) Unregister(ctx context.Context) error {
	eng, epoch, err := o.currentEngine()
	if err != nil {
		return &CommandError{Op: "unregister", Err: err}
	}
	if !o.isConnected() {
		return &CommandError{Op: "unregister", Err: ErrNotConnected}
	}

	if o.reg.State() == registration.StateRegistered {
		if err := o.reg.BeginUnregister(); err != nil {
			slog.Warn("[Orchestrator] Cannot begin unregister", "error", err)
		}
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	err = eng.Unregister(ctx)
	if !o.current(epoch) {
		return &CommandError{Op: "unregister", Err: ErrSuperseded}
	}
	if err != nil {
		// The refresh timer is gone, so the binding lapses regardless.
		o.reg.ForceUnregistered()
		o.mu.Lock()
		o.registeredNow = false
		o.mu.Unlock()
		o.updateReady()
		return o.fail("unregister", err)
	}
	return nil
}

// WaitReady blocks until the client is ready. It fails on a registration
// failure, on a disconnect carrying an error, on reinitialization
// (ErrSuperseded), on Close, or when ctx ends.
func (o *Orchestrator) WaitReady(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.readyLocked() {
		o.mu.Unlock()
		return nil
	}
	w := &waiter{ch: make(chan error, 1)}
	o.waiters[w] = struct{}{}
	o.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.waiters, w)
		o.mu.Unlock()
		return ctx.Err()
	}
}

// AdmitSession adds a session created outside the engine's events, with the
// registry's admission rules.
func (o *Orchestrator) AdmitSession(s session.Session) bool {
	return o.registry.AddSession(s)
}

// EndSession removes a live session, records it in history with cause and
// returns the record.
func (o *Orchestrator) EndSession(id string, cause session.TerminationCause) (history.Record, bool) {
	return o.finishSession(id, cause)
}

// RejectSession declines a queued inbound offer through the engine and
// records it as rejected.
func (o *Orchestrator) RejectSession(ctx context.Context, id string) error {
	eng, _, err := o.currentEngine()
	if err != nil {
		return &CommandError{Op: "reject", Err: err}
	}
	rejecter, ok := eng.(SessionRejecter)
	if !ok {
		return &CommandError{Op: "reject", Err: errors.ErrUnsupported}
	}
	if _, ok := o.registry.Get(id); !ok {
		return &CommandError{Op: "reject", Err: ErrUnknownSession}
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	if err := rejecter.Reject(ctx, id); err != nil {
		return o.fail("reject", err)
	}
	o.finishSession(id, session.CauseRejected)
	return nil
}
