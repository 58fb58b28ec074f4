// Package lifecycle binds the signaling engine's events to the connection,
// registration and session state of one client, and exposes that state as
// read-only views plus commands.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/observe"
	"github.com/sebas/softphone/internal/registration"
	"github.com/sebas/softphone/internal/session"
)

// Orchestrator owns one client's state. Engine events arrive on a per-engine
// input bus and are applied one at a time in emission order; observers
// subscribe to the notify bus or to the observable views.
type Orchestrator struct {
	mu       sync.Mutex
	reinitMu sync.Mutex // serializes Reinitialize and Close

	cfg     config.Config
	factory EngineFactory
	clock   clock.Clock
	builder *events.Builder

	engine      Engine
	input       *events.Bus
	cancelInput func()
	epoch       uint64 // bumped on every reinitialization
	closed      bool

	// Transport-scoped flags. registeredNow is set by the first successful
	// registration after the transport came up and survives refreshes.
	connected     bool
	registeredNow bool
	disconnecting bool

	waiters  map[*waiter]struct{}
	inflight sync.WaitGroup

	registry *session.Registry
	ledger   *history.Ledger
	reg      *registration.Machine
	notify   *events.Bus

	connection *observe.Value[ConnectionState]
	ready      *observe.Value[bool]
	readySync  *observe.Syncer
	lastError  *observe.Value[string]
}

type waiter struct {
	ch chan error
}

func (w *waiter) resolve(err error) {
	select {
	case w.ch <- err:
	default:
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source for registration expiry, the refresh timer
// and session end times.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New validates cfg and builds an orchestrator with a fresh engine from
// factory. A nil factory yields an orchestrator without an engine; commands
// that need one fail with ErrNoEngine. New does not connect; see Start.
func New(cfg config.Config, factory EngineFactory, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		factory:    factory,
		clock:      clock.New(),
		waiters:    make(map[*waiter]struct{}),
		notify:     events.NewBus("notify"),
		connection: observe.NewComparable(Disconnected),
		ready:      observe.NewComparable(false),
		lastError:  observe.NewComparable(""),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.readySync = observe.NewSyncer(o.publishReady)

	o.builder = events.NewBuilder("orchestrator").WithClock(o.clock.Now)
	o.registry = session.NewRegistry(cfg.Client.MaxConcurrentSessions)
	o.ledger = history.NewLedger(cfg.History.MaxEntries)
	o.reg = registration.NewMachine(cfg.SIP.RegisterExpiry,
		registration.WithClock(o.clock),
		registration.WithRefreshRatio(cfg.SIP.RefreshRatio),
	)
	o.reg.SetOnRefresh(o.onRefresh)
	o.notify.Subscribe(events.LogSubscriber(slog.Default()))

	if err := o.installEngine(0, cfg); err != nil {
		o.reg.Close()
		return nil, err
	}
	return o, nil
}

// Start connects if the configuration asks for it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.Config().Client.AutoConnect {
		return nil
	}
	return o.Connect(ctx)
}

// installEngine builds an engine for epoch and subscribes to its events.
func (o *Orchestrator) installEngine(epoch uint64, cfg config.Config) error {
	if o.factory == nil {
		slog.Warn("[Orchestrator] No engine factory, commands will fail")
		return nil
	}

	bus := events.NewBus(fmt.Sprintf("engine-%d", epoch))
	eng, err := o.factory(cfg, bus)
	if err != nil {
		_ = bus.Close()
		return fmt.Errorf("create engine: %w", err)
	}
	if eng == nil {
		_ = bus.Close()
		return fmt.Errorf("create engine: %w", ErrNoEngine)
	}

	cancel := bus.Subscribe(func(e events.Event) { o.handle(epoch, e) })

	o.mu.Lock()
	if o.epoch != epoch || o.closed {
		o.mu.Unlock()
		cancel()
		_ = bus.Close()
		return ErrSuperseded
	}
	o.engine = eng
	o.input = bus
	o.cancelInput = cancel
	o.mu.Unlock()

	slog.Info("[Orchestrator] Engine installed", "epoch", epoch, "server", cfg.SIP.Server)
	return nil
}

// Reinitialize replaces the configuration: it drops the current engine and
// its subscriptions, stops it best-effort, resets connection and
// registration state, records live sessions as lost, builds a new engine
// and connects again if auto-connect is set. Pending WaitReady calls fail
// with ErrSuperseded.
func (o *Orchestrator) Reinitialize(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return &CommandError{Op: "reinitialize", Err: err}
	}

	o.reinitMu.Lock()
	defer o.reinitMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return &CommandError{Op: "reinitialize", Err: ErrClosed}
	}
	oldEngine, oldBus, oldCancel := o.engine, o.input, o.cancelInput
	o.epoch++
	epoch := o.epoch
	o.engine, o.input, o.cancelInput = nil, nil, nil
	o.connected, o.registeredNow, o.disconnecting = false, false, false
	o.cfg = cfg
	waiters := o.takeWaitersLocked()
	o.mu.Unlock()

	slog.Info("[Orchestrator] Reinitializing", "epoch", epoch, "server", cfg.SIP.Server)
	for _, w := range waiters {
		w.resolve(ErrSuperseded)
	}

	if oldCancel != nil {
		oldCancel()
	}
	if oldBus != nil {
		_ = oldBus.Close()
	}
	if oldEngine != nil {
		stopCtx, cancel := context.WithTimeout(ctx, cfg.SIP.CommandTimeout)
		if err := oldEngine.Stop(stopCtx); err != nil {
			slog.Warn("[Orchestrator] Stopping previous engine failed", "error", err)
		}
		cancel()
	}

	o.reg.Configure(cfg.SIP.RegisterExpiry, cfg.SIP.RefreshRatio)
	o.reg.Reset()
	o.registry.SetLimit(cfg.Client.MaxConcurrentSessions)
	o.ledger.SetMax(cfg.History.MaxEntries)
	o.endOrphanedSessions()
	o.connection.Set(Disconnected)
	o.updateReady()

	if err := o.installEngine(epoch, cfg); err != nil {
		return o.fail("reinitialize", err)
	}
	if cfg.Client.AutoConnect {
		return o.Connect(ctx)
	}
	return nil
}

// Close stops the engine and releases every resource. Pending WaitReady
// calls fail with ErrClosed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.reinitMu.Lock()
	defer o.reinitMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	eng, bus, cancel := o.engine, o.input, o.cancelInput
	o.engine, o.input, o.cancelInput = nil, nil, nil
	waiters := o.takeWaitersLocked()
	o.mu.Unlock()

	for _, w := range waiters {
		w.resolve(ErrClosed)
	}
	if cancel != nil {
		cancel()
	}
	if bus != nil {
		_ = bus.Close()
	}

	var err error
	if eng != nil {
		err = eng.Stop(ctx)
	}
	o.inflight.Wait()
	o.reg.Close()
	_ = o.notify.Close()
	slog.Info("[Orchestrator] Closed")
	return err
}

// current reports whether epoch is still the live engine generation.
func (o *Orchestrator) current(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return epoch == o.epoch && !o.closed
}

// currentEngine returns the engine and its epoch.
func (o *Orchestrator) currentEngine() (Engine, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, 0, ErrClosed
	}
	if o.engine == nil {
		return nil, o.epoch, ErrNoEngine
	}
	return o.engine, o.epoch, nil
}

func (o *Orchestrator) commandTimeout() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.SIP.CommandTimeout
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.commandTimeout())
}

// spawn runs an engine call off the event loop. Failures are recorded
// unless the engine was replaced meanwhile.
func (o *Orchestrator) spawn(epoch uint64, op string, fn func(ctx context.Context) error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.inflight.Add(1)
	timeout := o.cfg.SIP.CommandTimeout
	o.mu.Unlock()

	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := fn(ctx)
		if err == nil {
			return
		}
		if !o.current(epoch) {
			slog.Debug("[Orchestrator] Ignoring failure from replaced engine", "op", op, "error", err)
			return
		}
		if reported(err) {
			return
		}
		o.recordError(op, err)
	}()
}

// readyLocked is the readiness formula.
func (o *Orchestrator) readyLocked() bool {
	return o.connected && !o.disconnecting &&
		(!o.cfg.Client.AutoRegister || o.registeredNow)
}

// updateReady recomputes readiness, publishes a change and resolves
// WaitReady callers once ready.
func (o *Orchestrator) updateReady() {
	o.readySync.Sync()
}

func (o *Orchestrator) publishReady() {
	o.mu.Lock()
	ready := o.readyLocked()
	var waiters []*waiter
	if ready {
		waiters = o.takeWaitersLocked()
	}
	o.mu.Unlock()

	for _, w := range waiters {
		w.resolve(nil)
	}
	if o.ready.Set(ready) {
		slog.Info("[Orchestrator] Readiness changed", "ready", ready)
		o.publish(o.builder.Ready(ready))
	}
}

func (o *Orchestrator) takeWaitersLocked() []*waiter {
	out := make([]*waiter, 0, len(o.waiters))
	for w := range o.waiters {
		out = append(out, w)
	}
	clear(o.waiters)
	return out
}

// failWaiters resolves every pending WaitReady with err.
func (o *Orchestrator) failWaiters(err error) {
	o.mu.Lock()
	waiters := o.takeWaitersLocked()
	o.mu.Unlock()
	for _, w := range waiters {
		w.resolve(err)
	}
}

func (o *Orchestrator) publish(e events.Event) {
	_ = o.notify.Publish(context.Background(), e)
}

// recordError stores err as the last error and emits an error event.
func (o *Orchestrator) recordError(op string, err error) {
	slog.Warn("[Orchestrator] "+op+" failed", "error", err)
	o.lastError.Set(err.Error())
	o.publish(o.builder.Error(op, err))
}

// fail records err and returns it wrapped for the caller.
func (o *Orchestrator) fail(op string, err error) error {
	if !reported(err) {
		o.recordError(op, err)
	}
	return &CommandError{Op: op, Err: err}
}

// reported is true for errors the engine already surfaced as an event.
func reported(err error) bool {
	var re *RegistrationError
	return errors.As(err, &re)
}

// onRefresh runs on the refresh timer and feeds the event loop.
func (o *Orchestrator) onRefresh(rec registration.Record) {
	o.mu.Lock()
	bus := o.input
	o.mu.Unlock()
	if bus == nil {
		return
	}
	_ = bus.Publish(context.Background(), o.builder.RefreshNeeded(rec.Address))
}

// endOrphanedSessions records every live session as lost with its transport.
func (o *Orchestrator) endOrphanedSessions() {
	for _, s := range o.registry.Sessions() {
		o.finishSession(s.ID, session.CauseTransportLost)
	}
}

// finishSession removes a session and appends its history record.
func (o *Orchestrator) finishSession(id string, cause session.TerminationCause) (history.Record, bool) {
	removed, ok := o.registry.RemoveSession(id)
	if !ok {
		slog.Debug("[Orchestrator] Termination for unknown session", "session_id", id, "cause", cause)
		return history.Record{}, false
	}
	rec := history.FromSession(removed.Terminate(cause, o.clock.Now()))
	o.ledger.Append(rec)
	slog.Info("[Orchestrator] Session ended",
		"session_id", id,
		"direction", rec.Direction,
		"cause", cause,
		"answered", rec.WasAnswered,
		"missed", rec.WasMissed,
	)
	return rec, true
}
