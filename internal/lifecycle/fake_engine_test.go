package lifecycle

import (
	"context"
	"sync"

	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
)

// fakeEngine is a scripted engine. In auto modes it emits the events a real
// engine would; otherwise tests drive it through emit.
type fakeEngine struct {
	mu sync.Mutex

	cfg config.Config
	pub events.Publisher
	b   *events.Builder

	connectOnStart   bool
	registerOnDemand bool
	stopEmits        bool
	expires          int
	failCause        string

	startErr, stopErr, registerErr, unregisterErr error

	starts, stops, registers, unregisters int
	rejected                              []string
}

func (f *fakeEngine) emit(e events.Event) {
	_ = f.pub.Publish(context.Background(), e)
}

func (f *fakeEngine) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	err, connect := f.startErr, f.connectOnStart
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if connect {
		f.emit(f.b.Connecting(f.cfg.SIP.Server))
		f.emit(f.b.Connected(f.cfg.SIP.Server))
	}
	return nil
}

func (f *fakeEngine) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stops++
	err, emits := f.stopErr, f.stopEmits
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if emits {
		f.emit(f.b.Disconnected(nil))
	}
	return nil
}

func (f *fakeEngine) Register(ctx context.Context) error {
	f.mu.Lock()
	f.registers++
	err, auto, cause, expires := f.registerErr, f.registerOnDemand, f.failCause, f.expires
	f.mu.Unlock()

	if !auto {
		return err
	}
	f.emit(f.b.Registering(f.cfg.SIP.AOR))
	if cause != "" {
		f.emit(f.b.RegistrationFailed(cause, 403))
		return &RegistrationError{Cause: cause, StatusCode: 403}
	}
	f.emit(f.b.Registered(f.cfg.SIP.AOR, expires))
	return err
}

func (f *fakeEngine) Unregister(ctx context.Context) error {
	f.mu.Lock()
	f.unregisters++
	err := f.unregisterErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.emit(f.b.Unregistered(f.cfg.SIP.AOR))
	return nil
}

func (f *fakeEngine) Reject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, id)
	return nil
}

func (f *fakeEngine) counts() (starts, stops, registers, unregisters int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.registers, f.unregisters
}

func (f *fakeEngine) rejectedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rejected...)
}

// fakeFactory records every engine it builds.
type fakeFactory struct {
	mu        sync.Mutex
	engines   []*fakeEngine
	configure func(*fakeEngine)
	err       error
}

func (ff *fakeFactory) build(cfg config.Config, pub events.Publisher) (Engine, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	f := &fakeEngine{
		cfg:              cfg,
		pub:              pub,
		b:                events.NewBuilder("fake"),
		connectOnStart:   true,
		registerOnDemand: true,
		stopEmits:        true,
		expires:          cfg.SIP.RegisterExpiry,
	}
	if ff.configure != nil {
		ff.configure(f)
	}
	ff.engines = append(ff.engines, f)
	return f, nil
}

func (ff *fakeFactory) last() *fakeEngine {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.engines[len(ff.engines)-1]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.engines)
}
