// Package registration tracks the registration lifecycle of one client,
// including grant expiry and the scheduled refresh.
package registration

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sebas/softphone/internal/observe"
)

const (
	// DefaultExpirySeconds is used when neither the caller nor the registrar
	// supplies a lifetime.
	DefaultExpirySeconds = 3600
	// DefaultRefreshRatio is the fraction of the grant after which a refresh is due.
	DefaultRefreshRatio = 0.9
	// ExpiringSoonThreshold is the remaining lifetime below which a grant is "expiring soon".
	ExpiringSoonThreshold = 30 * time.Second
)

// Record is the observable registration state.
type Record struct {
	State   State
	Address string
	// ExpirySeconds is the lifetime of the current (or next) grant.
	ExpirySeconds int
	// ExpiresAt is set only while Registered.
	ExpiresAt        time.Time
	LastRegistration time.Time
	RetryCount       int
	LastError        string
}

// Machine is the registration state machine. It owns the refresh timer; at
// most one is scheduled at any time.
type Machine struct {
	mu sync.Mutex

	clock   clock.Clock
	ratio   float64
	initial int
	rec     Record

	timer     *clock.Timer
	refreshAt time.Time
	gen       uint64 // bumped whenever the timer is cancelled

	onRefresh func(Record)
	view      *observe.Value[Record]
	views     *observe.Syncer
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source. Tests pass a clock.Mock.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithRefreshRatio sets the fraction of the grant after which the refresh
// notification fires. Values outside (0, 1] fall back to DefaultRefreshRatio.
func WithRefreshRatio(r float64) Option {
	return func(m *Machine) {
		if r > 0 && r <= 1 {
			m.ratio = r
		}
	}
}

// NewMachine creates an Unregistered machine whose grants default to
// expirySeconds.
func NewMachine(expirySeconds int, opts ...Option) *Machine {
	if expirySeconds <= 0 {
		expirySeconds = DefaultExpirySeconds
	}
	m := &Machine{
		clock:   clock.New(),
		ratio:   DefaultRefreshRatio,
		initial: expirySeconds,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rec = Record{State: StateUnregistered, ExpirySeconds: expirySeconds}
	m.view = observe.New(m.rec)
	m.views = observe.NewSyncer(m.setView)
	return m
}

// Configure changes the default grant lifetime and refresh ratio. It takes
// effect on the next Reset or Succeed.
func (m *Machine) Configure(expirySeconds int, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expirySeconds > 0 {
		m.initial = expirySeconds
	}
	if ratio > 0 && ratio <= 1 {
		m.ratio = ratio
	}
}

// SetOnRefresh sets the callback invoked when a refresh becomes due. The
// machine does not re-register on its own; the callback is expected to call
// Begin and issue the REGISTER.
func (m *Machine) SetOnRefresh(fn func(Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRefresh = fn
}

// Begin enters Registering for addr and clears the last error.
func (m *Machine) Begin(addr string) error {
	return m.transition(StateRegistering, func(r *Record) {
		if addr != "" {
			r.Address = addr
		}
		r.LastError = ""
	})
}

// Succeed enters Registered. A non-positive expirySeconds keeps the current
// lifetime. The refresh timer is rescheduled from now.
func (m *Machine) Succeed(addr string, expirySeconds int) error {
	return m.transition(StateRegistered, func(r *Record) {
		if addr != "" {
			r.Address = addr
		}
		if expirySeconds > 0 {
			r.ExpirySeconds = expirySeconds
		}
		now := m.clock.Now()
		r.RetryCount = 0
		r.LastRegistration = now
		r.ExpiresAt = now.Add(time.Duration(r.ExpirySeconds) * time.Second)
	})
}

// Fail enters RegistrationFailed and increments the retry count.
func (m *Machine) Fail(reason string) error {
	return m.transition(StateFailed, func(r *Record) {
		r.RetryCount++
		r.LastError = reason
	})
}

// BeginUnregister enters Unregistering.
func (m *Machine) BeginUnregister() error {
	return m.transition(StateUnregistering, nil)
}

// CompleteUnregister enters Unregistered after a graceful unregister.
func (m *Machine) CompleteUnregister() error {
	m.mu.Lock()
	if m.rec.State != StateUnregistering {
		from := m.rec.State
		m.mu.Unlock()
		return &TransitionError{From: from, To: StateUnregistered}
	}
	m.mu.Unlock()
	return m.transition(StateUnregistered, nil)
}

// ForceUnregistered enters Unregistered from any state, skipping
// Unregistering. Used when the transport is gone.
func (m *Machine) ForceUnregistered() {
	m.mu.Lock()
	if m.rec.State == StateUnregistered {
		m.mu.Unlock()
		return
	}
	m.enterLocked(StateUnregistered, nil)
	m.mu.Unlock()
	m.views.Sync()
}

// Reset returns the machine to its initial state, clearing counters and the
// last error.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.rec = Record{State: StateUnregistered, ExpirySeconds: m.initial}
	m.mu.Unlock()
	m.views.Sync()
}

// Snapshot returns the current record.
func (m *Machine) Snapshot() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.State
}

// View is the observable record.
func (m *Machine) View() observe.Reader[Record] {
	return m.view.Reader()
}

// SecondsUntilExpiry returns the whole seconds left on the grant, rounded
// up and never negative. It is 0 when not registered.
func (m *Machine) SecondsUntilExpiry() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secondsLeftLocked()
}

// IsExpiringSoon reports whether less than ExpiringSoonThreshold remains.
func (m *Machine) IsExpiringSoon() bool {
	return time.Duration(m.SecondsUntilExpiry())*time.Second < ExpiringSoonThreshold
}

// HasExpired reports whether no time remains on the grant. It is also true
// when unregistered; check State to tell the two apart.
func (m *Machine) HasExpired() bool {
	return m.SecondsUntilExpiry() == 0
}

// RefreshPending reports whether a refresh timer is scheduled, and when it
// fires.
func (m *Machine) RefreshPending() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshAt, m.timer != nil
}

// Close cancels any pending timer.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
}

func (m *Machine) secondsLeftLocked() int {
	if m.rec.State != StateRegistered || m.rec.ExpiresAt.IsZero() {
		return 0
	}
	left := m.rec.ExpiresAt.Sub(m.clock.Now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (m *Machine) transition(to State, mutate func(*Record)) error {
	m.mu.Lock()
	from := m.rec.State
	if !from.CanTransitionTo(to) {
		m.mu.Unlock()
		slog.Warn("[Registration] Invalid transition", "from", from, "to", to)
		return &TransitionError{From: from, To: to}
	}
	m.enterLocked(to, mutate)
	rec := m.rec
	m.mu.Unlock()

	slog.Debug("[Registration] State changed", "from", from, "to", to, "address", rec.Address)
	m.views.Sync()
	return nil
}

func (m *Machine) setView() {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	m.view.Set(rec)
}

// enterLocked applies the entry actions of the target state.
func (m *Machine) enterLocked(to State, mutate func(*Record)) {
	m.rec.State = to
	if mutate != nil {
		mutate(&m.rec)
	}

	// Every entry cancels the pending timer; Registered schedules a new one.
	m.cancelTimerLocked()
	if to != StateRegistered {
		m.rec.ExpiresAt = time.Time{}
	}
	if !to.HoldsAddress() {
		m.rec.Address = ""
	}
	if to == StateRegistered {
		m.scheduleLocked()
	}
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.refreshAt = time.Time{}
	m.gen++
}

func (m *Machine) scheduleLocked() {
	delay := time.Duration(float64(m.rec.ExpirySeconds) * m.ratio * float64(time.Second))
	gen := m.gen
	m.refreshAt = m.clock.Now().Add(delay)
	m.timer = m.clock.AfterFunc(delay, func() { m.fire(gen) })
}

func (m *Machine) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.rec.State != StateRegistered {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.refreshAt = time.Time{}
	rec := m.rec
	fn := m.onRefresh
	m.mu.Unlock()

	slog.Info("[Registration] Refresh due", "address", rec.Address, "expires_in", m.SecondsUntilExpiry())
	if fn != nil {
		fn(rec)
	}
}
