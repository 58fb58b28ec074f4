package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/registration"
	"github.com/sebas/softphone/internal/session"
)

const waitFor = 2 * time.Second

func testConfig(mutate func(*config.Config)) config.Config {
	cfg := config.Defaults()
	cfg.SIP.Server = "sip:pbx.example.com"
	cfg.SIP.AOR = "sip:alice@example.com"
	cfg.SIP.CommandTimeout = time.Second
	cfg.Client.AutoConnect = false
	cfg.Client.AutoRegister = false
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func newTestOrchestrator(t *testing.T, mutate func(*config.Config), configure func(*fakeEngine), opts ...Option) (*Orchestrator, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{configure: configure}
	o, err := New(testConfig(mutate), ff.build, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o, ff
}

// recorder collects notifications.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(o *Orchestrator, types ...events.EventType) *recorder {
	r := &recorder{}
	o.Subscribe(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}, types...)
	return r
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) readyFlips() []bool {
	var out []bool
	for _, e := range r.all() {
		if ev, ok := e.(*events.ReadyEvent); ok {
			out = append(out, ev.Ready)
		}
	}
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.SIP.Server = "" })
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNew_FactoryError(t *testing.T) {
	ff := &fakeFactory{err: errors.New("no socket")}
	_, err := New(testConfig(nil), ff.build)
	assert.ErrorContains(t, err, "no socket")
}

func TestCommands_WithoutEngine(t *testing.T) {
	o, err := New(testConfig(nil), nil)
	require.NoError(t, err)
	defer o.Close(context.Background())

	err = o.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoEngine)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "connect", ce.Op)

	assert.NoError(t, o.Disconnect(context.Background()), "disconnect without engine is a no-op")
	assert.ErrorIs(t, o.Register(context.Background()), ErrNoEngine)
	assert.False(t, o.Status().HasEngine)
}

func TestReadiness_WithoutAutoRegister(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	rec := record(o, events.ClientReady)

	require.False(t, o.IsReady())
	require.NoError(t, o.Connect(context.Background()))

	assert.Equal(t, Connected, o.ConnectionView().Get())
	assert.True(t, o.IsReady(), "ready right after connected")
	assert.True(t, o.ReadyView().Get())
	assert.Equal(t, registration.StateUnregistered, o.Registration().State)
	assert.Equal(t, []bool{true}, rec.readyFlips())

	_, _, registers, _ := ff.last().counts()
	assert.Zero(t, registers, "no automatic REGISTER")

	require.NoError(t, o.WaitReady(context.Background()))
}

func TestReadiness_WithAutoRegister(t *testing.T) {
	o, ff := newTestOrchestrator(t,
		func(c *config.Config) { c.Client.AutoRegister = true },
		func(f *fakeEngine) { f.registerOnDemand = false },
	)
	eng := ff.last()

	require.NoError(t, o.Connect(context.Background()))
	assert.Equal(t, Connected, o.ConnectionView().Get())
	assert.False(t, o.IsReady(), "connected but not registered")

	require.Eventually(t, func() bool {
		_, _, registers, _ := eng.counts()
		return registers == 1
	}, waitFor, time.Millisecond, "connected triggers a REGISTER")

	eng.emit(eng.b.Registering("sip:alice@example.com"))
	assert.False(t, o.IsReady())
	eng.emit(eng.b.Registered("sip:alice@example.com", 300))
	assert.True(t, o.IsReady())
	assert.Equal(t, registration.StateRegistered, o.Registration().State)

	eng.emit(eng.b.Disconnected(nil))
	assert.False(t, o.IsReady())
	assert.Equal(t, Disconnected, o.ConnectionView().Get())
	rec := o.Registration()
	assert.Equal(t, registration.StateUnregistered, rec.State, "disconnect forces Unregistered")
	assert.True(t, rec.ExpiresAt.IsZero())
}

func TestReadiness_OnlyFirstRegistrationFlips(t *testing.T) {
	o, ff := newTestOrchestrator(t,
		func(c *config.Config) { c.Client.AutoRegister = true },
		func(f *fakeEngine) { f.registerOnDemand = false },
	)
	rec := record(o, events.ClientReady)
	eng := ff.last()
	require.NoError(t, o.Connect(context.Background()))

	eng.emit(eng.b.Registering(""))
	eng.emit(eng.b.Registered("sip:alice@example.com", 300))
	eng.emit(eng.b.Registering(""))
	eng.emit(eng.b.Registered("sip:alice@example.com", 300))
	eng.emit(eng.b.Registered("sip:alice@example.com", 300))

	assert.Equal(t, []bool{true}, rec.readyFlips())
	assert.True(t, o.IsReady())
}

func TestAutoRegister_EndToEnd(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(c *config.Config) {
		c.Client.AutoRegister = true
		c.Client.AutoConnect = true
	}, nil)

	require.NoError(t, o.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, o.WaitReady(ctx))

	st := o.Status()
	assert.Equal(t, Connected, st.Connection)
	assert.True(t, st.Ready)
	assert.Equal(t, "sip:alice@example.com", st.Registration.Address)
	assert.Equal(t, 600, st.SecondsUntilExpiry)
}

func TestRegistrationFailure(t *testing.T) {
	o, ff := newTestOrchestrator(t,
		func(c *config.Config) { c.Client.AutoRegister = true },
		func(f *fakeEngine) { f.failCause = "Forbidden" },
	)
	rec := record(o, events.ClientError)

	waitErr := make(chan error, 1)
	go func() { waitErr <- o.WaitReady(context.Background()) }()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.waiters) == 1
	}, waitFor, time.Millisecond)

	require.NoError(t, o.Connect(context.Background()))

	var err error
	select {
	case err = <-waitErr:
	case <-time.After(waitFor):
		t.Fatal("WaitReady did not return")
	}
	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Forbidden", re.Cause)

	require.Eventually(t, func() bool {
		_, _, registers, _ := ff.last().counts()
		return registers == 1
	}, waitFor, time.Millisecond)
	assert.Never(t, func() bool { return len(rec.all()) > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"the failure is reported once")
	require.Len(t, rec.all(), 1)

	reg := o.Registration()
	assert.Equal(t, registration.StateFailed, reg.State)
	assert.Equal(t, 1, reg.RetryCount)
	assert.Equal(t, Connected, o.ConnectionView().Get(), "connection untouched")
	assert.False(t, o.IsReady())
	assert.Contains(t, o.LastErrorView().Get(), "Forbidden")
}

func TestConnectFailureIsReportedOnce(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, func(f *fakeEngine) { f.startErr = errors.New("dns failure") })
	rec := record(o, events.ClientError)

	err := o.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "dns failure")
	assert.Equal(t, "dns failure", o.LastErrorView().Get())

	errs := rec.all()
	require.Len(t, errs, 1)
	assert.Equal(t, "connect", errs[0].(*events.ErrorEvent).Op)
	assert.Equal(t, Disconnected, o.ConnectionView().Get(), "no optimistic Connecting")
}

func TestDisconnect_ClearsReadinessBeforeEvent(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, func(f *fakeEngine) { f.stopEmits = false })
	eng := ff.last()
	require.NoError(t, o.Connect(context.Background()))
	require.True(t, o.IsReady())

	require.NoError(t, o.Disconnect(context.Background()))
	assert.False(t, o.IsReady())
	assert.Equal(t, Connected, o.ConnectionView().Get(), "final state waits for the event")

	eng.emit(eng.b.Disconnected(nil))
	assert.Equal(t, Disconnected, o.ConnectionView().Get())
}

func TestDisconnectWithErrorSurfacesCause(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	eng := ff.last()
	require.NoError(t, o.Connect(context.Background()))

	eng.emit(eng.b.Disconnected(errors.New("websocket closed 1006")))
	assert.Equal(t, "websocket closed 1006", o.LastErrorView().Get())
	assert.False(t, o.IsReady())
}

func TestRegisteredWhileDisconnectedIsIgnored(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	eng := ff.last()

	eng.emit(eng.b.Registering("sip:alice@example.com"))
	eng.emit(eng.b.Registered("sip:alice@example.com", 60))
	assert.Equal(t, registration.StateUnregistered, o.Registration().State)
}

func TestRegisterRequiresConnection(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	assert.ErrorIs(t, o.Register(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, o.Unregister(context.Background()), ErrNotConnected)
}

func TestManualRegisterAndUnregister(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	require.NoError(t, o.Connect(context.Background()))

	require.NoError(t, o.Register(context.Background()))
	assert.Equal(t, registration.StateRegistered, o.Registration().State)

	var states []registration.State
	cancel := o.RegistrationView().Subscribe(func(r registration.Record) { states = append(states, r.State) })
	defer cancel()

	require.NoError(t, o.Unregister(context.Background()))
	assert.Equal(t, []registration.State{registration.StateUnregistering, registration.StateUnregistered}, states)
	assert.True(t, o.IsReady(), "without auto-register readiness ignores registration")
}

func TestUnregisterFailureForcesUnregistered(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, func(f *fakeEngine) { f.unregisterErr = errors.New("timeout") })
	require.NoError(t, o.Connect(context.Background()))
	require.NoError(t, o.Register(context.Background()))

	err := o.Unregister(context.Background())
	assert.ErrorContains(t, err, "timeout")
	assert.Equal(t, registration.StateUnregistered, o.Registration().State)
}

func TestRefreshTimerReRegisters(t *testing.T) {
	mock := clock.NewMock()
	o, ff := newTestOrchestrator(t,
		func(c *config.Config) { c.Client.AutoRegister = true },
		func(f *fakeEngine) { f.expires = 100 },
		WithClock(mock),
	)
	eng := ff.last()
	rec := record(o, events.ClientReady)

	require.NoError(t, o.Connect(context.Background()))
	require.Eventually(t, o.IsReady, waitFor, time.Millisecond)

	mock.Add(90 * time.Second)
	require.Eventually(t, func() bool {
		_, _, registers, _ := eng.counts()
		return registers == 2
	}, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		r := o.Registration()
		return r.State == registration.StateRegistered && r.ExpiresAt.Equal(mock.Now().Add(100*time.Second))
	}, waitFor, time.Millisecond)

	assert.Equal(t, []bool{true}, rec.readyFlips(), "refresh does not re-flip readiness")
}

func TestSessionLifecycle_InboundMissed(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	eng := ff.last()

	offer := session.Session{
		ID:        "in-1",
		Direction: session.DirectionInbound,
		State:     session.StateRinging,
		RemoteURI: "sip:bob@example.com",
		StartTime: time.Now(),
	}
	eng.emit(eng.b.SessionOffered(offer))

	require.Len(t, o.Sessions(), 1)
	next, ok := o.NextInboundSession()
	require.True(t, ok)
	assert.Equal(t, "in-1", next.ID)

	eng.emit(eng.b.SessionTerminated("in-1", session.CauseCancelled, 487))
	assert.Empty(t, o.Sessions())
	assert.Empty(t, o.InboundQueue())

	records := o.QueryHistory(history.Filter{})
	require.Len(t, records, 1)
	assert.True(t, records[0].WasMissed)
	assert.False(t, records[0].WasAnswered)
	assert.Equal(t, session.CauseCancelled, records[0].Cause)
	assert.Equal(t, 1, o.Status().History.Missed)
}

func TestSessionLifecycle_AnsweredUpdate(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	eng := ff.last()

	s := session.Session{ID: "in-2", Direction: session.DirectionInbound, State: session.StateRinging, StartTime: time.Now()}
	eng.emit(eng.b.SessionOffered(s))

	s.State = session.StateActive
	s.AnswerTime = time.Now()
	eng.emit(eng.b.SessionUpdated(s))
	assert.Empty(t, o.InboundQueue())

	rec, ok := o.EndSession("in-2", session.CauseLocalHangup)
	require.True(t, ok)
	assert.True(t, rec.WasAnswered)
	assert.False(t, rec.WasMissed)

	_, ok = o.EndSession("in-2", session.CauseLocalHangup)
	assert.False(t, ok)
}

func TestAutoRejectWhenBusy(t *testing.T) {
	o, ff := newTestOrchestrator(t, func(c *config.Config) {
		c.Client.MaxConcurrentSessions = 1
		c.Client.AutoRejectWhenBusy = true
	}, nil)
	eng := ff.last()

	require.True(t, o.AdmitSession(session.Session{ID: "out-1", Direction: session.DirectionOutbound, State: session.StateActive}))
	eng.emit(eng.b.SessionOffered(session.Session{ID: "in-1", Direction: session.DirectionInbound, State: session.StateRinging}))

	_, live := o.Session("in-1")
	assert.False(t, live)
	require.Eventually(t, func() bool { return len(eng.rejectedIDs()) == 1 }, waitFor, time.Millisecond)

	recs := o.QueryHistory(history.Filter{})
	require.Len(t, recs, 1)
	assert.Equal(t, session.CauseBusy, recs[0].Cause)
}

func TestInboundAdmittedAtCapacityWithoutAutoReject(t *testing.T) {
	o, ff := newTestOrchestrator(t, func(c *config.Config) { c.Client.MaxConcurrentSessions = 1 }, nil)
	eng := ff.last()

	require.True(t, o.AdmitSession(session.Session{ID: "out-1", Direction: session.DirectionOutbound, State: session.StateActive}))
	eng.emit(eng.b.SessionOffered(session.Session{ID: "in-1", Direction: session.DirectionInbound, State: session.StateRinging}))

	assert.Len(t, o.Sessions(), 2)
	assert.True(t, o.Status().Sessions.AtCapacity)
}

func TestOutboundInitiatedAtCapacityReportsError(t *testing.T) {
	o, ff := newTestOrchestrator(t, func(c *config.Config) { c.Client.MaxConcurrentSessions = 1 }, nil)
	eng := ff.last()
	rec := record(o, events.ClientError)

	eng.emit(eng.b.SessionInitiated(session.Session{ID: "a", Direction: session.DirectionOutbound, State: session.StateCalling}))
	eng.emit(eng.b.SessionInitiated(session.Session{ID: "b", Direction: session.DirectionOutbound, State: session.StateCalling}))

	require.Len(t, rec.all(), 1)
	assert.ErrorIs(t, rec.all()[0].(*events.ErrorEvent).Err, ErrAtCapacity)
	assert.Len(t, o.Sessions(), 1)
}

func TestRejectSession(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	eng := ff.last()
	eng.emit(eng.b.SessionOffered(session.Session{ID: "in-1", Direction: session.DirectionInbound, State: session.StateRinging}))

	require.NoError(t, o.RejectSession(context.Background(), "in-1"))
	assert.Equal(t, []string{"in-1"}, eng.rejectedIDs())

	recs := o.QueryHistory(history.Filter{})
	require.Len(t, recs, 1)
	assert.Equal(t, session.CauseRejected, recs[0].Cause)
	assert.True(t, recs[0].WasMissed, "declined offers count as missed")

	assert.ErrorIs(t, o.RejectSession(context.Background(), "in-1"), ErrUnknownSession)
}

func TestReinitialize(t *testing.T) {
	o, ff := newTestOrchestrator(t, func(c *config.Config) { c.Client.AutoRegister = true }, nil)
	old := ff.last()
	old.stopErr = errors.New("stop failed")

	require.NoError(t, o.Connect(context.Background()))
	require.Eventually(t, o.IsReady, waitFor, time.Millisecond)
	old.emit(old.b.SessionOffered(session.Session{ID: "live", Direction: session.DirectionInbound, State: session.StateRinging}))

	newCfg := testConfig(func(c *config.Config) {
		c.SIP.Server = "sip:backup.example.com"
		c.Client.MaxConcurrentSessions = 5
	})
	require.NoError(t, o.Reinitialize(context.Background(), newCfg), "stop failure is swallowed")

	require.Equal(t, 2, ff.count())
	_, stops, _, _ := old.counts()
	assert.Equal(t, 1, stops)

	st := o.Status()
	assert.Equal(t, Disconnected, st.Connection)
	assert.False(t, st.Ready)
	assert.Equal(t, registration.Record{State: registration.StateUnregistered, ExpirySeconds: 600}, st.Registration)
	assert.Equal(t, 5, st.Sessions.Limit)
	assert.Equal(t, "sip:backup.example.com", o.Config().SIP.Server)

	assert.Empty(t, o.Sessions())
	lost := o.QueryHistory(history.Filter{})
	require.Len(t, lost, 1)
	assert.Equal(t, session.CauseTransportLost, lost[0].Cause)

	// the old engine can no longer move state
	old.emit(old.b.Connected("sip:pbx.example.com"))
	assert.Equal(t, Disconnected, o.ConnectionView().Get())

	starts, _, _, _ := ff.last().counts()
	assert.Zero(t, starts, "auto-connect is off")
}

func TestReinitialize_AutoConnect(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	require.NoError(t, o.Reinitialize(context.Background(), testConfig(func(c *config.Config) {
		c.Client.AutoConnect = true
	})))
	starts, _, _, _ := ff.last().counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, Connected, o.ConnectionView().Get())
}

func TestReinitialize_WithoutPriorEngine(t *testing.T) {
	o, err := New(testConfig(nil), nil)
	require.NoError(t, err)
	defer o.Close(context.Background())
	assert.NoError(t, o.Reinitialize(context.Background(), testConfig(nil)))
}

func TestReinitialize_InvalidConfigChangesNothing(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	require.NoError(t, o.Connect(context.Background()))

	err := o.Reinitialize(context.Background(), testConfig(func(c *config.Config) { c.SIP.AOR = "" }))
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, 1, ff.count())
	assert.True(t, o.IsReady())
}

func TestReinitialize_SupersedesWaiters(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(c *config.Config) { c.Client.AutoRegister = true },
		func(f *fakeEngine) { f.registerOnDemand = false })

	waitErr := make(chan error, 1)
	go func() { waitErr <- o.WaitReady(context.Background()) }()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.waiters) == 1
	}, waitFor, time.Millisecond)

	require.NoError(t, o.Reinitialize(context.Background(), testConfig(nil)))
	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(waitFor):
		t.Fatal("WaitReady did not return")
	}
}

func TestWaitReady_ContextExpiry(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.WaitReady(ctx), context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	o, ff := newTestOrchestrator(t, nil, nil)
	require.NoError(t, o.Connect(context.Background()))

	require.NoError(t, o.Close(context.Background()))
	_, stops, _, _ := ff.last().counts()
	assert.Equal(t, 1, stops)

	assert.ErrorIs(t, o.WaitReady(context.Background()), ErrClosed)
	assert.ErrorIs(t, o.Connect(context.Background()), ErrClosed)
	assert.NoError(t, o.Close(context.Background()))
}

func TestNotificationsFollowStateChanges(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	rec := record(o)

	require.NoError(t, o.Connect(context.Background()))

	var types []events.EventType
	for _, e := range rec.all() {
		types = append(types, e.Type())
	}
	assert.Equal(t, []events.EventType{
		events.TransportConnecting,
		events.TransportConnected,
		events.ClientReady,
	}, types)
}

func TestHistoryCommands(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, o.AdmitSession(session.Session{ID: id, Direction: session.DirectionOutbound, State: session.StateActive, AnswerTime: time.Now()}))
		_, ok := o.EndSession(id, session.CauseLocalHangup)
		require.True(t, ok)
	}

	res := o.SearchHistory(history.Filter{Limit: 2})
	assert.Equal(t, 3, res.TotalCount)
	assert.True(t, res.HasMore)

	assert.True(t, o.DeleteHistory("b"))
	out := session.DirectionOutbound
	assert.Equal(t, 2, o.ClearHistoryMatching(history.Filter{Direction: &out}))
	assert.Empty(t, o.HistoryView().Get())

	o.ClearHistory()
	assert.Zero(t, o.HistoryStatsView().Get().Total)
}
