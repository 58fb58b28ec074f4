package lifecycle

import (
	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/observe"
	"github.com/sebas/softphone/internal/registration"
	"github.com/sebas/softphone/internal/session"
)

// Status is a point-in-time summary of the client.
type Status struct {
	Connection         ConnectionState
	Ready              bool
	LastError          string
	HasEngine          bool
	Registration       registration.Record
	SecondsUntilExpiry int
	ExpiringSoon       bool
	Sessions           session.Counts
	History            history.Stats
}

// Status returns the current summary.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	hasEngine := o.engine != nil
	o.mu.Unlock()

	return Status{
		Connection:         o.connection.Get(),
		Ready:              o.IsReady(),
		LastError:          o.lastError.Get(),
		HasEngine:          hasEngine,
		Registration:       o.reg.Snapshot(),
		SecondsUntilExpiry: o.reg.SecondsUntilExpiry(),
		ExpiringSoon:       o.reg.State() == registration.StateRegistered && o.reg.IsExpiringSoon(),
		Sessions:           o.registry.Counts(),
		History:            o.ledger.Stats(),
	}
}

// IsReady evaluates readiness from the current state.
func (o *Orchestrator) IsReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readyLocked()
}

// Config returns the active configuration.
func (o *Orchestrator) Config() config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Subscribe registers h for notifications: every applied engine event,
// followed by ready and error events. With no types h receives everything.
func (o *Orchestrator) Subscribe(h events.Handler, types ...events.EventType) (cancel func()) {
	return o.notify.Subscribe(h, types...)
}

// ConnectionView is the observable connection state.
func (o *Orchestrator) ConnectionView() observe.Reader[ConnectionState] {
	return o.connection.Reader()
}

// ReadyView is the observable readiness.
func (o *Orchestrator) ReadyView() observe.Reader[bool] { return o.ready.Reader() }

// LastErrorView is the observable last error message ("" when none).
func (o *Orchestrator) LastErrorView() observe.Reader[string] { return o.lastError.Reader() }

// RegistrationView is the observable registration record.
func (o *Orchestrator) RegistrationView() observe.Reader[registration.Record] { return o.reg.View() }

// SessionsView is the observable live session list.
func (o *Orchestrator) SessionsView() observe.Reader[[]session.Session] {
	return o.registry.SessionsView()
}

// InboundQueueView is the observable inbound queue.
func (o *Orchestrator) InboundQueueView() observe.Reader[[]session.Session] {
	return o.registry.QueueView()
}

// SessionCountsView is the observable active/queued/capacity figures.
func (o *Orchestrator) SessionCountsView() observe.Reader[session.Counts] {
	return o.registry.CountsView()
}

// HistoryView is the observable history list, most recent first.
func (o *Orchestrator) HistoryView() observe.Reader[[]history.Record] {
	return o.ledger.RecordsView()
}

// HistoryStatsView is the observable history statistics.
func (o *Orchestrator) HistoryStatsView() observe.Reader[history.Stats] {
	return o.ledger.StatsView()
}

// Registration returns the registration record.
func (o *Orchestrator) Registration() registration.Record { return o.reg.Snapshot() }

// Sessions returns the live sessions in admission order.
func (o *Orchestrator) Sessions() []session.Session { return o.registry.Sessions() }

// Session returns one live session.
func (o *Orchestrator) Session(id string) (session.Session, bool) { return o.registry.Get(id) }

// InboundQueue returns queued inbound offers, oldest first.
func (o *Orchestrator) InboundQueue() []session.Session { return o.registry.InboundQueue() }

// NextInboundSession returns the oldest queued inbound offer.
func (o *Orchestrator) NextInboundSession() (session.Session, bool) {
	return o.registry.NextInboundSession()
}

// FindSessions returns live sessions matching pred.
func (o *Orchestrator) FindSessions(pred func(session.Session) bool) []session.Session {
	return o.registry.FindSessions(pred)
}

// QueryHistory returns history records matching f.
func (o *Orchestrator) QueryHistory(f history.Filter) []history.Record { return o.ledger.Query(f) }

// HistoryRecord returns one history record.
func (o *Orchestrator) HistoryRecord(id string) (history.Record, bool) { return o.ledger.Get(id) }

// SearchHistory returns a page of history plus the total match count.
func (o *Orchestrator) SearchHistory(f history.Filter) history.Result { return o.ledger.Search(f) }

// DeleteHistory removes one history record.
func (o *Orchestrator) DeleteHistory(id string) bool { return o.ledger.DeleteByID(id) }

// ClearHistory removes every history record.
func (o *Orchestrator) ClearHistory() { o.ledger.ClearAll() }

// ClearHistoryMatching removes the records matching f and returns how many.
func (o *Orchestrator) ClearHistoryMatching(f history.Filter) int { return o.ledger.ClearMatching(f) }
