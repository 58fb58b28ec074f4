package session

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/sebas/softphone/internal/observe"
)

// Counts are the aggregate figures derived from the live set.
type Counts struct {
	Active     int  `json:"active"`
	Inbound    int  `json:"inbound_queue"`
	Limit      int  `json:"limit"`
	AtCapacity bool `json:"at_capacity"`
}

// Registry is the live set of sessions plus the inbound admission queue.
//
// A limit of zero or less disables capacity enforcement.
type Registry struct {
	mu sync.RWMutex

	limit    int
	sessions map[string]Session
	order    []string // insertion order of ids in sessions
	queue    []string // inbound offers, arrival order

	sessionsView *observe.Value[[]Session]
	queueView    *observe.Value[[]Session]
	countsView   *observe.Value[Counts]
	views        *observe.Syncer
}

// NewRegistry creates a registry admitting at most limit outbound sessions
// while limit sessions are active.
func NewRegistry(limit int) *Registry {
	cloneList := observe.WithClone(cloneSessions)
	r := &Registry{
		limit:        limit,
		sessions:     make(map[string]Session),
		sessionsView: observe.New[[]Session](nil, cloneList),
		queueView:    observe.New[[]Session](nil, cloneList),
		countsView:   observe.NewComparable(Counts{Limit: limit}),
	}
	r.views = observe.NewSyncer(r.setViews)
	return r
}

// AddSession admits s. It returns false without mutating anything when the id
// is already present, or when s is outbound and the registry is at capacity.
// Inbound sessions are always admitted; capacity policy for them belongs to
// the caller.
func (r *Registry) AddSession(s Session) bool {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID]; exists {
		r.mu.Unlock()
		slog.Warn("[Registry] Duplicate session id", "session_id", s.ID)
		return false
	}
	if s.Direction == DirectionOutbound && r.atCapacityLocked() {
		active := r.activeLocked()
		r.mu.Unlock()
		slog.Info("[Registry] Outbound session refused, at capacity",
			"session_id", s.ID, "active", active, "limit", r.limit)
		return false
	}

	r.sessions[s.ID] = s.Clone()
	r.order = append(r.order, s.ID)
	if s.Direction == DirectionInbound && s.State.IsOffering() {
		r.queue = append(r.queue, s.ID)
	}
	r.mu.Unlock()

	slog.Debug("[Registry] Session added", "session_id", s.ID, "direction", s.Direction, "state", s.State)
	r.publish()
	return true
}

// UpdateSession replaces the stored session with the same id. An unknown id is
// logged and ignored.
func (r *Registry) UpdateSession(s Session) bool {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID]; !exists {
		r.mu.Unlock()
		slog.Warn("[Registry] Update for unknown session ignored", "session_id", s.ID)
		return false
	}
	r.sessions[s.ID] = s.Clone()

	queued := slices.Contains(r.queue, s.ID)
	offering := s.Direction == DirectionInbound && s.State.IsOffering()
	switch {
	case queued && !offering:
		r.queue = slices.DeleteFunc(r.queue, func(id string) bool { return id == s.ID })
	case !queued && offering:
		r.queue = append(r.queue, s.ID)
	}
	r.mu.Unlock()

	r.publish()
	return true
}

// RemoveSession removes the session from the live set and the inbound queue
// and returns the snapshot it held. ok is false if the id was not present.
func (r *Registry) RemoveSession(id string) (removed Session, ok bool) {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		slog.Debug("[Registry] Remove for unknown session", "session_id", id)
		return Session{}, false
	}
	delete(r.sessions, id)
	match := func(v string) bool { return v == id }
	r.order = slices.DeleteFunc(r.order, match)
	r.queue = slices.DeleteFunc(r.queue, match)
	r.mu.Unlock()

	slog.Debug("[Registry] Session removed", "session_id", id, "state", s.State)
	r.publish()
	return s, true
}

// SetLimit changes the concurrency limit. Sessions already admitted stay.
func (r *Registry) SetLimit(limit int) {
	r.mu.Lock()
	r.limit = limit
	r.mu.Unlock()
	r.publish()
}

// Limit returns the concurrency limit.
func (r *Registry) Limit() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limit
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

// NextInboundSession returns the oldest queued inbound offer without
// dequeuing it.
func (r *Registry) NextInboundSession() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.queue) == 0 {
		return Session{}, false
	}
	return r.sessions[r.queue[0]].Clone(), true
}

// FindSessions returns copies of every session matching pred, in insertion order.
func (r *Registry) FindSessions(pred func(Session) bool) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, id := range r.order {
		s := r.sessions[id]
		if pred == nil || pred(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Sessions returns every live session in insertion order.
func (r *Registry) Sessions() []Session {
	return r.FindSessions(nil)
}

// InboundQueue returns the queued inbound offers in arrival order.
func (r *Registry) InboundQueue() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queueLocked()
}

// ActiveCount returns the number of sessions that are not terminated.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

// InboundCount returns the length of the inbound queue.
func (r *Registry) InboundCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queue)
}

// AtCapacity reports whether the active count has reached the limit.
func (r *Registry) AtCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.atCapacityLocked()
}

// Counts returns the aggregate figures.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countsLocked()
}

// Len returns the number of sessions in the live set.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionsView is the observable live session list.
func (r *Registry) SessionsView() observe.Reader[[]Session] { return r.sessionsView.Reader() }

// QueueView is the observable inbound queue.
func (r *Registry) QueueView() observe.Reader[[]Session] { return r.queueView.Reader() }

// CountsView is the observable aggregate figures.
func (r *Registry) CountsView() observe.Reader[Counts] { return r.countsView.Reader() }

func (r *Registry) activeLocked() int {
	n := 0
	for _, s := range r.sessions {
		if !s.State.IsTerminal() {
			n++
		}
	}
	return n
}

func (r *Registry) atCapacityLocked() bool {
	return r.limit > 0 && r.activeLocked() >= r.limit
}

func (r *Registry) countsLocked() Counts {
	return Counts{
		Active:     r.activeLocked(),
		Inbound:    len(r.queue),
		Limit:      r.limit,
		AtCapacity: r.atCapacityLocked(),
	}
}

func (r *Registry) queueLocked() []Session {
	out := make([]Session, 0, len(r.queue))
	for _, id := range r.queue {
		out = append(out, r.sessions[id].Clone())
	}
	return out
}

func (r *Registry) publish() {
	r.views.Sync()
}

// setViews copies one consistent snapshot into all three views.
func (r *Registry) setViews() {
	r.mu.RLock()
	all := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.sessions[id])
	}
	queue := r.queueLocked()
	counts := r.countsLocked()
	r.mu.RUnlock()

	r.sessionsView.Set(all)
	r.queueView.Set(queue)
	r.countsView.Set(counts)
}

func cloneSessions(in []Session) []Session {
	if in == nil {
		return nil
	}
	out := make([]Session, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
