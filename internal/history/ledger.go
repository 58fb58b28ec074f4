package history

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/sebas/softphone/internal/observe"
)

// DefaultMaxEntries bounds the ledger when no explicit maximum is given.
const DefaultMaxEntries = 1000

// Ledger is the bounded, most-recent-first list of history records.
type Ledger struct {
	mu      sync.RWMutex
	max     int
	records []Record // index 0 is the most recent

	recordsView *observe.Value[[]Record]
	statsView   *observe.Value[Stats]
	views       *observe.Syncer
}

// NewLedger creates a ledger keeping at most maxEntries records.
func NewLedger(maxEntries int) *Ledger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l := &Ledger{
		max:         maxEntries,
		recordsView: observe.New[[]Record](nil, observe.WithClone(cloneRecords)),
		statsView:   observe.NewComparable(Stats{}),
	}
	l.views = observe.NewSyncer(l.setViews)
	return l
}

// Max returns the configured capacity.
func (l *Ledger) Max() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.max
}

// SetMax changes the capacity, evicting the oldest records if needed.
func (l *Ledger) SetMax(maxEntries int) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l.mu.Lock()
	l.max = maxEntries
	evicted := l.trimLocked()
	l.mu.Unlock()
	if evicted > 0 {
		l.publish()
	}
}

// Append inserts r at the head and evicts the oldest records past the
// maximum. An existing record with the same id is replaced.
func (l *Ledger) Append(r Record) {
	l.mu.Lock()
	l.records = slices.DeleteFunc(l.records, func(x Record) bool { return x.ID == r.ID })
	l.records = slices.Insert(l.records, 0, r.clone())
	evicted := l.trimLocked()
	limit := l.max
	l.mu.Unlock()

	if evicted > 0 {
		slog.Debug("[History] Evicted oldest records", "count", evicted, "max", limit)
	}
	l.publish()
}

// Query returns the matching records, sorted and paginated per f.
func (l *Ledger) Query(f Filter) []Record {
	return l.Search(f).Records
}

// Search is Query plus the total match count before pagination.
func (l *Ledger) Search(f Filter) Result {
	l.mu.RLock()
	var matched []Record
	for _, r := range l.records {
		if f.Match(r) {
			matched = append(matched, r.clone())
		}
	}
	l.mu.RUnlock()

	f.sortRecords(matched)
	page, more := f.paginate(matched)
	return Result{Records: page, TotalCount: len(matched), HasMore: more}
}

// Get returns the record with the given id.
func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.records {
		if r.ID == id {
			return r.clone(), true
		}
	}
	return Record{}, false
}

// DeleteByID removes one record. It returns false if the id is unknown.
func (l *Ledger) DeleteByID(id string) bool {
	l.mu.Lock()
	n := len(l.records)
	l.records = slices.DeleteFunc(l.records, func(r Record) bool { return r.ID == id })
	deleted := len(l.records) < n
	l.mu.Unlock()

	if !deleted {
		slog.Debug("[History] Delete for unknown record", "id", id)
		return false
	}
	l.publish()
	return true
}

// ClearAll empties the ledger.
func (l *Ledger) ClearAll() {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
	l.publish()
}

// ClearMatching removes every record matched by f and returns how many were
// removed. Sorting and pagination fields of f are ignored.
func (l *Ledger) ClearMatching(f Filter) int {
	l.mu.Lock()
	n := len(l.records)
	l.records = slices.DeleteFunc(l.records, f.Match)
	removed := n - len(l.records)
	l.mu.Unlock()

	if removed > 0 {
		l.publish()
	}
	return removed
}

// Records returns every record, most recent first.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneRecords(l.records)
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Stats computes aggregate figures over the ledger.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statsLocked()
}

// RecordsView is the observable record list.
func (l *Ledger) RecordsView() observe.Reader[[]Record] { return l.recordsView.Reader() }

// StatsView is the observable aggregate figures.
func (l *Ledger) StatsView() observe.Reader[Stats] { return l.statsView.Reader() }

func (l *Ledger) trimLocked() int {
	if len(l.records) <= l.max {
		return 0
	}
	evicted := len(l.records) - l.max
	clear(l.records[l.max:])
	l.records = l.records[:l.max]
	return evicted
}

func (l *Ledger) statsLocked() Stats {
	var s Stats
	for _, r := range l.records {
		s.add(r)
	}
	return s
}

func (l *Ledger) publish() {
	l.views.Sync()
}

func (l *Ledger) setViews() {
	l.mu.RLock()
	records := slices.Clone(l.records)
	stats := l.statsLocked()
	l.mu.RUnlock()

	l.recordsView.Set(records)
	l.statsView.Set(stats)
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}
