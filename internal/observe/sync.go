package observe

import "sync"

// Syncer runs an owner's publish function one call at a time. A request
// made while a publish is running, from another goroutine or from a
// subscriber callback, makes the running publisher loop once more instead of
// publishing concurrently. The last publish therefore always reads the
// latest state, and views are never left holding an older snapshot.
type Syncer struct {
	publish func()

	mu      sync.Mutex
	running bool
	dirty   bool
}

// NewSyncer creates a Syncer for publish. publish should snapshot the
// owner's state under the owner's lock and then Set its views.
func NewSyncer(publish func()) *Syncer {
	return &Syncer{publish: publish}
}

// Sync publishes the current state, or hands the request to the publisher
// already running.
func (s *Syncer) Sync() {
	s.mu.Lock()
	s.dirty = true
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	for s.dirty {
		s.dirty = false
		s.mu.Unlock()
		s.publish()
		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}
