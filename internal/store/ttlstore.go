// Package store provides an in-memory map whose entries expire.
package store

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLStore is a generic in-memory store with per-entry expiry. Expired
// entries are invisible to readers immediately and are swept, with the
// eviction callback, on every cleanup tick.
type TTLStore[K comparable, V any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	items   map[K]entry[V]
	onEvict func(key K, value V)

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures a TTLStore.
type Option[K comparable, V any] func(*TTLStore[K, V])

// WithClock sets the time source for expiry and the cleanup ticker.
func WithClock[K comparable, V any](c clock.Clock) Option[K, V] {
	return func(s *TTLStore[K, V]) { s.clock = c }
}

// WithOnEvict sets the callback run for entries removed because they expired.
// Delete and Take do not trigger it.
func WithOnEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(s *TTLStore[K, V]) { s.onEvict = fn }
}

// New creates a store swept every cleanupInterval. A non-positive interval
// disables the background sweep; call Sweep explicitly.
func New[K comparable, V any](cleanupInterval time.Duration, opts ...Option[K, V]) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		clock:  clock.New(),
		items:  make(map[K]entry[V]),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(s.clock.Ticker(cleanupInterval))
	} else {
		close(s.done)
	}
	return s
}

// Set stores value for ttl.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry[V]{value: value, expiresAt: s.clock.Now().Add(ttl)}
}

// Get returns the value if present and not expired.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || s.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Take removes and returns the value if present and not expired.
func (s *TTLStore[K, V]) Take(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || s.expired(e) {
		var zero V
		return zero, false
	}
	delete(s.items, key)
	return e.value, true
}

// Delete removes key. It reports whether a live entry was removed.
func (s *TTLStore[K, V]) Delete(key K) bool {
	_, ok := s.Take(key)
	return ok
}

// Len returns the number of live entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.items {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

// Keys returns the keys of live entries, in no particular order.
func (s *TTLStore[K, V]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]K, 0, len(s.items))
	for k, e := range s.items {
		if !s.expired(e) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Sweep removes expired entries and runs the eviction callback for each. It
// returns the number evicted.
func (s *TTLStore[K, V]) Sweep() int {
	type kv struct {
		key   K
		value V
	}

	s.mu.Lock()
	var expired []kv
	for k, e := range s.items {
		if s.expired(e) {
			expired = append(expired, kv{k, e.value})
			delete(s.items, k)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	// Callbacks run outside the lock so they may use the store.
	if onEvict != nil {
		for _, e := range expired {
			onEvict(e.key, e.value)
		}
	}
	return len(expired)
}

// Close stops the sweep and drops every entry without eviction callbacks.
func (s *TTLStore[K, V]) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
	s.mu.Lock()
	s.items = make(map[K]entry[V])
	s.mu.Unlock()
}

func (s *TTLStore[K, V]) expired(e entry[V]) bool {
	return !s.clock.Now().Before(e.expiresAt)
}

func (s *TTLStore[K, V]) cleanupLoop(ticker *clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}
