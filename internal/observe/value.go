// Package observe provides read-only observable values.
//
// An owner holds a *Value and mutates it with Set; consumers receive the
// Reader view, which can only read the current value or subscribe to changes.
package observe

import (
	"sync"
)

// Reader is the read-only view of an observable value.
type Reader[T any] interface {
	// Get returns the current value.
	Get() T
	// Subscribe registers fn to be called with every new value. The returned
	// function cancels the subscription.
	Subscribe(fn func(T)) (cancel func())
}

// Value is an observable value. Subscribers are notified synchronously, in
// subscription order, after each effective change.
type Value[T any] struct {
	mu    sync.RWMutex
	v     T
	equal func(a, b T) bool
	clone func(T) T
	subs  map[uint64]func(T)
	order []uint64
	next  uint64
}

// Option configures a Value.
type Option[T any] func(*Value[T])

// WithEqual suppresses notifications when the new value equals the old one.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(v *Value[T]) { v.equal = eq }
}

// WithClone makes Get and notifications hand out copies produced by fn, so
// readers can never alias the owner's data.
func WithClone[T any](fn func(T) T) Option[T] {
	return func(v *Value[T]) { v.clone = fn }
}

// New creates a Value holding initial.
func New[T any](initial T, opts ...Option[T]) *Value[T] {
	v := &Value[T]{
		v:    initial,
		subs: make(map[uint64]func(T)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewComparable creates a Value that only notifies on actual changes.
func NewComparable[T comparable](initial T) *Value[T] {
	return New(initial, WithEqual(func(a, b T) bool { return a == b }))
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.copyOf(v.v)
}

// Set replaces the value and notifies subscribers. It reports whether the
// value changed.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	if v.equal != nil && v.equal(v.v, next) {
		v.mu.Unlock()
		return false
	}
	v.v = next
	fns := v.snapshotLocked()
	out := v.copyOf(next)
	v.mu.Unlock()

	for _, fn := range fns {
		fn(out)
	}
	return true
}

// Subscribe registers fn for change notifications.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.next
	v.next++
	v.subs[id] = fn
	v.order = append(v.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			for i, sid := range v.order {
				if sid == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Reader returns the read-only view of v.
func (v *Value[T]) Reader() Reader[T] {
	return v
}

func (v *Value[T]) snapshotLocked() []func(T) {
	fns := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		fns = append(fns, v.subs[id])
	}
	return fns
}

func (v *Value[T]) copyOf(t T) T {
	if v.clone != nil {
		return v.clone(t)
	}
	return t
}
