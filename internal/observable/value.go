// Package observable provides conflated state containers. A subscriber always
// sees the most recent value; intermediate values may be skipped.
package observable

import "sync"

// Value holds a snapshot of T and notifies subscribers when it changes.
// Stored values must be treated as immutable.
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	version uint64
	subs    map[*subscription[T]]struct{}
}

type subscription[T any] struct {
	ch chan T
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{current: initial, subs: make(map[*subscription[T]]struct{})}
}

// Get returns the current snapshot.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Version increases by one on every Set or Update.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Set replaces the snapshot.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) T { return next })
}

// Update applies fn to the current snapshot atomically and publishes the
// result. fn must not call back into v.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = fn(v.current)
	v.version++
	for s := range v.subs {
		offer(s.ch, v.current)
	}
	return v.current
}

// Subscribe returns a channel primed with the current snapshot. The channel
// holds at most one pending value. cancel closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	s := &subscription[T]{ch: make(chan T, 1)}
	v.mu.Lock()
	s.ch <- v.current
	v.subs[s] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, s)
			close(s.ch)
			v.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// offer replaces a stale pending value so publishers never block.
func offer[T any](ch chan T, val T) {
	select {
	case ch <- val:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- val:
	default:
	}
}
