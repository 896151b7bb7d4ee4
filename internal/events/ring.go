package events

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel with overwrite-oldest semantics.
//
// Producers never block: if the buffer is full, the oldest element is
// discarded. Consumers read from C() like a normal channel. Unlike a bare
// channel, Send after Close is a no-op instead of a panic, so producers driven
// by platform callbacks may race with shutdown.
type Ring[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("events: ring capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts v, dropping the oldest element when full. It reports whether
// an element was dropped.
func (r *Ring[T]) Send(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	dropped := false
	select {
	case r.ch <- v:
	default:
		select {
		case <-r.ch:
			r.metrics.Overwritten.Add(1)
			dropped = true
		default:
		}
		r.ch <- v
	}
	r.metrics.Written.Add(1)
	return dropped
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the receive side. Safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Snapshot {
	return Snapshot{
		Written:     r.metrics.Written.Load(),
		Overwritten: r.metrics.Overwritten.Load(),
	}
}

// Metrics holds lock-free counters.
type Metrics struct {
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Written     int64
	Overwritten int64
}
