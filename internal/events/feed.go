// Package events provides the delivery primitives behind the transport's
// observable streams: a lossy ring for advertisement bursts and an ordered,
// lossless feed for status transitions.
package events

import (
	"context"
	"sync"

	"github.com/srg/blerpc/internal/groutine"
)

// Feed fans out values to every subscriber in publish order.
//
// Each subscriber gets an unbounded queue drained by its own goroutine, so a
// slow consumer never blocks Publish and never loses a value.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
	name   string
}

// NewFeed creates a Feed. name labels the delivery goroutines.
func NewFeed[T any](name string) *Feed[T] {
	return &Feed[T]{subs: make(map[*subscriber[T]]struct{}), name: name}
}

type subscriber[T any] struct {
	mu       sync.Mutex
	queue    []T
	draining bool
	wake     chan struct{}
	out      chan T
	done     chan struct{}
	once     sync.Once
}

// Subscribe registers a new subscriber. The returned channel receives every
// value published after this call. It is closed on cancel, which discards
// queued values, or after Feed.Close once the queue has been delivered.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	s := &subscriber[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	groutine.Go(context.Background(), f.name+"-feed", func(context.Context) {
		s.pump()
	})

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, s)
		f.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

// Publish enqueues v for every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for s := range f.subs {
		s.push(v)
	}
}

// Close stops accepting values. Each subscriber still receives what was
// published before Close, then its channel is closed; a subscriber that stops
// reading must cancel to release its pump.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*subscriber[T]]struct{})
	f.closed = true
	f.mu.Unlock()

	for s := range subs {
		s.drain()
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
