// Package service implements the entity managers of one execution context.
// Every mutation loads the whole collection, transforms a copy, saves it
// back and then publishes a change signal. Mutations within a context are
// serialized by one mutex; between contexts the last writer wins.
package service

import (
	"context"
	"sync"
	"time"

	"infinityforum/internal/bus"
	"infinityforum/internal/ids"
)

// Publisher sends a change signal to every context, including this one.
type Publisher interface {
	Publish(ctx context.Context, msg bus.Message)
}

// Shared is the per-context state every manager of that context uses.
type Shared struct {
	mu    sync.Mutex
	pub   Publisher
	now   func() time.Time
	newID func() string
}

// NewShared returns the shared state for one context. pub may be nil for a
// context that publishes nothing.
func NewShared(pub Publisher) *Shared {
	return &Shared{pub: pub, now: time.Now, newID: ids.New}
}

func (s *Shared) publish(ctx context.Context, msg bus.Message) {
	if s.pub != nil {
		s.pub.Publish(ctx, msg)
	}
}

type signal[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (s *signal[T]) subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	s.next++
	id := s.next
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *signal[T]) emit(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
