// Package pubsub implements the "subject" shape used across the dealer,
// command handler, and playback-state manager: a multi-observer slot that
// always replays its most recent value to a new subscriber and fans out
// updates without letting one slow or panicking subscriber block or crash
// the others.
package pubsub

import (
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
)

// Subject is a thread-safe, replay-on-subscribe broadcaster for a single
// latest value of type T. It is the Go shape of the "observable stream"
// design referenced in spec.md §9: a subscriber isolated from the failure
// of its siblings.
type Subject[T any] struct {
	mu        sync.Mutex
	current   T
	hasValue  bool
	observers map[int]chan T
	nextID    int
	logger    *slog.Logger
}

// NewSubject creates an empty Subject. Pass a logger to capture subscriber
// panics/backpressure drops; nil falls back to slog.Default().
func NewSubject[T any](logger *slog.Logger) *Subject[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subject[T]{
		observers: make(map[int]chan T),
		logger:    logger,
	}
}

// Subscribe returns a channel that immediately receives the latest published
// value (if any) and every subsequent one. The returned cancel func must be
// called to release the subscription.
func (s *Subject[T]) Subscribe(buffer int) (ch <-chan T, cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	out := make(chan T, buffer)
	if s.hasValue {
		out <- s.current
	}
	s.observers[id] = out
	s.mu.Unlock()

	return out, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(ch)
		}
	}
}

// Publish stores value as the latest snapshot and fans it out to every
// subscriber. Each delivery runs in its own panic-isolated goroutine via
// conc.WaitGroup so a panicking or blocked subscriber can never prevent
// delivery to, or crash, its siblings. Publish returns once every delivery
// attempt has been dispatched (non-blocking sends; full buffers are logged
// and dropped rather than stalling the publisher).
func (s *Subject[T]) Publish(value T) {
	s.mu.Lock()
	s.current = value
	s.hasValue = true
	targets := make([]chan T, 0, len(s.observers))
	for _, ch := range s.observers {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	var wg conc.WaitGroup
	for _, ch := range targets {
		ch := ch
		wg.Go(func() {
			select {
			case ch <- value:
			default:
				s.logger.Warn("subject subscriber buffer full, dropping update")
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		s.logger.Error("subject subscriber delivery panicked", "panic", r.Value)
	}
}

// Latest returns the most recently published value and whether one exists.
func (s *Subject[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasValue
}
