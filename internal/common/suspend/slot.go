// Package suspend provides wait-on-signal primitives for state that is filled in, consumed or counted down
// by other goroutines: a single-assignment Slot and a CountLatch.
package suspend

import (
	"context"
	"sync"
	"time"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
)

// Slot holds at most one value. Readers block until a value is present.
// Get does not consume the value, Remove does.
type Slot[T any] struct {
	mu      sync.Mutex
	value   T
	present bool
	// Closed while a value is present, replaced by an open channel when the value is removed.
	ready chan struct{}
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ready: make(chan struct{})}
}

// NewSlotWith returns a slot already holding value.
func NewSlotWith[T any](value T) *Slot[T] {
	s := NewSlot[T]()
	s.Set(value)
	return s
}

// Set stores value, replacing any previous one, and wakes every current and future reader.
func (s *Slot[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	if !s.present {
		s.present = true
		close(s.ready)
	}
}

// Get blocks until a value is present and returns it without consuming it.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		if s.present {
			value := s.value
			s.mu.Unlock()
			return value, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// GetWithTimeout is Get bounded by timeout. It returns *fleeterrors.ErrTimeout when no value arrived in time.
func (s *Slot[T]) GetWithTimeout(ctx context.Context, timeout time.Duration) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := s.Get(timeoutCtx)
	if err != nil && ctx.Err() == nil {
		return value, &fleeterrors.ErrTimeout{Operation: "slot get", Timeout: timeout}
	}
	return value, err
}

// Remove blocks until a value is present, then clears the slot and returns the value.
// Exactly one concurrent caller obtains a given value.
func (s *Slot[T]) Remove(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		if s.present {
			value := s.value
			var zero T
			s.value = zero
			s.present = false
			s.ready = make(chan struct{})
			s.mu.Unlock()
			return value, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Peek returns the current value without blocking.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.present
}

func (s *Slot[T]) IsPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}
