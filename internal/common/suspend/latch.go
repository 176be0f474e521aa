package suspend

import (
	"context"
	"fmt"
	"sync"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
)

// CountLatch is a counter that suspends Await callers while it is above zero.
// Unlike sync.WaitGroup it can be released, reset and re-armed, and runs an optional callback
// each time it reaches zero, before the waiters are woken.
type CountLatch struct {
	mu             sync.Mutex
	initial        int64
	count          int64
	allowsNegative bool
	onRelease      func()
	// Closed while the count is zero or below.
	released chan struct{}
}

type LatchOption func(*CountLatch)

// AllowNegative lets the counter go below zero.
func AllowNegative() LatchOption {
	return func(l *CountLatch) {
		l.allowsNegative = true
	}
}

// OnRelease registers a callback fired once per transition from a positive count to zero.
func OnRelease(callback func()) LatchOption {
	return func(l *CountLatch) {
		l.onRelease = callback
	}
}

func NewCountLatch(initial int64, opts ...LatchOption) (*CountLatch, error) {
	if initial < 0 {
		return nil, &fleeterrors.ErrInvalidArgument{
			Name:    "initial",
			Value:   initial,
			Message: "a latch cannot start with a negative count",
		}
	}
	l := &CountLatch{
		initial:  initial,
		count:    initial,
		released: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if initial == 0 {
		close(l.released)
	}
	return l, nil
}

// MustNewCountLatch is NewCountLatch for non-negative literal counts.
func MustNewCountLatch(initial int64, opts ...LatchOption) *CountLatch {
	l, err := NewCountLatch(initial, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Increment adds n to the counter and re-arms the suspension if the count becomes positive.
func (l *CountLatch) Increment(n int64) error {
	if n < 0 {
		return negativeStep(n)
	}
	l.mu.Lock()
	l.setLocked(l.count + n)
	return nil
}

// Decrement subtracts n from the counter. Reaching zero fires the release callback and wakes the waiters.
func (l *CountLatch) Decrement(n int64) error {
	if n < 0 {
		return negativeStep(n)
	}
	l.mu.Lock()
	if l.count-n < 0 && !l.allowsNegative {
		count := l.count
		l.mu.Unlock()
		return &fleeterrors.ErrInvalidArgument{
			Name:    "n",
			Value:   n,
			Message: fmt.Sprintf("cannot decrement a latch at %d below zero", count),
		}
	}
	l.setLocked(l.count - n)
	return nil
}

func negativeStep(n int64) error {
	return &fleeterrors.ErrInvalidArgument{Name: "n", Value: n, Message: "the step of a latch must not be negative"}
}

// Await blocks while the counter is above zero.
func (l *CountLatch) Await(ctx context.Context) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release forces the counter to zero and wakes every waiter. Releasing a released latch does nothing.
func (l *CountLatch) Release() {
	l.mu.Lock()
	l.setLocked(0)
}

// Reset restores the initial count, re-arming the suspension when it is positive and releasing it otherwise.
func (l *CountLatch) Reset() {
	l.mu.Lock()
	l.setLocked(l.initial)
}

func (l *CountLatch) Get() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// IsSuspended returns true while Await would block.
func (l *CountLatch) IsSuspended() bool {
	return l.Get() > 0
}

// setLocked must be called with mu held and unlocks it. Every change of the count goes through it: the latch is
// re-armed when the count becomes positive and released when it drops from positive to zero or below.
func (l *CountLatch) setLocked(count int64) {
	wasPositive := l.count > 0
	l.count = count
	switch {
	case !wasPositive && count > 0:
		l.released = make(chan struct{})
	case wasPositive && count <= 0:
		l.releaseLocked()
		return
	}
	l.mu.Unlock()
}

// releaseLocked must be called with mu held and unlocks it. The callback runs outside the lock
// so that it may use the latch, and before the waiters are woken.
func (l *CountLatch) releaseLocked() {
	released := l.released
	callback := l.onRelease
	l.mu.Unlock()
	if callback != nil {
		callback()
	}
	close(released)
}
