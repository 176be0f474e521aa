package topic

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Loop keeps the last records in a bounded buffer and replays them in a loop to every subscriber, so that late
// subscribers still see data. Once the buffer is full, publishing evicts the oldest record.
type Loop struct {
	mu      sync.Mutex
	seq     uint64
	buffer  *lru.Cache
	closed  bool
	changed chan struct{}
}

func NewLoop(capacity int) (*Loop, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("loop topic capacity must be positive, got %d", capacity)
	}
	buffer, err := lru.New(capacity)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Loop{buffer: buffer, changed: make(chan struct{})}, nil
}

func (t *Loop) Publish(_ context.Context, key string, value interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.seq++
	t.buffer.Add(t.seq, Record{Seq: t.seq, Key: key, Value: value, Timestamp: time.Now()})
	close(t.changed)
	t.changed = make(chan struct{})
	return nil
}

func (t *Loop) Subscribe(string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return &loopSubscription{topic: t, done: make(chan struct{})}, nil
}

func (t *Loop) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.changed)
	}
}

type loopSubscription struct {
	topic     *Loop
	mu        sync.Mutex
	cursor    uint64
	cancelled bool
	// Closed on Cancel to wake a blocked Poll.
	done chan struct{}
}

// Poll returns the oldest buffered record published after the last one returned, wrapping around to the oldest
// record of the buffer once the end is reached.
func (s *loopSubscription) Poll(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		t := s.topic
		t.mu.Lock()
		if t.closed || s.cancelled {
			t.mu.Unlock()
			return Record{}, ErrClosed
		}
		record, found := s.nextLocked()
		changed := t.changed
		t.mu.Unlock()
		if found {
			s.cursor = record.Seq
			return record, nil
		}

		select {
		case <-changed:
		case <-s.done:
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
	}
}

func (s *loopSubscription) nextLocked() (Record, bool) {
	keys := s.topic.buffer.Keys()
	if len(keys) == 0 {
		return Record{}, false
	}
	// Keys are ordered from the oldest to the newest.
	for _, key := range keys {
		if key.(uint64) > s.cursor {
			value, _ := s.topic.buffer.Peek(key)
			return value.(Record), true
		}
	}
	value, _ := s.topic.buffer.Peek(keys[0])
	return value.(Record), true
}

func (s *loopSubscription) Cancel() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if !s.cancelled {
		s.cancelled = true
		close(s.done)
	}
}
