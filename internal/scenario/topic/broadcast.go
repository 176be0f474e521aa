package topic

import (
	"context"
	"sync"
	"time"
)

// Broadcast delivers every record to all the subscribers present when it is published.
type Broadcast struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[string]*queue
	closed      bool
}

func NewBroadcast() *Broadcast {
	return &Broadcast{subscribers: map[string]*queue{}}
}

func (t *Broadcast) Publish(_ context.Context, key string, value interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.seq++
	record := Record{Seq: t.seq, Key: key, Value: value, Timestamp: time.Now()}
	for _, q := range t.subscribers {
		q.push(record)
	}
	return nil
}

func (t *Broadcast) Subscribe(subscriberID string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	q, ok := t.subscribers[subscriberID]
	if !ok {
		q = newQueue()
		t.subscribers[subscriberID] = q
	}
	return &queueSubscription{queue: q, cancel: func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if current, ok := t.subscribers[subscriberID]; ok && current == q {
			delete(t.subscribers, subscriberID)
		}
		q.close()
	}}, nil
}

func (t *Broadcast) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, q := range t.subscribers {
		q.close()
	}
}
