package topic

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Unicast delivers every record to exactly one subscriber, chosen round-robin among the current subscribers.
// Records published while nobody is subscribed wait for the first subscriber.
type Unicast struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[string]*queue
	order       []string
	next        int
	pending     []Record
	closed      bool
}

func NewUnicast() *Unicast {
	return &Unicast{subscribers: map[string]*queue{}}
}

func (t *Unicast) Publish(_ context.Context, key string, value interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.seq++
	record := Record{Seq: t.seq, Key: key, Value: value, Timestamp: time.Now()}
	if len(t.order) == 0 {
		t.pending = append(t.pending, record)
		return nil
	}
	t.deliverLocked(record)
	return nil
}

func (t *Unicast) deliverLocked(record Record) {
	t.next = t.next % len(t.order)
	t.subscribers[t.order[t.next]].push(record)
	t.next++
}

func (t *Unicast) Subscribe(subscriberID string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	q, ok := t.subscribers[subscriberID]
	if !ok {
		q = newQueue()
		t.subscribers[subscriberID] = q
		t.order = append(t.order, subscriberID)
		if len(t.pending) > 0 {
			q.push(t.pending...)
			t.pending = nil
		}
	}
	return &queueSubscription{queue: q, cancel: func() { t.unsubscribe(subscriberID) }}, nil
}

// unsubscribe hands the records the subscriber did not read over to the remaining subscribers.
func (t *Unicast) unsubscribe(subscriberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.subscribers[subscriberID]
	if !ok {
		return
	}
	delete(t.subscribers, subscriberID)
	index := slices.Index(t.order, subscriberID)
	t.order = slices.Delete(t.order, index, index+1)
	left := q.close()
	if t.closed {
		return
	}
	for _, record := range left {
		if len(t.order) == 0 {
			t.pending = append(t.pending, record)
		} else {
			t.deliverLocked(record)
		}
	}
}

func (t *Unicast) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, q := range t.subscribers {
		q.close()
	}
	t.pending = nil
}
