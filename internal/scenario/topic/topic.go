// Package topic decouples the producers of data from its consumers across DAGs and minions.
// A topic is created per campaign by the step owning it and closed when the campaign stops.
package topic

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned by every operation of a closed topic or cancelled subscription.
var ErrClosed = errors.New("topic closed")

type Record struct {
	Seq       uint64
	Key       string
	Value     interface{}
	Timestamp time.Time
}

type Subscription interface {
	// Poll blocks until a record is available for the subscriber.
	Poll(ctx context.Context) (Record, error)
	Cancel()
}

type Topic interface {
	Publish(ctx context.Context, key string, value interface{}) error
	// Subscribe returns the subscription of subscriberID, creating it on the first call.
	Subscribe(subscriberID string) (Subscription, error)
	Close()
}

type Type string

const (
	UnicastType   Type = "unicast"
	BroadcastType Type = "broadcast"
	LoopType      Type = "loop"
)

// New creates a topic of the given type. capacity bounds the buffer of loop topics and is ignored otherwise.
func New(t Type, capacity int) (Topic, error) {
	switch t {
	case UnicastType:
		return NewUnicast(), nil
	case BroadcastType:
		return NewBroadcast(), nil
	case LoopType:
		return NewLoop(capacity)
	default:
		return nil, errors.Errorf("unknown topic type %q", t)
	}
}

// queue is an unbounded FIFO of records that blocks readers while empty.
type queue struct {
	mu      sync.Mutex
	records []Record
	closed  bool
	notify  chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(records ...Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.records = append(q.records, records...)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) pop(ctx context.Context) (Record, error) {
	for {
		q.mu.Lock()
		if len(q.records) > 0 {
			record := q.records[0]
			q.records = q.records[1:]
			if len(q.records) > 0 {
				// Wake the next reader as well.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return record, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Record{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
	}
}

// close marks the queue closed and returns the records nobody read.
func (q *queue) close() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.records
	q.records = nil
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return left
}

type queueSubscription struct {
	queue  *queue
	cancel func()
}

func (s *queueSubscription) Poll(ctx context.Context) (Record, error) {
	return s.queue.pop(ctx)
}

func (s *queueSubscription) Cancel() {
	s.cancel()
}
