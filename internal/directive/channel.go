package directive

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

const (
	BroadcastTopic = "directives.broadcast"
	FeedbackTopic  = "feedbacks"
)

// UnicastTopic is the topic read by one factory only.
func UnicastTopic(node string) string {
	return "directives.unicast." + node
}

// ErrChannelClosed is returned when publishing on or subscribing to a closed channel.
var ErrChannelClosed = errors.New("channel closed")

// Channel carries envelopes between the nodes, at least once and in order per topic.
type Channel interface {
	Publish(ctx context.Context, topic string, envelope Envelope) error
	// Subscribe delivers the envelopes published on topic after the call, until ctx is done or the channel closed.
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, error)
	Close() error
}

// mailbox buffers envelopes without bounds, so that publishers never wait for slow subscribers,
// and hands them over to out in order.
type mailbox struct {
	mu      sync.Mutex
	pending []Envelope
	closed  bool
	notify  chan struct{}
	out     chan Envelope
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1), out: make(chan Envelope)}
}

func (m *mailbox) push(e Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = append(m.pending, e)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
}

// run forwards the envelopes to out until ctx is done or the mailbox closed, then closes out.
func (m *mailbox) run(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		closed := m.closed
		m.mu.Unlock()

		for _, e := range batch {
			select {
			case m.out <- e:
			case <-ctx.Done():
				return
			}
		}
		if closed {
			return
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			return
		}
	}
}

// MemoryChannel connects the nodes of a single process.
type MemoryChannel struct {
	mu          sync.Mutex
	subscribers map[string][]*mailbox
	closed      bool
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subscribers: map[string][]*mailbox{}}
}

func (c *MemoryChannel) Publish(_ context.Context, topic string, envelope Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	for _, m := range c.subscribers[topic] {
		m.push(envelope)
	}
	return nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	m := newMailbox()
	c.subscribers[topic] = append(c.subscribers[topic], m)
	go func() {
		m.run(ctx)
		c.unsubscribe(topic, m)
	}()
	return m.out, nil
}

func (c *MemoryChannel) unsubscribe(topic string, m *mailbox) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subscribers := c.subscribers[topic]
	for i, s := range subscribers {
		if s == m {
			c.subscribers[topic] = append(subscribers[:i:i], subscribers[i+1:]...)
			break
		}
	}
	m.close()
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, subscribers := range c.subscribers {
		for _, m := range subscribers {
			m.close()
		}
	}
	return nil
}
