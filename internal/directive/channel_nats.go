package directive

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NatsChannel maps every topic to a NATS subject. Delivery is at most once: subscribers only receive what is
// published while they are connected.
type NatsChannel struct {
	conn      *nats.Conn
	namespace string

	mu            sync.Mutex
	closed        bool
	subscriptions []natsSubscription
}

type natsSubscription struct {
	subscription *nats.Subscription
	mailbox      *mailbox
}

func NewNatsChannel(conn *nats.Conn, namespace string) *NatsChannel {
	return &NatsChannel{conn: conn, namespace: namespace}
}

func (c *NatsChannel) subject(topic string) string {
	if c.namespace == "" {
		return topic
	}
	return c.namespace + "." + topic
}

func (c *NatsChannel) Publish(_ context.Context, topic string, envelope Envelope) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(c.conn.Publish(c.subject(topic), data), "publishing %s on %s", envelope.Key, topic)
}

func (c *NatsChannel) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	m := newMailbox()
	subscription, err := c.conn.Subscribe(c.subject(topic), func(msg *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.WithError(err).Errorf("dropping message of subject %s", msg.Subject)
			return
		}
		m.push(envelope)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribing to %s", topic)
	}
	// The subscription must be known by the server before the first publication.
	if err := c.conn.Flush(); err != nil {
		_ = subscription.Unsubscribe()
		return nil, errors.Wrapf(err, "subscribing to %s", topic)
	}
	c.subscriptions = append(c.subscriptions, natsSubscription{subscription: subscription, mailbox: m})
	go func() {
		m.run(ctx)
		_ = subscription.Unsubscribe()
	}()
	return m.out, nil
}

func (c *NatsChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the subscriptions. The connection belongs to the caller.
func (c *NatsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var result error
	for _, s := range c.subscriptions {
		s.mailbox.close()
		if err := s.subscription.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			result = err
		}
	}
	c.subscriptions = nil
	return result
}
