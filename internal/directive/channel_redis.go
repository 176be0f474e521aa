package directive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const envelopeField = "envelope"

// RedisStreamChannel maps every topic to a redis stream. Subscribers read the stream from the last entry present
// when they subscribed.
type RedisStreamChannel struct {
	db        redis.UniversalClient
	namespace string
	block     time.Duration
	// Bounds the length of the streams, 0 keeps everything.
	maxLen int64

	mu     sync.Mutex
	closed bool
	cancel []context.CancelFunc
}

func NewRedisStreamChannel(db redis.UniversalClient, namespace string, block time.Duration, maxLen int64) *RedisStreamChannel {
	if block <= 0 {
		block = time.Second
	}
	return &RedisStreamChannel{db: db, namespace: namespace, block: block, maxLen: maxLen}
}

func (c *RedisStreamChannel) stream(topic string) string {
	return c.namespace + ":" + topic
}

func (c *RedisStreamChannel) Publish(_ context.Context, topic string, envelope Envelope) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return errors.WithStack(err)
	}
	err = c.db.XAdd(&redis.XAddArgs{
		Stream:       c.stream(topic),
		MaxLenApprox: c.maxLen,
		Values: map[string]interface{}{
			envelopeField: data,
		},
	}).Err()
	return errors.Wrapf(err, "publishing %s on %s", envelope.Key, topic)
}

func (c *RedisStreamChannel) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = append(c.cancel, cancel)
	c.mu.Unlock()

	stream := c.stream(topic)
	lastID, err := c.lastID(stream)
	if err != nil {
		cancel()
		return nil, err
	}
	out := make(chan Envelope)
	go c.read(ctx, stream, lastID, out)
	return out, nil
}

// lastID returns the id of the newest entry of stream, "0" when the stream is empty.
func (c *RedisStreamChannel) lastID(stream string) (string, error) {
	messages, err := c.db.XRevRangeN(stream, "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return "", errors.Wrapf(err, "reading the last entry of %s", stream)
	}
	if len(messages) == 0 {
		return "0", nil
	}
	return messages[0].ID, nil
}

func (c *RedisStreamChannel) read(ctx context.Context, stream, lastID string, out chan<- Envelope) {
	defer close(out)
	for ctx.Err() == nil {
		result, err := c.db.XRead(&redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   100,
			Block:   c.block,
		}).Result()
		// redis signals a read without new entries by Nil
		if err == redis.Nil {
			continue
		} else if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			log.WithError(err).Warnf("reading stream %s", stream)
			select {
			case <-time.After(c.block):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, s := range result {
			for _, message := range s.Messages {
				lastID = message.ID
				envelope, err := decodeStreamMessage(message)
				if err != nil {
					log.WithError(err).Errorf("dropping entry %s of stream %s", message.ID, stream)
					continue
				}
				select {
				case out <- envelope:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func decodeStreamMessage(message redis.XMessage) (Envelope, error) {
	var envelope Envelope
	data, ok := message.Values[envelopeField].(string)
	if !ok {
		return envelope, errors.Errorf("no %s field", envelopeField)
	}
	err := json.Unmarshal([]byte(data), &envelope)
	return envelope, errors.WithStack(err)
}

func (c *RedisStreamChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the subscriptions. The redis client belongs to the caller.
func (c *RedisStreamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, cancel := range c.cancel {
		cancel()
	}
	c.cancel = nil
	return nil
}
