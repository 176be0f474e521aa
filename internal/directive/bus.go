package directive

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Bus publishes and receives typed messages over a Channel.
type Bus struct {
	Channel Channel
	Codec   Codec
}

func NewBus(channel Channel, codec Codec) *Bus {
	return &Bus{Channel: channel, Codec: codec}
}

func (b *Bus) PublishDirective(ctx context.Context, topic string, d Directive) error {
	envelope, err := b.Codec.EncodeDirective(d)
	if err != nil {
		return err
	}
	return b.Channel.Publish(ctx, topic, envelope)
}

func (b *Bus) PublishFeedback(ctx context.Context, f *Feedback) error {
	envelope, err := b.Codec.EncodeFeedback(f)
	if err != nil {
		return err
	}
	return b.Channel.Publish(ctx, FeedbackTopic, envelope)
}

// SubscribeDirectives delivers the directives of the topics, merged. Envelopes that cannot be decoded are logged
// and dropped.
func (b *Bus) SubscribeDirectives(ctx context.Context, topics ...string) (<-chan Directive, error) {
	out := make(chan Directive)
	sources := make([]<-chan Envelope, 0, len(topics))
	for _, topic := range topics {
		envelopes, err := b.Channel.Subscribe(ctx, topic)
		if err != nil {
			return nil, err
		}
		sources = append(sources, envelopes)
	}
	merge(ctx, sources, out, func(e Envelope) (Directive, bool) {
		d, err := b.Codec.DecodeDirective(e)
		if err != nil {
			log.WithError(err).Error("dropping directive")
			return nil, false
		}
		return d, true
	})
	return out, nil
}

func (b *Bus) SubscribeFeedbacks(ctx context.Context) (<-chan *Feedback, error) {
	envelopes, err := b.Channel.Subscribe(ctx, FeedbackTopic)
	if err != nil {
		return nil, err
	}
	out := make(chan *Feedback)
	merge(ctx, []<-chan Envelope{envelopes}, out, func(e Envelope) (*Feedback, bool) {
		f, err := b.Codec.DecodeFeedback(e)
		if err != nil {
			log.WithError(err).Error("dropping feedback")
			return nil, false
		}
		return f, true
	})
	return out, nil
}

// merge decodes the envelopes of all sources into out, and closes out once every source is closed.
func merge[T any](ctx context.Context, sources []<-chan Envelope, out chan<- T, decode func(Envelope) (T, bool)) {
	done := make(chan struct{}, len(sources))
	for _, source := range sources {
		go func(source <-chan Envelope) {
			defer func() { done <- struct{}{} }()
			for envelope := range source {
				value, ok := decode(envelope)
				if !ok {
					continue
				}
				select {
				case out <- value:
				case <-ctx.Done():
					return
				}
			}
		}(source)
	}
	go func() {
		for range sources {
			<-done
		}
		close(out)
	}()
}
