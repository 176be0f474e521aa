package scenario

import (
	"sync"

	"github.com/G-Research/minionfleet/internal/scenario/topic"
)

// TopicRegistry holds one topic per campaign for a step publishing data to other DAGs or minions.
type TopicRegistry struct {
	Type     topic.Type
	Capacity int

	mu     sync.Mutex
	topics map[string]topic.Topic
}

// NewTopicRegistry creates topics of type t. capacity applies to loop topics.
func NewTopicRegistry(t topic.Type, capacity int) *TopicRegistry {
	return &TopicRegistry{Type: t, Capacity: capacity, topics: map[string]topic.Topic{}}
}

// Open returns the topic of campaign, creating it on the first call.
func (r *TopicRegistry) Open(campaign string) (topic.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.topics[campaign]; ok {
		return t, nil
	}
	t, err := topic.New(r.Type, r.Capacity)
	if err != nil {
		return nil, err
	}
	r.topics[campaign] = t
	return t, nil
}

// Close closes the topic of campaign and forgets it.
func (r *TopicRegistry) Close(campaign string) {
	r.mu.Lock()
	t, ok := r.topics[campaign]
	delete(r.topics, campaign)
	r.mu.Unlock()
	if ok {
		t.Close()
	}
}
