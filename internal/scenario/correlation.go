package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/minionfleet/internal/scenario/topic"
)

// CorrelationSource is a flow published by another step, joined by key with the primary flow.
type CorrelationSource struct {
	Topics *TopicRegistry
	Key    func(value interface{}) string
}

// Correlated is the output of a CorrelationStep.
type Correlated struct {
	Key         string
	Primary     interface{}
	Secondaries []interface{}
}

// CorrelationStep merges its input with one value of each secondary source having the same key. An input waits
// until all the secondary values arrived; a partial entry older than Timeout is dropped without error.
type CorrelationStep struct {
	BaseStep
	PrimaryKey func(value interface{}) string
	Sources    []CorrelationSource
	Timeout    time.Duration

	cache       *cache.Cache
	cacheMu     sync.Mutex
	consumersMu sync.Mutex
	consumers   map[string]context.CancelFunc
}

func NewCorrelationStep(name string, primaryKey func(interface{}) string, timeout time.Duration, sources ...CorrelationSource) *CorrelationStep {
	cleanup := timeout / 2
	if cleanup < 10*time.Millisecond {
		cleanup = 10 * time.Millisecond
	}
	entries := cache.New(timeout, cleanup)
	entries.OnEvicted(func(_ string, value interface{}) {
		value.(*correlationEntry).evict()
	})
	return &CorrelationStep{
		BaseStep:   BaseStep{StepName: name, StepKind: StepKindCorrelation},
		PrimaryKey: primaryKey,
		Sources:    sources,
		Timeout:    timeout,
		cache:      entries,
		consumers:  map[string]context.CancelFunc{},
	}
}

type correlationEntry struct {
	mu        sync.Mutex
	values    []interface{}
	filled    []bool
	remaining int
	complete  chan struct{}
	evicted   chan struct{}
	evictOnce sync.Once
}

func newCorrelationEntry(size int) *correlationEntry {
	e := &correlationEntry{
		values:    make([]interface{}, size),
		filled:    make([]bool, size),
		remaining: size,
		complete:  make(chan struct{}),
		evicted:   make(chan struct{}),
	}
	if size == 0 {
		close(e.complete)
	}
	return e
}

// fill keeps the first value received from a source.
func (e *correlationEntry) fill(index int, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.filled[index] {
		return
	}
	e.filled[index] = true
	e.values[index] = value
	e.remaining--
	if e.remaining == 0 {
		close(e.complete)
	}
}

func (e *correlationEntry) snapshot() []interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]interface{}(nil), e.values...)
}

func (e *correlationEntry) evict() {
	e.evictOnce.Do(func() { close(e.evicted) })
}

func cacheKey(campaign, key string) string {
	return campaign + "/" + key
}

func (s *CorrelationStep) entry(campaign, key string) *correlationEntry {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	k := cacheKey(campaign, key)
	if value, ok := s.cache.Get(k); ok {
		return value.(*correlationEntry)
	}
	e := newCorrelationEntry(len(s.Sources))
	s.cache.SetDefault(k, e)
	return e
}

// Start consumes the secondary sources of campaign until Stop.
func (s *CorrelationStep) Start(_ context.Context, campaign string) error {
	s.consumersMu.Lock()
	defer s.consumersMu.Unlock()
	if _, ok := s.consumers[campaign]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	for i, source := range s.Sources {
		t, err := source.Topics.Open(campaign)
		if err != nil {
			cancel()
			return err
		}
		subscription, err := t.Subscribe("correlation:" + s.Name())
		if err != nil {
			cancel()
			return err
		}
		go s.consume(ctx, campaign, i, source, subscription)
	}
	s.consumers[campaign] = cancel
	return nil
}

func (s *CorrelationStep) consume(ctx context.Context, campaign string, index int, source CorrelationSource, subscription topic.Subscription) {
	defer subscription.Cancel()
	for {
		record, err := subscription.Poll(ctx)
		if err != nil {
			if ctx.Err() == nil && err != topic.ErrClosed {
				log.WithError(err).Warnf("correlation %s stopped reading source %d", s.Name(), index)
			}
			return
		}
		s.entry(campaign, source.Key(record.Value)).fill(index, record.Value)
	}
}

func (s *CorrelationStep) Execute(ctx context.Context, sc *StepContext) error {
	key := s.PrimaryKey(sc.Input)
	e := s.entry(sc.CampaignKey, key)
	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()

	select {
	case <-e.complete:
		s.cache.Delete(cacheKey(sc.CampaignKey, key))
		sc.Send(Correlated{Key: key, Primary: sc.Input, Secondaries: e.snapshot()})
		return nil
	case <-e.evicted:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	// A complete entry may be evicted once the values are in.
	select {
	case <-e.complete:
		sc.Send(Correlated{Key: key, Primary: sc.Input, Secondaries: e.snapshot()})
	default:
		log.Debugf("correlation %s dropped key %s after %s", s.Name(), key, s.Timeout)
	}
	return nil
}

func (s *CorrelationStep) Stop(_ context.Context, campaign string) error {
	s.consumersMu.Lock()
	cancel, ok := s.consumers[campaign]
	delete(s.consumers, campaign)
	s.consumersMu.Unlock()
	if ok {
		cancel()
	}
	return nil
}
