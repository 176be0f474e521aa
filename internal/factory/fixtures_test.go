package factory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/scenario"
)

type published struct {
	topic     string
	directive directive.Directive
}

// recordingBus keeps what the factory publishes.
type recordingBus struct {
	mu         sync.Mutex
	feedbacks  []*directive.Feedback
	directives []published
}

func (b *recordingBus) PublishFeedback(_ context.Context, f *directive.Feedback) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedbacks = append(b.feedbacks, f)
	return nil
}

func (b *recordingBus) PublishDirective(_ context.Context, topic string, d directive.Directive) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.directives = append(b.directives, published{topic: topic, directive: d})
	return nil
}

func (b *recordingBus) Feedbacks() []*directive.Feedback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*directive.Feedback(nil), b.feedbacks...)
}

func (b *recordingBus) FeedbacksOfKind(kind directive.FeedbackKind) []*directive.Feedback {
	var result []*directive.Feedback
	for _, f := range b.Feedbacks() {
		if f.Kind == kind {
			result = append(result, f)
		}
	}
	return result
}

func (b *recordingBus) Directives() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.directives...)
}

// countingScenario has an under-load DAG "load" of two steps and a singleton DAG "watch" blocking until cancelled.
type countingScenario struct {
	*scenario.Scenario
	executions atomic.Int64
	watching   atomic.Int64
}

func newCountingScenario(t *testing.T, name string, minions int, loadDelay time.Duration) *countingScenario {
	cs := &countingScenario{Scenario: scenario.NewScenario(name, minions)}
	load, err := scenario.NewDAGBuilder("load", scenario.Root(), scenario.UnderLoad()).
		Step(scenario.NewFunctionStep("request", func(ctx context.Context, sc *scenario.StepContext) error {
			cs.executions.Add(1)
			sc.Send(sc.MinionID)
			return nil
		})).
		Step(scenario.NewDelayStep("think", loadDelay), "request").
		Build()
	require.NoError(t, err)
	require.NoError(t, cs.AddDAG(load))

	watch, err := scenario.NewDAGBuilder("watch", scenario.Singleton()).
		Step(scenario.NewSingletonStep("poll", func(ctx context.Context, sc *scenario.StepContext) error {
			cs.watching.Add(1)
			<-ctx.Done()
			return nil
		})).
		Build()
	require.NoError(t, err)
	require.NoError(t, cs.AddDAG(watch))
	return cs
}

func newKeeperWith(t *testing.T, scenarios ...*scenario.Scenario) *ScenariosKeeper {
	keeper := NewScenariosKeeper()
	for _, s := range scenarios {
		require.NoError(t, keeper.Register(context.Background(), s))
	}
	return keeper
}
