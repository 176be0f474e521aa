package scenario

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/minionfleet/internal/scenario/topic"
)

// FunctionStep runs a function for every context.
type FunctionStep struct {
	BaseStep
	Fn func(ctx context.Context, sc *StepContext) error
}

func NewFunctionStep(name string, fn func(ctx context.Context, sc *StepContext) error) *FunctionStep {
	return &FunctionStep{BaseStep: BaseStep{StepName: name}, Fn: fn}
}

// NewSingletonStep runs fn once per campaign, in the minion of a singleton DAG.
func NewSingletonStep(name string, fn func(ctx context.Context, sc *StepContext) error) *FunctionStep {
	return &FunctionStep{BaseStep: BaseStep{StepName: name, StepKind: StepKindSingleton}, Fn: fn}
}

func (s *FunctionStep) Execute(ctx context.Context, sc *StepContext) error {
	return s.Fn(ctx, sc)
}

// DelayStep forwards its input after a pause.
type DelayStep struct {
	BaseStep
	Delay time.Duration
}

func NewDelayStep(name string, delay time.Duration) *DelayStep {
	return &DelayStep{BaseStep: BaseStep{StepName: name}, Delay: delay}
}

func (s *DelayStep) Execute(ctx context.Context, sc *StepContext) error {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		sc.Send(sc.Input)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoveryFunc returns the value to forward instead of a failed input, or false to keep the context exhausted.
type RecoveryFunc func(errors []StepError, input interface{}) (interface{}, bool)

// ErrorRecoveryStep receives every context, exhausted or not. Healthy contexts pass through unchanged, exhausted
// ones flow again if Recover accepts them.
type ErrorRecoveryStep struct {
	BaseStep
	Recover RecoveryFunc
}

func NewErrorRecoveryStep(name string, recover RecoveryFunc) *ErrorRecoveryStep {
	return &ErrorRecoveryStep{BaseStep: BaseStep{StepName: name, StepKind: StepKindErrorProcessor}, Recover: recover}
}

func (s *ErrorRecoveryStep) Execute(_ context.Context, sc *StepContext) error {
	if !sc.IsExhausted {
		sc.Send(sc.Input)
		return nil
	}
	if value, ok := s.Recover(sc.Errors, sc.Input); ok {
		sc.Recover()
		sc.Send(value)
	}
	return nil
}

// TopicSubscriberStep feeds a DAG with the records of a topic: every execution polls one record for the minion.
// Once the topic is closed, executions forward nothing.
type TopicSubscriberStep struct {
	BaseStep
	Topics *TopicRegistry
}

func NewTopicSubscriberStep(name string, topics *TopicRegistry) *TopicSubscriberStep {
	return &TopicSubscriberStep{BaseStep: BaseStep{StepName: name, StepKind: StepKindTopicSubscriber}, Topics: topics}
}

func (s *TopicSubscriberStep) Execute(ctx context.Context, sc *StepContext) error {
	t, err := s.Topics.Open(sc.CampaignKey)
	if err != nil {
		return err
	}
	subscription, err := t.Subscribe(sc.MinionID)
	if errors.Is(err, topic.ErrClosed) {
		return nil
	} else if err != nil {
		return err
	}
	record, err := subscription.Poll(ctx)
	if errors.Is(err, topic.ErrClosed) {
		return nil
	} else if err != nil {
		return err
	}
	sc.Send(record.Value)
	return nil
}
