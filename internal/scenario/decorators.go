package scenario

import (
	"context"

	"github.com/pkg/errors"
)

// Decorator wraps a step and forwards its identity and lifecycle. Decorators embed it and override what they change.
type Decorator struct {
	Inner Step
}

func (d *Decorator) Name() string { return d.Inner.Name() }

func (d *Decorator) Kind() StepKind { return StepKindDecorator }

func (d *Decorator) RetryPolicy() *RetryPolicy { return d.Inner.RetryPolicy() }

func (d *Decorator) Iterations() int { return d.Inner.Iterations() }

func (d *Decorator) Init(ctx context.Context) error { return d.Inner.Init(ctx) }

func (d *Decorator) Start(ctx context.Context, campaign string) error {
	return d.Inner.Start(ctx, campaign)
}

func (d *Decorator) Execute(ctx context.Context, sc *StepContext) error {
	return d.Inner.Execute(ctx, sc)
}

func (d *Decorator) Stop(ctx context.Context, campaign string) error {
	return d.Inner.Stop(ctx, campaign)
}

func (d *Decorator) Destroy(ctx context.Context) error { return d.Inner.Destroy(ctx) }

// Unwrap returns the decorated step.
func (d *Decorator) Unwrap() Step { return d.Inner }

// Innermost removes all the decorators around step.
func Innermost(step Step) Step {
	for {
		wrapper, ok := step.(interface{ Unwrap() Step })
		if !ok {
			return step
		}
		step = wrapper.Unwrap()
	}
}

// NoMoreNextStepDecorator runs the inner step but forwards nothing: the flow of the minion ends there.
type NoMoreNextStepDecorator struct {
	Decorator
}

func NoMoreNextStep(inner Step) Step {
	return &NoMoreNextStepDecorator{Decorator{Inner: inner}}
}

func (d *NoMoreNextStepDecorator) Execute(ctx context.Context, sc *StepContext) error {
	err := d.Inner.Execute(ctx, sc)
	sc.DiscardOutputs()
	return err
}

// TopicPublisherDecorator publishes every output of the inner step to a topic, in addition to forwarding them to
// the next steps. The topic of a campaign is created when the campaign starts.
type TopicPublisherDecorator struct {
	Decorator
	Topics *TopicRegistry
	// Key extracts the record key from an output. Records have no key when nil.
	Key func(value interface{}) string
}

func PublishTo(topics *TopicRegistry, key func(interface{}) string) func(Step) Step {
	return func(inner Step) Step {
		return &TopicPublisherDecorator{Decorator: Decorator{Inner: inner}, Topics: topics, Key: key}
	}
}

func (d *TopicPublisherDecorator) Start(ctx context.Context, campaign string) error {
	if _, err := d.Topics.Open(campaign); err != nil {
		return err
	}
	return d.Inner.Start(ctx, campaign)
}

func (d *TopicPublisherDecorator) Execute(ctx context.Context, sc *StepContext) error {
	if err := d.Inner.Execute(ctx, sc); err != nil {
		return err
	}
	t, err := d.Topics.Open(sc.CampaignKey)
	if err != nil {
		return err
	}
	for _, output := range sc.Outputs() {
		key := ""
		if d.Key != nil {
			key = d.Key(output)
		}
		if err := t.Publish(ctx, key, output); err != nil {
			return errors.WithMessagef(err, "publishing the output of %s", d.Name())
		}
	}
	return nil
}

func (d *TopicPublisherDecorator) Stop(ctx context.Context, campaign string) error {
	d.Topics.Close(campaign)
	return d.Inner.Stop(ctx, campaign)
}
