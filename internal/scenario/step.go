// Package scenario models what minions replay: a scenario is split into DAGs, each deployable on a different
// factory, and a DAG is a graph of named steps.
//
// Steps are owned by their DAG in an arena of slots keyed by name, and linked by name through an edge table,
// so a step never points to another one. A DAG refers to its scenario by name only.
package scenario

import (
	"context"
	"fmt"
	"time"
)

type StepKind int

const (
	StepKindRegular StepKind = iota
	// Runs once per campaign, in the dedicated minion of a singleton DAG.
	StepKindSingleton
	// Merges a flow with the data published by other DAGs.
	StepKindCorrelation
	// Receives the contexts that failed upstream.
	StepKindErrorProcessor
	// Wraps another step.
	StepKindDecorator
	// Reads the records of a topic instead of the output of a parent.
	StepKindTopicSubscriber
)

func (k StepKind) String() string {
	switch k {
	case StepKindRegular:
		return "regular"
	case StepKindSingleton:
		return "singleton"
	case StepKindCorrelation:
		return "correlation"
	case StepKindErrorProcessor:
		return "error-processor"
	case StepKindDecorator:
		return "decorator"
	case StepKindTopicSubscriber:
		return "topic-subscriber"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// RetryPolicy tells how often a failing execution is attempted again before the context is exhausted.
type RetryPolicy struct {
	// Total number of attempts, including the first one.
	Attempts uint
	// Delay before the first retry, doubled for every further one.
	Delay    time.Duration
	MaxDelay time.Duration
	// RetryOn selects the errors worth a retry. All errors are retried when nil.
	RetryOn func(error) bool
}

// Retryable returns true when err may be retried under the policy.
func (p *RetryPolicy) Retryable(err error) bool {
	return p.RetryOn == nil || p.RetryOn(err)
}

// NoRetry executes steps exactly once.
var NoRetry = &RetryPolicy{Attempts: 1}

// Step is a named unit of work. Execute is called once per incoming context and iteration; the lifecycle hooks
// are called once per scenario (Init, Destroy) or per campaign (Start, Stop).
type Step interface {
	Name() string
	Kind() StepKind
	// RetryPolicy returns nil when the default policy of the scenario applies.
	RetryPolicy() *RetryPolicy
	// Iterations is how many times Execute runs for every incoming context.
	Iterations() int
	Init(ctx context.Context) error
	Start(ctx context.Context, campaign string) error
	Execute(ctx context.Context, sc *StepContext) error
	Stop(ctx context.Context, campaign string) error
	Destroy(ctx context.Context) error
}

// BaseStep provides the identity of a step and no-op lifecycle hooks. Concrete steps embed it and implement Execute.
type BaseStep struct {
	StepName       string
	StepKind       StepKind
	Policy         *RetryPolicy
	IterationCount int
}

func (s *BaseStep) Name() string { return s.StepName }

func (s *BaseStep) Kind() StepKind { return s.StepKind }

func (s *BaseStep) RetryPolicy() *RetryPolicy { return s.Policy }

func (s *BaseStep) Iterations() int {
	if s.IterationCount < 1 {
		return 1
	}
	return s.IterationCount
}

func (s *BaseStep) Init(context.Context) error { return nil }

func (s *BaseStep) Start(context.Context, string) error { return nil }

func (s *BaseStep) Stop(context.Context, string) error { return nil }

func (s *BaseStep) Destroy(context.Context) error { return nil }
