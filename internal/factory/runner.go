package factory

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/scenario"
)

// ExecutionResult counts the step executions of a minion over a DAG.
type ExecutionResult struct {
	Successful int
	Failed     int
	FirstError string
}

func (r *ExecutionResult) add(other ExecutionResult) {
	r.Successful += other.Successful
	r.Failed += other.Failed
	if r.FirstError == "" {
		r.FirstError = other.FirstError
	}
}

// Runner executes the steps of a DAG for a minion, following the outputs of every step to the next ones.
//
// Cancellation is observed between steps only: a running execution completes, but no further step is called.
type Runner struct {
	sink metrics.Sink
}

func NewRunner(sink metrics.Sink) *Runner {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Runner{sink: sink}
}

// Run executes dag from its root step for minion.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario, dag *scenario.DAG, minion *Minion) ExecutionResult {
	result := ExecutionResult{}
	root, err := dag.RootStep.Get(ctx)
	if err != nil {
		return result
	}
	sc := &scenario.StepContext{
		CampaignKey:  minion.Campaign,
		ScenarioName: s.Name,
		DagName:      dag.Name,
		MinionID:     minion.ID,
		StepName:     root.Name(),
		IsTail:       true,
	}
	r.execute(ctx, s, dag, root, sc, &result)
	return result
}

func (r *Runner) execute(ctx context.Context, s *scenario.Scenario, dag *scenario.DAG, step scenario.Step, sc *scenario.StepContext, result *ExecutionResult) {
	if sc.IsExhausted && scenario.Innermost(step).Kind() != scenario.StepKindErrorProcessor {
		return
	}
	policy := s.RetryPolicyOf(step)
	for i := 0; i < step.Iterations(); i++ {
		if ctx.Err() != nil {
			return
		}
		current := sc.ForIteration(i)
		attempts, err := r.attempt(ctx, step, policy, current)
		if err != nil {
			result.Failed++
			if result.FirstError == "" {
				result.FirstError = step.Name() + ": " + err.Error()
			}
			r.sink.RecordCounter("step_failures", 1)
			current.AddError(scenario.StepError{Step: step.Name(), Message: err.Error(), Attempts: attempts, At: time.Now()})
			// Only error processors receive the failed input.
			r.forward(ctx, s, dag, current, []interface{}{current.Input}, result)
			continue
		}
		result.Successful++
		r.forward(ctx, s, dag, current, current.Outputs(), result)
	}
}

func (r *Runner) forward(ctx context.Context, s *scenario.Scenario, dag *scenario.DAG, sc *scenario.StepContext, values []interface{}, result *ExecutionResult) {
	for _, value := range values {
		for _, name := range dag.Next(sc.StepName) {
			if ctx.Err() != nil {
				return
			}
			next, err := dag.FindStep(ctx, name)
			if err != nil {
				log.WithError(err).Errorf("minion %s cannot reach step %s of %s/%s", sc.MinionID, name, s.Name, dag.Name)
				result.Failed++
				continue
			}
			r.execute(ctx, s, dag, next, sc.Next(name, value), result)
		}
	}
}

// attempt executes step under policy. It returns the number of attempts and the last error.
func (r *Runner) attempt(ctx context.Context, step scenario.Step, policy *scenario.RetryPolicy, sc *scenario.StepContext) (int, error) {
	attempts := 0
	maxAttempts := policy.Attempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	err := retry.Do(
		func() error {
			attempts++
			sc.DiscardOutputs()
			start := time.Now()
			err := step.Execute(ctx, sc)
			r.sink.RecordTimer("step_execution", time.Since(start))
			return err
		},
		retry.Attempts(maxAttempts),
		retry.Delay(policy.Delay),
		retry.MaxDelay(policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && policy.Retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			sc.ConsecutiveFailures++
		}),
	)
	return attempts, lastError(err)
}

// lastError unpacks the error of the last attempt from the list returned by retry.Do.
func lastError(err error) error {
	errs, ok := err.(retry.Error)
	if !ok {
		return err
	}
	for i := len(errs) - 1; i >= 0; i-- {
		if errs[i] != nil {
			return errs[i]
		}
	}
	return nil
}
