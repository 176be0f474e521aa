package scenario

import (
	"context"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/rampup"
)

type hookStep struct {
	BaseStep
	calls   []string
	failing bool
}

func (s *hookStep) record(call string) error {
	s.calls = append(s.calls, call)
	if s.failing {
		return errors.New(call + " failed")
	}
	return nil
}

func (s *hookStep) Init(context.Context) error { return s.record("init") }
func (s *hookStep) Start(_ context.Context, c string) error { return s.record("start " + c) }
func (s *hookStep) Stop(_ context.Context, c string) error { return s.record("stop " + c) }
func (s *hookStep) Destroy(context.Context) error { return s.record("destroy") }
func (s *hookStep) Execute(context.Context, *StepContext) error { return nil }

func singleStepDAG(t *testing.T, name string, step Step, opts ...DAGOption) *DAG {
	dag, err := NewDAGBuilder(name, opts...).Step(step).Build()
	require.NoError(t, err)
	return dag
}

func TestScenario_DAGs(t *testing.T) {
	s := NewScenario("shop", 100)
	require.NoError(t, s.AddDAG(singleStepDAG(t, "zeta", noop("z"), UnderLoad())))
	require.NoError(t, s.AddDAG(singleStepDAG(t, "alpha", noop("a"), Singleton())))
	require.NoError(t, s.AddDAG(singleStepDAG(t, "mid", noop("m"), UnderLoad())))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, s.DAGNames())
	assert.Len(t, s.SingletonDAGs(), 1)
	assert.Len(t, s.UnderLoadDAGs(), 2)

	dag, err := s.DAG("mid")
	require.NoError(t, err)
	assert.Equal(t, "shop", dag.ScenarioName)

	_, err = s.DAG("missing")
	assert.True(t, fleeterrors.IsNotFound(err))
	assert.True(t, fleeterrors.IsSpecification(s.AddDAG(singleStepDAG(t, "mid", noop("m")))))
	assert.True(t, fleeterrors.IsSpecification(s.AddDAG(NewDAG("empty"))))
}

func TestScenario_HooksAggregateErrors(t *testing.T) {
	healthy := &hookStep{BaseStep: BaseStep{StepName: "healthy"}}
	broken := &hookStep{BaseStep: BaseStep{StepName: "broken"}, failing: true}
	s := NewScenario("shop", 1)
	require.NoError(t, s.AddDAG(singleStepDAG(t, "a", broken)))
	require.NoError(t, s.AddDAG(singleStepDAG(t, "b", healthy)))

	err := s.Start(context.Background(), "c1")

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.Equal(t, []string{"start c1"}, healthy.calls)

	broken.failing = false
	assert.NoError(t, s.Stop(context.Background(), "c1"))
	assert.NoError(t, s.Destroy(context.Background()))
	assert.Equal(t, []string{"start c1", "stop c1", "destroy"}, healthy.calls)
}

func TestScenario_ExecutionProfile(t *testing.T) {
	s := NewScenario("shop", 1)
	profile, err := s.ExecutionProfile()
	require.NoError(t, err)
	assert.IsType(t, &rampup.ImmediateProfile{}, profile)

	s.Profile = rampup.Configuration{Type: rampup.Regular, Regular: &rampup.RegularProfile{PeriodMs: 10, MinionsCountProLaunch: 2}}
	profile, err = s.ExecutionProfile()
	require.NoError(t, err)
	assert.IsType(t, &rampup.RegularProfile{}, profile)

	s.Profile = rampup.Configuration{Type: rampup.Regular}
	_, err = s.ExecutionProfile()
	assert.Error(t, err)

	s.UserProfile = &rampup.UserDefinedProfile{}
	profile, err = s.ExecutionProfile()
	require.NoError(t, err)
	assert.Same(t, s.UserProfile, profile)
}

func TestScenario_RetryPolicyOf(t *testing.T) {
	s := NewScenario("shop", 1)
	own := &RetryPolicy{Attempts: 3}
	withPolicy := &FunctionStep{BaseStep: BaseStep{StepName: "a", Policy: own}}

	assert.Same(t, own, s.RetryPolicyOf(withPolicy))
	assert.Same(t, NoRetry, s.RetryPolicyOf(noop("b")))
}
