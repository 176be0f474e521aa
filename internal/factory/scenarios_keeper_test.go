package factory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/rampup"
	"github.com/G-Research/minionfleet/internal/scenario"
)

// lifecycleStep records the calls to its hooks.
type lifecycleStep struct {
	scenario.BaseStep
	mu    sync.Mutex
	calls []string
}

func (s *lifecycleStep) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *lifecycleStep) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *lifecycleStep) Init(context.Context) error {
	s.record("init")
	return nil
}

func (s *lifecycleStep) Start(_ context.Context, campaign string) error {
	s.record("start " + campaign)
	return nil
}

func (s *lifecycleStep) Execute(context.Context, *scenario.StepContext) error { return nil }

func (s *lifecycleStep) Stop(_ context.Context, campaign string) error {
	s.record("stop " + campaign)
	return nil
}

func (s *lifecycleStep) Destroy(context.Context) error {
	s.record("destroy")
	return nil
}

func newLifecycleScenario(t *testing.T, name string) (*scenario.Scenario, *lifecycleStep) {
	step := &lifecycleStep{BaseStep: scenario.BaseStep{StepName: "step"}}
	s := scenario.NewScenario(name, 1)
	dag, err := scenario.NewDAGBuilder("dag", scenario.UnderLoad()).Step(step).Build()
	require.NoError(t, err)
	require.NoError(t, s.AddDAG(dag))
	return s, step
}

func TestScenariosKeeper_Register(t *testing.T) {
	s, step := newLifecycleScenario(t, "s1")
	keeper := NewScenariosKeeper()

	require.NoError(t, keeper.Register(context.Background(), s))
	assert.Equal(t, []string{"init"}, step.Calls())
	assert.Equal(t, []string{"s1"}, keeper.Names())
	assert.True(t, keeper.Supports("s1", "dag"))
	assert.False(t, keeper.Supports("s1", "other"))
	assert.False(t, keeper.Supports("s2"))

	err := keeper.Register(context.Background(), s)
	var alreadyExists *fleeterrors.ErrAlreadyExists
	assert.ErrorAs(t, err, &alreadyExists)
}

func TestScenariosKeeper_RegisterRejectsInvalidScenarios(t *testing.T) {
	keeper := NewScenariosKeeper()
	var specErr *fleeterrors.ErrSpecification

	empty := scenario.NewScenario("empty", 1)
	assert.ErrorAs(t, keeper.Register(context.Background(), empty), &specErr)

	idle := scenario.NewScenario("idle", 1)
	dag, err := scenario.NewDAGBuilder("dag").Step(scenario.NewDelayStep("wait", 0)).Build()
	require.NoError(t, err)
	require.NoError(t, idle.AddDAG(dag))
	assert.ErrorAs(t, keeper.Register(context.Background(), idle), &specErr)

	badProfile, _ := newLifecycleScenario(t, "bad-profile")
	badProfile.Profile = rampup.Configuration{Type: rampup.Regular}
	assert.Error(t, keeper.Register(context.Background(), badProfile))

	assert.Empty(t, keeper.Names())
}

func TestScenariosKeeper_Descriptors(t *testing.T) {
	s := newCountingScenario(t, "s1", 10, 0)
	keeper := newKeeperWith(t, s.Scenario)

	descriptors := keeper.Descriptors()

	require.Len(t, descriptors, 1)
	assert.Equal(t, "s1", descriptors[0].Name)
	assert.Equal(t, 10, descriptors[0].MinionsCount)
	require.Len(t, descriptors[0].DAGs, 2)
	assert.Equal(t, "load", descriptors[0].DAGs[0].Name)
	assert.True(t, descriptors[0].DAGs[0].IsRoot)
	assert.True(t, descriptors[0].DAGs[0].IsUnderLoad)
	assert.Equal(t, "watch", descriptors[0].DAGs[1].Name)
	assert.True(t, descriptors[0].DAGs[1].IsSingleton)
}

func TestScenariosKeeper_CampaignLifecycle(t *testing.T) {
	s, step := newLifecycleScenario(t, "s1")
	keeper := newKeeperWith(t, s)
	ctx := context.Background()

	require.NoError(t, keeper.StartCampaign(ctx, "c1", "s1"))
	require.NoError(t, keeper.StartCampaign(ctx, "c1", "s1"))
	require.NoError(t, keeper.StartCampaign(ctx, "c2", "s1"))
	assert.True(t, keeper.IsRunning("c1", "s1"))

	require.NoError(t, keeper.StopCampaign(ctx, "c1", "s1"))
	require.NoError(t, keeper.StopCampaign(ctx, "c1", "s1"))
	assert.False(t, keeper.IsRunning("c1", "s1"))
	assert.True(t, keeper.IsRunning("c2", "s1"))

	assert.Equal(t, []string{"init", "start c1", "start c2", "stop c1"}, step.Calls())
}

func TestScenariosKeeper_RetiredScenarioIsDestroyedWithItsLastCampaign(t *testing.T) {
	s, step := newLifecycleScenario(t, "s1")
	keeper := newKeeperWith(t, s)
	ctx := context.Background()

	require.NoError(t, keeper.StartCampaign(ctx, "c1", "s1"))
	require.NoError(t, keeper.Retire(ctx, "s1"))

	assert.Empty(t, keeper.Names())
	assert.False(t, keeper.Supports("s1"))
	assert.Error(t, keeper.StartCampaign(ctx, "c2", "s1"))
	assert.NotContains(t, step.Calls(), "destroy")

	require.NoError(t, keeper.StopCampaign(ctx, "c1", "s1"))
	assert.Equal(t, []string{"init", "start c1", "stop c1", "destroy"}, step.Calls())

	var notFound *fleeterrors.ErrNotFound
	_, err := keeper.Scenario("s1")
	assert.ErrorAs(t, err, &notFound)
}

func TestScenariosKeeper_CloseDestroysIdleScenarios(t *testing.T) {
	s, step := newLifecycleScenario(t, "s1")
	keeper := newKeeperWith(t, s)

	keeper.Close(context.Background())

	assert.Equal(t, []string{"init", "destroy"}, step.Calls())
	assert.Empty(t, keeper.Names())
}
