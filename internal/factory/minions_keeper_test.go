package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/directive"
)

func newTestMinionsKeeper(t *testing.T, cs *countingScenario) (*MinionsKeeper, *recordingBus, *clocktesting.FakeClock) {
	bus := &recordingBus{}
	fakeClock := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	keeper := newKeeperWith(t, cs.Scenario)
	return NewMinionsKeeper("node-1", keeper, NewRunner(nil), bus, fakeClock, metrics.NoopSink{}), bus, fakeClock
}

func TestMinionsKeeper_ReportsEndOfScenarioOnceMinionsCompleted(t *testing.T) {
	cs := newCountingScenario(t, "s1", 3, 0)
	keeper, bus, fakeClock := newTestMinionsKeeper(t, cs)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, keeper.Create("c1", "s1", "load", id, false))
	}
	assert.Equal(t, 3, keeper.Count("c1", "s1"))

	assert.True(t, keeper.StartMinionAt("c1", "s1", "m1", fakeClock.Now()))
	assert.True(t, keeper.StartMinionAt("c1", "s1", "m2", fakeClock.Now()))
	assert.True(t, keeper.StartMinionAt("c1", "s1", "m3", fakeClock.Now().Add(time.Second)))
	assert.False(t, keeper.StartMinionAt("c1", "s1", "unknown", fakeClock.Now()))
	keeper.RampUpScheduled("c1", "s1")

	assert.Eventually(t, func() bool { return cs.executions.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, bus.Feedbacks())

	fakeClock.Step(time.Second)

	assert.Eventually(t, func() bool {
		return len(bus.FeedbacksOfKind(directive.EndOfCampaignScenarioFeedbackKind)) == 1
	}, time.Second, 5*time.Millisecond)
	feedback := bus.FeedbacksOfKind(directive.EndOfCampaignScenarioFeedbackKind)[0]
	assert.Equal(t, "c1", feedback.CampaignKey)
	assert.Equal(t, "s1", feedback.Scenario)
	assert.Equal(t, "node-1", feedback.NodeID)
	assert.Equal(t, directive.Completed, feedback.Status)
	assert.Equal(t, directive.ScenarioReport{StartedMinions: 3, CompletedMinions: 3, SuccessfulExecutions: 6}, *feedback.Report)
}

func TestMinionsKeeper_EndOfScenarioWaitsForRampUp(t *testing.T) {
	cs := newCountingScenario(t, "s1", 1, 0)
	keeper, bus, fakeClock := newTestMinionsKeeper(t, cs)

	require.NoError(t, keeper.Create("c1", "s1", "load", "m1", false))
	keeper.StartMinionAt("c1", "s1", "m1", fakeClock.Now())
	assert.Eventually(t, func() bool { return cs.executions.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bus.Feedbacks())

	keeper.RampUpScheduled("c1", "s1")
	keeper.RampUpScheduled("c1", "s1")

	assert.Eventually(t, func() bool { return len(bus.Feedbacks()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMinionsKeeper_NoMinionOnFactoryStillReportsEnd(t *testing.T) {
	cs := newCountingScenario(t, "s1", 1, 0)
	keeper, bus, _ := newTestMinionsKeeper(t, cs)

	keeper.RampUpScheduled("c1", "s1")

	feedbacks := bus.FeedbacksOfKind(directive.EndOfCampaignScenarioFeedbackKind)
	require.Len(t, feedbacks, 1)
	assert.Equal(t, directive.ScenarioReport{}, *feedbacks[0].Report)
}

func TestMinionsKeeper_SingletonsAreStartedApartAndShutDown(t *testing.T) {
	cs := newCountingScenario(t, "s1", 1, 0)
	keeper, bus, _ := newTestMinionsKeeper(t, cs)

	require.NoError(t, keeper.Create("c1", "s1", "watch", "singleton-1", true))
	keeper.RampUpScheduled("c1", "s1")
	// Singletons do not delay the end of the scenario.
	assert.Len(t, bus.FeedbacksOfKind(directive.EndOfCampaignScenarioFeedbackKind), 1)

	assert.Equal(t, 1, keeper.StartSingletons("c1", "s1"))
	assert.Eventually(t, func() bool { return cs.watching.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, keeper.Shutdown(ctx, "c1", "s1"))
	assert.Equal(t, 0, keeper.Count("c1", "s1"))
	assert.Empty(t, keeper.Scenarios("c1"))
}

func TestMinionsKeeper_AbortCountsRunningMinions(t *testing.T) {
	cs := newCountingScenario(t, "s1", 3, time.Hour)
	keeper, bus, fakeClock := newTestMinionsKeeper(t, cs)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, keeper.Create("c1", "s1", "load", id, false))
	}
	keeper.StartMinionAt("c1", "s1", "m1", fakeClock.Now())
	keeper.StartMinionAt("c1", "s1", "m2", fakeClock.Now())
	keeper.StartMinionAt("c1", "s1", "m3", fakeClock.Now().Add(time.Minute))
	keeper.RampUpScheduled("c1", "s1")
	assert.Eventually(t, func() bool { return cs.executions.Load() == 2 }, time.Second, 5*time.Millisecond)

	lost := keeper.Abort("c1", []string{"s1", "unknown"})

	assert.Equal(t, 2, lost)
	assert.Empty(t, keeper.Scenarios("c1"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bus.FeedbacksOfKind(directive.EndOfCampaignScenarioFeedbackKind))
}

func TestMinionsKeeper_MinionRunsEveryLocalDAG(t *testing.T) {
	cs := newCountingScenario(t, "s1", 1, 0)
	keeper, _, fakeClock := newTestMinionsKeeper(t, cs)

	require.NoError(t, keeper.Create("c1", "s1", "load", "m1", false))
	require.NoError(t, keeper.Create("c1", "s1", "watch", "m1", false))

	minion, ok := keeper.Minion("c1", "s1", "m1")
	require.True(t, ok)
	assert.Equal(t, []string{"load", "watch"}, minion.DAGs())
	assert.Equal(t, 1, keeper.Count("c1", "s1"))

	keeper.StartMinionAt("c1", "s1", "m1", fakeClock.Now())
	assert.Eventually(t, func() bool {
		return cs.executions.Load() == 1 && cs.watching.Load() == 1
	}, time.Second, 5*time.Millisecond)
}
