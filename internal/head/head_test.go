package head

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/demo"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/factory"
	factoryconfiguration "github.com/G-Research/minionfleet/internal/factory/configuration"
	"github.com/G-Research/minionfleet/internal/head/configuration"
	"github.com/G-Research/minionfleet/internal/rampup"
)

func testHeadConfiguration() configuration.HeadConfiguration {
	return configuration.HeadConfiguration{
		Factories: configuration.FactoriesConfiguration{HeartbeatTimeout: time.Minute, ExpiryCheckInterval: time.Second},
		Campaigns: configuration.CampaignsConfiguration{StartOffset: 100 * time.Millisecond, RampUpAttempts: 1, MaxStartingLines: 1000},
	}
}

// startFleet runs a head and factories of the demo catalogue in the process, connected by a memory channel.
func startFleet(t *testing.T, factories int) (*Head, *fleetcontext.Context) {
	ctx, cancel := fleetcontext.WithCancel(fleetcontext.Background())
	channel := directive.NewMemoryChannel()
	registry := directive.NewMemoryRegistry()
	bus := directive.NewBus(channel, directive.JSONCodec{})

	head, err := NewHead(testHeadConfiguration(), bus, registry)
	require.NoError(t, err)
	feedbacks, err := bus.SubscribeFeedbacks(ctx)
	require.NoError(t, err)
	go func() { _ = head.Manager.Run(ctx, feedbacks) }()

	options := demo.DefaultOptions()
	options.Latency = time.Millisecond
	options.ThinkTime = 10 * time.Millisecond
	options.FailureRatio = 0
	options.MonitorInterval = 50 * time.Millisecond

	nodes := make([]*factory.Factory, 0, factories)
	for i := 0; i < factories; i++ {
		scenarios, err := demo.NewCatalogue(options).Scenarios()
		require.NoError(t, err)
		config := factoryconfiguration.FactoryConfiguration{
			Application: factoryconfiguration.ApplicationConfiguration{NodeID: fmt.Sprintf("factory-%d", i+1)},
			Minions:     factoryconfiguration.MinionsConfiguration{ShutdownTimeout: time.Second},
		}
		node, err := factory.NewFactory(ctx, config, bus, registry, scenarios)
		require.NoError(t, err)
		go func() { _ = node.Run(ctx) }()
		nodes = append(nodes, node)
	}
	t.Cleanup(func() {
		cancel()
		for _, node := range nodes {
			node.Close(fleetcontext.Background())
		}
		_ = channel.Close()
	})

	waitCtx, waitCancel := fleetcontext.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, head.WaitForFactories(waitCtx, factories))
	return head, ctx
}

func TestHead_RunsACampaignOnSeveralFactories(t *testing.T) {
	head, ctx := startFleet(t, 2)

	key, err := head.Manager.Start(ctx, CampaignRequest{Scenarios: []ScenarioRequest{
		{Name: demo.CheckoutScenario},
		{Name: demo.PingScenario, MinionsCount: 5},
	}})
	require.NoError(t, err)

	waitCtx, cancel := fleetcontext.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	report, err := head.Manager.Wait(waitCtx, key)
	require.NoError(t, err)

	assert.Equal(t, Terminated, report.State, report.Failure)
	assert.Empty(t, report.Aborted)
	assert.Equal(t, 20, report.Scenarios[demo.CheckoutScenario].StartedMinions)
	assert.Equal(t, 20, report.Scenarios[demo.CheckoutScenario].CompletedMinions)
	assert.Equal(t, 5, report.Scenarios[demo.PingScenario].CompletedMinions)
	assert.True(t, report.Successful())
}

func TestHead_AbortsAScenarioDuringItsRampUp(t *testing.T) {
	head, ctx := startFleet(t, 2)

	slow := rampup.Configuration{Type: rampup.Regular, Regular: &rampup.RegularProfile{PeriodMs: 500, MinionsCountProLaunch: 1}}
	key, err := head.Manager.Start(ctx, CampaignRequest{Scenarios: []ScenarioRequest{
		{Name: demo.CheckoutScenario, Profile: slow},
		{Name: demo.PingScenario},
	}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		campaign, err := head.Manager.Campaign(key)
		return err == nil && campaign.State == Running
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, head.Manager.Abort(ctx, key, demo.CheckoutScenario))

	waitCtx, cancel := fleetcontext.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	report, err := head.Manager.Wait(waitCtx, key)
	require.NoError(t, err)

	assert.Equal(t, Terminated, report.State, report.Failure)
	assert.Equal(t, []string{demo.CheckoutScenario}, report.Aborted)
	assert.Equal(t, []string{demo.PingScenario}, sortedKeys(report.Scenarios))
	assert.Equal(t, 10, report.Scenarios[demo.PingScenario].CompletedMinions)
}

func TestHead_AbortsACampaign(t *testing.T) {
	head, ctx := startFleet(t, 1)

	slow := rampup.Configuration{Type: rampup.Regular, Regular: &rampup.RegularProfile{PeriodMs: 500, MinionsCountProLaunch: 1}}
	key, err := head.Manager.Start(ctx, CampaignRequest{Scenarios: []ScenarioRequest{{Name: demo.CheckoutScenario, Profile: slow}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		campaign, err := head.Manager.Campaign(key)
		return err == nil && campaign.State == Running
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, head.Manager.Abort(ctx, key))

	waitCtx, cancel := fleetcontext.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	report, err := head.Manager.Wait(waitCtx, key)
	require.NoError(t, err)
	assert.Equal(t, Aborted, report.State)
	assert.Equal(t, []string{demo.CheckoutScenario}, report.Aborted)
}

func TestHead_AbortsACampaignRightAfterItStarted(t *testing.T) {
	head, ctx := startFleet(t, 2)

	for i := 0; i < 5; i++ {
		key, err := head.Manager.Start(ctx, CampaignRequest{Scenarios: []ScenarioRequest{{Name: demo.CheckoutScenario}}})
		require.NoError(t, err)
		require.NoError(t, head.Manager.Abort(ctx, key))

		waitCtx, cancel := fleetcontext.WithTimeout(ctx, 5*time.Second)
		report, err := head.Manager.Wait(waitCtx, key)
		cancel()
		require.NoError(t, err, "campaign %d", i)
		assert.Equal(t, Aborted, report.State)
		assert.Equal(t, []string{demo.CheckoutScenario}, report.Aborted)
	}
}

func TestHead_RunRegistersTheFactories(t *testing.T) {
	ctx, cancel := fleetcontext.WithCancel(fleetcontext.Background())
	defer cancel()
	channel := directive.NewMemoryChannel()
	defer channel.Close()
	bus := directive.NewBus(channel, directive.JSONCodec{})
	head, err := NewHead(testHeadConfiguration(), bus, directive.NewMemoryRegistry())
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- head.Run(ctx) }()

	registration := directive.FactoryRegistration{NodeID: "factory-1", Scenarios: []directive.ScenarioDescriptor{shopDescriptor("shop", 4)}}
	require.Eventually(t, func() bool {
		require.NoError(t, bus.PublishFeedback(ctx, directive.NewFactoryRegistrationFeedback(registration)))
		healthy, err := head.Manager.Factories().Healthy()
		return err == nil && len(healthy) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("head did not stop")
	}
}
