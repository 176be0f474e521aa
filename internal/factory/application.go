package factory

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/common/task"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/factory/configuration"
	"github.com/G-Research/minionfleet/internal/scenario"
)

const MetricsPrefix = "fleet_factory_"

// StartUp connects the factory to the transport, registers it to the head and dispatches the directives until the
// returned function is called.
func StartUp(config configuration.FactoryConfiguration, catalogue []*scenario.Scenario) (func(), *sync.WaitGroup) {
	channel, closeChannel, err := directive.NewChannelFromConfig(config.Transport)
	if err != nil {
		log.Errorf("Failed to open the transport because %s", err)
		os.Exit(-1)
	}
	registry, closeRegistry, err := directive.NewRegistryFromConfig(config.Registry)
	if err != nil {
		log.Errorf("Failed to open the registry because %s", err)
		os.Exit(-1)
	}
	bus := directive.NewBus(channel, directive.JSONCodec{})

	ctx, cancel := fleetcontext.WithCancel(fleetcontext.Background())
	sink := metrics.MultiSink{metrics.NewPrometheusSink(prometheus.DefaultRegisterer), metrics.NewLogSink(ctx.Log)}
	factory, err := NewFactory(ctx, config, bus, registry, selectScenarios(config.Application.Scenarios, catalogue), WithSink(sink))
	if err != nil {
		log.Errorf("Failed to create the factory because %s", err)
		os.Exit(-1)
	}
	ctx = fleetcontext.ForNode(ctx, factory.NodeID)

	wg := &sync.WaitGroup{}
	wg.Add(1)

	taskManager := task.NewBackgroundTaskManager(ctx, MetricsPrefix)
	taskManager.Register(factory.Register, config.Task.HeartbeatInterval, "heartbeat")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := factory.Run(ctx); err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("factory stopped")
		}
	}()

	return func() {
		if taskManager.StopAll(2 * time.Second) {
			log.Warnf("Background tasks did not stop in time")
		}
		cancel()
		<-done
		factory.Close(fleetcontext.Background())
		closeRegistry()
		closeChannel()
		wg.Done()
		if waitForShutdownCompletion(wg, 2*time.Second) {
			log.Warnf("Graceful shutdown timed out")
		}
		log.Infof("Shutdown complete")
	}, wg
}

// selectScenarios keeps the scenarios of the catalogue named in names, or all of them when names is empty.
func selectScenarios(names []string, catalogue []*scenario.Scenario) []*scenario.Scenario {
	if len(names) == 0 {
		return catalogue
	}
	selected := make([]*scenario.Scenario, 0, len(names))
	for _, s := range catalogue {
		if slices.Contains(names, s.Name) {
			selected = append(selected, s)
		}
	}
	return selected
}

func waitForShutdownCompletion(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}
