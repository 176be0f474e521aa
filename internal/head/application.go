package head

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/common/task"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/head/configuration"
)

const MetricsPrefix = "fleet_head_"

// StartUp connects the head to the transport, tracks the factories and launches the configured campaigns once the
// factories had time to register. The returned function stops the head.
func StartUp(config configuration.HeadConfiguration) (func(), *sync.WaitGroup) {
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
	ctx = fleetcontext.ForNode(ctx, "head")
	sink := metrics.MultiSink{metrics.NewPrometheusSink(prometheus.DefaultRegisterer), metrics.NewLogSink(ctx.Log)}
	head, err := NewHead(config, bus, registry, WithSink(sink))
	if err != nil {
		log.Errorf("Failed to create the head because %s", err)
		os.Exit(-1)
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)

	taskManager := task.NewBackgroundTaskManager(ctx, MetricsPrefix)
	taskManager.Register(head.ExpireFactories, config.Factories.ExpiryCheckInterval, "factory_expiry")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := head.Run(ctx); err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("head stopped")
		}
	}()

	if len(config.Launch) > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(config.FactoriesWarmUp):
			}
			head.Launch(ctx)
		}()
	}

	return func() {
		if taskManager.StopAll(2 * time.Second) {
			log.Warnf("Background tasks did not stop in time")
		}
		cancel()
		<-done
		closeRegistry()
		closeChannel()
		wg.Done()
		if waitForShutdownCompletion(wg, 2*time.Second) {
			log.Warnf("Graceful shutdown timed out")
		}
		log.Infof("Shutdown complete")
	}, wg
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
