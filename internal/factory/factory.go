package factory

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/common/util"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/factory/configuration"
	"github.com/G-Research/minionfleet/internal/scenario"
)

const defaultShutdownTimeout = 10 * time.Second

// Factory wires the keepers and the processors of a node to the directive bus.
type Factory struct {
	NodeID      string
	Scenarios   *ScenariosKeeper
	Minions     *MinionsKeeper
	Assignments *Assignments

	bus        *directive.Bus
	dispatcher *Dispatcher
}

// Option customizes a Factory.
type Option func(*options)

type options struct {
	clock clock.Clock
	sink  metrics.Sink
}

// WithClock replaces the clock used to schedule the start of the minions.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithSink(sink metrics.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// NewFactory creates a factory able to execute the scenarios, exchanging messages on bus and payloads through
// registry.
func NewFactory(
	ctx *fleetcontext.Context,
	config configuration.FactoryConfiguration,
	bus *directive.Bus,
	registry directive.Registry,
	scenarios []*scenario.Scenario,
	opts ...Option,
) (*Factory, error) {
	o := &options{clock: clock.RealClock{}, sink: metrics.NoopSink{}}
	for _, opt := range opts {
		opt(o)
	}
	nodeID := config.Application.NodeID
	if nodeID == "" {
		nodeID = "factory-" + util.NewULID()
	}

	keeper := NewScenariosKeeper()
	for _, s := range scenarios {
		if err := keeper.Register(ctx, s); err != nil {
			return nil, err
		}
	}
	minions := NewMinionsKeeper(nodeID, keeper, NewRunner(o.sink), bus, o.clock, o.sink)
	assignments := NewAssignments()

	var limiter *rate.Limiter
	if config.Minions.CreationRate > 0 {
		burst := config.Minions.CreationBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.Minions.CreationRate), burst)
	}
	shutdownTimeout := config.Minions.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	timeout := func(ctx *fleetcontext.Context) (*fleetcontext.Context, context.CancelFunc) {
		return fleetcontext.WithTimeout(ctx, shutdownTimeout)
	}

	processors := []Processor{
		NewFactoryAssignmentProcessor(nodeID, assignments, keeper),
		NewMinionsCreationPreparationProcessor(assignments, keeper, registry, bus),
		NewMinionsCreationProcessor(assignments, minions, registry, limiter),
		NewMinionsStartProcessor(assignments, minions, registry),
		NewMinionsStartSingletonsProcessor(assignments, minions),
		NewCampaignScenarioShutdownProcessor(assignments, keeper, minions, timeout),
		NewCampaignShutdownProcessor(assignments, keeper, minions, timeout),
		NewCampaignAbortProcessor(assignments, keeper, minions),
	}
	dispatcher, err := NewDispatcher(nodeID, processors, bus, o.sink, config.Dispatcher.MaxConcurrentDirectives, config.Dispatcher.DeduplicationCacheSize)
	if err != nil {
		return nil, err
	}
	return &Factory{
		NodeID:      nodeID,
		Scenarios:   keeper,
		Minions:     minions,
		Assignments: assignments,
		bus:         bus,
		dispatcher:  dispatcher,
	}, nil
}

// Registration describes the factory and its catalogue to the head.
func (f *Factory) Registration() directive.FactoryRegistration {
	return directive.FactoryRegistration{NodeID: f.NodeID, Scenarios: f.Scenarios.Descriptors()}
}

// Register announces the factory to the head. It is called at start-up and on every heartbeat.
func (f *Factory) Register(ctx *fleetcontext.Context) {
	if err := f.bus.PublishFeedback(ctx, directive.NewFactoryRegistrationFeedback(f.Registration())); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("registering the factory")
	}
}

// Run subscribes to the directives for the factory and dispatches them until ctx is done. The factory registers
// once subscribed, so the head never assigns it before it listens.
func (f *Factory) Run(ctx *fleetcontext.Context) error {
	directives, err := f.bus.SubscribeDirectives(ctx, directive.BroadcastTopic, directive.UnicastTopic(f.NodeID))
	if err != nil {
		return err
	}
	f.Register(ctx)
	ctx.Log.Infof("factory %s waiting for directives", f.NodeID)
	return f.dispatcher.Run(ctx, directives)
}

// Close destroys the scenarios once the campaigns using them stopped.
func (f *Factory) Close(ctx *fleetcontext.Context) {
	f.Scenarios.Close(ctx)
}
