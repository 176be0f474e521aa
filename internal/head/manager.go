package head

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/common/suspend"
	"github.com/G-Research/minionfleet/internal/common/util"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/head/configuration"
	"github.com/G-Research/minionfleet/internal/rampup"
)

const rampUpRetryDelay = 100 * time.Millisecond

// DirectivePublisher sends directives to the factories.
type DirectivePublisher interface {
	PublishDirective(ctx context.Context, topic string, d directive.Directive) error
}

// ScenarioRequest selects a scenario for a campaign. Zero values fall back to what the factories registered.
type ScenarioRequest struct {
	Name         string
	MinionsCount int
	Profile      rampup.Configuration
	// UserProfile replaces Profile. It only exists in code, so it can be used when the head runs in the same
	// process as the requester.
	UserProfile rampup.Profile
}

type CampaignRequest struct {
	// Generated when empty.
	Key         string
	SpeedFactor float64
	Scenarios   []ScenarioRequest
}

// NewCampaignRequest converts a campaign of the configuration.
func NewCampaignRequest(c configuration.CampaignRequestConfiguration) CampaignRequest {
	request := CampaignRequest{Key: c.Key, SpeedFactor: c.SpeedFactor}
	for _, s := range c.Scenarios {
		request.Scenarios = append(request.Scenarios, ScenarioRequest{Name: s.Name, MinionsCount: s.MinionsCount, Profile: s.Profile})
	}
	return request
}

// expectation is a directive the head waits for the given factories to complete.
type expectation struct {
	kind directive.Kind
	// Empty for the directives concerning the whole campaign.
	scenario string
	nodes    map[string]struct{}
}

// tracker follows one campaign through its states. It is only used under the lock of the manager.
type tracker struct {
	campaign *RunningCampaign
	// Expectations of the current state, by directive key.
	expected map[string]*expectation
	// Factories that reported the end of each scenario.
	ended map[string]map[string]struct{}
	// Scenarios whose shutdown was requested.
	closed  map[string]bool
	reports map[string]directive.ScenarioReport
	aborted []string
	// Aborts sent so far, sent again to a factory acknowledging its assignment after them.
	aborts []*directive.CampaignAbortDirective
	// Errors reported by the factories while aborting the whole campaign.
	failures []string
	report   *suspend.Slot[*CampaignReport]
}

func (t *tracker) expect(d directive.Directive, scenario string, nodes []string) {
	if len(nodes) == 0 {
		return
	}
	set := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		set[node] = struct{}{}
	}
	t.expected[d.DirectiveKey()] = &expectation{kind: d.Kind(), scenario: scenario, nodes: set}
}

// activeNodes returns the factories running a scenario that was not shut down yet, sorted.
func (t *tracker) activeNodes() []string {
	var nodes []string
	for _, node := range t.campaign.FactoryNodes() {
		for name := range t.campaign.Factories[node] {
			if !t.closed[name] {
				nodes = append(nodes, node)
				break
			}
		}
	}
	return nodes
}

// CampaignManager drives the campaigns from the head: it emits the directives of each state and moves to the next
// state once every concerned factory completed them.
type CampaignManager struct {
	mu         sync.Mutex
	campaigns  *CampaignStore
	factories  *FactoryRegistry
	registry   directive.Registry
	directives DirectivePublisher
	config     configuration.CampaignsConfiguration
	clock      clock.Clock
	sink       metrics.Sink
	trackers   map[string]*tracker
}

// Option customizes a CampaignManager.
type Option func(*CampaignManager)

func WithClock(c clock.Clock) Option {
	return func(m *CampaignManager) { m.clock = c }
}

func WithSink(sink metrics.Sink) Option {
	return func(m *CampaignManager) { m.sink = sink }
}

// NewCampaignManager creates a manager with empty campaign and factory stores.
func NewCampaignManager(
	config configuration.CampaignsConfiguration,
	registry directive.Registry,
	directives DirectivePublisher,
	opts ...Option,
) (*CampaignManager, error) {
	m := &CampaignManager{
		registry:   registry,
		directives: directives,
		config:     config,
		clock:      clock.RealClock{},
		sink:       metrics.NoopSink{},
		trackers:   map[string]*tracker{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.config.RampUpAttempts == 0 {
		m.config.RampUpAttempts = 1
	}
	if m.config.MaxStartingLines <= 0 {
		m.config.MaxStartingLines = 100_000
	}
	var err error
	if m.campaigns, err = NewCampaignStore(); err != nil {
		return nil, err
	}
	if m.factories, err = NewFactoryRegistry(m.clock); err != nil {
		return nil, err
	}
	return m, nil
}

// Factories returns the registry of the factories known to the head.
func (m *CampaignManager) Factories() *FactoryRegistry {
	return m.factories
}

// Start assigns the scenarios of request to the healthy factories and starts the campaign. It returns the key of
// the campaign once the assignments are sent.
func (m *CampaignManager) Start(ctx *fleetcontext.Context, request CampaignRequest) (string, error) {
	if len(request.Scenarios) == 0 {
		return "", &fleeterrors.ErrInvalidArgument{Name: "scenarios", Value: request.Scenarios, Message: "a campaign needs at least one scenario"}
	}
	if request.SpeedFactor < 0 {
		return "", &fleeterrors.ErrInvalidArgument{Name: "speedFactor", Value: request.SpeedFactor, Message: "must not be negative"}
	}
	speedFactor := request.SpeedFactor
	if speedFactor == 0 {
		speedFactor = 1
	}
	key := request.Key
	if key == "" {
		key = util.NewCampaignKey()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, err := m.campaigns.Get(key); err != nil {
		return "", err
	} else if existing != nil {
		return "", &fleeterrors.ErrAlreadyExists{Type: "campaign", Value: key}
	}
	factories, err := m.factories.Healthy()
	if err != nil {
		return "", err
	}

	campaign := NewRunningCampaign(key, speedFactor, m.config.StartOffset, m.clock.Now())
	for _, s := range request.Scenarios {
		if _, ok := campaign.Scenarios[s.Name]; ok {
			return "", &fleeterrors.ErrInvalidArgument{Name: "scenarios", Value: s.Name, Message: "scenario requested twice"}
		}
		descriptor, found, err := m.factories.Descriptor(s.Name)
		if err != nil {
			return "", err
		}
		if !found {
			return "", &fleeterrors.ErrNotFound{Type: "scenario", Value: s.Name, Message: "no healthy factory supports it"}
		}
		configuration := ScenarioConfiguration{MinionsCount: s.MinionsCount, Profile: s.Profile, UserProfile: s.UserProfile}
		if configuration.MinionsCount <= 0 {
			configuration.MinionsCount = descriptor.MinionsCount
		}
		if configuration.MinionsCount <= 0 {
			return "", &fleeterrors.ErrInvalidArgument{Name: "minionsCount", Value: configuration.MinionsCount, Message: "scenario " + s.Name + " starts no minion"}
		}
		if configuration.Profile.IsZero() {
			configuration.Profile = descriptor.Profile
		}
		if !configuration.Profile.IsZero() {
			if err := configuration.Profile.Validate(); err != nil {
				return "", errors.WithMessagef(err, "profile of scenario %s", s.Name)
			}
		}
		assignments, dags, err := resolveAssignments(s.Name, configuration.MinionsCount, factories)
		if err != nil {
			return "", err
		}
		configuration.DAGs = dags
		campaign.Scenarios[s.Name] = configuration
		for node, assignment := range assignments {
			if _, ok := campaign.Factories[node]; !ok {
				campaign.Factories[node] = map[string]directive.FactoryScenarioAssignment{}
			}
			campaign.Factories[node][s.Name] = assignment
		}
	}

	t := &tracker{
		campaign: campaign,
		expected: map[string]*expectation{},
		ended:    map[string]map[string]struct{}{},
		closed:   map[string]bool{},
		reports:  map[string]directive.ScenarioReport{},
		report:   suspend.NewSlot[*CampaignReport](),
	}
	m.trackers[key] = t
	if err := m.save(t); err != nil {
		delete(m.trackers, key)
		return "", err
	}
	ctx = fleetcontext.ForCampaign(ctx, key)
	ctx.Log.Infof("starting campaign with scenarios %v on factories %v", campaign.ScenarioNames(), campaign.FactoryNodes())
	m.sink.RecordCounter("campaigns_started", 1)

	for _, node := range campaign.FactoryNodes() {
		assignment := directive.NewFactoryAssignmentDirective(key, node, campaign.Factories[node])
		t.expect(assignment, "", []string{node})
		if err := m.directives.PublishDirective(ctx, directive.UnicastTopic(node), assignment); err != nil {
			m.fail(ctx, t, errors.WithMessagef(err, "assigning factory %s", node).Error())
			return key, err
		}
	}
	return key, nil
}

// Abort stops the given scenarios of a campaign, or all of them when none is given. A partial abort lets the other
// scenarios run to their end.
func (m *CampaignManager) Abort(ctx *fleetcontext.Context, key string, scenarios ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[key]
	if !ok {
		return &fleeterrors.ErrNotFound{Type: "campaign", Value: key}
	}
	campaign := t.campaign
	if campaign.State.IsFinal() || campaign.State == Aborting {
		return nil
	}
	ctx = fleetcontext.ForCampaign(ctx, key)

	var selected []string
	for _, name := range scenarios {
		if _, ok := campaign.Scenarios[name]; !ok {
			return &fleeterrors.ErrNotFound{Type: "scenario", Value: name, Message: "not part of campaign " + key}
		}
		selected = append(selected, name)
	}
	if len(selected) == 0 || len(selected) == len(campaign.Scenarios) {
		return m.abortAll(ctx, t)
	}

	abort := directive.NewCampaignAbortDirective(key, selected)
	t.aborts = append(t.aborts, abort)
	ctx.Log.Infof("aborting scenarios %v", abort.Scenarios)
	for _, name := range abort.Scenarios {
		for _, node := range campaign.FactoriesOf(name) {
			campaign.UnassignScenarioOfFactory(name, node)
		}
		delete(campaign.Scenarios, name)
		delete(t.ended, name)
		delete(t.closed, name)
		t.aborted = append(t.aborted, name)
		for directiveKey, e := range t.expected {
			if e.scenario == name {
				delete(t.expected, directiveKey)
			}
		}
	}
	// A factory left with shut down scenarios only forgets the campaign when it aborts.
	active := t.activeNodes()
	for _, node := range campaign.FactoryNodes() {
		if !slices.Contains(active, node) {
			campaign.UnassignFactory(node)
		}
	}
	if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, abort); err != nil {
		return err
	}
	if err := m.save(t); err != nil {
		return err
	}
	m.progress(ctx, t)
	return nil
}

func (m *CampaignManager) abortAll(ctx *fleetcontext.Context, t *tracker) error {
	campaign := t.campaign
	abort := directive.NewCampaignAbortDirective(campaign.Key, campaign.ScenarioNames())
	ctx.Log.Infof("aborting the campaign")
	t.aborted = append(t.aborted, abort.Scenarios...)
	t.aborts = append(t.aborts, abort)
	t.expected = map[string]*expectation{}
	t.expect(abort, "", t.activeNodes())
	campaign.State = Aborting
	if err := m.save(t); err != nil {
		return err
	}
	if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, abort); err != nil {
		return err
	}
	m.progress(ctx, t)
	return nil
}

// HandleFeedback applies a feedback from a factory.
func (m *CampaignManager) HandleFeedback(ctx *fleetcontext.Context, f *directive.Feedback) {
	if f.Kind == directive.FactoryRegistrationFeedbackKind {
		m.register(ctx, f)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[f.CampaignKey]
	if !ok {
		return
	}
	ctx = fleetcontext.WithLogFields(ctx, logrus.Fields{fleetcontext.CampaignField: f.CampaignKey, fleetcontext.NodeField: f.NodeID})
	if f.Kind == directive.DirectiveFeedbackKind && f.DirectiveKind == directive.FactoryAssignmentKind && f.Status.IsDone() {
		m.abortAgain(ctx, t, f.NodeID)
	}
	if t.campaign.State.IsFinal() {
		return
	}

	switch f.Kind {
	case directive.EndOfCampaignScenarioFeedbackKind:
		m.scenarioEnded(ctx, t, f)
	case directive.DirectiveFeedbackKind:
		m.directiveAnswered(ctx, t, f)
	}
}

// abortAgain sends the aborts of the campaign to a factory that applied its assignment after they were sent: the
// factory ignored them while it did not know the campaign.
func (m *CampaignManager) abortAgain(ctx *fleetcontext.Context, t *tracker, node string) {
	for _, abort := range t.aborts {
		ctx.Log.Infof("sending abort %s again to factory %s", abort.DirectiveKey(), node)
		if err := m.directives.PublishDirective(ctx, directive.UnicastTopic(node), abort); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("sending abort %s to factory %s", abort.DirectiveKey(), node)
		}
	}
}

func (m *CampaignManager) register(ctx *fleetcontext.Context, f *directive.Feedback) {
	if f.Registration == nil {
		ctx.Log.Warnf("registration of factory %s without catalogue", f.NodeID)
		return
	}
	added, err := m.factories.Register(*f.Registration)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("registering a factory")
		return
	}
	if added {
		ctx.Log.Infof("factory %s registered with %d scenarios", f.NodeID, len(f.Registration.Scenarios))
		m.sink.RecordCounter("factories_registered", 1)
	}
}

func (m *CampaignManager) scenarioEnded(ctx *fleetcontext.Context, t *tracker, f *directive.Feedback) {
	if _, ok := t.campaign.Scenarios[f.Scenario]; !ok {
		return
	}
	nodes, ok := t.ended[f.Scenario]
	if !ok {
		nodes = map[string]struct{}{}
		t.ended[f.Scenario] = nodes
	}
	if _, seen := nodes[f.NodeID]; seen {
		return
	}
	nodes[f.NodeID] = struct{}{}
	if f.Report != nil {
		report := t.reports[f.Scenario]
		report.Merge(*f.Report)
		t.reports[f.Scenario] = report
	}
	ctx.Log.Infof("scenario %s ended on factory %s", f.Scenario, f.NodeID)
	m.progress(ctx, t)
}

func (m *CampaignManager) directiveAnswered(ctx *fleetcontext.Context, t *tracker, f *directive.Feedback) {
	if !f.Status.IsDone() {
		ctx.Log.Debugf("%s %s in progress", f.DirectiveKind, f.DirectiveKey)
		return
	}
	if f.Status == directive.Failed {
		message := fmt.Sprintf("factory %s failed %s: %s", f.NodeID, f.DirectiveKind, f.Error)
		switch f.DirectiveKind {
		case directive.CampaignAbortKind, directive.CampaignScenarioShutdownKind, directive.CampaignShutdownKind:
			ctx.Log.Warn(message)
			if t.campaign.State == Aborting && f.DirectiveKind == directive.CampaignAbortKind {
				t.failures = append(t.failures, message)
			}
		default:
			m.fail(ctx, t, message)
			return
		}
	}
	e, ok := t.expected[f.DirectiveKey]
	if !ok {
		return
	}
	delete(e.nodes, f.NodeID)
	if len(e.nodes) == 0 {
		delete(t.expected, f.DirectiveKey)
	}
	m.progress(ctx, t)
}

// progress moves the campaign forward as long as nothing more is expected in its state.
func (m *CampaignManager) progress(ctx *fleetcontext.Context, t *tracker) {
	campaign := t.campaign
	for !campaign.State.IsFinal() {
		if campaign.State == Running {
			m.closeEndedScenarios(ctx, t)
		}
		if len(t.expected) > 0 {
			return
		}
		previous := campaign.State
		if err := m.advance(ctx, t); err != nil {
			m.fail(ctx, t, err.Error())
			return
		}
		if campaign.State == previous {
			return
		}
	}
}

// advance emits the directives of the state following the current one, whose expectations are all met.
func (m *CampaignManager) advance(ctx *fleetcontext.Context, t *tracker) error {
	campaign := t.campaign
	switch campaign.State {
	case Created:
		m.transition(ctx, t, FactoriesAssigned)
	case FactoriesAssigned:
		if err := m.prepareMinions(ctx, t); err != nil {
			return err
		}
		m.transition(ctx, t, MinionsCreating)
	case MinionsCreating:
		m.transition(ctx, t, RampUpPreparing)
	case RampUpPreparing:
		if err := m.startMinions(ctx, t); err != nil {
			return err
		}
		m.transition(ctx, t, MinionsStarting)
	case MinionsStarting:
		m.transition(ctx, t, Running)
	case Running:
		if len(t.closed) < len(campaign.Scenarios) {
			return nil
		}
		shutdown := directive.NewCampaignShutdownDirective(campaign.Key)
		t.expect(shutdown, "", campaign.FactoryNodes())
		m.transition(ctx, t, ShuttingDown)
		if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, shutdown); err != nil {
			return err
		}
	case ShuttingDown:
		m.finish(ctx, t, Terminated)
	case Aborting:
		if len(t.failures) > 0 {
			campaign.Failure = t.failures[0]
		}
		m.finish(ctx, t, Aborted)
	}
	return nil
}

func (m *CampaignManager) prepareMinions(ctx *fleetcontext.Context, t *tracker) error {
	campaign := t.campaign
	for _, name := range campaign.ScenarioNames() {
		configuration := campaign.Scenarios[name]
		preparation := directive.NewMinionsCreationPreparationDirective(campaign.Key, name)
		if err := directive.SaveCount(ctx, m.registry, campaign.Key, preparation.DirectiveKey(), configuration.MinionsCount); err != nil {
			return err
		}
		for _, dag := range configuration.DAGs {
			creation := directive.NewMinionsCreationDirective(campaign.Key, name, dag.Name, dag.IsSingleton)
			t.expect(creation, name, campaign.FactoriesOfDAG(name, dag.Name))
		}
		if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, preparation); err != nil {
			return err
		}
	}
	return nil
}

func (m *CampaignManager) startMinions(ctx *fleetcontext.Context, t *tracker) error {
	campaign := t.campaign
	for _, name := range campaign.ScenarioNames() {
		configuration := campaign.Scenarios[name]
		start := directive.NewMinionsStartDirective(campaign.Key, name)
		err := retry.Do(
			func() error {
				return m.scheduleStart(ctx, campaign, name, start)
			},
			retry.Attempts(m.config.RampUpAttempts),
			retry.Delay(rampUpRetryDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				logging.WithStacktrace(ctx.Log, err).Warnf("attempt %d to prepare the ramp-up of %s failed", n+1, name)
			}),
		)
		if err != nil {
			return errors.WithMessagef(err, "preparing the ramp-up of scenario %s", name)
		}
		nodes := campaign.FactoriesOf(name)
		t.expect(start, name, nodes)
		if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, start); err != nil {
			return err
		}
		if len(configuration.SingletonDAGs()) > 0 {
			singletons := directive.NewMinionsStartSingletonsDirective(campaign.Key, name)
			t.expect(singletons, name, nodes)
			if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, singletons); err != nil {
				return err
			}
		}
	}
	return nil
}

// scheduleStart computes the start time of every minion under load of a scenario from its profile and saves them
// as the payload of start.
func (m *CampaignManager) scheduleStart(ctx *fleetcontext.Context, campaign *RunningCampaign, name string, start *directive.MinionsStartDirective) error {
	ids, err := m.registry.MinionIDs(ctx, campaign.Key, name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.Errorf("no minion was prepared for scenario %s", name)
	}
	profile, err := campaign.Scenarios[name].RampUpProfile()
	if err != nil {
		return err
	}
	lines, err := rampup.Collect(profile.Iterator(len(ids), campaign.SpeedFactor), m.config.MaxStartingLines)
	if err != nil {
		return err
	}

	definitions := make([]directive.MinionStartDefinition, 0, len(ids))
	at := m.clock.Now().Add(campaign.StartOffset)
	for _, line := range lines {
		for i := 0; i < line.Count && len(definitions) < len(ids); i++ {
			definitions = append(definitions, directive.MinionStartDefinition{MinionID: ids[len(definitions)], StartAt: at})
		}
		at = at.Add(line.Offset)
	}
	if len(definitions) < len(ids) {
		return errors.Errorf("the profile started %d minions out of %d", len(definitions), len(ids))
	}
	values, err := directive.EncodeStartDefinitions(definitions)
	if err != nil {
		return err
	}
	if err := m.registry.SaveList(ctx, campaign.Key, start.DirectiveKey(), values); err != nil {
		return err
	}
	ctx.Log.Infof("scheduled %d minions of scenario %s in %d starting lines", len(definitions), name, len(lines)-1)
	return nil
}

// closeEndedScenarios shuts down the scenarios that every factory running them reported ended.
func (m *CampaignManager) closeEndedScenarios(ctx *fleetcontext.Context, t *tracker) {
	campaign := t.campaign
	for _, name := range campaign.ScenarioNames() {
		if t.closed[name] {
			continue
		}
		done := true
		for _, node := range campaign.FactoriesOf(name) {
			if _, ok := t.ended[name][node]; !ok {
				done = false
				break
			}
		}
		if !done {
			continue
		}
		t.closed[name] = true
		ctx.Log.Infof("scenario %s completed", name)
		shutdown := directive.NewCampaignScenarioShutdownDirective(campaign.Key, name)
		if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, shutdown); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("shutting down scenario %s", name)
		}
	}
}

// ExpireFactories unassigns the factories that stopped sending heartbeats from the running campaigns. A campaign
// left without factory for one of its scenarios fails.
func (m *CampaignManager) ExpireFactories(ctx *fleetcontext.Context, timeout time.Duration) {
	expired, err := m.factories.Expire(timeout)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("expiring factories")
		return
	}
	if len(expired) == 0 {
		return
	}
	ctx.Log.Warnf("factories %v expired", expired)
	m.sink.RecordCounter("factories_expired", float64(len(expired)))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range sortedKeys(m.trackers) {
		t := m.trackers[key]
		campaign := t.campaign
		if campaign.State.IsFinal() {
			continue
		}
		lost := false
		for _, node := range expired {
			if _, ok := campaign.Factories[node]; !ok {
				continue
			}
			lost = true
			campaign.UnassignFactory(node)
			for directiveKey, e := range t.expected {
				delete(e.nodes, node)
				if len(e.nodes) == 0 {
					delete(t.expected, directiveKey)
				}
			}
		}
		if !lost {
			continue
		}
		campaignCtx := fleetcontext.ForCampaign(ctx, key)
		if orphan := orphanScenario(campaign); orphan != "" {
			m.fail(campaignCtx, t, fmt.Sprintf("no factory left for scenario %s", orphan))
			continue
		}
		if err := m.save(t); err != nil {
			logging.WithStacktrace(campaignCtx.Log, err).Warn("saving the campaign")
		}
		m.progress(campaignCtx, t)
	}
}

func orphanScenario(campaign *RunningCampaign) string {
	for _, name := range campaign.ScenarioNames() {
		if len(campaign.FactoriesOf(name)) == 0 {
			return name
		}
	}
	return ""
}

// fail ends the campaign on an error. The factories are asked to drop the campaign without waiting for them.
func (m *CampaignManager) fail(ctx *fleetcontext.Context, t *tracker, message string) {
	campaign := t.campaign
	if campaign.State.IsFinal() {
		return
	}
	ctx.Log.Errorf("campaign failed: %s", message)
	campaign.Failure = message
	if names := campaign.ScenarioNames(); len(names) > 0 {
		abort := directive.NewCampaignAbortDirective(campaign.Key, names)
		t.aborts = append(t.aborts, abort)
		if err := m.directives.PublishDirective(ctx, directive.BroadcastTopic, abort); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("aborting the failed campaign")
		}
	}
	t.expected = map[string]*expectation{}
	m.finish(ctx, t, Failed)
}

func (m *CampaignManager) transition(ctx *fleetcontext.Context, t *tracker, state CampaignState) {
	ctx.Log.Infof("campaign moves from %s to %s", t.campaign.State, state)
	t.campaign.State = state
	if err := m.save(t); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("saving the campaign")
	}
	m.sink.LogEvent(logrus.InfoLevel, "campaign.state", map[string]string{fleetcontext.CampaignField: t.campaign.Key}, string(state))
}

func (m *CampaignManager) finish(ctx *fleetcontext.Context, t *tracker, state CampaignState) {
	campaign := t.campaign
	campaign.EndedAt = m.clock.Now()
	m.transition(ctx, t, state)
	if err := m.registry.Clean(ctx, campaign.Key); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("cleaning the registry")
	}
	m.sink.RecordTimer("campaign_duration", campaign.EndedAt.Sub(campaign.StartedAt))
	m.sink.RecordCounter("campaigns_"+string(state), 1)
	t.report.Set(newCampaignReport(campaign, t.reports, t.aborted))
}

func (m *CampaignManager) save(t *tracker) error {
	return m.campaigns.Upsert(t.campaign)
}

// Wait blocks until the campaign is over and returns its report.
func (m *CampaignManager) Wait(ctx context.Context, key string) (*CampaignReport, error) {
	m.mu.Lock()
	t, ok := m.trackers[key]
	m.mu.Unlock()
	if !ok {
		return nil, &fleeterrors.ErrNotFound{Type: "campaign", Value: key}
	}
	return t.report.Get(ctx)
}

// Report returns the report of a campaign that is over, or false while it is running.
func (m *CampaignManager) Report(key string) (*CampaignReport, bool) {
	m.mu.Lock()
	t, ok := m.trackers[key]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return t.report.Peek()
}

// Campaign returns the stored state of a campaign, or nil if it is unknown.
func (m *CampaignManager) Campaign(key string) (*RunningCampaign, error) {
	return m.campaigns.Get(key)
}

// Run applies the feedbacks until ctx is done.
func (m *CampaignManager) Run(ctx *fleetcontext.Context, feedbacks <-chan *directive.Feedback) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-feedbacks:
			if !ok {
				return nil
			}
			m.HandleFeedback(ctx, f)
		}
	}
}
