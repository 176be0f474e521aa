package factory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/common/suspend"
	"github.com/G-Research/minionfleet/internal/directive"
)

// FeedbackPublisher sends feedbacks to the head.
type FeedbackPublisher interface {
	PublishFeedback(ctx context.Context, f *directive.Feedback) error
}

// scenarioMinions are the minions of one scenario of a campaign on this factory.
type scenarioMinions struct {
	campaign string
	scenario string
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	minions    map[string]*Minion
	singletons []*Minion
	report     directive.ScenarioReport
	aborted    bool

	// Counts the minions under load not completed yet, plus one until the ramp-up is scheduled, so that it is
	// released only once every minion to start has completed.
	pending         *suspend.CountLatch
	rampUpScheduled sync.Once
}

// MinionsKeeper creates, starts and cancels the minions of the factory, and reports the end of every scenario
// of a campaign once all its minions under load completed.
type MinionsKeeper struct {
	nodeID    string
	scenarios *ScenariosKeeper
	runner    *Runner
	feedbacks FeedbackPublisher
	clock     clock.Clock
	sink      metrics.Sink

	mu        sync.Mutex
	campaigns map[string]map[string]*scenarioMinions
}

func NewMinionsKeeper(nodeID string, scenarios *ScenariosKeeper, runner *Runner, feedbacks FeedbackPublisher, clock clock.Clock, sink metrics.Sink) *MinionsKeeper {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &MinionsKeeper{
		nodeID:    nodeID,
		scenarios: scenarios,
		runner:    runner,
		feedbacks: feedbacks,
		clock:     clock,
		sink:      sink,
		campaigns: map[string]map[string]*scenarioMinions{},
	}
}

func (k *MinionsKeeper) get(campaign, scenarioName string) *scenarioMinions {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.campaigns[campaign][scenarioName]
}

func (k *MinionsKeeper) getOrCreate(campaign, scenarioName string) *scenarioMinions {
	k.mu.Lock()
	defer k.mu.Unlock()
	scenarios, ok := k.campaigns[campaign]
	if !ok {
		scenarios = map[string]*scenarioMinions{}
		k.campaigns[campaign] = scenarios
	}
	sm, ok := scenarios[scenarioName]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sm = &scenarioMinions{
			campaign: campaign,
			scenario: scenarioName,
			ctx:      ctx,
			cancel:   cancel,
			minions:  map[string]*Minion{},
		}
		sm.pending = suspend.MustNewCountLatch(1, suspend.OnRelease(func() { k.endOfScenario(sm) }))
		scenarios[scenarioName] = sm
	}
	return sm
}

func (k *MinionsKeeper) remove(campaign, scenarioName string) *scenarioMinions {
	k.mu.Lock()
	defer k.mu.Unlock()
	sm := k.campaigns[campaign][scenarioName]
	delete(k.campaigns[campaign], scenarioName)
	if len(k.campaigns[campaign]) == 0 {
		delete(k.campaigns, campaign)
	}
	return sm
}

// Create adds the minion id to the scenario of campaign, executing dag. A minion executing several DAGs on this
// factory is created once, and runs them all when started.
func (k *MinionsKeeper) Create(campaign, scenarioName, dagName, id string, singleton bool) error {
	s, err := k.scenarios.Scenario(scenarioName)
	if err != nil {
		return err
	}
	dag, err := s.DAG(dagName)
	if err != nil {
		return err
	}

	sm := k.getOrCreate(campaign, scenarioName)
	sm.mu.Lock()
	if sm.aborted {
		sm.mu.Unlock()
		return &fleeterrors.ErrNotFound{Type: "campaign scenario", Value: campaign + "/" + scenarioName, Message: "aborted"}
	}
	minion, ok := sm.minions[id]
	if !ok {
		minion = newMinion(sm.ctx, id, campaign, scenarioName, singleton, k.onMinionComplete(sm))
		sm.minions[id] = minion
		if singleton {
			sm.singletons = append(sm.singletons, minion)
		} else {
			_ = sm.pending.Increment(1)
		}
	}
	sm.mu.Unlock()

	minion.launch(dagName, func(ctx context.Context) {
		if err := minion.WaitForStart(ctx); err != nil {
			return
		}
		result := k.runner.Run(ctx, s, dag, minion)
		sm.mu.Lock()
		sm.report.SuccessfulExecutions += result.Successful
		sm.report.FailedExecutions += result.Failed
		if sm.report.FirstError == "" {
			sm.report.FirstError = result.FirstError
		}
		sm.mu.Unlock()
	})
	k.sink.RecordCounter("minions_created", 1)
	return nil
}

func (k *MinionsKeeper) onMinionComplete(sm *scenarioMinions) func(*Minion) {
	return func(m *Minion) {
		if m.Singleton {
			return
		}
		// Counted on completion, so that the report is complete when the last minion completes.
		sm.mu.Lock()
		if m.IsStarted() {
			sm.report.StartedMinions++
			if !m.IsCancelled() {
				sm.report.CompletedMinions++
			}
		}
		sm.mu.Unlock()
		k.sink.RecordCounter("minions_completed", 1)
		if err := sm.pending.Decrement(1); err != nil {
			log.WithError(err).Errorf("minion %s of %s/%s completed twice", m.ID, sm.campaign, sm.scenario)
		}
	}
}

// endOfScenario reports the completion of the minions of a scenario under load, unless the scenario was aborted.
func (k *MinionsKeeper) endOfScenario(sm *scenarioMinions) {
	sm.mu.Lock()
	aborted := sm.aborted
	report := sm.report
	sm.mu.Unlock()
	if aborted {
		return
	}
	log.Infof("minions of scenario %s completed for campaign %s", sm.scenario, sm.campaign)
	feedback := directive.NewEndOfCampaignScenarioFeedback(sm.campaign, sm.scenario, k.nodeID, report)
	if err := k.feedbacks.PublishFeedback(context.Background(), feedback); err != nil {
		logging.WithStacktrace(log.WithField("campaign", sm.campaign), err).Error("publishing the end of scenario " + sm.scenario)
	}
}

// Minion returns a minion of the scenario of campaign, if it exists on this factory.
func (k *MinionsKeeper) Minion(campaign, scenarioName, id string) (*Minion, bool) {
	sm := k.get(campaign, scenarioName)
	if sm == nil {
		return nil, false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	minion, ok := sm.minions[id]
	return minion, ok
}

// Count returns the number of minions of the scenario of campaign on this factory.
func (k *MinionsKeeper) Count(campaign, scenarioName string) int {
	sm := k.get(campaign, scenarioName)
	if sm == nil {
		return 0
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.minions)
}

// StartMinionAt opens the start gate of a minion at the given time, without blocking. It returns false if the minion
// does not exist on this factory.
func (k *MinionsKeeper) StartMinionAt(campaign, scenarioName, id string, at time.Time) bool {
	sm := k.get(campaign, scenarioName)
	if sm == nil {
		return false
	}
	sm.mu.Lock()
	minion, ok := sm.minions[id]
	sm.mu.Unlock()
	if !ok {
		return false
	}
	delay := at.Sub(k.clock.Now())
	if delay <= 0 {
		k.start(minion)
		return true
	}
	timer := k.clock.NewTimer(delay)
	go func() {
		select {
		case <-timer.C():
			k.start(minion)
		case <-minion.ctx.Done():
			timer.Stop()
		}
	}()
	return true
}

func (k *MinionsKeeper) start(minion *Minion) {
	if !minion.Start() {
		return
	}
	k.sink.RecordCounter("minions_started", 1)
}

// RampUpScheduled declares that every minion of the scenario to start on this factory was scheduled. The end of
// the scenario is reported once they all completed.
func (k *MinionsKeeper) RampUpScheduled(campaign, scenarioName string) {
	sm := k.getOrCreate(campaign, scenarioName)
	sm.rampUpScheduled.Do(func() {
		_ = sm.pending.Decrement(1)
	})
}

// StartSingletons starts the dedicated minions of the singleton DAGs of the scenario, and returns how many.
func (k *MinionsKeeper) StartSingletons(campaign, scenarioName string) int {
	sm := k.get(campaign, scenarioName)
	if sm == nil {
		return 0
	}
	sm.mu.Lock()
	singletons := append([]*Minion(nil), sm.singletons...)
	sm.mu.Unlock()
	for _, minion := range singletons {
		k.start(minion)
	}
	return len(singletons)
}

// Shutdown cancels the remaining minions of the scenario of campaign, typically the singletons, and waits for them
// until ctx is done.
func (k *MinionsKeeper) Shutdown(ctx context.Context, campaign, scenarioName string) error {
	sm := k.remove(campaign, scenarioName)
	if sm == nil {
		return nil
	}
	sm.mu.Lock()
	sm.aborted = true
	minions := maps.Values(sm.minions)
	sm.mu.Unlock()
	sm.cancel()
	for _, minion := range minions {
		minion.Cancel()
	}
	for _, minion := range minions {
		if err := minion.Join(ctx); err != nil {
			return errors.Wrapf(err, "waiting for the minions of %s/%s", campaign, scenarioName)
		}
	}
	return nil
}

// Abort cancels the minions of the scenarios of campaign immediately. It returns the number of minions that were
// running, whose work is lost.
func (k *MinionsKeeper) Abort(campaign string, scenarios []string) int {
	lost := 0
	for _, scenarioName := range scenarios {
		sm := k.remove(campaign, scenarioName)
		if sm == nil {
			continue
		}
		sm.mu.Lock()
		sm.aborted = true
		minions := maps.Values(sm.minions)
		sm.mu.Unlock()
		for _, minion := range minions {
			if minion.IsRunning() && !minion.Singleton {
				lost++
			}
			minion.Cancel()
		}
		sm.cancel()
	}
	return lost
}

// Scenarios returns the scenarios of campaign with minions on this factory, sorted.
func (k *MinionsKeeper) Scenarios(campaign string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := maps.Keys(k.campaigns[campaign])
	slices.Sort(names)
	return names
}
