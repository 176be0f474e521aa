package factory

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/util"
	"github.com/G-Research/minionfleet/internal/directive"
)

// Processor applies one kind of directive to the factory.
type Processor interface {
	// Accept tells whether the directive concerns this factory. It must not block.
	Accept(d directive.Directive) bool
	Process(ctx *fleetcontext.Context, d directive.Directive) error
}

// DirectivePublisher sends directives to the other nodes.
type DirectivePublisher interface {
	PublishDirective(ctx context.Context, topic string, d directive.Directive) error
}

// FactoryAssignmentProcessor records the DAGs assigned to the factory and starts their scenarios for the campaign.
type FactoryAssignmentProcessor struct {
	nodeID      string
	assignments *Assignments
	scenarios   *ScenariosKeeper
}

func NewFactoryAssignmentProcessor(nodeID string, assignments *Assignments, scenarios *ScenariosKeeper) *FactoryAssignmentProcessor {
	return &FactoryAssignmentProcessor{nodeID: nodeID, assignments: assignments, scenarios: scenarios}
}

func (p *FactoryAssignmentProcessor) Accept(d directive.Directive) bool {
	assignment, ok := d.(*directive.FactoryAssignmentDirective)
	return ok && assignment.Factory == p.nodeID
}

func (p *FactoryAssignmentProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	assignment := d.(*directive.FactoryAssignmentDirective)
	for name, scenarioAssignment := range assignment.Assignments {
		if !p.scenarios.Supports(name, scenarioAssignment.DAGs...) {
			return errors.Errorf("the factory does not support all the DAGs %v of scenario %s", scenarioAssignment.DAGs, name)
		}
	}
	// The assignment only becomes visible to the other directives once its scenarios started, so that an abort
	// routed meanwhile is left for the head to send again.
	started := make(map[string]directive.FactoryScenarioAssignment, len(assignment.Assignments))
	var result *multierror.Error
	for name, scenarioAssignment := range assignment.Assignments {
		if err := p.scenarios.StartCampaign(ctx, assignment.CampaignKey, name); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		started[name] = scenarioAssignment
	}
	if len(started) > 0 {
		p.assignments.Assign(assignment.CampaignKey, started)
	}
	return result.ErrorOrNil()
}

// MinionsCreationPreparationProcessor generates the minion ids of a scenario and asks the factories owning its DAGs
// to create them. The count is a single-use payload: only the first factory reading it prepares the minions.
type MinionsCreationPreparationProcessor struct {
	assignments *Assignments
	scenarios   *ScenariosKeeper
	registry    directive.Registry
	directives  DirectivePublisher
}

func NewMinionsCreationPreparationProcessor(assignments *Assignments, scenarios *ScenariosKeeper, registry directive.Registry, directives DirectivePublisher) *MinionsCreationPreparationProcessor {
	return &MinionsCreationPreparationProcessor{assignments: assignments, scenarios: scenarios, registry: registry, directives: directives}
}

func (p *MinionsCreationPreparationProcessor) Accept(d directive.Directive) bool {
	preparation, ok := d.(*directive.MinionsCreationPreparationDirective)
	return ok && p.assignments.HasScenario(preparation.CampaignKey, preparation.Scenario)
}

func (p *MinionsCreationPreparationProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	preparation := d.(*directive.MinionsCreationPreparationDirective)
	campaign := preparation.CampaignKey
	s, err := p.scenarios.Scenario(preparation.Scenario)
	if err != nil {
		return err
	}
	count, found, err := directive.ReadCount(ctx, p.registry, campaign, preparation.DirectiveKey())
	if err != nil {
		return err
	}
	if !found {
		ctx.Log.Debugf("minions of scenario %s are prepared by another factory", preparation.Scenario)
		return nil
	}

	ids := make([]string, count)
	for i := range ids {
		ids[i] = util.NewMinionID()
	}
	if err := p.registry.SaveMinionIDs(ctx, campaign, s.Name, ids); err != nil {
		return err
	}

	for _, dag := range s.DAGs() {
		creation := directive.NewMinionsCreationDirective(campaign, s.Name, dag.Name, dag.IsSingleton)
		queue := ids
		if dag.IsSingleton {
			queue = []string{util.NewMinionID()}
		}
		if err := p.registry.SaveQueue(ctx, campaign, creation.DirectiveKey(), queue); err != nil {
			return err
		}
		if err := p.directives.PublishDirective(ctx, directive.BroadcastTopic, creation); err != nil {
			return err
		}
	}
	ctx.Log.Infof("prepared %d minions for scenario %s", count, s.Name)
	return nil
}

// MinionsCreationProcessor pops minion ids from the queue of a DAG until it is empty, and creates them locally.
// Polling one id at a time lets all the factories owning the DAG share the population.
type MinionsCreationProcessor struct {
	assignments *Assignments
	minions     *MinionsKeeper
	registry    directive.Registry
	// Paces the polls, nil for no limit.
	limiter *rate.Limiter
}

func NewMinionsCreationProcessor(assignments *Assignments, minions *MinionsKeeper, registry directive.Registry, limiter *rate.Limiter) *MinionsCreationProcessor {
	return &MinionsCreationProcessor{assignments: assignments, minions: minions, registry: registry, limiter: limiter}
}

func (p *MinionsCreationProcessor) Accept(d directive.Directive) bool {
	creation, ok := d.(*directive.MinionsCreationDirective)
	return ok && p.assignments.HasDAG(creation.CampaignKey, creation.Scenario, creation.Dag)
}

func (p *MinionsCreationProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	creation := d.(*directive.MinionsCreationDirective)
	assignment, _ := p.assignments.Get(creation.CampaignKey, creation.Scenario)
	created := 0
	for creation.Singleton || assignment.MaxMinionsCount <= 0 || created < assignment.MaxMinionsCount {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		id, found, err := p.registry.Pop(ctx, creation.CampaignKey, creation.DirectiveKey())
		if err != nil {
			return err
		}
		if !found {
			break
		}
		if err := p.minions.Create(creation.CampaignKey, creation.Scenario, creation.Dag, id, creation.Singleton); err != nil {
			return err
		}
		created++
	}
	ctx.Log.Infof("created %d minions for %s/%s", created, creation.Scenario, creation.Dag)
	return nil
}

// MinionsStartProcessor schedules the start of the local minions of a scenario.
type MinionsStartProcessor struct {
	assignments *Assignments
	minions     *MinionsKeeper
	registry    directive.Registry
}

func NewMinionsStartProcessor(assignments *Assignments, minions *MinionsKeeper, registry directive.Registry) *MinionsStartProcessor {
	return &MinionsStartProcessor{assignments: assignments, minions: minions, registry: registry}
}

func (p *MinionsStartProcessor) Accept(d directive.Directive) bool {
	start, ok := d.(*directive.MinionsStartDirective)
	return ok && p.assignments.HasScenario(start.CampaignKey, start.Scenario)
}

func (p *MinionsStartProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	start := d.(*directive.MinionsStartDirective)
	values, err := p.registry.List(ctx, start.CampaignKey, start.DirectiveKey())
	if err != nil {
		return err
	}
	definitions, err := directive.DecodeStartDefinitions(values)
	if err != nil {
		return err
	}
	scheduled := 0
	for _, definition := range definitions {
		if p.minions.StartMinionAt(start.CampaignKey, start.Scenario, definition.MinionID, definition.StartAt) {
			scheduled++
		}
	}
	p.minions.RampUpScheduled(start.CampaignKey, start.Scenario)
	ctx.Log.Infof("scheduled the start of %d minions of scenario %s", scheduled, start.Scenario)
	return nil
}

// MinionsStartSingletonsProcessor starts the dedicated minions of the singleton DAGs of a scenario.
type MinionsStartSingletonsProcessor struct {
	assignments *Assignments
	minions     *MinionsKeeper
}

func NewMinionsStartSingletonsProcessor(assignments *Assignments, minions *MinionsKeeper) *MinionsStartSingletonsProcessor {
	return &MinionsStartSingletonsProcessor{assignments: assignments, minions: minions}
}

func (p *MinionsStartSingletonsProcessor) Accept(d directive.Directive) bool {
	start, ok := d.(*directive.MinionsStartSingletonsDirective)
	return ok && p.assignments.HasScenario(start.CampaignKey, start.Scenario)
}

func (p *MinionsStartSingletonsProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	start := d.(*directive.MinionsStartSingletonsDirective)
	started := p.minions.StartSingletons(start.CampaignKey, start.Scenario)
	ctx.Log.Infof("started %d singleton minions of scenario %s", started, start.Scenario)
	return nil
}

// scenarioShutdown releases what the factory holds for a scenario of a campaign.
type scenarioShutdown struct {
	assignments *Assignments
	scenarios   *ScenariosKeeper
	minions     *MinionsKeeper
	timeout     timeoutFunc
}

type timeoutFunc func(ctx *fleetcontext.Context) (*fleetcontext.Context, context.CancelFunc)

func (s *scenarioShutdown) shutdown(ctx *fleetcontext.Context, campaign, scenarioName string) error {
	var result *multierror.Error
	shutdownCtx, cancel := s.timeout(ctx)
	defer cancel()
	if err := s.minions.Shutdown(shutdownCtx, campaign, scenarioName); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.scenarios.StopCampaign(ctx, campaign, scenarioName); err != nil {
		result = multierror.Append(result, err)
	}
	s.assignments.Unassign(campaign, scenarioName)
	return result.ErrorOrNil()
}

// CampaignScenarioShutdownProcessor stops a completed scenario of a campaign.
type CampaignScenarioShutdownProcessor struct {
	scenarioShutdown
}

func NewCampaignScenarioShutdownProcessor(assignments *Assignments, scenarios *ScenariosKeeper, minions *MinionsKeeper, timeout timeoutFunc) *CampaignScenarioShutdownProcessor {
	return &CampaignScenarioShutdownProcessor{scenarioShutdown{assignments: assignments, scenarios: scenarios, minions: minions, timeout: timeout}}
}

func (p *CampaignScenarioShutdownProcessor) Accept(d directive.Directive) bool {
	shutdown, ok := d.(*directive.CampaignScenarioShutdownDirective)
	return ok && p.assignments.HasScenario(shutdown.CampaignKey, shutdown.Scenario)
}

func (p *CampaignScenarioShutdownProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	shutdown := d.(*directive.CampaignScenarioShutdownDirective)
	return p.shutdown(ctx, shutdown.CampaignKey, shutdown.Scenario)
}

// CampaignShutdownProcessor stops the remaining scenarios of a campaign and forgets it.
type CampaignShutdownProcessor struct {
	scenarioShutdown
}

func NewCampaignShutdownProcessor(assignments *Assignments, scenarios *ScenariosKeeper, minions *MinionsKeeper, timeout timeoutFunc) *CampaignShutdownProcessor {
	return &CampaignShutdownProcessor{scenarioShutdown{assignments: assignments, scenarios: scenarios, minions: minions, timeout: timeout}}
}

func (p *CampaignShutdownProcessor) Accept(d directive.Directive) bool {
	shutdown, ok := d.(*directive.CampaignShutdownDirective)
	return ok && p.assignments.HasCampaign(shutdown.CampaignKey)
}

func (p *CampaignShutdownProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	campaign := d.Campaign()
	var result *multierror.Error
	for _, scenarioName := range p.assignments.Scenarios(campaign) {
		if err := p.shutdown(ctx, campaign, scenarioName); err != nil {
			result = multierror.Append(result, err)
		}
	}
	p.assignments.Forget(campaign)
	return result.ErrorOrNil()
}

// CampaignAbortProcessor cancels the minions of some scenarios of a campaign without waiting for them. It fails when
// running minions were cancelled, since their work is lost.
type CampaignAbortProcessor struct {
	assignments *Assignments
	scenarios   *ScenariosKeeper
	minions     *MinionsKeeper
}

func NewCampaignAbortProcessor(assignments *Assignments, scenarios *ScenariosKeeper, minions *MinionsKeeper) *CampaignAbortProcessor {
	return &CampaignAbortProcessor{assignments: assignments, scenarios: scenarios, minions: minions}
}

func (p *CampaignAbortProcessor) Accept(d directive.Directive) bool {
	abort, ok := d.(*directive.CampaignAbortDirective)
	if !ok {
		return false
	}
	for _, scenarioName := range abort.Scenarios {
		if p.assignments.HasScenario(abort.CampaignKey, scenarioName) {
			return true
		}
	}
	return false
}

func (p *CampaignAbortProcessor) Process(ctx *fleetcontext.Context, d directive.Directive) error {
	abort := d.(*directive.CampaignAbortDirective)
	campaign := abort.CampaignKey
	lost := p.minions.Abort(campaign, abort.Scenarios)

	var result *multierror.Error
	for _, scenarioName := range abort.Scenarios {
		if !p.assignments.HasScenario(campaign, scenarioName) {
			continue
		}
		if err := p.scenarios.StopCampaign(ctx, campaign, scenarioName); err != nil {
			result = multierror.Append(result, err)
		}
		p.assignments.Unassign(campaign, scenarioName)
	}
	if len(p.assignments.Scenarios(campaign)) == 0 {
		p.assignments.Forget(campaign)
	}
	if lost > 0 {
		result = multierror.Append(result, errors.Errorf("%d running minions were cancelled", lost))
	}
	return result.ErrorOrNil()
}
