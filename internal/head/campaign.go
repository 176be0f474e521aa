// Package head coordinates the factories running a campaign: it assigns the DAGs, drives the creation and the
// ramp-up of the minions through directives, and advances the state of the campaign on the feedbacks it receives.
package head

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/rampup"
)

type CampaignState string

const (
	Created           CampaignState = "CREATED"
	FactoriesAssigned CampaignState = "FACTORIES_ASSIGNED"
	MinionsCreating   CampaignState = "MINIONS_CREATING"
	RampUpPreparing   CampaignState = "RAMP_UP_PREPARING"
	MinionsStarting   CampaignState = "MINIONS_STARTING"
	Running           CampaignState = "RUNNING"
	ShuttingDown      CampaignState = "SHUTTING_DOWN"
	Terminated        CampaignState = "TERMINATED"
	Aborting          CampaignState = "ABORTING"
	Aborted           CampaignState = "ABORTED"
	Failed            CampaignState = "FAILED"
)

// IsFinal returns true once the campaign cannot change anymore.
func (s CampaignState) IsFinal() bool {
	return s == Terminated || s == Aborted || s == Failed
}

// ScenarioConfiguration is how a scenario runs in a campaign.
type ScenarioConfiguration struct {
	MinionsCount int
	Profile      rampup.Configuration
	UserProfile  rampup.Profile
	// DAGs of the scenario, as registered by the factories.
	DAGs []directive.DAGDescriptor
}

// RampUpProfile returns the profile starting the minions, immediate when none was configured.
func (c ScenarioConfiguration) RampUpProfile() (rampup.Profile, error) {
	if c.UserProfile != nil {
		return c.UserProfile, nil
	}
	if c.Profile.IsZero() {
		return &rampup.ImmediateProfile{}, nil
	}
	return c.Profile.Build()
}

// SingletonDAGs returns the names of the singleton DAGs.
func (c ScenarioConfiguration) SingletonDAGs() []string {
	var names []string
	for _, dag := range c.DAGs {
		if dag.IsSingleton {
			names = append(names, dag.Name)
		}
	}
	return names
}

// RunningCampaign is the head-side state of a campaign. Values stored in the CampaignStore must not be modified:
// copy them with DeepCopy first.
type RunningCampaign struct {
	Key         string
	SpeedFactor float64
	StartOffset time.Duration
	State       CampaignState
	// First error that failed the campaign.
	Failure   string
	StartedAt time.Time
	EndedAt   time.Time
	Scenarios map[string]ScenarioConfiguration
	// Per factory node, the DAGs of each scenario it runs.
	Factories map[string]map[string]directive.FactoryScenarioAssignment
}

func NewRunningCampaign(key string, speedFactor float64, startOffset time.Duration, startedAt time.Time) *RunningCampaign {
	return &RunningCampaign{
		Key:         key,
		SpeedFactor: speedFactor,
		StartOffset: startOffset,
		State:       Created,
		StartedAt:   startedAt,
		Scenarios:   map[string]ScenarioConfiguration{},
		Factories:   map[string]map[string]directive.FactoryScenarioAssignment{},
	}
}

// UnassignFactory removes every assignment of node, typically after it stopped answering.
func (c *RunningCampaign) UnassignFactory(node string) {
	delete(c.Factories, node)
}

// UnassignScenarioOfFactory removes the assignment of scenario to node. The factory is removed with its last
// scenario.
func (c *RunningCampaign) UnassignScenarioOfFactory(scenario, node string) {
	assignments, ok := c.Factories[node]
	if !ok {
		return
	}
	delete(assignments, scenario)
	if len(assignments) == 0 {
		delete(c.Factories, node)
	}
}

// FactoryNodes returns the nodes with an assignment, sorted.
func (c *RunningCampaign) FactoryNodes() []string {
	nodes := maps.Keys(c.Factories)
	slices.Sort(nodes)
	return nodes
}

// FactoriesOf returns the nodes running a DAG of scenario, sorted.
func (c *RunningCampaign) FactoriesOf(scenario string) []string {
	var nodes []string
	for node, assignments := range c.Factories {
		if _, ok := assignments[scenario]; ok {
			nodes = append(nodes, node)
		}
	}
	slices.Sort(nodes)
	return nodes
}

// FactoriesOfDAG returns the nodes running dag of scenario, sorted.
func (c *RunningCampaign) FactoriesOfDAG(scenario, dag string) []string {
	var nodes []string
	for node, assignments := range c.Factories {
		if assignment, ok := assignments[scenario]; ok && slices.Contains(assignment.DAGs, dag) {
			nodes = append(nodes, node)
		}
	}
	slices.Sort(nodes)
	return nodes
}

// IsUnassigned returns true once no factory has an assignment left.
func (c *RunningCampaign) IsUnassigned() bool {
	return len(c.Factories) == 0
}

// ScenarioNames returns the scenarios of the campaign, sorted.
func (c *RunningCampaign) ScenarioNames() []string {
	names := maps.Keys(c.Scenarios)
	slices.Sort(names)
	return names
}

// DeepCopy is needed because the campaigns stored in the CampaignStore cannot be modified in place.
func (c *RunningCampaign) DeepCopy() *RunningCampaign {
	if c == nil {
		return nil
	}
	scenarios := make(map[string]ScenarioConfiguration, len(c.Scenarios))
	for name, configuration := range c.Scenarios {
		configuration.DAGs = append([]directive.DAGDescriptor(nil), configuration.DAGs...)
		scenarios[name] = configuration
	}
	factories := make(map[string]map[string]directive.FactoryScenarioAssignment, len(c.Factories))
	for node, assignments := range c.Factories {
		copied := make(map[string]directive.FactoryScenarioAssignment, len(assignments))
		for name, assignment := range assignments {
			assignment.DAGs = append([]string(nil), assignment.DAGs...)
			copied[name] = assignment
		}
		factories[node] = copied
	}
	copied := *c
	copied.Scenarios = scenarios
	copied.Factories = factories
	return &copied
}
