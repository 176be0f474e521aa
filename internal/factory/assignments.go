package factory

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/directive"
)

// Assignments keeps, per campaign, the DAGs the head assigned to the factory. Processors route directives on it.
type Assignments struct {
	mu        sync.RWMutex
	campaigns map[string]map[string]directive.FactoryScenarioAssignment
}

func NewAssignments() *Assignments {
	return &Assignments{campaigns: map[string]map[string]directive.FactoryScenarioAssignment{}}
}

// Assign adds the assignments of a campaign to the ones already known.
func (a *Assignments) Assign(campaign string, assignments map[string]directive.FactoryScenarioAssignment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	scenarios, ok := a.campaigns[campaign]
	if !ok {
		scenarios = map[string]directive.FactoryScenarioAssignment{}
		a.campaigns[campaign] = scenarios
	}
	for name, assignment := range assignments {
		scenarios[name] = assignment
	}
}

func (a *Assignments) Get(campaign, scenario string) (directive.FactoryScenarioAssignment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	assignment, ok := a.campaigns[campaign][scenario]
	return assignment, ok
}

func (a *Assignments) HasScenario(campaign, scenario string) bool {
	_, ok := a.Get(campaign, scenario)
	return ok
}

func (a *Assignments) HasDAG(campaign, scenario, dag string) bool {
	assignment, ok := a.Get(campaign, scenario)
	return ok && slices.Contains(assignment.DAGs, dag)
}

func (a *Assignments) HasCampaign(campaign string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.campaigns[campaign]
	return ok
}

// Scenarios returns the scenarios of campaign assigned to the factory, sorted.
func (a *Assignments) Scenarios(campaign string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := maps.Keys(a.campaigns[campaign])
	slices.Sort(names)
	return names
}

// Unassign removes a scenario. The campaign is kept even without scenarios, until Forget.
func (a *Assignments) Unassign(campaign, scenario string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.campaigns[campaign], scenario)
}

func (a *Assignments) Forget(campaign string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.campaigns, campaign)
}
