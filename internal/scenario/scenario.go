package scenario

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/rampup"
)

// Scenario is what a campaign replays: its DAGs, the number of minions at load factor 1 and how they are started.
type Scenario struct {
	Name         string
	MinionsCount int
	// Applied to the steps without their own policy.
	DefaultRetryPolicy *RetryPolicy
	Profile            rampup.Configuration
	// UserProfile takes precedence over Profile. User-defined profiles only exist in code.
	UserProfile rampup.Profile

	mu   sync.RWMutex
	dags map[string]*DAG
}

func NewScenario(name string, minionsCount int) *Scenario {
	return &Scenario{
		Name:               name,
		MinionsCount:       minionsCount,
		DefaultRetryPolicy: NoRetry,
		dags:               map[string]*DAG{},
	}
}

// AddDAG attaches dag to the scenario. DAG names are unique within a scenario.
func (s *Scenario) AddDAG(dag *DAG) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dags[dag.Name]; ok {
		return &fleeterrors.ErrSpecification{Scenario: s.Name, Dag: dag.Name, Message: "duplicate DAG name"}
	}
	if _, ok := dag.RootStep.Peek(); !ok {
		return &fleeterrors.ErrSpecification{Scenario: s.Name, Dag: dag.Name, Message: "the DAG has no root step"}
	}
	dag.ScenarioName = s.Name
	s.dags[dag.Name] = dag
	return nil
}

func (s *Scenario) DAG(name string) (*DAG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dag, ok := s.dags[name]
	if !ok {
		return nil, &fleeterrors.ErrNotFound{Type: "dag", Value: name, Message: "in scenario " + s.Name}
	}
	return dag, nil
}

// DAGs returns the DAGs sorted by name.
func (s *Scenario) DAGs() []*DAG {
	return s.filter(func(*DAG) bool { return true })
}

func (s *Scenario) DAGNames() []string {
	dags := s.DAGs()
	names := make([]string, len(dags))
	for i, dag := range dags {
		names[i] = dag.Name
	}
	return names
}

func (s *Scenario) SingletonDAGs() []*DAG {
	return s.filter(func(d *DAG) bool { return d.IsSingleton })
}

func (s *Scenario) UnderLoadDAGs() []*DAG {
	return s.filter(func(d *DAG) bool { return d.IsUnderLoad })
}

func (s *Scenario) filter(keep func(*DAG) bool) []*DAG {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dags := make([]*DAG, 0, len(s.dags))
	for _, dag := range s.dags {
		if keep(dag) {
			dags = append(dags, dag)
		}
	}
	sort.Slice(dags, func(i, j int) bool { return dags[i].Name < dags[j].Name })
	return dags
}

// ExecutionProfile returns the profile starting the minions of the scenario. Without configuration, all the
// minions start at once.
func (s *Scenario) ExecutionProfile() (rampup.Profile, error) {
	if s.UserProfile != nil {
		return s.UserProfile, nil
	}
	if s.Profile.IsZero() {
		return &rampup.ImmediateProfile{}, nil
	}
	profile, err := s.Profile.Build()
	if err != nil {
		return nil, errors.WithMessagef(err, "execution profile of scenario %s", s.Name)
	}
	return profile, nil
}

// RetryPolicyOf returns the policy applying to step.
func (s *Scenario) RetryPolicyOf(step Step) *RetryPolicy {
	if policy := step.RetryPolicy(); policy != nil {
		return policy
	}
	if s.DefaultRetryPolicy != nil {
		return s.DefaultRetryPolicy
	}
	return NoRetry
}

// Init calls the Init hook of every step.
func (s *Scenario) Init(ctx context.Context) error {
	return s.eachStep(func(step Step) error { return step.Init(ctx) })
}

// Start prepares every step for campaign.
func (s *Scenario) Start(ctx context.Context, campaign string) error {
	return s.eachStep(func(step Step) error { return step.Start(ctx, campaign) })
}

// Stop releases what every step holds for campaign.
func (s *Scenario) Stop(ctx context.Context, campaign string) error {
	return s.eachStep(func(step Step) error { return step.Stop(ctx, campaign) })
}

// Destroy calls the Destroy hook of every step. The scenario must not be used afterwards.
func (s *Scenario) Destroy(ctx context.Context) error {
	return s.eachStep(func(step Step) error { return step.Destroy(ctx) })
}

// eachStep calls hook on all the steps, even when some fail, and aggregates the errors.
func (s *Scenario) eachStep(hook func(Step) error) error {
	var result *multierror.Error
	for _, dag := range s.DAGs() {
		for _, step := range dag.Steps() {
			if err := hook(step); err != nil {
				result = multierror.Append(result, errors.WithMessagef(err, "step %s of %s/%s", step.Name(), s.Name, dag.Name))
			}
		}
	}
	return result.ErrorOrNil()
}
