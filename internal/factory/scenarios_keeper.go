package factory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/common/suspend"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/scenario"
)

// keptScenario counts the campaigns referencing a scenario, so that it is destroyed only once the last one stopped.
type keptScenario struct {
	scenario   *scenario.Scenario
	references *suspend.CountLatch
	// Set when the scenario must be destroyed as soon as it is not referenced anymore.
	retired   atomic.Bool
	destroyed sync.Once
	// Campaigns the scenario was started for.
	campaigns map[string]bool
}

// ScenariosKeeper holds the scenarios a factory can execute.
type ScenariosKeeper struct {
	mu        sync.RWMutex
	scenarios map[string]*keptScenario
}

func NewScenariosKeeper() *ScenariosKeeper {
	return &ScenariosKeeper{scenarios: map[string]*keptScenario{}}
}

// Register initializes s and adds it to the catalogue. Every DAG must either be under load or a singleton, since
// no minion would ever execute the others.
func (k *ScenariosKeeper) Register(ctx context.Context, s *scenario.Scenario) error {
	if len(s.DAGs()) == 0 {
		return &fleeterrors.ErrSpecification{Scenario: s.Name, Message: "the scenario has no DAG"}
	}
	for _, dag := range s.DAGs() {
		if !dag.IsUnderLoad && !dag.IsSingleton {
			return &fleeterrors.ErrSpecification{Scenario: s.Name, Dag: dag.Name, Message: "the DAG is neither under load nor a singleton"}
		}
	}
	if _, err := s.ExecutionProfile(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.scenarios[s.Name]; ok {
		return &fleeterrors.ErrAlreadyExists{Type: "scenario", Value: s.Name}
	}
	if err := s.Init(ctx); err != nil {
		return errors.WithMessagef(err, "initializing scenario %s", s.Name)
	}
	kept := &keptScenario{scenario: s, campaigns: map[string]bool{}}
	kept.references = suspend.MustNewCountLatch(0, suspend.OnRelease(func() {
		if kept.retired.Load() {
			k.destroy(context.Background(), kept)
		}
	}))
	k.scenarios[s.Name] = kept
	return nil
}

func (k *ScenariosKeeper) destroy(ctx context.Context, kept *keptScenario) {
	kept.destroyed.Do(func() {
		k.mu.Lock()
		if k.scenarios[kept.scenario.Name] == kept {
			delete(k.scenarios, kept.scenario.Name)
		}
		k.mu.Unlock()
		if err := kept.scenario.Destroy(ctx); err != nil {
			log.WithError(err).Errorf("destroying scenario %s", kept.scenario.Name)
		}
	})
}

// kept returns the scenario called name, retired or not.
func (k *ScenariosKeeper) kept(name string) (*keptScenario, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kept, ok := k.scenarios[name]
	if !ok {
		return nil, &fleeterrors.ErrNotFound{Type: "scenario", Value: name}
	}
	return kept, nil
}

// active returns the scenario called name unless it was retired.
func (k *ScenariosKeeper) active(name string) (*keptScenario, error) {
	kept, err := k.kept(name)
	if err != nil {
		return nil, err
	}
	if kept.retired.Load() {
		return nil, &fleeterrors.ErrNotFound{Type: "scenario", Value: name, Message: "the scenario is retired"}
	}
	return kept, nil
}

func (k *ScenariosKeeper) Scenario(name string) (*scenario.Scenario, error) {
	kept, err := k.active(name)
	if err != nil {
		return nil, err
	}
	return kept.scenario, nil
}

// Supports returns true if the catalogue has the scenario and all the DAGs.
func (k *ScenariosKeeper) Supports(name string, dags ...string) bool {
	s, err := k.Scenario(name)
	if err != nil {
		return false
	}
	for _, dag := range dags {
		if _, err := s.DAG(dag); err != nil {
			return false
		}
	}
	return true
}

// Names returns the names of the scenarios, sorted.
func (k *ScenariosKeeper) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.scenarios))
	for name, kept := range k.scenarios {
		if !kept.retired.Load() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Descriptors describes the catalogue to the head.
func (k *ScenariosKeeper) Descriptors() []directive.ScenarioDescriptor {
	names := k.Names()
	descriptors := make([]directive.ScenarioDescriptor, 0, len(names))
	for _, name := range names {
		s, err := k.Scenario(name)
		if err != nil {
			continue
		}
		descriptor := directive.ScenarioDescriptor{Name: s.Name, MinionsCount: s.MinionsCount, Profile: s.Profile}
		for _, dag := range s.DAGs() {
			descriptor.DAGs = append(descriptor.DAGs, directive.DAGDescriptor{
				Name:        dag.Name,
				IsRoot:      dag.IsRoot,
				IsUnderLoad: dag.IsUnderLoad,
				IsSingleton: dag.IsSingleton,
			})
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors
}

// StartCampaign prepares the steps of the scenario for campaign and references the scenario until StopCampaign.
// Starting a campaign twice does nothing.
func (k *ScenariosKeeper) StartCampaign(ctx context.Context, campaign, name string) error {
	kept, err := k.active(name)
	if err != nil {
		return err
	}
	k.mu.Lock()
	if kept.campaigns[campaign] {
		k.mu.Unlock()
		return nil
	}
	kept.campaigns[campaign] = true
	_ = kept.references.Increment(1)
	k.mu.Unlock()

	if err := kept.scenario.Start(ctx, campaign); err != nil {
		_ = k.StopCampaign(ctx, campaign, name)
		return errors.WithMessagef(err, "starting scenario %s for campaign %s", name, campaign)
	}
	return nil
}

// StopCampaign releases what the steps hold for campaign. A retired scenario is destroyed with its last campaign.
func (k *ScenariosKeeper) StopCampaign(ctx context.Context, campaign, name string) error {
	kept, err := k.kept(name)
	if err != nil {
		return err
	}
	k.mu.Lock()
	if !kept.campaigns[campaign] {
		k.mu.Unlock()
		return nil
	}
	delete(kept.campaigns, campaign)
	k.mu.Unlock()

	var result *multierror.Error
	if err := kept.scenario.Stop(ctx, campaign); err != nil {
		result = multierror.Append(result, errors.WithMessagef(err, "stopping scenario %s for campaign %s", name, campaign))
	}
	if err := kept.references.Decrement(1); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// IsRunning returns true while campaign references the scenario.
func (k *ScenariosKeeper) IsRunning(campaign, name string) bool {
	kept, err := k.kept(name)
	if err != nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return kept.campaigns[campaign]
}

// Retire removes the scenario from the catalogue. It is destroyed now, or when the last campaign using it stops.
func (k *ScenariosKeeper) Retire(ctx context.Context, name string) error {
	kept, err := k.active(name)
	if err != nil {
		return err
	}
	kept.retired.Store(true)
	if !kept.references.IsSuspended() {
		k.destroy(ctx, kept)
	}
	return nil
}

// Close retires every scenario.
func (k *ScenariosKeeper) Close(ctx context.Context) {
	for _, name := range k.Names() {
		_ = k.Retire(ctx, name)
	}
}
