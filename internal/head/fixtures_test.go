package head

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/head/configuration"
	"github.com/G-Research/minionfleet/internal/rampup"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type published struct {
	topic     string
	directive directive.Directive
}

// recordingPublisher keeps the directives sent by the head.
type recordingPublisher struct {
	mu         sync.Mutex
	directives []published
}

func (p *recordingPublisher) PublishDirective(_ context.Context, topic string, d directive.Directive) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directives = append(p.directives, published{topic: topic, directive: d})
	return nil
}

func (p *recordingPublisher) Published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.directives...)
}

func (p *recordingPublisher) OfKind(kind directive.Kind) []published {
	var result []published
	for _, d := range p.Published() {
		if d.directive.Kind() == kind {
			result = append(result, d)
		}
	}
	return result
}

// shopDescriptor describes a scenario with a DAG under load and a singleton DAG.
func shopDescriptor(name string, minions int) directive.ScenarioDescriptor {
	return directive.ScenarioDescriptor{
		Name:         name,
		MinionsCount: minions,
		Profile:      rampup.Configuration{Type: rampup.Regular, Regular: &rampup.RegularProfile{PeriodMs: 100, MinionsCountProLaunch: 2}},
		DAGs: []directive.DAGDescriptor{
			{Name: "load", IsRoot: true, IsUnderLoad: true},
			{Name: "watch", IsSingleton: true},
		},
	}
}

type managerFixture struct {
	manager   *CampaignManager
	publisher *recordingPublisher
	registry  *directive.MemoryRegistry
	clock     *clocktesting.FakeClock
}

func newManagerFixture(t *testing.T, factories ...directive.FactoryRegistration) *managerFixture {
	publisher := &recordingPublisher{}
	registry := directive.NewMemoryRegistry()
	fakeClock := clocktesting.NewFakeClock(testTime)
	config := configuration.CampaignsConfiguration{StartOffset: time.Second, RampUpAttempts: 2, MaxStartingLines: 1000}
	manager, err := NewCampaignManager(config, registry, publisher, WithClock(fakeClock))
	require.NoError(t, err)
	for _, registration := range factories {
		registration := registration
		manager.HandleFeedback(fleetcontext.Background(), directive.NewFactoryRegistrationFeedback(registration))
	}
	return &managerFixture{manager: manager, publisher: publisher, registry: registry, clock: fakeClock}
}

func (f *managerFixture) answer(d directive.Directive, node string, status directive.Status, err error) {
	f.manager.HandleFeedback(fleetcontext.Background(), directive.NewDirectiveFeedback(d, node, status, err))
}

func (f *managerFixture) complete(d directive.Directive, nodes ...string) {
	for _, node := range nodes {
		f.answer(d, node, directive.InProgress, nil)
		f.answer(d, node, directive.Completed, nil)
	}
}

func (f *managerFixture) state(t *testing.T, key string) CampaignState {
	campaign, err := f.manager.Campaign(key)
	require.NoError(t, err)
	require.NotNil(t, campaign)
	return campaign.State
}
