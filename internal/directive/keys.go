package directive

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/common/util"
)

// NewKey derives the key of a directive from its content, so that every node computes the same key for the same
// directive and resolves it to the same registry payload.
func NewKey(kind Kind, campaign string, parts ...string) string {
	hash := sha256.New()
	for _, part := range append([]string{string(kind), campaign}, parts...) {
		hash.Write([]byte(part))
		hash.Write([]byte{0})
	}
	return strings.ToLower(string(kind)) + "-" + hex.EncodeToString(hash.Sum(nil))[:32]
}

func header(kind Kind, campaign string, parts ...string) Header {
	return Header{Key: NewKey(kind, campaign, parts...), CampaignKey: campaign, CreatedAt: time.Now().UTC()}
}

func NewFactoryAssignmentDirective(campaign, factory string, assignments map[string]FactoryScenarioAssignment) *FactoryAssignmentDirective {
	parts := []string{factory}
	scenarios := maps.Keys(assignments)
	slices.Sort(scenarios)
	for _, scenario := range scenarios {
		parts = append(parts, scenario)
		parts = append(parts, assignments[scenario].DAGs...)
	}
	return &FactoryAssignmentDirective{
		Header:      header(FactoryAssignmentKind, campaign, parts...),
		Factory:     factory,
		Assignments: assignments,
	}
}

func NewMinionsCreationPreparationDirective(campaign, scenario string) *MinionsCreationPreparationDirective {
	return &MinionsCreationPreparationDirective{
		Header:   header(MinionsCreationPreparationKind, campaign, scenario),
		Scenario: scenario,
	}
}

func NewMinionsCreationDirective(campaign, scenario, dag string, singleton bool) *MinionsCreationDirective {
	return &MinionsCreationDirective{
		Header:    header(MinionsCreationKind, campaign, scenario, dag),
		Scenario:  scenario,
		Dag:       dag,
		Singleton: singleton,
	}
}

func NewMinionsStartDirective(campaign, scenario string) *MinionsStartDirective {
	return &MinionsStartDirective{Header: header(MinionsStartKind, campaign, scenario), Scenario: scenario}
}

func NewMinionsStartSingletonsDirective(campaign, scenario string) *MinionsStartSingletonsDirective {
	return &MinionsStartSingletonsDirective{Header: header(MinionsStartSingletonsKind, campaign, scenario), Scenario: scenario}
}

func NewCampaignScenarioShutdownDirective(campaign, scenario string) *CampaignScenarioShutdownDirective {
	return &CampaignScenarioShutdownDirective{Header: header(CampaignScenarioShutdownKind, campaign, scenario), Scenario: scenario}
}

func NewCampaignShutdownDirective(campaign string) *CampaignShutdownDirective {
	return &CampaignShutdownDirective{Header: header(CampaignShutdownKind, campaign)}
}

func NewCampaignAbortDirective(campaign string, scenarios []string) *CampaignAbortDirective {
	sorted := append([]string(nil), scenarios...)
	slices.Sort(sorted)
	return &CampaignAbortDirective{Header: header(CampaignAbortKind, campaign, sorted...), Scenarios: sorted}
}

// NewDirectiveFeedback answers d with status.
func NewDirectiveFeedback(d Directive, node string, status Status, err error) *Feedback {
	f := &Feedback{
		Key:           util.NewULID(),
		Kind:          DirectiveFeedbackKind,
		DirectiveKey:  d.DirectiveKey(),
		DirectiveKind: d.Kind(),
		CampaignKey:   d.Campaign(),
		NodeID:        node,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
	if err != nil {
		f.Error = err.Error()
	}
	switch typed := d.(type) {
	case *MinionsCreationDirective:
		f.Scenario, f.Dag = typed.Scenario, typed.Dag
	case *MinionsCreationPreparationDirective:
		f.Scenario = typed.Scenario
	case *MinionsStartDirective:
		f.Scenario = typed.Scenario
	case *MinionsStartSingletonsDirective:
		f.Scenario = typed.Scenario
	case *CampaignScenarioShutdownDirective:
		f.Scenario = typed.Scenario
	}
	return f
}

// NewEndOfCampaignScenarioFeedback reports that the minions of a scenario on node are all done. Step failures are
// part of the report and do not fail the feedback.
func NewEndOfCampaignScenarioFeedback(campaign, scenario, node string, report ScenarioReport) *Feedback {
	return &Feedback{
		Key:         util.NewULID(),
		Kind:        EndOfCampaignScenarioFeedbackKind,
		CampaignKey: campaign,
		Scenario:    scenario,
		NodeID:      node,
		Status:      Completed,
		CreatedAt:   time.Now().UTC(),
		Report:      &report,
	}
}

func NewFactoryRegistrationFeedback(registration FactoryRegistration) *Feedback {
	return &Feedback{
		Key:          util.NewULID(),
		Kind:         FactoryRegistrationFeedbackKind,
		NodeID:       registration.NodeID,
		Status:       Completed,
		CreatedAt:    time.Now().UTC(),
		Registration: &registration,
	}
}
