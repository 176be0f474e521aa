package directive

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/rampup"
)

func TestJSONCodec_Directives(t *testing.T) {
	directives := []Directive{
		NewFactoryAssignmentDirective("c1", "factory-1", map[string]FactoryScenarioAssignment{
			"checkout": {DAGs: []string{"browse", "pay"}, MaxMinionsCount: 10},
		}),
		NewMinionsCreationPreparationDirective("c1", "checkout"),
		NewMinionsCreationDirective("c1", "checkout", "pay", true),
		NewMinionsStartDirective("c1", "checkout"),
		NewMinionsStartSingletonsDirective("c1", "checkout"),
		NewCampaignScenarioShutdownDirective("c1", "checkout"),
		NewCampaignShutdownDirective("c1"),
		NewCampaignAbortDirective("c1", []string{"search", "checkout"}),
	}
	codec := JSONCodec{}
	for _, d := range directives {
		t.Run(string(d.Kind()), func(t *testing.T) {
			envelope, err := codec.EncodeDirective(d)
			require.NoError(t, err)
			assert.Equal(t, d.DirectiveKey(), envelope.Key)
			assert.Equal(t, string(d.Kind()), envelope.Type)

			decoded, err := codec.DecodeDirective(envelope)
			require.NoError(t, err)
			assert.Equal(t, d, decoded)
		})
	}
}

func TestJSONCodec_Feedback(t *testing.T) {
	codec := JSONCodec{}
	feedback := NewEndOfCampaignScenarioFeedback("c1", "checkout", "factory-1", ScenarioReport{
		StartedMinions:       3,
		CompletedMinions:     3,
		SuccessfulExecutions: 8,
		FailedExecutions:     1,
		FirstError:           "step pay: declined",
	})
	envelope, err := codec.EncodeFeedback(feedback)
	require.NoError(t, err)

	decoded, err := codec.DecodeFeedback(envelope)
	require.NoError(t, err)
	assert.Equal(t, feedback, decoded)

	registration := NewFactoryRegistrationFeedback(FactoryRegistration{
		NodeID: "factory-1",
		Scenarios: []ScenarioDescriptor{{
			Name:         "checkout",
			MinionsCount: 10,
			Profile: rampup.Configuration{
				Type:    rampup.Regular,
				Regular: &rampup.RegularProfile{PeriodMs: 100, MinionsCountProLaunch: 2},
			},
			DAGs: []DAGDescriptor{{Name: "pay", IsRoot: true, IsUnderLoad: true}},
		}},
	})
	envelope, err = codec.EncodeFeedback(registration)
	require.NoError(t, err)
	decoded, err = codec.DecodeFeedback(envelope)
	require.NoError(t, err)
	assert.Equal(t, registration, decoded)
}

func TestJSONCodec_RejectsUnknownTypes(t *testing.T) {
	codec := JSONCodec{}
	_, err := codec.DecodeDirective(Envelope{Key: "k", Type: "Unknown", Payload: []byte("{}")})
	assert.Error(t, err)

	_, err = codec.DecodeFeedback(Envelope{Key: "k", Type: string(MinionsStartKind), Payload: []byte("{}")})
	assert.Error(t, err)

	_, err = codec.DecodeDirective(Envelope{Key: "k", Type: string(MinionsStartKind), Payload: []byte("{")})
	assert.Error(t, err)
}

func TestStartDefinitions(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	definitions := []MinionStartDefinition{
		{MinionID: "m1", StartAt: start},
		{MinionID: "m2", StartAt: start.Add(time.Second)},
	}
	values, err := EncodeStartDefinitions(definitions)
	require.NoError(t, err)
	assert.Len(t, values, 2)

	decoded, err := DecodeStartDefinitions(values)
	require.NoError(t, err)
	assert.Equal(t, definitions, decoded)

	_, err = DecodeStartDefinitions([]string{"not json"})
	assert.Error(t, err)
}

func TestNewDirectiveFeedback(t *testing.T) {
	d := NewMinionsCreationDirective("c1", "checkout", "pay", false)
	feedback := NewDirectiveFeedback(d, "factory-1", Failed, errors.New("boom"))

	assert.Equal(t, DirectiveFeedbackKind, feedback.Kind)
	assert.Equal(t, d.DirectiveKey(), feedback.DirectiveKey)
	assert.Equal(t, MinionsCreationKind, feedback.DirectiveKind)
	assert.Equal(t, "c1", feedback.CampaignKey)
	assert.Equal(t, "checkout", feedback.Scenario)
	assert.Equal(t, "pay", feedback.Dag)
	assert.Equal(t, "boom", feedback.Error)
	assert.True(t, feedback.Status.IsDone())
	assert.False(t, InProgress.IsDone())
}

func TestScenarioReport_Merge(t *testing.T) {
	report := ScenarioReport{StartedMinions: 1, FailedExecutions: 1, FirstError: "first"}
	report.Merge(ScenarioReport{StartedMinions: 2, CompletedMinions: 2, SuccessfulExecutions: 5, FirstError: "second"})
	assert.Equal(t, ScenarioReport{
		StartedMinions:       3,
		CompletedMinions:     2,
		SuccessfulExecutions: 5,
		FailedExecutions:     1,
		FirstError:           "first",
	}, report)
}
