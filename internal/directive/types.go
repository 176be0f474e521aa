// Package directive holds the messages exchanged between the head and the factories, the registry where their
// payloads live and the channels carrying them.
//
// Directives travel from the head to the factories (or between factories) and only carry references: the minion
// ids, start times and counts they refer to are stored in a Registry under the directive key. Feedbacks travel
// back to the head and answer a directive, or report the end of a scenario or the presence of a factory.
package directive

import (
	"time"

	"github.com/G-Research/minionfleet/internal/rampup"
)

type Kind string

const (
	FactoryAssignmentKind          Kind = "FactoryAssignment"
	MinionsCreationPreparationKind Kind = "MinionsCreationPreparation"
	MinionsCreationKind            Kind = "MinionsCreation"
	MinionsStartKind               Kind = "MinionsStart"
	MinionsStartSingletonsKind     Kind = "MinionsStartSingletons"
	CampaignScenarioShutdownKind   Kind = "CampaignScenarioShutdown"
	CampaignShutdownKind           Kind = "CampaignShutdown"
	CampaignAbortKind              Kind = "CampaignAbort"
)

// Stops tells whether the directive stops the work of a campaign, so it must never queue behind that work.
func (k Kind) Stops() bool {
	switch k {
	case CampaignScenarioShutdownKind, CampaignShutdownKind, CampaignAbortKind:
		return true
	}
	return false
}

type Directive interface {
	DirectiveKey() string
	Kind() Kind
	Campaign() string
}

// Header is shared by all the directives.
type Header struct {
	Key         string    `json:"key"`
	CampaignKey string    `json:"campaignKey"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h Header) DirectiveKey() string { return h.Key }

func (h Header) Campaign() string { return h.CampaignKey }

// FactoryScenarioAssignment is the part of a scenario a factory runs in a campaign.
type FactoryScenarioAssignment struct {
	DAGs []string `json:"dags"`
	// Upper bound of the minions the factory creates for the DAGs under load.
	MaxMinionsCount int `json:"maxMinionsCount"`
}

// FactoryAssignmentDirective tells a factory which DAGs it runs in a campaign.
type FactoryAssignmentDirective struct {
	Header
	Factory     string                               `json:"factory"`
	Assignments map[string]FactoryScenarioAssignment `json:"assignments"`
}

func (*FactoryAssignmentDirective) Kind() Kind { return FactoryAssignmentKind }

// MinionsCreationPreparationDirective asks for the minion ids of a scenario. Its registry payload is the
// single-use count of minions under load, so that exactly one factory prepares the ids.
type MinionsCreationPreparationDirective struct {
	Header
	Scenario string `json:"scenario"`
}

func (*MinionsCreationPreparationDirective) Kind() Kind { return MinionsCreationPreparationKind }

// MinionsCreationDirective asks the factories owning a DAG to create minions. Its registry payload is the queue of
// minion ids: every factory pops ids until the queue is empty.
type MinionsCreationDirective struct {
	Header
	Scenario string `json:"scenario"`
	Dag      string `json:"dag"`
	// Singleton DAGs get their own dedicated minion.
	Singleton bool `json:"singleton"`
}

func (*MinionsCreationDirective) Kind() Kind { return MinionsCreationKind }

// MinionStartDefinition is one entry of the ramp-up: when a minion starts.
type MinionStartDefinition struct {
	MinionID string    `json:"minionId"`
	StartAt  time.Time `json:"startAt"`
}

// MinionsStartDirective releases the minions under load. Its registry payload is the list of MinionStartDefinition.
type MinionsStartDirective struct {
	Header
	Scenario string `json:"scenario"`
}

func (*MinionsStartDirective) Kind() Kind { return MinionsStartKind }

// MinionsStartSingletonsDirective starts the dedicated minions of the singleton DAGs, outside of the ramp-up.
type MinionsStartSingletonsDirective struct {
	Header
	Scenario string `json:"scenario"`
}

func (*MinionsStartSingletonsDirective) Kind() Kind { return MinionsStartSingletonsKind }

// CampaignScenarioShutdownDirective releases what a factory holds for a completed scenario of a campaign.
type CampaignScenarioShutdownDirective struct {
	Header
	Scenario string `json:"scenario"`
}

func (*CampaignScenarioShutdownDirective) Kind() Kind { return CampaignScenarioShutdownKind }

// CampaignShutdownDirective releases what a factory holds for a campaign.
type CampaignShutdownDirective struct {
	Header
}

func (*CampaignShutdownDirective) Kind() Kind { return CampaignShutdownKind }

// CampaignAbortDirective cancels the minions of some scenarios of a campaign immediately.
type CampaignAbortDirective struct {
	Header
	Scenarios []string `json:"scenarios"`
}

func (*CampaignAbortDirective) Kind() Kind { return CampaignAbortKind }

type Status string

const (
	InProgress Status = "IN_PROGRESS"
	Completed  Status = "COMPLETED"
	Failed     Status = "FAILED"
)

func (s Status) IsDone() bool {
	return s == Completed || s == Failed
}

type FeedbackKind string

const (
	DirectiveFeedbackKind             FeedbackKind = "DirectiveFeedback"
	EndOfCampaignScenarioFeedbackKind FeedbackKind = "EndOfCampaignScenarioFeedback"
	FactoryRegistrationFeedbackKind   FeedbackKind = "FactoryRegistrationFeedback"
)

// ScenarioReport sums up the execution of a scenario on one factory.
type ScenarioReport struct {
	StartedMinions       int    `json:"startedMinions"`
	CompletedMinions     int    `json:"completedMinions"`
	SuccessfulExecutions int    `json:"successfulExecutions"`
	FailedExecutions     int    `json:"failedExecutions"`
	FirstError           string `json:"firstError,omitempty"`
}

// Merge adds other to r. The first error of r is kept if any.
func (r *ScenarioReport) Merge(other ScenarioReport) {
	r.StartedMinions += other.StartedMinions
	r.CompletedMinions += other.CompletedMinions
	r.SuccessfulExecutions += other.SuccessfulExecutions
	r.FailedExecutions += other.FailedExecutions
	if r.FirstError == "" {
		r.FirstError = other.FirstError
	}
}

type DAGDescriptor struct {
	Name        string `json:"name"`
	IsRoot      bool   `json:"isRoot"`
	IsUnderLoad bool   `json:"isUnderLoad"`
	IsSingleton bool   `json:"isSingleton"`
}

// ScenarioDescriptor is what a factory announces about a scenario it can run.
type ScenarioDescriptor struct {
	Name         string               `json:"name"`
	MinionsCount int                  `json:"minionsCount"`
	Profile      rampup.Configuration `json:"profile"`
	DAGs         []DAGDescriptor      `json:"dags"`
}

// FactoryRegistration is the catalogue of a factory, sent at start-up and with every heartbeat.
type FactoryRegistration struct {
	NodeID    string               `json:"nodeId"`
	Scenarios []ScenarioDescriptor `json:"scenarios"`
}

// Feedback answers a directive, or reports the end of a scenario or the presence of a factory.
type Feedback struct {
	Key           string       `json:"key"`
	Kind          FeedbackKind `json:"kind"`
	DirectiveKey  string       `json:"directiveKey,omitempty"`
	DirectiveKind Kind         `json:"directiveKind,omitempty"`
	CampaignKey   string       `json:"campaignKey,omitempty"`
	Scenario      string       `json:"scenario,omitempty"`
	Dag           string       `json:"dag,omitempty"`
	NodeID        string       `json:"nodeId"`
	Status        Status       `json:"status"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`

	Report       *ScenarioReport      `json:"report,omitempty"`
	Registration *FactoryRegistration `json:"registration,omitempty"`
}
