package head

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/directive"
)

// CampaignReport is the outcome of a campaign, merged from the end-of-scenario feedbacks of the factories.
type CampaignReport struct {
	Key       string
	State     CampaignState
	Failure   string
	StartedAt time.Time
	EndedAt   time.Time
	Scenarios map[string]directive.ScenarioReport
	// Scenarios aborted before they ended.
	Aborted []string
}

// Successful returns true when the campaign ended normally and no execution failed.
func (r *CampaignReport) Successful() bool {
	if r.State != Terminated {
		return false
	}
	for _, report := range r.Scenarios {
		if report.FailedExecutions > 0 {
			return false
		}
	}
	return true
}

// Total sums the reports of all the scenarios.
func (r *CampaignReport) Total() directive.ScenarioReport {
	var total directive.ScenarioReport
	for _, name := range sortedKeys(r.Scenarios) {
		total.Merge(r.Scenarios[name])
	}
	return total
}

// LogReport logs one line per scenario, then the outcome of the campaign.
func LogReport(log *logrus.Entry, report *CampaignReport) {
	for _, name := range sortedKeys(report.Scenarios) {
		r := report.Scenarios[name]
		log.WithFields(logrus.Fields{
			fleetcontext.ScenarioField: name,
			"startedMinions":           r.StartedMinions,
			"completedMinions":         r.CompletedMinions,
			"successfulExecutions":     r.SuccessfulExecutions,
			"failedExecutions":         r.FailedExecutions,
		}).Info("scenario report")
	}
	entry := log.WithFields(logrus.Fields{"state": report.State, "duration": report.EndedAt.Sub(report.StartedAt)})
	if len(report.Aborted) > 0 {
		entry = entry.WithField("aborted", report.Aborted)
	}
	if report.Failure != "" {
		entry.Warnf("campaign ended: %s", report.Failure)
		return
	}
	entry.Info("campaign ended")
}

func newCampaignReport(campaign *RunningCampaign, scenarios map[string]directive.ScenarioReport, aborted []string) *CampaignReport {
	copied := make(map[string]directive.ScenarioReport, len(scenarios))
	for name, report := range scenarios {
		copied[name] = report
	}
	return &CampaignReport{
		Key:       campaign.Key,
		State:     campaign.State,
		Failure:   campaign.Failure,
		StartedAt: campaign.StartedAt,
		EndedAt:   campaign.EndedAt,
		Scenarios: copied,
		Aborted:   append([]string(nil), aborted...),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
