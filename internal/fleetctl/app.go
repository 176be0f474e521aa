// Package fleetctl runs campaigns of the demo catalogue in a single process and inspects ramp-up profiles.
package fleetctl

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/demo"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/factory"
	factoryconfiguration "github.com/G-Research/minionfleet/internal/factory/configuration"
	"github.com/G-Research/minionfleet/internal/head"
	headconfiguration "github.com/G-Research/minionfleet/internal/head/configuration"
	"github.com/G-Research/minionfleet/internal/rampup"
)

const abortTimeout = 10 * time.Second

type Params struct {
	Factories    int
	Scenarios    []string
	MinionsCount int
	SpeedFactor  float64
	// Profile in YAML, as in the campaigns of the head configuration. Empty to use the one of the scenario.
	Profile string
	Timeout time.Duration
	Demo    demo.Options
}

// App is the command line tool. Output goes to Out.
type App struct {
	Params Params
	Out    io.Writer
}

func New() *App {
	return &App{Params: Params{Factories: 1, Timeout: time.Minute, Demo: demo.DefaultOptions()}, Out: os.Stdout}
}

// ParseProfile decodes a profile written in YAML, such as `{type: regular, regular: {periodMs: 100,
// minionsCountProLaunch: 5}}`.
func ParseProfile(text string) (rampup.Configuration, error) {
	var profile rampup.Configuration
	if text == "" {
		return profile, nil
	}
	if err := yaml.UnmarshalStrict([]byte(text), &profile); err != nil {
		return profile, errors.Wrap(err, "parsing the profile")
	}
	if err := profile.Validate(); err != nil {
		return profile, err
	}
	return profile, nil
}

// Run starts a head and the factories on the memory transport, runs one campaign of the requested scenarios and
// prints its report. The campaign is aborted when it lasts longer than the timeout.
func (a *App) Run() error {
	if a.Params.Factories < 1 {
		return errors.Errorf("at least one factory is needed, got %d", a.Params.Factories)
	}
	if len(a.Params.Scenarios) == 0 {
		return errors.New("no scenario selected")
	}
	profile, err := ParseProfile(a.Params.Profile)
	if err != nil {
		return err
	}

	ctx, cancel := fleetcontext.WithCancel(fleetcontext.Background())
	defer cancel()
	channel := directive.NewMemoryChannel()
	defer channel.Close()
	registry := directive.NewMemoryRegistry()
	bus := directive.NewBus(channel, directive.JSONCodec{})

	h, err := head.NewHead(headconfiguration.HeadConfiguration{
		Campaigns: headconfiguration.CampaignsConfiguration{StartOffset: 100 * time.Millisecond, RampUpAttempts: 1},
	}, bus, registry)
	if err != nil {
		return err
	}
	feedbacks, err := bus.SubscribeFeedbacks(ctx)
	if err != nil {
		return err
	}
	go func() { _ = h.Manager.Run(ctx, feedbacks) }()

	for i := 0; i < a.Params.Factories; i++ {
		scenarios, err := demo.NewCatalogue(a.Params.Demo).Scenarios()
		if err != nil {
			return err
		}
		config := factoryconfiguration.FactoryConfiguration{
			Application: factoryconfiguration.ApplicationConfiguration{NodeID: fmt.Sprintf("factory-%d", i+1)},
		}
		node, err := factory.NewFactory(ctx, config, bus, registry, scenarios)
		if err != nil {
			return err
		}
		defer node.Close(fleetcontext.Background())
		go func() {
			if err := node.Run(ctx); err != nil {
				log.WithError(err).Error("factory stopped")
			}
		}()
	}
	waitCtx, waitCancel := fleetcontext.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := h.WaitForFactories(waitCtx, a.Params.Factories); err != nil {
		return err
	}

	request := head.CampaignRequest{SpeedFactor: a.Params.SpeedFactor}
	for _, name := range a.Params.Scenarios {
		request.Scenarios = append(request.Scenarios, head.ScenarioRequest{Name: name, MinionsCount: a.Params.MinionsCount, Profile: profile})
	}
	key, err := h.Manager.Start(ctx, request)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Campaign %s started on %d factories\n", key, a.Params.Factories)

	report, err := a.wait(ctx, h.Manager, key)
	if err != nil {
		return err
	}
	a.printReport(report)
	if report.State != head.Terminated {
		return errors.Errorf("campaign %s ended in state %s", key, report.State)
	}
	return nil
}

func (a *App) wait(ctx *fleetcontext.Context, manager *head.CampaignManager, key string) (*head.CampaignReport, error) {
	runCtx, cancel := fleetcontext.WithTimeout(ctx, a.Params.Timeout)
	defer cancel()
	report, err := manager.Wait(runCtx, key)
	if err == nil {
		return report, nil
	}
	fmt.Fprintf(a.Out, "Campaign %s did not end within %s, aborting it\n", key, a.Params.Timeout)
	if err := manager.Abort(ctx, key); err != nil {
		return nil, err
	}
	abortCtx, abortCancel := fleetcontext.WithTimeout(ctx, abortTimeout)
	defer abortCancel()
	return manager.Wait(abortCtx, key)
}

func (a *App) printReport(report *head.CampaignReport) {
	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "Scenario\tStarted\tCompleted\tSuccessful executions\tFailed executions\tFirst error\n")
	for _, name := range a.Params.Scenarios {
		r, ok := report.Scenarios[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", name, r.StartedMinions, r.CompletedMinions, r.SuccessfulExecutions, r.FailedExecutions, r.FirstError)
	}
	w.Flush()
	fmt.Fprintf(a.Out, "State: %s, duration: %s\n", report.State, report.EndedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if len(report.Aborted) > 0 {
		fmt.Fprintf(a.Out, "Aborted: %v\n", report.Aborted)
	}
	if report.Failure != "" {
		fmt.Fprintf(a.Out, "Failure: %s\n", report.Failure)
	}
}

// Profile prints the starting lines of a profile for count minions.
func (a *App) Profile(count int) error {
	configuration, err := ParseProfile(a.Params.Profile)
	if err != nil {
		return err
	}
	var profile rampup.Profile = &rampup.ImmediateProfile{}
	if !configuration.IsZero() {
		if profile, err = configuration.Build(); err != nil {
			return err
		}
	}
	speedFactor := a.Params.SpeedFactor
	if speedFactor == 0 {
		speedFactor = 1
	}
	lines, err := rampup.Collect(profile.Iterator(count, speedFactor), 100_000)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "Line\tAt\tCount\tStarted\n")
	var at time.Duration
	started := 0
	for i, line := range lines {
		if line.IsTerminal() {
			break
		}
		started += line.Count
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", i+1, at, line.Count, started)
		at += line.Offset
	}
	return w.Flush()
}
