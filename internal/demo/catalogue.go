// Package demo holds scenarios simulating an online shop, used by the binaries when no other catalogue is linked in.
package demo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/minionfleet/internal/rampup"
	"github.com/G-Research/minionfleet/internal/scenario"
)

const (
	CheckoutScenario = "checkout"
	PingScenario     = "ping"
)

var errPageUnavailable = errors.New("page unavailable")

// Options tune the simulated shop.
type Options struct {
	// Latency of a simulated request.
	Latency time.Duration
	// Pause of a minion between browsing and paying.
	ThinkTime time.Duration
	// Share of the page requests failing, between 0 and 1.
	FailureRatio float64
	// How often the monitor of a campaign logs the counters.
	MonitorInterval time.Duration
	Seed            int64
}

func DefaultOptions() Options {
	return Options{
		Latency:         20 * time.Millisecond,
		ThinkTime:       100 * time.Millisecond,
		FailureRatio:    0.05,
		MonitorInterval: time.Second,
		Seed:            1,
	}
}

// Stats counts what the minions did in the simulated shop.
type Stats struct {
	Pages    atomic.Int64
	Degraded atomic.Int64
	Payments atomic.Int64
	Pings    atomic.Int64
}

// Catalogue builds the demo scenarios.
type Catalogue struct {
	Stats   *Stats
	options Options

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCatalogue(options Options) *Catalogue {
	return &Catalogue{Stats: &Stats{}, options: options, rnd: rand.New(rand.NewSource(options.Seed))}
}

// Scenarios returns new instances of every demo scenario.
func (c *Catalogue) Scenarios() ([]*scenario.Scenario, error) {
	checkout, err := c.Checkout()
	if err != nil {
		return nil, err
	}
	ping, err := c.Ping()
	if err != nil {
		return nil, err
	}
	return []*scenario.Scenario{checkout, ping}, nil
}

func (c *Catalogue) fails() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Float64() < c.options.FailureRatio
}

func (c *Catalogue) request(ctx context.Context) error {
	timer := time.NewTimer(c.options.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.fails() {
		return errPageUnavailable
	}
	return nil
}

// Checkout browses a page, falls back to a degraded page when it keeps failing, thinks then pays. A singleton
// monitor logs the counters during the campaign.
func (c *Catalogue) Checkout() (*scenario.Scenario, error) {
	s := scenario.NewScenario(CheckoutScenario, 20)
	s.Profile = rampup.Configuration{
		Type:    rampup.Regular,
		Regular: &rampup.RegularProfile{PeriodMs: 50, MinionsCountProLaunch: 5},
	}

	openPage := scenario.NewFunctionStep("open-page", func(ctx context.Context, sc *scenario.StepContext) error {
		if err := c.request(ctx); err != nil {
			return err
		}
		c.Stats.Pages.Add(1)
		sc.Send("page")
		return nil
	})
	openPage.Policy = &scenario.RetryPolicy{
		Attempts: 3,
		Delay:    c.options.Latency,
		MaxDelay: 4 * c.options.Latency,
		RetryOn:  func(err error) bool { return errors.Is(err, errPageUnavailable) },
	}
	fallback := scenario.NewErrorRecoveryStep("fallback", func(_ []scenario.StepError, _ interface{}) (interface{}, bool) {
		c.Stats.Degraded.Add(1)
		return "degraded-page", true
	})
	pay := scenario.NewFunctionStep("pay", func(ctx context.Context, sc *scenario.StepContext) error {
		if err := c.request(ctx); err != nil {
			return err
		}
		c.Stats.Payments.Add(1)
		return nil
	})
	browse, err := scenario.NewDAGBuilder("browse", scenario.Root(), scenario.UnderLoad()).
		Step(openPage).
		Step(fallback, "open-page").
		Step(scenario.NewDelayStep("think", c.options.ThinkTime), "fallback").
		Step(pay, "think").
		Build()
	if err != nil {
		return nil, err
	}
	if err := s.AddDAG(browse); err != nil {
		return nil, err
	}

	monitor, err := scenario.NewDAGBuilder("monitor", scenario.Singleton()).
		Step(scenario.NewSingletonStep("report", c.monitor)).
		Build()
	if err != nil {
		return nil, err
	}
	if err := s.AddDAG(monitor); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Catalogue) monitor(ctx context.Context, sc *scenario.StepContext) error {
	ticker := time.NewTicker(c.options.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			log.WithField("campaign", sc.CampaignKey).Infof(
				"%d pages, %d degraded, %d payments",
				c.Stats.Pages.Load(), c.Stats.Degraded.Load(), c.Stats.Payments.Load(),
			)
		}
	}
}

// Ping sends one request per minion, all the minions starting at once.
func (c *Catalogue) Ping() (*scenario.Scenario, error) {
	s := scenario.NewScenario(PingScenario, 10)
	s.Profile = rampup.Configuration{Type: rampup.Immediate}
	ping, err := scenario.NewDAGBuilder("ping", scenario.Root(), scenario.UnderLoad()).
		Step(scenario.NewFunctionStep("ping", func(ctx context.Context, sc *scenario.StepContext) error {
			if err := c.request(ctx); err != nil {
				return err
			}
			c.Stats.Pings.Add(1)
			return nil
		})).
		Build()
	if err != nil {
		return nil, err
	}
	if err := s.AddDAG(ping); err != nil {
		return nil, err
	}
	return s, nil
}
