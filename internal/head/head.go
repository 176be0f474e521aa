package head

import (
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/util"
	"github.com/G-Research/minionfleet/internal/directive"
	"github.com/G-Research/minionfleet/internal/head/configuration"
)

const subscriptionRetryPause = time.Second

// Head wires the campaign manager to the directive bus.
type Head struct {
	Manager *CampaignManager

	bus    *directive.Bus
	config configuration.HeadConfiguration
}

// NewHead creates a head exchanging messages on bus and payloads through registry.
func NewHead(config configuration.HeadConfiguration, bus *directive.Bus, registry directive.Registry, opts ...Option) (*Head, error) {
	manager, err := NewCampaignManager(config.Campaigns, registry, bus, opts...)
	if err != nil {
		return nil, err
	}
	return &Head{Manager: manager, bus: bus, config: config}, nil
}

// Run applies the feedbacks of the factories until ctx is done.
func (h *Head) Run(ctx *fleetcontext.Context) error {
	var feedbacks <-chan *directive.Feedback
	err := util.RetryUntilSuccess(
		ctx,
		subscriptionRetryPause,
		func() error {
			var err error
			feedbacks, err = h.bus.SubscribeFeedbacks(ctx)
			return err
		},
		func(err error) {
			logging.WithStacktrace(ctx.Log, err).Warn("subscribing to the feedbacks")
		},
	)
	if err != nil {
		return nil
	}
	ctx.Log.Info("head waiting for feedbacks")
	return h.Manager.Run(ctx, feedbacks)
}

// ExpireFactories is run periodically to unassign the factories that stopped sending heartbeats.
func (h *Head) ExpireFactories(ctx *fleetcontext.Context) {
	h.Manager.ExpireFactories(ctx, h.config.Factories.HeartbeatTimeout)
}

// WaitForFactories blocks until count factories registered or ctx is done.
func (h *Head) WaitForFactories(ctx *fleetcontext.Context, count int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		healthy, err := h.Manager.Factories().Healthy()
		if err != nil {
			return err
		}
		if len(healthy) >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d factories registered out of %d", len(healthy), count)
		case <-ticker.C:
		}
	}
}

// Launch starts the campaigns of the configuration and logs their report once they are over.
func (h *Head) Launch(ctx *fleetcontext.Context) {
	for _, c := range h.config.Launch {
		key, err := h.Manager.Start(ctx, NewCampaignRequest(c))
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("starting a configured campaign")
			continue
		}
		go func() {
			report, err := h.Manager.Wait(ctx, key)
			if err != nil {
				return
			}
			LogReport(ctx.Log.WithField(fleetcontext.CampaignField, key), report)
		}()
	}
}
