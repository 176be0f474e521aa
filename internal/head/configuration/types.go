package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/G-Research/minionfleet/internal/common/config"
	"github.com/G-Research/minionfleet/internal/rampup"
)

type FactoriesConfiguration struct {
	// A factory silent for longer is unassigned from the running campaigns.
	HeartbeatTimeout time.Duration `validate:"gt=0"`
	// How often the silent factories are looked for.
	ExpiryCheckInterval time.Duration `validate:"gt=0"`
}

type CampaignsConfiguration struct {
	// Delay between the computation of the ramp-up and the start of the first minions, so that every factory
	// received the start directive before it is due.
	StartOffset time.Duration `validate:"gte=0"`
	// Number of times the preparation of a ramp-up is attempted from scratch.
	RampUpAttempts uint `validate:"gte=1"`
	// Upper bound of the starting lines of one ramp-up.
	MaxStartingLines int `validate:"gt=0"`
}

// ScenarioRequestConfiguration selects a scenario of the catalogue for a campaign. Zero values fall back to what
// the factories registered for the scenario.
type ScenarioRequestConfiguration struct {
	Name         string `validate:"required"`
	MinionsCount int    `validate:"gte=0"`
	Profile      rampup.Configuration
}

// CampaignRequestConfiguration is a campaign launched when the head starts.
type CampaignRequestConfiguration struct {
	Key         string
	SpeedFactor float64                        `validate:"gte=0"`
	Scenarios   []ScenarioRequestConfiguration `validate:"required,dive"`
}

type HeadConfiguration struct {
	MetricsPort uint16
	Transport   config.TransportConfig
	Registry    config.RegistryConfig
	Factories   FactoriesConfiguration
	Campaigns   CampaignsConfiguration
	// How long the head waits for the factories to register before launching the campaigns below.
	FactoriesWarmUp time.Duration
	Launch          []CampaignRequestConfiguration `validate:"dive"`
}

func (c HeadConfiguration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
