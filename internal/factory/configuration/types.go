package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/G-Research/minionfleet/internal/common/config"
)

type ApplicationConfiguration struct {
	// NodeID identifies the factory; a random id is generated when empty.
	NodeID string
	// Scenarios of the catalogue loaded by the factory, all of them when empty.
	Scenarios []string
}

type TaskConfiguration struct {
	HeartbeatInterval time.Duration `validate:"gt=0"`
}

type DispatcherConfiguration struct {
	// Upper bound of the directives processed concurrently.
	MaxConcurrentDirectives int `validate:"gte=0"`
	// Number of recently processed directive keys remembered to drop redeliveries.
	DeduplicationCacheSize int `validate:"gte=0"`
}

type MinionsConfiguration struct {
	// Minions created per second by a creation directive, unlimited when 0.
	CreationRate  float64 `validate:"gte=0"`
	CreationBurst int     `validate:"gte=0"`
	// How long a scenario shutdown waits for the cancelled minions.
	ShutdownTimeout time.Duration
}

type FactoryConfiguration struct {
	MetricsPort uint16
	Application ApplicationConfiguration
	Transport   config.TransportConfig
	Registry    config.RegistryConfig
	Task        TaskConfiguration
	Dispatcher  DispatcherConfiguration
	Minions     MinionsConfiguration
}

func (c FactoryConfiguration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
