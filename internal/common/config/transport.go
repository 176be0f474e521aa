package config

import "time"

type TransportKind string

const (
	MemoryTransport TransportKind = "memory"
	RedisTransport  TransportKind = "redis"
	NatsTransport   TransportKind = "nats"
)

// TransportConfig selects the channel carrying directives and feedbacks between the head and the factories.
type TransportConfig struct {
	Type TransportKind
	// Prefix of the redis streams or nats subjects, so that several fleets can share a server.
	Namespace string
	// How long a redis stream read blocks before polling again.
	PollBlock time.Duration
	Redis     RedisConfig
	Nats      NatsConfig
}

// RegistryConfig selects where directive payloads are stored.
type RegistryConfig struct {
	Type      TransportKind
	Namespace string
	// Payloads of a campaign are dropped once it is cleaned or after this retention.
	Retention time.Duration
	Redis     RedisConfig
}
