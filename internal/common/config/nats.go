package config

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type NatsConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// Connect opens a connection to the first reachable server of the list.
func (nc NatsConfig) Connect() (*nats.Conn, error) {
	if len(nc.Servers) == 0 {
		return nil, errors.New("no nats server configured")
	}
	options := []nats.Option{nats.Name(nc.Name)}
	if nc.ReconnectWait > 0 {
		options = append(options, nats.ReconnectWait(nc.ReconnectWait))
	}
	if nc.MaxReconnects != 0 {
		options = append(options, nats.MaxReconnects(nc.MaxReconnects))
	}
	conn, err := nats.Connect(strings.Join(nc.Servers, ","), options...)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to nats servers %v", nc.Servers)
	}
	return conn, nil
}
