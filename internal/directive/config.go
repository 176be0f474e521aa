package directive

import (
	"github.com/pkg/errors"

	"github.com/G-Research/minionfleet/internal/common/config"
)

// NewChannelFromConfig opens the channel selected by the configuration. The returned function closes the channel
// and its connection.
func NewChannelFromConfig(c config.TransportConfig) (Channel, func(), error) {
	switch c.Type {
	case config.MemoryTransport, "":
		channel := NewMemoryChannel()
		return channel, func() { _ = channel.Close() }, nil
	case config.RedisTransport:
		db := c.Redis.NewClient()
		if err := db.Ping().Err(); err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "connecting to the redis transport")
		}
		channel := NewRedisStreamChannel(db, c.Namespace, c.PollBlock, 0)
		return channel, func() {
			_ = channel.Close()
			_ = db.Close()
		}, nil
	case config.NatsTransport:
		conn, err := c.Nats.Connect()
		if err != nil {
			return nil, nil, err
		}
		channel := NewNatsChannel(conn, c.Namespace)
		return channel, func() {
			_ = channel.Close()
			conn.Close()
		}, nil
	default:
		return nil, nil, errors.Errorf("unknown transport %q", c.Type)
	}
}

// NewRegistryFromConfig opens the registry selected by the configuration.
func NewRegistryFromConfig(c config.RegistryConfig) (Registry, func(), error) {
	switch c.Type {
	case config.MemoryTransport, "":
		return NewMemoryRegistry(), func() {}, nil
	case config.RedisTransport:
		db := c.Redis.NewClient()
		if err := db.Ping().Err(); err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "connecting to the redis registry")
		}
		return NewRedisRegistry(db, c.Namespace, c.Retention), func() { _ = db.Close() }, nil
	default:
		return nil, nil, errors.Errorf("registry type %q is not supported", c.Type)
	}
}
