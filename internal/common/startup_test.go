package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/common/config"
)

type testConfiguration struct {
	NodeId    string
	Heartbeat time.Duration
	Transport config.TransportConfig
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig_MergesOverridesAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
nodeId: factory-1
heartbeat: 5s
transport:
  type: memory
  namespace: fleet
`)
	override := filepath.Join(dir, "override.yaml")
	writeFile(t, override, `
transport:
  type: Redis
  redis:
    addrs: ["localhost:6379"]
`)
	t.Setenv("FLEET_NODEID", "factory-7")

	var cfg testConfiguration
	_, err := loadConfig(&cfg, dir, override)

	require.NoError(t, err)
	assert.Equal(t, "factory-7", cfg.NodeId)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat)
	assert.Equal(t, config.RedisTransport, cfg.Transport.Type)
	assert.Equal(t, "fleet", cfg.Transport.Namespace)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Transport.Redis.Addrs)
}

func TestLoadConfig_MissingDefaults(t *testing.T) {
	var cfg testConfiguration
	_, err := loadConfig(&cfg, t.TempDir())
	assert.Error(t, err)
}
