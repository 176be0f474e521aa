package fleetctl

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/demo"
	"github.com/G-Research/minionfleet/internal/rampup"
)

func newTestApp() (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	app := New()
	app.Out = out
	app.Params.Demo.Latency = time.Millisecond
	app.Params.Demo.ThinkTime = time.Millisecond
	app.Params.Demo.FailureRatio = 0
	return app, out
}

func TestParseProfile(t *testing.T) {
	profile, err := ParseProfile("{type: regular, regular: {periodMs: 100, minionsCountProLaunch: 5}}")
	require.NoError(t, err)
	assert.Equal(t, rampup.Configuration{Type: rampup.Regular, Regular: &rampup.RegularProfile{PeriodMs: 100, MinionsCountProLaunch: 5}}, profile)

	profile, err = ParseProfile("")
	require.NoError(t, err)
	assert.True(t, profile.IsZero())

	_, err = ParseProfile("{type: regular}")
	assert.Error(t, err)

	_, err = ParseProfile("{type: regular, unknown: 1}")
	assert.Error(t, err)
}

func TestApp_Profile(t *testing.T) {
	app, out := newTestApp()
	app.Params.Profile = "{type: regular, regular: {periodMs: 100, minionsCountProLaunch: 2}}"

	require.NoError(t, app.Profile(5))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"1", "0s", "2", "2"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "100ms", "2", "4"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"3", "200ms", "1", "5"}, strings.Fields(lines[3]))
}

func TestApp_Run(t *testing.T) {
	app, out := newTestApp()
	app.Params.Factories = 2
	app.Params.Scenarios = []string{demo.PingScenario}
	app.Params.MinionsCount = 4
	app.Params.Timeout = 20 * time.Second

	require.NoError(t, app.Run())
	assert.Contains(t, out.String(), "State: TERMINATED")
	assert.Regexp(t, `ping\s+4\s+4`, out.String())
}

func TestApp_RunValidatesTheParameters(t *testing.T) {
	app, _ := newTestApp()
	app.Params.Factories = 0
	assert.Error(t, app.Run())

	app.Params.Factories = 1
	app.Params.Scenarios = nil
	assert.Error(t, app.Run())

	app.Params.Scenarios = []string{"unknown"}
	assert.Error(t, app.Run())
}
