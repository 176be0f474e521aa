package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewPrometheusSink(registry)

	sink.RecordCounter("minions.started", 3)
	sink.RecordCounter("minions.started", 2)
	sink.RecordTimer("directive.process", 20*time.Millisecond)
	sink.LogEvent(logrus.WarnLevel, "campaign-aborted", nil, "c1")

	assert.Equal(t, 5.0, testutil.ToFloat64(sink.counters["minions.started"]))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("campaign-aborted", "warning")))

	families, err := registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "minionfleet_minions_started_total")
	assert.Contains(t, names, "minionfleet_directive_process_seconds")
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLogSink(logrus.NewEntry(logger))

	sink.LogEvent(logrus.InfoLevel, "campaign-started", map[string]string{"campaign": "c1"}, 42)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "42", hook.LastEntry().Message)
	assert.Equal(t, "c1", hook.LastEntry().Data["campaign"])
	assert.Equal(t, "campaign-started", hook.LastEntry().Data["event"])
}

func TestMultiSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	registry := prometheus.NewRegistry()
	prometheusSink := NewPrometheusSink(registry)
	sink := MultiSink{NewLogSink(logrus.NewEntry(logger)), prometheusSink, NoopSink{}}

	sink.RecordCounter("steps.failed", 1)

	assert.Len(t, hook.Entries, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(prometheusSink.counters["steps.failed"]))
}
