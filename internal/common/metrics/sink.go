// Package metrics records timers, counters and events of the orchestration layer. The head and the factories only
// see the Sink interface; the binaries decide where the values go.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const MetricPrefix = "minionfleet_"

type Sink interface {
	RecordTimer(name string, duration time.Duration)
	RecordCounter(name string, value float64)
	LogEvent(level logrus.Level, name string, tags map[string]string, value interface{})
}

// PrometheusSink creates one histogram or counter per metric name, on first use.
type PrometheusSink struct {
	factory    promauto.Factory
	mutex      sync.Mutex
	histograms map[string]prometheus.Histogram
	counters   map[string]prometheus.Counter
	events     *prometheus.CounterVec
}

func NewPrometheusSink(registerer prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(registerer)
	return &PrometheusSink{
		factory:    factory,
		histograms: map[string]prometheus.Histogram{},
		counters:   map[string]prometheus.Counter{},
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "events_total",
			Help: "Number of events logged by the orchestration layer",
		}, []string{"name", "level"}),
	}
}

func (s *PrometheusSink) RecordTimer(name string, duration time.Duration) {
	s.mutex.Lock()
	histogram, ok := s.histograms[name]
	if !ok {
		histogram = s.factory.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPrefix + sanitize(name) + "_seconds",
			Help:    "Duration of " + name + " in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		})
		s.histograms[name] = histogram
	}
	s.mutex.Unlock()
	histogram.Observe(duration.Seconds())
}

func (s *PrometheusSink) RecordCounter(name string, value float64) {
	s.mutex.Lock()
	counter, ok := s.counters[name]
	if !ok {
		counter = s.factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + sanitize(name) + "_total",
			Help: "Number of " + name,
		})
		s.counters[name] = counter
	}
	s.mutex.Unlock()
	if value >= 0 {
		counter.Add(value)
	}
}

func (s *PrometheusSink) LogEvent(level logrus.Level, name string, _ map[string]string, _ interface{}) {
	s.events.WithLabelValues(name, level.String()).Inc()
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// LogSink writes events to a logrus entry. Timers and counters are logged at debug level.
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) RecordTimer(name string, duration time.Duration) {
	s.log.WithField("timer", name).Debugf("%s", duration)
}

func (s *LogSink) RecordCounter(name string, value float64) {
	s.log.WithField("counter", name).Debugf("%v", value)
}

func (s *LogSink) LogEvent(level logrus.Level, name string, tags map[string]string, value interface{}) {
	fields := logrus.Fields{"event": name}
	keys := maps.Keys(tags)
	slices.Sort(keys)
	for _, key := range keys {
		fields[key] = tags[key]
	}
	s.log.WithFields(fields).Logf(level, "%v", value)
}

// MultiSink forwards every call to all of its sinks.
type MultiSink []Sink

func (m MultiSink) RecordTimer(name string, duration time.Duration) {
	for _, s := range m {
		s.RecordTimer(name, duration)
	}
}

func (m MultiSink) RecordCounter(name string, value float64) {
	for _, s := range m {
		s.RecordCounter(name, value)
	}
}

func (m MultiSink) LogEvent(level logrus.Level, name string, tags map[string]string, value interface{}) {
	for _, s := range m {
		s.LogEvent(level, name, tags, value)
	}
}

// NoopSink drops everything.
type NoopSink struct{}

func (NoopSink) RecordTimer(string, time.Duration) {}
func (NoopSink) RecordCounter(string, float64) {}
func (NoopSink) LogEvent(logrus.Level, string, map[string]string, interface{}) {}
