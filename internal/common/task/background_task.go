package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
)

type task struct {
	function    func(ctx *fleetcontext.Context)
	interval    time.Duration
	metricName  string
	stopChannel chan bool
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	ctx           *fleetcontext.Context
	tasks         []*task
	metricsPrefix string
	registerer    prometheus.Registerer
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(ctx *fleetcontext.Context, metricsPrefix string) *BackgroundTaskManager {
	return NewBackgroundTaskManagerWithRegisterer(ctx, metricsPrefix, prometheus.DefaultRegisterer)
}

// NewBackgroundTaskManagerWithRegisterer records the task latencies into registerer, which can be nil to disable them.
func NewBackgroundTaskManagerWithRegisterer(ctx *fleetcontext.Context, metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		ctx:           ctx,
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
		wg:            &sync.WaitGroup{},
	}
}

// Register runs backgroundTask immediately, then every interval until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(ctx *fleetcontext.Context), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll stops every task and returns true if they did not all complete within timeout.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	var taskDurationHistogram prometheus.Observer = noopObserver{}
	if m.registerer != nil {
		taskDurationHistogram = promauto.With(m.registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    m.metricsPrefix + task.metricName + "_latency_seconds",
				Help:    "Background loop " + task.metricName + " latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			})
	}
	ctx := fleetcontext.WithLogField(m.ctx, "task", task.metricName)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		start := time.Now()
		task.function(ctx)
		taskDurationHistogram.Observe(time.Since(start).Seconds())

		for {
			select {
			case <-time.After(task.interval):
			case <-task.stopChannel:
				return
			case <-ctx.Done():
				return
			}
			innerStart := time.Now()
			task.function(ctx)
			taskDurationHistogram.Observe(time.Since(innerStart).Seconds())
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
	m.tasks = nil
}

type noopObserver struct{}

func (noopObserver) Observe(float64) {}
