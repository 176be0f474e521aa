// Package factory runs the DAGs assigned to a node: it keeps the scenarios it can execute, creates and starts the
// minions the head asks for and reports back through feedbacks.
package factory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/G-Research/minionfleet/internal/common/suspend"
)

// ErrMinionCancelled is returned when waiting on a cancelled minion.
var ErrMinionCancelled = errors.New("minion cancelled")

// Minion is one virtual user of a campaign. Its DAG executions all wait for the start gate, and the minion
// completes once every one of them returned.
type Minion struct {
	ID        string
	Campaign  string
	Scenario  string
	Singleton bool

	mu   sync.Mutex
	dags []string

	ctx       context.Context
	cancel    context.CancelFunc
	started   chan struct{}
	startOnce sync.Once
	cancelled atomic.Bool
	// Executions in flight.
	running *suspend.CountLatch
}

// newMinion creates a minion bound to parent: cancelling parent cancels the minion. onComplete is called once,
// when the last execution returns.
func newMinion(parent context.Context, id, campaign, scenarioName string, singleton bool, onComplete func(*Minion)) *Minion {
	ctx, cancel := context.WithCancel(parent)
	m := &Minion{
		ID:        id,
		Campaign:  campaign,
		Scenario:  scenarioName,
		Singleton: singleton,
		ctx:       ctx,
		cancel:    cancel,
		started:   make(chan struct{}),
	}
	var once sync.Once
	m.running = suspend.MustNewCountLatch(0, suspend.OnRelease(func() {
		once.Do(func() {
			cancel()
			if onComplete != nil {
				onComplete(m)
			}
		})
	}))
	return m
}

// launch runs execution for dag in its own goroutine. The execution receives the context of the minion.
func (m *Minion) launch(dag string, execution func(ctx context.Context)) {
	m.mu.Lock()
	m.dags = append(m.dags, dag)
	m.mu.Unlock()

	_ = m.running.Increment(1)
	go func() {
		defer func() {
			_ = m.running.Decrement(1)
		}()
		execution(m.ctx)
	}()
}

// DAGs returns the names of the DAGs the minion executes locally.
func (m *Minion) DAGs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dags...)
}

// Start opens the start gate. It returns false if the minion was already started or cancelled.
func (m *Minion) Start() bool {
	if m.IsCancelled() {
		return false
	}
	first := false
	m.startOnce.Do(func() {
		first = true
		close(m.started)
	})
	return first
}

// WaitForStart blocks until the minion is started, and fails if it is cancelled first or ctx is done.
func (m *Minion) WaitForStart(ctx context.Context) error {
	select {
	case <-m.started:
		if m.IsCancelled() {
			return ErrMinionCancelled
		}
		return nil
	case <-m.ctx.Done():
		return ErrMinionCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join blocks until every execution of the minion returned.
func (m *Minion) Join(ctx context.Context) error {
	return m.running.Await(ctx)
}

// Cancel stops the minion at the next step boundary. Cancelling twice does nothing.
func (m *Minion) Cancel() {
	m.cancelled.Store(true)
	m.cancel()
}

func (m *Minion) IsStarted() bool {
	select {
	case <-m.started:
		return true
	default:
		return false
	}
}

// IsRunning returns true between the start and the completion of a minion that was not cancelled.
func (m *Minion) IsRunning() bool {
	return m.IsStarted() && !m.IsCancelled() && m.running.IsSuspended()
}

func (m *Minion) IsCancelled() bool {
	return m.cancelled.Load()
}
