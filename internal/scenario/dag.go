package scenario

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/common/suspend"
)

// DefaultFindStepTimeout bounds how long FindStep waits for a step that is not created yet.
const DefaultFindStepTimeout = 10 * time.Second

// DAG is a graph of steps deployed as a unit on a factory.
type DAG struct {
	Name         string
	ScenarioName string
	// IsRoot DAGs wait for an explicit start of their minions.
	IsRoot bool
	// IsUnderLoad DAGs receive the minions of the ramp-up.
	IsUnderLoad bool
	// IsSingleton DAGs are driven by one dedicated minion per campaign.
	IsSingleton bool
	RootStep    *suspend.Slot[Step]

	findStepTimeout time.Duration

	mu sync.RWMutex
	// Slots are created on first reference and set once the step is added.
	steps map[string]*suspend.Slot[Step]
	edges map[string][]string
	// Names of the added steps, in insertion order.
	added []string
}

type DAGOption func(*DAG)

func Root() DAGOption {
	return func(d *DAG) { d.IsRoot = true }
}

func UnderLoad() DAGOption {
	return func(d *DAG) { d.IsUnderLoad = true }
}

func Singleton() DAGOption {
	return func(d *DAG) { d.IsSingleton = true }
}

// WithFindStepTimeout overrides DefaultFindStepTimeout.
func WithFindStepTimeout(timeout time.Duration) DAGOption {
	return func(d *DAG) { d.findStepTimeout = timeout }
}

func NewDAG(name string, opts ...DAGOption) *DAG {
	d := &DAG{
		Name:            name,
		RootStep:        suspend.NewSlot[Step](),
		findStepTimeout: DefaultFindStepTimeout,
		steps:           map[string]*suspend.Slot[Step]{},
		edges:           map[string][]string{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DAG) specificationError(step, message string) error {
	return &fleeterrors.ErrSpecification{Scenario: d.ScenarioName, Dag: d.Name, Step: step, Message: message}
}

// slotLocked returns the slot of name, creating an empty one if needed. d.mu must be held for writing.
func (d *DAG) slotLocked(name string) *suspend.Slot[Step] {
	slot, ok := d.steps[name]
	if !ok {
		slot = suspend.NewSlot[Step]()
		d.steps[name] = slot
	}
	return slot
}

func (d *DAG) isAddedLocked(name string) bool {
	slot, ok := d.steps[name]
	return ok && slot.IsPresent()
}

// AddRootStep adds the first step of the DAG.
func (d *DAG) AddRootStep(step Step) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.RootStep.IsPresent() {
		return d.specificationError(step.Name(), "the DAG already has a root step")
	}
	if d.isAddedLocked(step.Name()) {
		return d.specificationError(step.Name(), "duplicate step name")
	}
	d.addLocked(step)
	d.RootStep.Set(step)
	return nil
}

// AddStep adds step as a child of parent, which must already be part of the DAG.
func (d *DAG) AddStep(step Step, parent string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isAddedLocked(step.Name()) {
		return d.specificationError(step.Name(), "duplicate step name")
	}
	if !d.isAddedLocked(parent) {
		return d.specificationError(step.Name(), "unknown parent step "+parent)
	}
	d.edges[parent] = append(d.edges[parent], step.Name())
	d.addLocked(step)
	return nil
}

func (d *DAG) addLocked(step Step) {
	d.added = append(d.added, step.Name())
	d.slotLocked(step.Name()).Set(step)
}

// Link adds an edge between two existing steps, to join flows. An edge making child an ancestor of itself is
// rejected and leaves the DAG unchanged.
func (d *DAG) Link(parent, child string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range []string{parent, child} {
		if !d.isAddedLocked(name) {
			return d.specificationError(name, "unknown step")
		}
	}
	if slices.Contains(d.edges[parent], child) {
		return nil
	}
	if parent == child || reachable(d.edges, child, parent) {
		return d.specificationError(child, "linking "+parent+" to "+child+" creates a cycle")
	}
	d.edges[parent] = append(d.edges[parent], child)
	return nil
}

// reachable returns true when to can be reached from from in edges.
func reachable(edges map[string][]string, from, to string) bool {
	visited := map[string]bool{}
	pending := []string{from}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if current == to {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		pending = append(pending, edges[current]...)
	}
	return false
}

// FindStep returns the step called name, waiting for it to be added. It fails with *fleeterrors.ErrTimeout when
// the step is still missing after the find timeout of the DAG.
func (d *DAG) FindStep(ctx context.Context, name string) (Step, error) {
	d.mu.Lock()
	slot := d.slotLocked(name)
	d.mu.Unlock()

	step, err := slot.GetWithTimeout(ctx, d.findStepTimeout)
	if err != nil {
		if fleeterrors.IsTimeout(err) {
			return nil, &fleeterrors.ErrTimeout{
				Operation: "find step " + name + " in " + d.Name,
				Timeout:   d.findStepTimeout,
				Message:   "step never created",
			}
		}
		return nil, err
	}
	return step, nil
}

// Decorate replaces the step called name with the result of decorate. The edges of the step are kept.
func (d *DAG) Decorate(name string, decorate func(Step) Step) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isAddedLocked(name) {
		return d.specificationError(name, "cannot decorate an unknown step")
	}
	slot := d.steps[name]
	current, _ := slot.Peek()
	decorated := decorate(current)
	if decorated.Name() != name {
		return d.specificationError(name, "a decorator must keep the name of the step")
	}
	slot.Set(decorated)
	if root, ok := d.RootStep.Peek(); ok && root.Name() == name {
		d.RootStep.Set(decorated)
	}
	return nil
}

// Next returns the names of the steps following name.
func (d *DAG) Next(name string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.edges[name]...)
}

// Steps returns the added steps in insertion order.
func (d *DAG) Steps() []Step {
	d.mu.RLock()
	defer d.mu.RUnlock()
	steps := make([]Step, 0, len(d.added))
	for _, name := range d.added {
		step, _ := d.steps[name].Peek()
		steps = append(steps, step)
	}
	return steps
}

// StepNames returns the names of the added steps in insertion order.
func (d *DAG) StepNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.added...)
}
