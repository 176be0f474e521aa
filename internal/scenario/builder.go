package scenario

import (
	"golang.org/x/exp/slices"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
)

type declaredStep struct {
	step    Step
	parents []string
}

// DAGBuilder collects steps and their parents, then validates the whole graph before any step becomes visible.
type DAGBuilder struct {
	name  string
	opts  []DAGOption
	steps []declaredStep
}

func NewDAGBuilder(name string, opts ...DAGOption) *DAGBuilder {
	return &DAGBuilder{name: name, opts: opts}
}

// Step declares step with its parents. The only step without parents is the root of the DAG.
// Parents may be declared later.
func (b *DAGBuilder) Step(step Step, parents ...string) *DAGBuilder {
	b.steps = append(b.steps, declaredStep{step: step, parents: parents})
	return b
}

// Build checks that names are unique, parents exist, there is exactly one root and no cycle.
// On error, no DAG is returned.
func (b *DAGBuilder) Build() (*DAG, error) {
	dag := NewDAG(b.name, b.opts...)
	specErr := func(step, message string) error {
		return &fleeterrors.ErrSpecification{Dag: b.name, Step: step, Message: message}
	}

	declared := map[string]bool{}
	var root Step
	for _, s := range b.steps {
		name := s.step.Name()
		if declared[name] {
			return nil, specErr(name, "duplicate step name")
		}
		declared[name] = true
		if len(s.parents) == 0 {
			if root != nil {
				return nil, specErr(name, "several steps have no parent, "+root.Name()+" is already the root")
			}
			root = s.step
		}
	}
	if root == nil {
		return nil, specErr("", "no root step")
	}

	edges := map[string][]string{}
	for _, s := range b.steps {
		for _, parent := range s.parents {
			if !declared[parent] {
				return nil, specErr(s.step.Name(), "unknown parent step "+parent)
			}
			if !slices.Contains(edges[parent], s.step.Name()) {
				edges[parent] = append(edges[parent], s.step.Name())
			}
		}
	}
	for _, s := range b.steps {
		for _, next := range edges[s.step.Name()] {
			if reachable(edges, next, s.step.Name()) {
				return nil, specErr(s.step.Name(), "step is a descendant of itself through "+next)
			}
		}
	}

	dag.edges = edges
	for _, s := range b.steps {
		dag.addLocked(s.step)
	}
	dag.RootStep.Set(root)
	return dag, nil
}
