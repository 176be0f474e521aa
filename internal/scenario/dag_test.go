package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
)

func noop(name string) Step {
	return NewFunctionStep(name, func(context.Context, *StepContext) error { return nil })
}

func TestDAG_AddStepsAndNavigate(t *testing.T) {
	dag := NewDAG("main", UnderLoad())
	require.NoError(t, dag.AddRootStep(noop("login")))
	require.NoError(t, dag.AddStep(noop("browse"), "login"))
	require.NoError(t, dag.AddStep(noop("search"), "login"))
	require.NoError(t, dag.AddStep(noop("checkout"), "browse"))
	require.NoError(t, dag.Link("search", "checkout"))

	root, err := dag.RootStep.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "login", root.Name())
	assert.Equal(t, []string{"browse", "search"}, dag.Next("login"))
	assert.Equal(t, []string{"checkout"}, dag.Next("search"))
	assert.Empty(t, dag.Next("checkout"))
	assert.Equal(t, []string{"login", "browse", "search", "checkout"}, dag.StepNames())
	assert.True(t, dag.IsUnderLoad)
	assert.False(t, dag.IsSingleton)
}

func TestDAG_RejectsDuplicatesAndUnknownParents(t *testing.T) {
	dag := NewDAG("main")
	require.NoError(t, dag.AddRootStep(noop("a")))

	assert.True(t, fleeterrors.IsSpecification(dag.AddRootStep(noop("b"))))
	assert.True(t, fleeterrors.IsSpecification(dag.AddStep(noop("a"), "a")))
	assert.True(t, fleeterrors.IsSpecification(dag.AddStep(noop("c"), "missing")))
	assert.True(t, fleeterrors.IsSpecification(dag.Link("a", "missing")))
}

func TestDAG_LinkRejectsCycles(t *testing.T) {
	dag := NewDAG("main", WithFindStepTimeout(20*time.Millisecond))
	require.NoError(t, dag.AddRootStep(noop("a")))
	require.NoError(t, dag.AddStep(noop("b"), "a"))
	require.NoError(t, dag.AddStep(noop("c"), "b"))

	err := dag.Link("c", "a")

	assert.True(t, fleeterrors.IsSpecification(err))
	assert.True(t, fleeterrors.IsSpecification(dag.Link("b", "b")))
	assert.Empty(t, dag.Next("c"))
}

func TestDAG_FindStepWaitsForTheStep(t *testing.T) {
	dag := NewDAG("main")
	require.NoError(t, dag.AddRootStep(noop("a")))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = dag.AddStep(noop("late"), "a")
	}()

	step, err := dag.FindStep(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, "late", step.Name())
}

func TestDAG_FindStepTimesOut(t *testing.T) {
	dag := NewDAG("main", WithFindStepTimeout(20*time.Millisecond))

	_, err := dag.FindStep(context.Background(), "never")

	assert.True(t, fleeterrors.IsTimeout(err))
	assert.Contains(t, err.Error(), "step never created")
}

func TestDAG_FindStepIsCancellable(t *testing.T) {
	dag := NewDAG("main")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dag.FindStep(ctx, "never")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDAG_Decorate(t *testing.T) {
	dag := NewDAG("main")
	require.NoError(t, dag.AddRootStep(noop("a")))
	require.NoError(t, dag.AddStep(noop("b"), "a"))

	require.NoError(t, dag.Decorate("a", NoMoreNextStep))

	root, _ := dag.RootStep.Peek()
	found, err := dag.FindStep(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, StepKindDecorator, root.Kind())
	assert.Same(t, root, found)
	assert.Equal(t, []string{"b"}, dag.Next("a"))
	assert.Equal(t, StepKindRegular, Innermost(found).Kind())

	assert.True(t, fleeterrors.IsSpecification(dag.Decorate("missing", NoMoreNextStep)))
	assert.True(t, fleeterrors.IsSpecification(dag.Decorate("b", func(Step) Step { return noop("renamed") })))
}

func TestDAGBuilder_Build(t *testing.T) {
	dag, err := NewDAGBuilder("main", Root(), UnderLoad()).
		Step(noop("d"), "b", "c").
		Step(noop("a")).
		Step(noop("b"), "a").
		Step(noop("c"), "a").
		Build()

	require.NoError(t, err)
	root, _ := dag.RootStep.Peek()
	assert.Equal(t, "a", root.Name())
	assert.Equal(t, []string{"b", "c"}, dag.Next("a"))
	assert.Equal(t, []string{"d"}, dag.Next("b"))
	assert.Equal(t, []string{"d"}, dag.Next("c"))
	assert.True(t, dag.IsRoot)
}

func TestDAGBuilder_RejectsInvalidGraphs(t *testing.T) {
	tests := map[string]*DAGBuilder{
		"cycle": NewDAGBuilder("main").
			Step(noop("root")).
			Step(noop("a"), "root", "c").
			Step(noop("b"), "a").
			Step(noop("c"), "b"),
		"self loop":      NewDAGBuilder("main").Step(noop("root")).Step(noop("a"), "root", "a"),
		"duplicate":      NewDAGBuilder("main").Step(noop("root")).Step(noop("root"), "root"),
		"unknown parent": NewDAGBuilder("main").Step(noop("root")).Step(noop("a"), "nowhere"),
		"two roots":      NewDAGBuilder("main").Step(noop("root")).Step(noop("other")),
		"no root":        NewDAGBuilder("main"),
	}
	for name, builder := range tests {
		t.Run(name, func(t *testing.T) {
			dag, err := builder.Build()
			assert.True(t, fleeterrors.IsSpecification(err), "got %v", err)
			assert.Nil(t, dag)
		})
	}
}
