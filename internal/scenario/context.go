package scenario

import (
	"fmt"
	"sync"
	"time"
)

// StepError is attached to a StepContext when a step failed after all its attempts.
type StepError struct {
	Step     string
	Message  string
	Attempts int
	At       time.Time
}

func (e StepError) String() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Step, e.Attempts, e.Message)
}

// StepContext carries one value from a step to the next ones, for one minion.
type StepContext struct {
	CampaignKey  string
	ScenarioName string
	DagName      string
	MinionID     string
	StepName     string
	PreviousStep string
	// Iteration of the minion over its DAG.
	MinionIteration int
	// Index of the current execution when the step runs several times per context.
	StepIterationIndex int
	// Number of failed attempts in a row on the current step.
	ConsecutiveFailures int
	Input               interface{}
	Errors              []StepError
	// IsTail is set on the last context of a flow; no more data will follow.
	IsTail bool
	// IsExhausted prevents the context from reaching any step but an error processor.
	IsExhausted bool

	mu      sync.Mutex
	outputs []interface{}
}

// Send records value as an output of the current execution. Every output is forwarded to the next steps.
func (c *StepContext) Send(value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, value)
}

// Outputs returns the values sent by the current execution.
func (c *StepContext) Outputs() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.outputs...)
}

// DiscardOutputs forgets the values sent so far, so that a retried execution starts from scratch.
func (c *StepContext) DiscardOutputs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = nil
}

// AddError attaches err and exhausts the context.
func (c *StepContext) AddError(err StepError) {
	c.Errors = append(c.Errors, err)
	c.IsExhausted = true
}

// Recover clears the exhaustion so that the context flows again. The errors remain for reporting.
func (c *StepContext) Recover() {
	c.IsExhausted = false
}

// Next creates the context received by stepName from the current one, with input as its value.
func (c *StepContext) Next(stepName string, input interface{}) *StepContext {
	return &StepContext{
		CampaignKey:     c.CampaignKey,
		ScenarioName:    c.ScenarioName,
		DagName:         c.DagName,
		MinionID:        c.MinionID,
		StepName:        stepName,
		PreviousStep:    c.StepName,
		MinionIteration: c.MinionIteration,
		Input:           input,
		Errors:          append([]StepError(nil), c.Errors...),
		IsTail:          c.IsTail,
		IsExhausted:     c.IsExhausted,
	}
}

// ForIteration creates the context of the index-th execution of the current step on the same input.
func (c *StepContext) ForIteration(index int) *StepContext {
	return &StepContext{
		CampaignKey:         c.CampaignKey,
		ScenarioName:        c.ScenarioName,
		DagName:             c.DagName,
		MinionID:            c.MinionID,
		StepName:            c.StepName,
		PreviousStep:        c.PreviousStep,
		MinionIteration:     c.MinionIteration,
		StepIterationIndex:  index,
		ConsecutiveFailures: c.ConsecutiveFailures,
		Input:               c.Input,
		Errors:              append([]StepError(nil), c.Errors...),
		IsTail:              c.IsTail,
		IsExhausted:         c.IsExhausted,
	}
}
