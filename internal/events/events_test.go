package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/pkg/events"
)

func TestNewStepFinished_CarriesLoopStack(t *testing.T) {
	result := &execcontext.StepResult{
		StepID: "s1", ResultID: "r1", Status: execcontext.StepSuccess,
		LoopStack: []execcontext.LoopSnapshot{{StepID: "loop1", CurrentIteration: 2, TotalIterations: 5, Depth: 0}},
	}
	e := NewStepFinished("run1", result)
	assert.Equal(t, events.EventStepFinished, e.Type)
	assert.Equal(t, "s1", e.StepResult.StepID)
	assert.Len(t, e.StepResult.LoopStack, 1)
	assert.Equal(t, 2, e.StepResult.LoopStack[0].CurrentIteration)
}

func TestNewStepFinished_CarriesError(t *testing.T) {
	result := &execcontext.StepResult{StepID: "s1", Status: execcontext.StepFailed, Error: assertErr("boom")}
	e := NewStepFinished("run1", result)
	assert.Equal(t, "boom", e.StepResult.Error)
}

func TestBus_PublishDropsWhenFull(t *testing.T) {
	b := NewBus(1)
	b.Publish(NewRunStateChanged("run1", execcontext.RunRunning))
	b.Publish(NewRunStateChanged("run1", execcontext.RunPaused)) // dropped, buffer full
	b.Close()

	var got []events.ExecutionEvent
	for e := range b.Channel() {
		got = append(got, e)
	}
	assert.Len(t, got, 1)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
