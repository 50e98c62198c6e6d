// Package events provides constructor helpers for pkg/events.ExecutionEvent
// and a small publish helper used by the scheduler, grounded on the
// teacher's internal/events/event.go (constructor-function style) minus
// its AI-agent flavour text, which has no analogue in this domain (no
// "tool use"/"prompting" concepts in an HTTP-scenario run).
package events

import (
	"time"

	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/pkg/events"
)

func toFrameViews(stack []execcontext.LoopSnapshot) []events.LoopFrameView {
	out := make([]events.LoopFrameView, len(stack))
	for i, f := range stack {
		out[i] = events.LoopFrameView{
			StepID:           f.StepID,
			CurrentIteration: f.CurrentIteration,
			TotalIterations:  f.TotalIterations,
			Depth:            f.Depth,
		}
	}
	return out
}

func NewRunStateChanged(runID string, status execcontext.RunStatus) events.ExecutionEvent {
	return events.ExecutionEvent{
		Type: events.EventRunStateChanged, Timestamp: time.Now(), RunID: runID,
		RunStatus: string(status),
	}
}

func NewStepStarted(runID, stepID string, loopStack []execcontext.LoopSnapshot) events.ExecutionEvent {
	return events.ExecutionEvent{
		Type: events.EventStepStarted, Timestamp: time.Now(), RunID: runID, StepID: stepID,
		LoopStack: toFrameViews(loopStack),
	}
}

func NewStepFinished(runID string, result *execcontext.StepResult) events.ExecutionEvent {
	view := &events.StepResultView{
		ResultID:  result.ResultID,
		StepID:    result.StepID,
		Status:    string(result.Status),
		StartedAt: result.StartedAt,
		EndedAt:   result.EndedAt,
		LoopStack: toFrameViews(result.LoopStack),
	}
	if result.Error != nil {
		view.Error = result.Error.Error()
	}
	return events.ExecutionEvent{
		Type: events.EventStepFinished, Timestamp: time.Now(), RunID: runID, StepID: result.StepID,
		StepResult: view,
	}
}

func NewLoopEntered(runID, stepID, loopID string, total, depth int) events.ExecutionEvent {
	return events.ExecutionEvent{
		Type: events.EventLoopEntered, Timestamp: time.Now(), RunID: runID, StepID: stepID,
		LoopFrame: &events.LoopFrameView{StepID: stepID, LoopID: loopID, TotalIterations: total, Depth: depth},
	}
}

func NewLoopIterationAdvanced(runID, stepID string, iteration int) events.ExecutionEvent {
	return events.ExecutionEvent{
		Type: events.EventLoopIterationAdvanced, Timestamp: time.Now(), RunID: runID, StepID: stepID,
		Iteration: iteration,
	}
}

func NewLoopExited(runID, stepID string) events.ExecutionEvent {
	return events.ExecutionEvent{Type: events.EventLoopExited, Timestamp: time.Now(), RunID: runID, StepID: stepID}
}

func NewLogEmitted(runID string, entry execcontext.LogEntry) events.ExecutionEvent {
	return events.ExecutionEvent{
		Type: events.EventLogEmitted, Timestamp: time.Now(), RunID: runID, StepID: entry.StepID,
		Log: &events.LogView{
			ID: entry.ID, Timestamp: entry.Timestamp, Level: entry.Level,
			StepID: entry.StepID, Message: entry.Message, Data: entry.Data,
		},
	}
}

func NewManualGateReached(runID, stepID string) events.ExecutionEvent {
	return events.ExecutionEvent{Type: events.EventManualGateReached, Timestamp: time.Now(), RunID: runID, StepID: stepID}
}

// Bus publishes events to a bounded channel, draining to nobody if no
// listener is attached, mirroring the teacher's buffered-progress-channel
// pattern in internal/engine/run.go's executeWithProgress.
type Bus struct {
	ch chan events.ExecutionEvent
}

func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan events.ExecutionEvent, buffer)}
}

// Publish sends an event, dropping it (rather than blocking the
// scheduler goroutine forever) if the channel is full and nobody is
// draining it.
func (b *Bus) Publish(e events.ExecutionEvent) {
	select {
	case b.ch <- e:
	default:
	}
}

func (b *Bus) Channel() <-chan events.ExecutionEvent { return b.ch }

func (b *Bus) Close() { close(b.ch) }
