// Package events defines the public, stable Observer event surface
// (SPEC_FULL.md §6). It is importable by external observer
// implementations (a UI layer, a CLI progress listener, the bundled
// WebSocket relay) without depending on any internal engine package.
// Grounded directly on the teacher's pkg/events package, generalized
// from workflow-step progress events to scenario-run events.
package events

import "time"

// EventType enumerates every event the core publishes, matching the
// Observer interface contract in SPEC_FULL.md §6 one-to-one.
type EventType string

const (
	EventRunStateChanged       EventType = "run_state_changed"
	EventStepStarted           EventType = "step_started"
	EventStepFinished          EventType = "step_finished"
	EventLoopEntered           EventType = "loop_entered"
	EventLoopIterationAdvanced EventType = "loop_iteration_advanced"
	EventLoopExited            EventType = "loop_exited"
	EventLogEmitted            EventType = "log_emitted"
	EventManualGateReached     EventType = "manual_gate_reached"
)

// LoopFrameView is the wire-friendly shape of a loop stack frame,
// carried on loopEntered/loopIterationAdvanced payloads.
type LoopFrameView struct {
	StepID           string `json:"stepId"`
	LoopID           string `json:"loopId"`
	CurrentIteration int    `json:"currentIteration"`
	TotalIterations  int    `json:"totalIterations"`
	Depth            int    `json:"depth"`
}

// StepResultView is the wire-friendly shape of a finished step's result,
// carried on stepFinished.
type StepResultView struct {
	ResultID  string         `json:"resultId"`
	StepID    string         `json:"stepId"`
	Status    string         `json:"status"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Error     string         `json:"error,omitempty"`
	LoopStack []LoopFrameView `json:"loopStack,omitempty"`
}

// LogView is the wire-friendly shape of a log entry, carried on
// logEmitted.
type LogView struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	StepID    string         `json:"stepId,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionEvent is the single typed value published on a run's event
// channel. Exactly one of the payload fields is set, selected by Type.
type ExecutionEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"runId"`
	StepID    string    `json:"stepId,omitempty"`

	RunStatus    string          `json:"runStatus,omitempty"`
	LoopStack    []LoopFrameView `json:"loopStack,omitempty"`
	StepResult   *StepResultView `json:"stepResult,omitempty"`
	LoopFrame    *LoopFrameView  `json:"loopFrame,omitempty"`
	Iteration    int             `json:"iteration,omitempty"`
	Log          *LogView        `json:"log,omitempty"`
}

// Listener is the Observer subscription point (§6): StartListening is
// handed the channel the core publishes on, and runs until the channel
// is closed or StopListening is called.
type Listener interface {
	StartListening(events <-chan ExecutionEvent)
	StopListening()
}

// NoopListener discards every event; the default when nothing observes
// a run.
type NoopListener struct{}

func (NoopListener) StartListening(events <-chan ExecutionEvent) {
	go func() {
		for range events {
		}
	}()
}

func (NoopListener) StopListening() {}
