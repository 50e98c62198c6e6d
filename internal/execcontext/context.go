// Package execcontext implements the Execution Context Store: run
// status, current step, step results, saved responses, loop stacks, and
// logs, guarded for concurrent reads from outside the scheduler
// goroutine (e.g. a server snapshot endpoint or a TUI poller). Grounded
// directly on the teacher's internal/execcontext/context.go --
// ExecutionContext struct shape, StepStatus enum, dotted-path state
// helpers -- adapted from workflow input/state/step semantics to
// params/responses/loop-stack semantics.
package execcontext

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
)

// RunStatus is the top-level run lifecycle (§3.5).
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StepStatus is a single step's lifecycle within a run (§3.5).
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepWaiting   StepStatus = "waiting"
	StepRunning   StepStatus = "running"
	StepSuccess   StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// LoopFrame is one push on the execution stack (§3.3).
type LoopFrame struct {
	LoopID          string
	CurrentIndex    int
	CurrentItem     any
	TotalIterations int
	ItemAlias       string
	IndexAlias      string
}

// LoopSnapshot is the UI-friendly twin of LoopFrame, also copied into
// every StepResult produced while the frame is active (§3.3).
type LoopSnapshot struct {
	StepID           string
	CurrentIteration int
	TotalIterations  int
	Depth            int
}

// RequestRecord captures the request/response pair of an executed
// RequestStep.
type RequestRecord struct {
	URL        string
	Method     string
	Headers    map[string]string
	Body       any
	Status     int
	StatusText string
	Data       any
	DurationMs int64
}

// StepResult is the record produced by executing one step once. ResultID
// disambiguates repeated executions of the same StepID across loop
// iterations (§3.1).
type StepResult struct {
	ResultID  string
	StepID    string
	Status    StepStatus
	StartedAt time.Time
	EndedAt   time.Time
	Request   *RequestRecord
	Error     error
	Iteration int
	LoopStack []LoopSnapshot
}

// stepResultWire is StepResult's JSON shape: Error carried as plain
// text, since the error interface itself has no exported fields to
// round-trip (needed for "scenrun run --export" / "scenrun diff").
type stepResultWire struct {
	ResultID  string
	StepID    string
	Status    StepStatus
	StartedAt time.Time
	EndedAt   time.Time
	Request   *RequestRecord
	Error     string
	Iteration int
	LoopStack []LoopSnapshot
}

func (r StepResult) MarshalJSON() ([]byte, error) {
	wire := stepResultWire{
		ResultID: r.ResultID, StepID: r.StepID, Status: r.Status,
		StartedAt: r.StartedAt, EndedAt: r.EndedAt, Request: r.Request,
		Iteration: r.Iteration, LoopStack: r.LoopStack,
	}
	if r.Error != nil {
		wire.Error = r.Error.Error()
	}
	return json.Marshal(wire)
}

func (r *StepResult) UnmarshalJSON(data []byte) error {
	var wire stepResultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = StepResult{
		ResultID: wire.ResultID, StepID: wire.StepID, Status: wire.Status,
		StartedAt: wire.StartedAt, EndedAt: wire.EndedAt, Request: wire.Request,
		Iteration: wire.Iteration, LoopStack: wire.LoopStack,
	}
	if wire.Error != "" {
		r.Error = errors.New(wire.Error)
	}
	return nil
}

// LogEntry is one observer-visible log line (§6 Observer interface).
type LogEntry struct {
	ID        string
	Timestamp time.Time
	Level     string
	StepID    string
	Message   string
	Data      map[string]any
}

// ExecutionContext is the full run-state store for one Run() invocation.
// It is never shared across runs; the scheduler goroutine is the sole
// writer, other goroutines (server snapshot handlers, TUI pollers) read
// through the accessor methods which take mu.
type ExecutionContext struct {
	RunID      string
	ScenarioID string
	Status     RunStatus

	Params            map[string]any
	StepModeOverrides map[string]ast.ExecutionMode

	CurrentStepID string

	StepResults map[string][]*StepResult // stepID -> every execution, in order
	Responses   map[string]any           // aliasOrStepId -> value

	ExecStack []LoopFrame
	VizStack  []LoopSnapshot

	Logs []LogEntry

	StartedAt   time.Time
	CompletedAt time.Time

	// generation guards against a stale dispatch settling after Cancel()
	// and mutating state (§5 "Cancellation").
	generation int

	Context context.Context
	cancel  context.CancelFunc
	Logger  zerolog.Logger

	mu sync.RWMutex
}

// New constructs an idle ExecutionContext for the given scenario and
// already-validated params.
func New(parent context.Context, scenarioID string, params map[string]any) *ExecutionContext {
	ctx, cancel := context.WithCancel(parent)
	ec := &ExecutionContext{
		RunID:             uuid.NewString(),
		ScenarioID:        scenarioID,
		Status:            RunIdle,
		Params:            params,
		StepModeOverrides: map[string]ast.ExecutionMode{},
		StepResults:       map[string][]*StepResult{},
		Responses:         map[string]any{},
		Context:           ctx,
		cancel:            cancel,
	}
	ec.Logger = log.With().Str("runId", ec.RunID).Logger()
	return ec
}

// Cancel cancels the run's context (aborting in-flight dispatches/timers
// where the implementation honours ctx.Done()) and bumps the generation
// counter so any result that settles afterward is discarded by
// RecordResult (§5).
func (ec *ExecutionContext) Cancel() {
	ec.mu.Lock()
	ec.generation++
	ec.cancel()
	ec.mu.Unlock()
}

// Generation returns the current generation counter, to be captured
// before starting a dispatch/timer and compared in RecordResult.
func (ec *ExecutionContext) Generation() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.generation
}

// SetStatus transitions the run's status under lock.
func (ec *ExecutionContext) SetStatus(s RunStatus) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Status = s
	if s == RunCompleted || s == RunFailed || s == RunCancelled {
		ec.CompletedAt = time.Now()
	}
}

// GetStatus reads the run's status under lock.
func (ec *ExecutionContext) GetStatus() RunStatus {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.Status
}

// SetCurrentStep records which step is presently active.
func (ec *ExecutionContext) SetCurrentStep(stepID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.CurrentStepID = stepID
}

// RecordResult appends a StepResult for stepID, unless generation is
// stale (the run was cancelled after this execution began).
func (ec *ExecutionContext) RecordResult(generation int, result *StepResult) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if generation != ec.generation {
		return false
	}
	if result.ResultID == "" {
		result.ResultID = uuid.NewString()
	}
	ec.StepResults[result.StepID] = append(ec.StepResults[result.StepID], result)
	return true
}

// LatestResult returns the most recent StepResult recorded for stepID.
func (ec *ExecutionContext) LatestResult(stepID string) (*StepResult, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	results := ec.StepResults[stepID]
	if len(results) == 0 {
		return nil, false
	}
	return results[len(results)-1], true
}

// SaveResponse stores a step's response under alias (responseAlias ??
// stepId per §4.6 "Result recording").
func (ec *ExecutionContext) SaveResponse(alias string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Responses[alias] = value
}

// Response implements condition.Responses, looked up by step id or
// alias.
func (ec *ExecutionContext) Response(stepIDOrAlias string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.Responses[stepIDOrAlias]
	return v, ok
}

// ParamsSnapshot returns a shallow copy of the current params, safe for
// the resolver binding set.
func (ec *ExecutionContext) ParamsSnapshot() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.Params))
	for k, v := range ec.Params {
		out[k] = v
	}
	return out
}

// ResponsesSnapshot returns a shallow copy of saved responses.
func (ec *ExecutionContext) ResponsesSnapshot() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.Responses))
	for k, v := range ec.Responses {
		out[k] = v
	}
	return out
}

// PushLoopFrame pushes matching frames onto both stacks (§3.3, §3.4
// "equal depth and matching loopId/stepId"). itemAlias/indexAlias, when
// non-empty, additionally expose the frame's item/index under those
// names from LoopBindings (§4.4).
func (ec *ExecutionContext) PushLoopFrame(stepID, loopID string, total int, itemAlias, indexAlias string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.ExecStack = append(ec.ExecStack, LoopFrame{LoopID: loopID, TotalIterations: total, ItemAlias: itemAlias, IndexAlias: indexAlias})
	ec.VizStack = append(ec.VizStack, LoopSnapshot{StepID: stepID, TotalIterations: total, Depth: len(ec.ExecStack) - 1})
}

// UpdateLoopFrame updates the top frame's index/item in lockstep on both
// stacks.
func (ec *ExecutionContext) UpdateLoopFrame(index int, item any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.ExecStack) == 0 {
		return
	}
	top := len(ec.ExecStack) - 1
	ec.ExecStack[top].CurrentIndex = index
	ec.ExecStack[top].CurrentItem = item
	ec.VizStack[top].CurrentIteration = index
}

// PopLoopFrame pops both stacks.
func (ec *ExecutionContext) PopLoopFrame() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.ExecStack) == 0 {
		return
	}
	ec.ExecStack = ec.ExecStack[:len(ec.ExecStack)-1]
	ec.VizStack = ec.VizStack[:len(ec.VizStack)-1]
}

// LoopBindings builds the `loop.*` namespace from the top of the
// execution stack, for the resolver.
func (ec *ExecutionContext) LoopBindings() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if len(ec.ExecStack) == 0 {
		return map[string]any{}
	}
	top := ec.ExecStack[len(ec.ExecStack)-1]
	bindings := map[string]any{
		"index": float64(top.CurrentIndex),
		"total": float64(top.TotalIterations),
		"item":  top.CurrentItem,
	}
	if top.ItemAlias != "" {
		bindings[top.ItemAlias] = top.CurrentItem
	}
	if top.IndexAlias != "" {
		bindings[top.IndexAlias] = float64(top.CurrentIndex)
	}
	return bindings
}

// LoopStackSnapshot returns a deep-enough copy of the visualisation stack
// for embedding into a StepResult or an event payload.
func (ec *ExecutionContext) LoopStackSnapshot() []LoopSnapshot {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]LoopSnapshot, len(ec.VizStack))
	copy(out, ec.VizStack)
	return out
}

// AppendLog records a log entry (§6 Observer interface "logEmitted").
func (ec *ExecutionContext) AppendLog(entry LogEntry) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	ec.Logs = append(ec.Logs, entry)
}

// EffectiveMode resolves the per-run override, falling back to the
// step's declared mode (§4.6 "effective mode").
func (ec *ExecutionContext) EffectiveMode(step *ast.Step) ast.ExecutionMode {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if m, ok := ec.StepModeOverrides[step.ID]; ok {
		return m
	}
	return step.ExecutionMode
}

// Summary is a point-in-time, safe-to-share snapshot of the whole run.
type Summary struct {
	RunID       string
	Status      RunStatus
	CurrentStep string
	StartedAt   time.Time
	CompletedAt time.Time
	StepResults map[string][]*StepResult
	Responses   map[string]any
}

// GetSummary produces a Summary, grounded on the teacher's
// GetExecutionSummary.
func (ec *ExecutionContext) GetSummary() Summary {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	results := make(map[string][]*StepResult, len(ec.StepResults))
	for k, v := range ec.StepResults {
		results[k] = v
	}
	responses := make(map[string]any, len(ec.Responses))
	for k, v := range ec.Responses {
		responses[k] = v
	}
	return Summary{
		RunID:       ec.RunID,
		Status:      ec.Status,
		CurrentStep: ec.CurrentStepID,
		StartedAt:   ec.StartedAt,
		CompletedAt: ec.CompletedAt,
		StepResults: results,
		Responses:   responses,
	}
}
