// Package scheduler implements the Step Scheduler: the cooperative,
// single-goroutine main loop that walks a Scenario from its start step,
// evaluating conditions, dispatching RequestSteps, delegating to the
// Loop Driver, and suspending at manual gates and delays. Grounded on
// the teacher's internal/engine/executor.go (ExecuteWorkflow/executeStep
// main loop: per-iteration cancellation check, recover()-wrapped step
// execution, StepResult recording before advancing) and
// internal/engine/run.go (Runner/executeWithProgress's buffered
// progress channel, goroutine-hosted listener). The pause/resume/
// manual-gate suspension state machine is new -- the teacher's executor
// runs straight through without suspension points -- built in the
// teacher's idiom per SPEC_FULL.md §4.6/§9.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/condition"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/events"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/resolver"
	"github.com/scenrun/scenrun/internal/scenerr"
)

var tracer = otel.Tracer("github.com/scenrun/scenrun/internal/scheduler")

// Decision is the caller's choice when resuming from a manual gate.
type Decision string

const (
	DecisionExecute Decision = "execute"
	DecisionSkip    Decision = "skip"
	DecisionCancel  Decision = "cancel"
)

// RunHandle is returned from Run and lets a caller interact with an
// in-flight or suspended run.
type RunHandle struct {
	Context *execcontext.ExecutionContext
	Bus     *events.Bus
}

// Scheduler executes a single Scenario's steps against an
// ExecutionContext, one goroutine per run, never sharing state across
// runs (§5 "Scheduling model").
type Scheduler struct {
	scenario   *ast.Scenario
	dispatcher dispatch.Dispatcher
	ec         *execcontext.ExecutionContext // set by Run; cancelled by Cancel

	// suspend/resume coordination
	pauseRequested  chan struct{}
	resumeCh        chan Decision
	cancelRequested chan struct{}
}

// New builds a Scheduler for scenario, dispatching RequestSteps through
// d.
func New(scenario *ast.Scenario, d dispatch.Dispatcher) *Scheduler {
	return &Scheduler{
		scenario:        scenario,
		dispatcher:      d,
		pauseRequested:  make(chan struct{}, 1),
		resumeCh:        make(chan Decision, 1),
		cancelRequested: make(chan struct{}, 1),
	}
}

// Run validates params, initialises a Context, and executes from
// startStepId until the run suspends or reaches a terminal state
// (§4.6 "Public contract").
func (s *Scheduler) Run(ctx context.Context, params map[string]any, modeOverrides map[string]ast.ExecutionMode) (*RunHandle, error) {
	validated, err := ast.ValidateParams(s.scenario.ParameterSchema, params)
	if err != nil {
		return nil, err
	}

	ec := execcontext.New(ctx, s.scenario.ID, validated)
	s.ec = ec
	for id, mode := range modeOverrides {
		ec.StepModeOverrides[id] = mode
	}
	bus := events.NewBus(256)

	ec.SetStatus(execcontext.RunRunning)
	ec.StartedAt = time.Now()
	bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunRunning))

	go s.drive(ec, bus, s.scenario.StartStepID)

	return &RunHandle{Context: ec, Bus: bus}, nil
}

// Pause requests the run stop at its next safe point.
func (s *Scheduler) Pause() {
	select {
	case s.pauseRequested <- struct{}{}:
	default:
	}
}

// Resume continues a paused run. decision is only meaningful when the
// run suspended at a manual gate.
func (s *Scheduler) Resume(decision Decision) {
	select {
	case s.resumeCh <- decision:
	default:
	}
}

// Cancel requests immediate termination; the in-flight dispatch's
// context is cancelled and no further steps execute (§4.6, §5).
func (s *Scheduler) Cancel() {
	select {
	case s.cancelRequested <- struct{}{}:
	default:
	}
	if s.ec != nil {
		s.ec.Cancel()
	}
}

// drive is the main loop, run on its own goroutine per call to Run.
func (s *Scheduler) drive(ec *execcontext.ExecutionContext, bus *events.Bus, startID string) {
	runSpanCtx, runSpan := tracer.Start(ec.Context, "scenario.run", trace.WithAttributes(
		attribute.String("scenario.id", s.scenario.ID),
		attribute.String("run.id", ec.RunID),
	))
	defer runSpan.End()

	stepID := startID
	for stepID != "" {
		select {
		case <-s.cancelRequested:
			s.terminateCancelled(ec, bus, stepID)
			return
		default:
		}

		select {
		case <-s.pauseRequested:
			s.parkPaused(ec, bus)
			select {
			case <-s.cancelRequested:
				s.terminateCancelled(ec, bus, stepID)
				return
			case <-s.resumeCh:
				ec.SetStatus(execcontext.RunRunning)
				bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunRunning))
			}
		default:
		}

		step := s.scenario.StepByID(stepID)
		if step == nil {
			s.fail(ec, bus, scenerr.GraphErr("step %q referenced but not found in scenario", stepID))
			return
		}

		next, err := s.executeOne(runSpanCtx, ec, bus, step)
		if err != nil {
			if scenerr.OfKind(err, scenerr.KindCancelled) {
				s.terminateCancelled(ec, bus, step.ID)
				return
			}
			s.fail(ec, bus, err)
			return
		}
		stepID = next
	}

	ec.SetStatus(execcontext.RunCompleted)
	bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunCompleted))
	bus.Close()
}

func (s *Scheduler) parkPaused(ec *execcontext.ExecutionContext, bus *events.Bus) {
	ec.SetStatus(execcontext.RunPaused)
	bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunPaused))
}

func (s *Scheduler) terminateCancelled(ec *execcontext.ExecutionContext, bus *events.Bus, stepID string) {
	ec.Cancel()
	ec.SetStatus(execcontext.RunCancelled)
	bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunCancelled))
	bus.Close()
}

func (s *Scheduler) fail(ec *execcontext.ExecutionContext, bus *events.Bus, err error) {
	log.Error().Err(err).Str("runId", ec.RunID).Msg("scheduler: run failed")
	ec.SetStatus(execcontext.RunFailed)
	bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunFailed))
	bus.Close()
}

// executeOne runs a single step to completion (including, for
// LoopStep/GroupStep, its entire child traversal) and returns the id of
// the next step to run, or "" if the run should terminate successfully.
func (s *Scheduler) executeOne(ctx context.Context, ec *execcontext.ExecutionContext, bus *events.Bus, step *ast.Step) (string, error) {
	stepCtx, span := tracer.Start(ctx, "scenario.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", string(step.Type)),
	))
	defer span.End()

	ec.SetCurrentStep(step.ID)
	bindings := s.bindings(ec)

	if step.Condition != nil && !condition.Evaluate(step.Condition, bindings.Params, ec, nil) {
		ec.RecordResult(ec.Generation(), skippedResult(step.ID, ec))
		return s.defaultNext(step), nil
	}

	mode := ec.EffectiveMode(step)
	switch mode {
	case ast.ModeBypass:
		ec.RecordResult(ec.Generation(), skippedResult(step.ID, ec))
		return s.defaultNext(step), nil

	case ast.ModeDelayed:
		if err := s.delay(ec, bus, step); err != nil {
			return "", err
		}

	case ast.ModeManual:
		decision, err := s.suspendManual(ec, bus, step)
		if err != nil {
			return "", err
		}
		if decision == DecisionSkip {
			ec.RecordResult(ec.Generation(), skippedResult(step.ID, ec))
			return s.defaultNext(step), nil
		}
		if decision == DecisionCancel {
			return "", scenerr.CancelledErr(step.ID)
		}
	}

	bus.Publish(events.NewStepStarted(ec.RunID, step.ID, ec.LoopStackSnapshot()))

	switch step.Type {
	case ast.StepTypeRequest:
		return s.executeRequest(stepCtx, ec, bus, step, bindings)
	case ast.StepTypeCondition:
		return s.executeCondition(ec, step, bindings)
	case ast.StepTypeLoop:
		return s.executeLoop(stepCtx, ec, bus, step)
	case ast.StepTypeGroup:
		return s.executeGroup(stepCtx, ec, bus, step)
	default:
		return "", scenerr.GraphErr("step %s has unknown type %q", step.ID, step.Type)
	}
}

func (s *Scheduler) bindings(ec *execcontext.ExecutionContext) resolver.Bindings {
	return resolver.Bindings{
		Params:    ec.ParamsSnapshot(),
		Responses: ec.ResponsesSnapshot(),
		Loop:      ec.LoopBindings(),
	}
}

func (s *Scheduler) delay(ec *execcontext.ExecutionContext, bus *events.Bus, step *ast.Step) error {
	ec.AppendLog(execcontext.LogEntry{Level: "debug", StepID: step.ID, Message: "step delayed"})
	timer := time.NewTimer(time.Duration(step.DelayMs) * time.Millisecond)
	defer timer.Stop()
	for {
		select {
		case <-ec.Context.Done():
			return scenerr.CancelledErr(step.ID)
		case <-s.cancelRequested:
			return scenerr.CancelledErr(step.ID)
		case <-s.pauseRequested:
			s.parkPaused(ec, bus)
			select {
			case <-s.cancelRequested:
				return scenerr.CancelledErr(step.ID)
			case <-s.resumeCh:
				ec.SetStatus(execcontext.RunRunning)
				bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunRunning))
				// Per the decided Open Question (DESIGN.md): resume
				// restarts the full delay rather than tracking elapsed
				// time, since a delay's purpose here is pacing, not a
				// deadline.
				timer.Reset(time.Duration(step.DelayMs) * time.Millisecond)
			}
		case <-timer.C:
			return nil
		}
	}
}

func (s *Scheduler) suspendManual(ec *execcontext.ExecutionContext, bus *events.Bus, step *ast.Step) (Decision, error) {
	ec.SetStatus(execcontext.RunPaused)
	bus.Publish(events.NewManualGateReached(ec.RunID, step.ID))
	bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunPaused))

	select {
	case <-ec.Context.Done():
		return "", scenerr.CancelledErr(step.ID)
	case <-s.cancelRequested:
		return "", scenerr.CancelledErr(step.ID)
	case d := <-s.resumeCh:
		ec.SetStatus(execcontext.RunRunning)
		bus.Publish(events.NewRunStateChanged(ec.RunID, execcontext.RunRunning))
		return d, nil
	}
}

func skippedResult(stepID string, ec *execcontext.ExecutionContext) *execcontext.StepResult {
	now := time.Now()
	return &execcontext.StepResult{
		StepID: stepID, Status: execcontext.StepSkipped, StartedAt: now, EndedAt: now,
		LoopStack: ec.LoopStackSnapshot(),
	}
}

// defaultNext follows the single unhandled outgoing edge of step, or ""
// if none exists (run terminates successfully, §4.6).
func (s *Scheduler) defaultNext(step *ast.Step) string {
	var candidates []ast.Edge
	for _, e := range s.scenario.Edges {
		if e.SourceStepID == step.ID && e.SourceHandle == "" {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > 1 {
		log.Error().Str("stepId", step.ID).Int("count", len(candidates)).
			Msg("scheduler: multiple unhandled outgoing edges, choosing lowest edge id")
	}
	return candidates[0].TargetStepID
}
