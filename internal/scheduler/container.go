package scheduler

import (
	"context"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/events"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/loop"
	"github.com/scenrun/scenrun/internal/scenerr"
)

// executeLoop delegates iteration to the Loop Driver, executing the
// loop's child steps once per iteration with loop.* bindings pushed
// onto the dual stacks, then follows the loop's single outgoing edge
// (§4.4, §4.6 "LoopStep").
func (s *Scheduler) executeLoop(ctx context.Context, ec *execcontext.ExecutionContext, bus *events.Bus, step *ast.Step) (string, error) {
	driver, err := loop.New(step, s.bindings(ec))
	if err != nil {
		return "", err
	}

	depth := len(ec.LoopStackSnapshot())
	driver.PushFrame(ec, depth)
	bus.Publish(events.NewLoopEntered(ec.RunID, step.ID, step.ID, driver.Total(), depth))
	defer func() {
		ec.PopLoopFrame()
		bus.Publish(events.NewLoopExited(ec.RunID, step.ID))
	}()

	for {
		params := ec.ParamsSnapshot()
		has, err := driver.HasNext(params, ec)
		if err != nil {
			return "", err
		}
		if !has {
			break
		}
		iter := driver.Next()
		driver.AdvanceFrame(ec, iter)
		bus.Publish(events.NewLoopIterationAdvanced(ec.RunID, step.ID, iter.Index))

		if err := s.executeChildren(ctx, ec, bus, step.Loop.StepIDs); err != nil {
			if scenerr.OfKind(err, scenerr.KindCancelled) {
				return "", err
			}
			// A failed body step with no branch redirect propagates the
			// failure out of the loop (§4.6 "Failure handling").
			return "", err
		}
	}

	return s.defaultNext(step), nil
}

// executeGroup runs a GroupStep's children once, in order, then follows
// the group's outgoing edge (§4.6 "GroupStep").
func (s *Scheduler) executeGroup(ctx context.Context, ec *execcontext.ExecutionContext, bus *events.Bus, step *ast.Step) (string, error) {
	if err := s.executeChildren(ctx, ec, bus, step.Group.StepIDs); err != nil {
		return "", err
	}
	return s.defaultNext(step), nil
}

// executeChildren runs each child step id through the full single-step
// pipeline (conditions, mode handling, dispatch) in declaration order,
// stopping at the first failure.
func (s *Scheduler) executeChildren(ctx context.Context, ec *execcontext.ExecutionContext, bus *events.Bus, childIDs []string) error {
	for _, id := range childIDs {
		select {
		case <-s.cancelRequested:
			return scenerr.CancelledErr(id)
		default:
		}
		child := s.scenario.StepByID(id)
		if child == nil {
			return scenerr.GraphErr("container child step %q not found", id)
		}
		if _, err := s.executeOne(ctx, ec, bus, child); err != nil {
			return err
		}
	}
	return nil
}
