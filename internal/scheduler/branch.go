package scheduler

import (
	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/condition"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/resolver"
)

// resolveBranches evaluates branches in declared order against the
// step's own saved response (ConditionStep) or params (generic),
// choosing the first satisfied condition or, failing that, the branch
// marked isDefault (§4.6 "RequestStep with branches").
func (s *Scheduler) resolveBranches(stepID string, branches []ast.Branch, ec *execcontext.ExecutionContext) string {
	params := ec.ParamsSnapshot()
	var defaultNext string
	for _, b := range branches {
		if b.IsDefault {
			defaultNext = b.NextStepID
			continue
		}
		if b.Condition == nil {
			continue
		}
		if condition.Evaluate(b.Condition, params, ec, nil) {
			return b.NextStepID
		}
	}
	return defaultNext
}

func (s *Scheduler) executeCondition(ec *execcontext.ExecutionContext, step *ast.Step, bindings resolver.Bindings) (string, error) {
	next := s.resolveBranches(step.ID, step.CondStep.Branches, ec)
	ec.RecordResult(ec.Generation(), skippedResultOf(step.ID, execcontext.StepSuccess, ec))
	return next, nil
}

func skippedResultOf(stepID string, status execcontext.StepStatus, ec *execcontext.ExecutionContext) *execcontext.StepResult {
	r := skippedResult(stepID, ec)
	r.Status = status
	return r
}
