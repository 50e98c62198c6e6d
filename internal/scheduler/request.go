package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/events"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/resolver"
	"github.com/scenrun/scenrun/internal/scenerr"
)

// executeRequest resolves, dispatches, and records a RequestStep, then
// resolves its next step via branches (if any) or the default edge
// (§4.6 "Step selection").
func (s *Scheduler) executeRequest(ctx context.Context, ec *execcontext.ExecutionContext, bus *events.Bus, step *ast.Step, bindings resolver.Bindings) (string, error) {
	req := step.Request
	generation := ec.Generation()
	started := time.Now()

	httpReq, err := s.buildRequest(step.ID, req, bindings)
	if err != nil {
		result := &execcontext.StepResult{
			StepID: step.ID, Status: execcontext.StepFailed, StartedAt: started, EndedAt: time.Now(),
			Error: err, LoopStack: ec.LoopStackSnapshot(),
		}
		ec.RecordResult(generation, result)
		bus.Publish(events.NewStepFinished(ec.RunID, result))
		return "", err
	}

	if !req.WaitForResponse {
		go func() {
			_, _ = s.dispatcher.Dispatch(ctx, httpReq)
		}()
		result := &execcontext.StepResult{
			StepID: step.ID, Status: execcontext.StepSuccess, StartedAt: started, EndedAt: time.Now(),
			LoopStack: ec.LoopStackSnapshot(),
		}
		ec.RecordResult(generation, result)
		bus.Publish(events.NewStepFinished(ec.RunID, result))
		return s.nextForRequest(step, ec, nil, true), nil
	}

	dispatchResult, dispatchErr := s.dispatcher.Dispatch(ctx, httpReq)

	if !ec.RecordResult(generation, buildStepResult(step.ID, started, req, dispatchResult, dispatchErr, ec)) {
		// Stale generation: the run was cancelled while this dispatch was
		// in flight (§5 "Cancellation"). Discard the result.
		return "", scenerr.CancelledErr(step.ID)
	}

	succeeded := dispatchErr == nil
	if succeeded && req.SaveResponse {
		alias := req.ResponseAlias
		if alias == "" {
			alias = step.ID
		}
		ec.SaveResponse(alias, responsePayload(dispatchResult))
	}

	result, _ := ec.LatestResult(step.ID)
	bus.Publish(events.NewStepFinished(ec.RunID, result))

	next := s.nextForRequest(step, ec, dispatchResult.Headers, succeeded)
	if next == "" && !succeeded && len(req.Branches) == 0 {
		// No branch covers the failure: the run terminates failed
		// (§4.6 "Failure handling").
		return "", dispatchErr
	}
	return next, nil
}

func (s *Scheduler) buildRequest(stepID string, req *ast.RequestStep, bindings resolver.Bindings) (dispatch.Request, error) {
	server := s.scenario.ServerByID(req.ServerID)

	endpoint, warnings := resolver.ResolveString(req.Endpoint, bindings)
	if len(warnings) > 0 {
		return dispatch.Request{}, scenerr.Newf(scenerr.KindResolution, "step %s endpoint did not fully resolve", stepID)
	}

	url := endpoint
	if server != nil {
		url = strings.TrimSuffix(server.BaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	}

	headers := map[string]string{}
	if server != nil {
		for _, h := range server.DefaultHeaders {
			if h.Enabled {
				headers[h.Key], _ = resolver.ResolveString(h.Value, bindings)
			}
		}
	}
	for _, h := range req.Headers {
		if h.Enabled {
			v, _ := resolver.ResolveString(h.Value, bindings)
			headers[h.Key] = v
		}
	}

	var body any
	if req.Body != nil {
		resolvedBody, _ := resolver.ResolveValue(req.Body, bindings)
		body = resolvedBody
	}

	timeoutMs := req.Timeout
	if timeoutMs <= 0 && server != nil {
		timeoutMs = server.DefaultTimeout
	}

	return dispatch.Request{
		StepID: stepID, Method: string(req.Method), URL: url, Headers: headers,
		Body: body, Timeout: time.Duration(timeoutMs) * time.Millisecond, Retry: req.Retry,
	}, nil
}

func buildStepResult(stepID string, started time.Time, req *ast.RequestStep, result dispatch.Result, dispatchErr error, ec *execcontext.ExecutionContext) *execcontext.StepResult {
	status := execcontext.StepSuccess
	if dispatchErr != nil {
		status = execcontext.StepFailed
	}
	return &execcontext.StepResult{
		StepID: stepID, Status: status, StartedAt: started, EndedAt: time.Now(),
		Request: &execcontext.RequestRecord{
			Method: string(req.Method), Status: result.Status, StatusText: result.StatusText,
			Data: result.Data, DurationMs: result.DurationMs,
		},
		Error:     dispatchErr,
		LoopStack: ec.LoopStackSnapshot(),
	}
}

func responsePayload(result dispatch.Result) any {
	return map[string]any{
		"status": float64(result.Status),
		"data":   result.Data,
		"headers": result.Headers,
	}
}

// nextForRequest evaluates a branched RequestStep's branches against the
// step's own response (already saved into ec when this is called for a
// successful dispatch) or, failing that, its default edge.
func (s *Scheduler) nextForRequest(step *ast.Step, ec *execcontext.ExecutionContext, _ map[string]string, succeeded bool) string {
	if len(step.Request.Branches) == 0 {
		return s.defaultNext(step)
	}
	return s.resolveBranches(step.ID, step.Request.Branches, ec)
}
