package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/execcontext"
)

// recordingDispatcher captures every dispatched request's body instead of
// faking a response, so a test can assert on the exact sequence of
// resolved loop bindings a container step produced.
type recordingDispatcher struct {
	bodies []any
}

func (r *recordingDispatcher) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	r.bodies = append(r.bodies, req.Body)
	return dispatch.Result{Status: 200}, nil
}

// TestScheduler_S3_ForEachCountFieldExpandsAndBindsLoopItem mirrors the
// concrete forEach+countField scenario: three list items with per-item
// repeat counts must dispatch six requests, each carrying the resolved
// loop.item.id/loop.index pair for its position in the expanded sequence
// (§4.4, §8 property 5).
func TestScheduler_S3_ForEachCountFieldExpandsAndBindsLoopItem(t *testing.T) {
	sc := &ast.Scenario{
		ID: "s3", StartStepID: "loop1",
		Servers: []ast.Server{{ID: "srv", BaseURL: "https://h"}},
		Steps: []*ast.Step{
			{ID: "loop1", Type: ast.StepTypeLoop, ExecutionMode: ast.ModeAuto, Loop: &ast.LoopStep{
				Loop: ast.LoopDescriptor{
					Kind: ast.LoopForEach, Source: "params.list", CountField: "count",
				},
				StepIDs: []string{"post1"},
			}},
			{ID: "post1", Type: ast.StepTypeRequest, ExecutionMode: ast.ModeAuto, Request: &ast.RequestStep{
				ServerID: "srv", Method: ast.MethodPOST, Endpoint: "/events",
				Body: map[string]any{
					"userId": "${loop.item.id}",
					"iter":   "${loop.index}",
				},
				WaitForResponse: true,
			}},
		},
	}

	params := map[string]any{
		"list": []any{
			map[string]any{"id": float64(1), "count": float64(2)},
			map[string]any{"id": float64(2), "count": float64(3)},
			map[string]any{"id": float64(3), "count": float64(1)},
		},
	}

	d := &recordingDispatcher{}
	s := New(sc, d)
	handle, err := s.Run(context.Background(), params, nil)
	require.NoError(t, err)
	drain(handle.Bus)

	assert.Equal(t, execcontext.RunCompleted, handle.Context.GetStatus())
	require.Len(t, d.bodies, 6)

	var userIDs []any
	var iters []any
	for _, b := range d.bodies {
		m := b.(map[string]any)
		userIDs = append(userIDs, m["userId"])
		iters = append(iters, m["iter"])
	}
	assert.Equal(t, []any{float64(1), float64(1), float64(2), float64(2), float64(2), float64(3)}, userIDs)
	assert.Equal(t, []any{float64(0), float64(1), float64(2), float64(3), float64(4), float64(5)}, iters)
}
