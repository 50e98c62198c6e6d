package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/resolver"
	"github.com/scenrun/scenrun/internal/scenerr"
)

func forEachStep(source string) *ast.Step {
	return &ast.Step{ID: "loop1", Type: ast.StepTypeLoop, Loop: &ast.LoopStep{
		Loop: ast.LoopDescriptor{Kind: ast.LoopForEach, Source: source},
	}}
}

func TestDriver_ForEach_YieldsOnePerItem(t *testing.T) {
	b := resolver.NewBindings()
	b.Params["items"] = []any{"a", "b", "c"}

	d, err := New(forEachStep("params.items"), b)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Total())

	var got []any
	for {
		has, err := d.HasNext(nil, fakeResponses{})
		require.NoError(t, err)
		if !has {
			break
		}
		got = append(got, d.Next().Item)
	}
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestDriver_ForEach_CountFieldExpandsRepeats(t *testing.T) {
	b := resolver.NewBindings()
	b.Params["items"] = []any{
		map[string]any{"name": "x", "n": float64(2)},
		map[string]any{"name": "y", "n": float64(1)},
	}
	step := forEachStep("params.items")
	step.Loop.Loop.CountField = "n"

	d, err := New(step, b)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Total())

	var names []any
	for {
		has, err := d.HasNext(nil, fakeResponses{})
		require.NoError(t, err)
		if !has {
			break
		}
		names = append(names, d.Next().Item.(map[string]any)["name"])
	}
	assert.Equal(t, []any{"x", "x", "y"}, names)
}

// TestDriver_ForEach_CountFieldExpandsRepeats_S3 walks the concrete
// forEach+countField scenario: [{id:1,count:2},{id:2,count:3},{id:3,count:1}]
// must expand to 6 iterations with userId sequence [1,1,2,2,2,3] and index
// sequence [0,1,2,3,4,5] (§4.4, §8 property 5).
func TestDriver_ForEach_CountFieldExpandsRepeats_S3(t *testing.T) {
	b := resolver.NewBindings()
	b.Params["list"] = []any{
		map[string]any{"id": float64(1), "count": float64(2)},
		map[string]any{"id": float64(2), "count": float64(3)},
		map[string]any{"id": float64(3), "count": float64(1)},
	}
	step := forEachStep("params.list")
	step.Loop.Loop.CountField = "count"

	d, err := New(step, b)
	require.NoError(t, err)
	assert.Equal(t, 6, d.Total())

	var userIDs []any
	var indexes []int
	for {
		has, err := d.HasNext(nil, fakeResponses{})
		require.NoError(t, err)
		if !has {
			break
		}
		iter := d.Next()
		userIDs = append(userIDs, iter.Item.(map[string]any)["id"])
		indexes = append(indexes, iter.Index)
	}
	assert.Equal(t, []any{float64(1), float64(1), float64(2), float64(2), float64(2), float64(3)}, userIDs)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, indexes)
}

func TestDriver_Count_YieldsNIterations(t *testing.T) {
	b := resolver.NewBindings()
	step := &ast.Step{ID: "loop1", Type: ast.StepTypeLoop, Loop: &ast.LoopStep{
		Loop: ast.LoopDescriptor{Kind: ast.LoopCount, Count: "5"},
	}}
	d, err := New(step, b)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Total())

	count := 0
	for {
		has, err := d.HasNext(nil, fakeResponses{})
		require.NoError(t, err)
		if !has {
			break
		}
		d.Next()
		count++
	}
	assert.Equal(t, 5, count)
}

func TestDriver_While_SafetyCapAborts(t *testing.T) {
	step := &ast.Step{ID: "loop1", Type: ast.StepTypeLoop, Loop: &ast.LoopStep{
		Loop: ast.LoopDescriptor{
			Kind:          ast.LoopWhile,
			MaxIterations: 3,
			Condition: &ast.ConditionExpr{Leaf: &ast.Condition{
				Source: ast.SourceParams, Field: "alwaysTrue", Operator: ast.OpEquals, Value: true,
			}},
		},
	}}
	b := resolver.NewBindings()
	d, err := New(step, b)
	require.NoError(t, err)

	params := map[string]any{"alwaysTrue": true}
	var sawErr error
	for i := 0; i < 10; i++ {
		has, err := d.HasNext(params, fakeResponses{})
		if err != nil {
			sawErr = err
			break
		}
		if !has {
			break
		}
		d.Next()
	}
	require.Error(t, sawErr)
	assert.True(t, scenerr.OfKind(sawErr, scenerr.KindLoopSafety))
}

func TestDriver_ForEach_ExceedsMaxIterationsAtConstruction(t *testing.T) {
	b := resolver.NewBindings()
	b.Params["items"] = []any{"a", "b", "c"}
	step := forEachStep("params.items")
	step.Loop.Loop.MaxIterations = 2

	_, err := New(step, b)
	require.Error(t, err)
	assert.True(t, scenerr.OfKind(err, scenerr.KindLoopSafety))
}

func TestDriver_While_StopsWhenConditionFalse(t *testing.T) {
	step := &ast.Step{ID: "loop1", Type: ast.StepTypeLoop, Loop: &ast.LoopStep{
		Loop: ast.LoopDescriptor{
			Kind: ast.LoopWhile,
			Condition: &ast.ConditionExpr{Leaf: &ast.Condition{
				Source: ast.SourceParams, Field: "remaining", Operator: ast.OpGreater, Value: float64(0),
			}},
		},
	}}
	b := resolver.NewBindings()
	d, err := New(step, b)
	require.NoError(t, err)

	remaining := 3
	iterations := 0
	for {
		has, err := d.HasNext(map[string]any{"remaining": float64(remaining)}, fakeResponses{})
		require.NoError(t, err)
		if !has {
			break
		}
		d.Next()
		remaining--
		iterations++
	}
	assert.Equal(t, 3, iterations)
}

type fakeResponses struct{}

func (fakeResponses) Response(string) (any, bool) { return nil, false }
