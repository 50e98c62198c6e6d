package execcontext

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsIdle(t *testing.T) {
	ec := New(context.Background(), "scn1", map[string]any{"a": 1})
	assert.Equal(t, RunIdle, ec.GetStatus())
	assert.NotEmpty(t, ec.RunID)
}

func TestSetStatus_StampsCompletedAt(t *testing.T) {
	ec := New(context.Background(), "scn1", nil)
	ec.SetStatus(RunCompleted)
	assert.Equal(t, RunCompleted, ec.GetStatus())
	assert.False(t, ec.GetSummary().CompletedAt.IsZero())
}

func TestLoopBindings_ExposesAliasesWhenSet(t *testing.T) {
	ec := New(context.Background(), "scn1", nil)
	ec.PushLoopFrame("loop1", "loop1", 3, "user", "idx")
	ec.UpdateLoopFrame(1, map[string]any{"id": float64(5)})

	b := ec.LoopBindings()
	assert.Equal(t, float64(1), b["index"])
	assert.Equal(t, float64(1), b["idx"])
	assert.Equal(t, map[string]any{"id": float64(5)}, b["item"])
	assert.Equal(t, map[string]any{"id": float64(5)}, b["user"])
}

func TestLoopBindings_OmitsAliasesWhenUnset(t *testing.T) {
	ec := New(context.Background(), "scn1", nil)
	ec.PushLoopFrame("loop1", "loop1", 3, "", "")
	ec.UpdateLoopFrame(0, "a")

	b := ec.LoopBindings()
	_, hasUser := b["user"]
	_, hasIdx := b["idx"]
	assert.False(t, hasUser)
	assert.False(t, hasIdx)
}

func TestRecordResult_RejectsStaleGeneration(t *testing.T) {
	ec := New(context.Background(), "scn1", nil)
	gen := ec.Generation()
	ec.Cancel()

	ok := ec.RecordResult(gen, &StepResult{StepID: "s1", Status: StepSuccess})
	assert.False(t, ok)
	assert.Empty(t, ec.GetSummary().StepResults["s1"])
}

func TestRecordResult_AppendsUnderCurrentGeneration(t *testing.T) {
	ec := New(context.Background(), "scn1", nil)
	gen := ec.Generation()

	ok := ec.RecordResult(gen, &StepResult{StepID: "s1", Status: StepSuccess})
	require.True(t, ok)
	assert.Len(t, ec.GetSummary().StepResults["s1"], 1)
}

func TestStepResult_JSONRoundTripsError(t *testing.T) {
	original := StepResult{StepID: "s1", Status: StepFailed, Error: errors.New("boom")}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")

	var decoded StepResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Error(t, decoded.Error)
	assert.Equal(t, "boom", decoded.Error.Error())
	assert.Equal(t, StepFailed, decoded.Status)
}

func TestStepResult_JSONRoundTripsNilError(t *testing.T) {
	original := StepResult{StepID: "s1", Status: StepSuccess}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded StepResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NoError(t, decoded.Error)
}
