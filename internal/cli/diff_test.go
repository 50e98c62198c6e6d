package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/execcontext"
)

func writeSummaryFile(t *testing.T, dir, name string, summary execcontext.Summary) string {
	t.Helper()
	data, err := json.Marshal(summary)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestDiffRuns_NoDifferences(t *testing.T) {
	dir := t.TempDir()
	summary := execcontext.Summary{
		RunID:  "r1",
		Status: execcontext.RunCompleted,
		StepResults: map[string][]*execcontext.StepResult{
			"s1": {{StepID: "s1", Status: execcontext.StepSuccess}},
		},
		Responses: map[string]any{"s1": map[string]any{"ok": true}},
	}
	pathA := writeSummaryFile(t, dir, "a.json", summary)
	pathB := writeSummaryFile(t, dir, "b.json", summary)

	var buf bytes.Buffer
	changed, err := diffRuns(&buf, pathA, pathB)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Contains(t, buf.String(), "no differences")
}

func TestDiffRuns_DetectsStatusChange(t *testing.T) {
	dir := t.TempDir()
	a := execcontext.Summary{
		RunID:  "r1",
		Status: execcontext.RunCompleted,
		StepResults: map[string][]*execcontext.StepResult{
			"s1": {{StepID: "s1", Status: execcontext.StepSuccess}},
		},
	}
	b := a
	b.StepResults = map[string][]*execcontext.StepResult{
		"s1": {{StepID: "s1", Status: execcontext.StepFailed}},
	}

	pathA := writeSummaryFile(t, dir, "a.json", a)
	pathB := writeSummaryFile(t, dir, "b.json", b)

	var buf bytes.Buffer
	changed, err := diffRuns(&buf, pathA, pathB)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, buf.String(), "s1")
}

func TestDiffRuns_DetectsResponseChange(t *testing.T) {
	dir := t.TempDir()
	a := execcontext.Summary{RunID: "r1", Status: execcontext.RunCompleted,
		Responses: map[string]any{"s1": "v1"}}
	b := execcontext.Summary{RunID: "r2", Status: execcontext.RunCompleted,
		Responses: map[string]any{"s1": "v2"}}

	pathA := writeSummaryFile(t, dir, "a.json", a)
	pathB := writeSummaryFile(t, dir, "b.json", b)

	var buf bytes.Buffer
	changed, err := diffRuns(&buf, pathA, pathB)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, buf.String(), "response s1")
}

func TestDiffRuns_MissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	pathA := writeSummaryFile(t, dir, "a.json", execcontext.Summary{})

	var buf bytes.Buffer
	_, err := diffRuns(&buf, pathA, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
