package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scenrun/scenrun/internal/ast"
)

func TestParseParams_MergesFlagsOverJSON(t *testing.T) {
	params, err := parseParams(map[string]string{"name": "alice"}, `{"name":"bob","age":30}`)
	assert.NoError(t, err)
	assert.Equal(t, "alice", params["name"])
	assert.EqualValues(t, 30, params["age"])
}

func TestParseParams_InvalidJSONErrors(t *testing.T) {
	_, err := parseParams(nil, `not json`)
	assert.Error(t, err)
}

func TestParseModeOverrides_ValidModes(t *testing.T) {
	overrides, err := parseModeOverrides(map[string]string{"s1": "manual", "s2": "bypass"})
	assert.NoError(t, err)
	assert.Equal(t, ast.ModeManual, overrides["s1"])
	assert.Equal(t, ast.ModeBypass, overrides["s2"])
}

func TestParseModeOverrides_UnknownModeErrors(t *testing.T) {
	_, err := parseModeOverrides(map[string]string{"s1": "nonsense"})
	assert.Error(t, err)
}
