package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/scenerr"
)

func validScenarioJSON() string {
	return `{
		"id": "scn1",
		"name": "basic",
		"version": "1.0.0",
		"serverIds": ["srv1"],
		"servers": [{"id": "srv1", "baseUrl": "https://example.com"}],
		"steps": [
			{"id": "s1", "type": "request", "request": {"serverId": "srv1", "method": "GET", "endpoint": "/ping"}}
		],
		"edges": [],
		"startStepId": "s1"
	}`
}

func TestLoadBytes_ValidScenarioRoundTrips(t *testing.T) {
	scenario, err := LoadBytes([]byte(validScenarioJSON()))
	require.NoError(t, err)
	assert.Equal(t, "scn1", scenario.ID)
	assert.Equal(t, "s1", scenario.StartStepID)
}

func TestLoadBytes_EmptyDocumentErrors(t *testing.T) {
	_, err := LoadBytes(nil)
	require.Error(t, err)
	assert.True(t, scenerr.OfKind(err, scenerr.KindGraph))
}

func TestLoadBytes_MalformedJSONErrors(t *testing.T) {
	_, err := LoadBytes([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, scenerr.OfKind(err, scenerr.KindGraph))
}

func TestLoadBytes_MissingVersionErrors(t *testing.T) {
	raw := strings.Replace(validScenarioJSON(), `"version": "1.0.0",`, "", 1)
	_, err := LoadBytes([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestLoadBytes_UnsupportedVersionRejected(t *testing.T) {
	raw := strings.Replace(validScenarioJSON(), `"version": "1.0.0",`, `"version": "3.0.0",`, 1)
	_, err := LoadBytes([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestLoadBytes_StructurallyInvalidScenarioRejected(t *testing.T) {
	raw := strings.Replace(validScenarioJSON(), `"startStepId": "s1"`, `"startStepId": "does-not-exist"`, 1)
	_, err := LoadBytes([]byte(raw))
	require.Error(t, err)
	assert.True(t, scenerr.OfKind(err, scenerr.KindGraph))
}

func TestSaveBytes_ThenLoadBytes_RoundTrips(t *testing.T) {
	scenario, err := LoadBytes([]byte(validScenarioJSON()))
	require.NoError(t, err)

	data, err := SaveBytes(scenario)
	require.NoError(t, err)

	reloaded, err := LoadBytes(data)
	require.NoError(t, err)
	assert.Equal(t, scenario.ID, reloaded.ID)
	assert.Equal(t, scenario.StartStepID, reloaded.StartStepID)
}

func TestLoadReader_DelegatesToLoadBytes(t *testing.T) {
	scenario, err := LoadReader(strings.NewReader(validScenarioJSON()))
	require.NoError(t, err)
	assert.Equal(t, "scn1", scenario.ID)
}
