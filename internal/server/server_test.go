package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
)

// fakeDispatcher always succeeds immediately, so runs reach a terminal
// state without real network I/O.
type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	return dispatch.Result{Status: 200, Data: map[string]any{"ok": true}}, nil
}

func singleRequestScenario(id string) *ast.Scenario {
	return &ast.Scenario{
		ID:      id,
		Name:    "single",
		Version: "1.0.0",
		Servers: []ast.Server{{ID: "srv1", BaseURL: "https://example.com"}},
		Steps: []*ast.Step{
			{
				ID:   "s1",
				Type: ast.StepTypeRequest,
				Request: &ast.RequestStep{
					ServerID:        "srv1",
					Method:          ast.MethodGET,
					Endpoint:        "/ping",
					WaitForResponse: true,
				},
			},
		},
		StartStepID: "s1",
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(&Config{EnableCORS: true, EnableMetrics: true, Concurrency: 5})
	require.NoError(t, err)
	s.dispatcher = fakeDispatcher{}
	s.registry.Register(singleRequestScenario("scn1"))

	ts := httptest.NewServer(s.newRouter())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_ListScenarios(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/scenarios")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Scenarios map[string]any `json:"scenarios"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Scenarios, "scn1")
}

func TestServer_RunScenario_NotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/scenarios/missing/run", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RunScenario_ThenGetRun_ReachesTerminalState(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/scenarios/scn1/run", "application/json", strings.NewReader(`{"params":{}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.RunID)

	deadline := time.Now().Add(2 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		getResp, err := http.Get(ts.URL + "/api/v1/runs/" + started.RunID)
		require.NoError(t, err)
		var summary struct {
			Status string `json:"Status"`
		}
		_ = json.NewDecoder(getResp.Body).Decode(&summary)
		getResp.Body.Close()
		status = summary.Status
		if status == "completed" || status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "completed", status)
}

func TestServer_GetRun_NotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_HealthCheck(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
