package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/scenerr"
	"github.com/scenrun/scenrun/internal/scheduler"
	pkgEvents "github.com/scenrun/scenrun/pkg/events"
)

// HTTP handlers.

// listScenarios returns every scenario currently registered.
func (s *Server) listScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := make(map[string]any)
	for _, id := range s.registry.List() {
		scenario, _ := s.registry.Get(id)
		scenarios[id] = map[string]any{
			"name":    scenario.Name,
			"version": scenario.Version,
			"steps":   len(scenario.Steps),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"scenarios": scenarios})
}

// runRequest is the body of POST /scenarios/{id}/run.
type runRequest struct {
	Params        map[string]any               `json:"params"`
	ModeOverrides map[string]ast.ExecutionMode `json:"modeOverrides"`
}

// runScenario starts a new scheduler run for the named scenario.
func (s *Server) runScenario(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scenarioID := vars["id"]

	scenario, exists := s.registry.Get(scenarioID)
	if !exists {
		http.Error(w, fmt.Sprintf("scenario '%s' not found", scenarioID), http.StatusNotFound)
		return
	}

	if !s.runs.CanStartRun() {
		http.Error(w, "server at capacity, try again later", http.StatusServiceUnavailable)
		return
	}

	var req runRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
	}
	if req.Params == nil {
		req.Params = make(map[string]any)
	}

	sched := scheduler.New(scenario, s.dispatcher)
	handle, err := sched.Run(context.Background(), req.Params, req.ModeOverrides)
	if err != nil {
		status := http.StatusInternalServerError
		if scenerr.OfKind(err, scenerr.KindValidation) || scenerr.OfKind(err, scenerr.KindGraph) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	tracked := s.runs.track(scenarioID, sched, handle)
	go s.relay(tracked)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"runId":      handle.Context.RunID,
		"scenarioId": scenarioID,
		"status":     string(handle.Context.GetStatus()),
		"startedAt":  time.Now(),
	})
}

// relay drains a run's event bus, appending to its replay history and
// broadcasting to connected WebSocket clients, finalizing metrics once
// the bus closes (the scheduler closes it only on a terminal state).
func (s *Server) relay(r *run) {
	for event := range r.handle.Bus.Channel() {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			continue
		}

		r.mu.Lock()
		r.history = append(r.history, json.RawMessage(eventJSON))
		for client := range r.clients {
			_ = client.WriteMessage(websocket.TextMessage, eventJSON)
		}
		r.mu.Unlock()
	}

	s.runs.finish(r, string(r.handle.Context.GetStatus()))
}

// getRun returns a point-in-time snapshot of a run's ExecutionContext.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	tracked, exists := s.runs.get(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("run '%s' not found", runID), http.StatusNotFound)
		return
	}

	summary := tracked.handle.Context.GetSummary()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// streamRun upgrades to a WebSocket connection and relays every
// Observer event for a run, replaying history first for late joiners.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	tracked, exists := s.runs.get(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("run '%s' not found", runID), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	tracked.mu.Lock()
	tracked.clients[conn] = true
	history := make([]any, len(tracked.history))
	copy(history, tracked.history)
	tracked.mu.Unlock()

	for _, event := range history {
		raw, _ := event.(json.RawMessage)
		_ = conn.WriteMessage(websocket.TextMessage, raw)
	}

	if status := tracked.handle.Context.GetStatus(); isTerminal(status) {
		final, _ := json.Marshal(pkgEvents.ExecutionEvent{
			Type:      pkgEvents.EventRunStateChanged,
			Timestamp: time.Now(),
			RunID:     runID,
			RunStatus: string(status),
		})
		_ = conn.WriteMessage(websocket.TextMessage, final)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		if isTerminal(tracked.handle.Context.GetStatus()) {
			break
		}
	}

	tracked.mu.Lock()
	delete(tracked.clients, conn)
	tracked.mu.Unlock()
}

func isTerminal(status execcontext.RunStatus) bool {
	switch status {
	case execcontext.RunCompleted, execcontext.RunFailed, execcontext.RunCancelled:
		return true
	default:
		return false
	}
}

// pauseRun requests the scheduler complete its current atomic step and
// suspend.
func (s *Server) pauseRun(w http.ResponseWriter, r *http.Request) {
	s.withRun(w, r, func(tr *run) { tr.sched.Pause() })
}

// resumeRun accepts an optional {"decision": "execute"|"skip"|"cancel"}
// body, defaulting to "execute", used when the run is parked at a
// manual gate or a plain pause.
func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision scheduler.Decision `json:"decision"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Decision == "" {
		body.Decision = scheduler.DecisionExecute
	}
	s.withRun(w, r, func(tr *run) { tr.sched.Resume(body.Decision) })
}

// cancelRun requests immediate termination of a run.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	s.withRun(w, r, func(tr *run) { tr.sched.Cancel() })
}

func (s *Server) withRun(w http.ResponseWriter, r *http.Request, fn func(*run)) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	tracked, exists := s.runs.get(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("run '%s' not found", runID), http.StatusNotFound)
		return
	}

	fn(tracked)
	w.WriteHeader(http.StatusAccepted)
}

// healthCheck returns server health status.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":           "healthy",
		"scenarios_loaded": s.registry.Count(),
		"active_runs":      s.runs.activeCount(),
		"timestamp":        time.Now(),
	})
}
