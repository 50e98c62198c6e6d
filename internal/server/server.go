// Package server hosts the optional long-running process behind
// `scenrun serve`: a registry of loaded scenario documents, one
// Scheduler per in-flight run, and REST+WebSocket endpoints that let an
// external observer (a UI, a CI job) start, watch, and remote-control
// runs. Grounded on the teacher's internal/server/server.go (Config,
// WorkflowRegistry -> ScenarioRegistry, ExecutionManager -> RunManager,
// graceful-shutdown wiring) and internal/server/handlers.go (per-route
// handler shapes), adapted from one-shot workflow execution to the
// Scheduler's pause/resume/cancel run model (SPEC_FULL.md §4.8).
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/parser"
	"github.com/scenrun/scenrun/internal/scheduler"
)

// Config holds the server configuration.
type Config struct {
	Host            string
	Port            int
	Concurrency     int
	EnableMetrics   bool
	EnableCORS      bool
	ScenarioFiles   []string
	ScenarioDir     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		Concurrency:     5,
		EnableMetrics:   true,
		EnableCORS:      true,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ScenarioRegistry holds validated scenario documents, keyed by their
// own ID field rather than by filename (renamed from the teacher's
// WorkflowRegistry).
type ScenarioRegistry struct {
	scenarios map[string]*ast.Scenario
	mu        sync.RWMutex
}

func NewScenarioRegistry() *ScenarioRegistry {
	return &ScenarioRegistry{scenarios: make(map[string]*ast.Scenario)}
}

func (r *ScenarioRegistry) Register(scenario *ast.Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[scenario.ID] = scenario
}

func (r *ScenarioRegistry) Get(id string) (*ast.Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[id]
	return s, ok
}

func (r *ScenarioRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scenarios))
	for id := range r.scenarios {
		ids = append(ids, id)
	}
	return ids
}

func (r *ScenarioRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scenarios)
}

// run is one in-flight or finished scheduler run, tracked so the server
// can answer GET /runs/{runId}, relay its event bus to WebSocket
// clients, and forward Pause/Resume/Cancel calls.
type run struct {
	scenarioID string
	sched      *scheduler.Scheduler
	handle     *scheduler.RunHandle
	startedAt  time.Time

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	history []any // marshaled events.ExecutionEvent kept for late-joining clients
}

// RunManager tracks every run the server has started and exposes
// Prometheus metrics for them, renamed and generalized from the
// teacher's ExecutionManager (workflow-scoped) to a scheduler-run-scoped
// equivalent.
type RunManager struct {
	mu             sync.RWMutex
	runs           map[string]*run
	maxConcurrency int
	active         int

	totalRuns      prometheus.Counter
	activeRuns     prometheus.Gauge
	runDuration    prometheus.HistogramVec
	runStatusTotal prometheus.CounterVec
}

func NewRunManager(maxConcurrency int) *RunManager {
	return NewRunManagerWithRegistry(maxConcurrency, prometheus.DefaultRegisterer)
}

func NewRunManagerWithRegistry(maxConcurrency int, registerer prometheus.Registerer) *RunManager {
	rm := &RunManager{
		runs:           make(map[string]*run),
		maxConcurrency: maxConcurrency,
		totalRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scenrun_runs_total",
			Help: "Total number of scenario runs started",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scenrun_runs_active",
			Help: "Number of currently active scenario runs",
		}),
		runDuration: *prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "scenrun_run_duration_seconds",
			Help: "Scenario run duration in seconds",
		}, []string{"scenario_id", "status"}),
		runStatusTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenrun_run_status_total",
			Help: "Total runs by terminal status",
		}, []string{"scenario_id", "status"}),
	}

	if registerer != nil {
		registerer.MustRegister(rm.totalRuns)
		registerer.MustRegister(rm.activeRuns)
		registerer.MustRegister(rm.runDuration)
		registerer.MustRegister(rm.runStatusTotal)
	}

	return rm
}

func (rm *RunManager) CanStartRun() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.active < rm.maxConcurrency
}

func (rm *RunManager) track(scenarioID string, sched *scheduler.Scheduler, handle *scheduler.RunHandle) *run {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	r := &run{
		scenarioID: scenarioID,
		sched:      sched,
		handle:     handle,
		startedAt:  time.Now(),
		clients:    make(map[*websocket.Conn]bool),
	}
	rm.runs[handle.Context.RunID] = r
	rm.active++
	rm.totalRuns.Inc()
	rm.activeRuns.Inc()
	return r
}

func (rm *RunManager) finish(r *run, status string) {
	rm.mu.Lock()
	rm.active--
	rm.mu.Unlock()

	rm.activeRuns.Dec()
	rm.runDuration.WithLabelValues(r.scenarioID, status).Observe(time.Since(r.startedAt).Seconds())
	rm.runStatusTotal.WithLabelValues(r.scenarioID, status).Inc()

	r.mu.Lock()
	for client := range r.clients {
		client.Close()
	}
	r.mu.Unlock()
}

func (rm *RunManager) get(runID string) (*run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	r, ok := rm.runs[runID]
	return r, ok
}

func (rm *RunManager) activeCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.active
}

// Server is the scenrun HTTP+WebSocket server.
type Server struct {
	config     *Config
	registry   *ScenarioRegistry
	runs       *RunManager
	dispatcher dispatch.Dispatcher
	server     *http.Server
	upgrader   websocket.Upgrader
}

// New creates a new scenrun server.
func New(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config:     config,
		registry:   NewScenarioRegistry(),
		dispatcher: dispatch.New(nil),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return config.EnableCORS
			},
		},
	}

	return s, nil
}

func (s *Server) initializeRunManager() {
	if s.runs == nil {
		s.runs = NewRunManager(s.config.Concurrency)
	}
}

// LoadScenarios loads and validates scenario documents from the
// configuration into the registry.
func (s *Server) LoadScenarios() error {
	files := s.config.ScenarioFiles
	if s.config.ScenarioDir != "" {
		dirFiles, err := s.findScenarioFiles(s.config.ScenarioDir)
		if err != nil {
			return fmt.Errorf("failed to scan scenario directory: %w", err)
		}
		files = append(files, dirFiles...)
	}

	if len(files) == 0 {
		return fmt.Errorf("no scenario files specified")
	}

	log.Info().Msg("Loading and validating scenarios...")
	for _, file := range files {
		scenario, err := parser.LoadFile(file)
		if err != nil {
			return fmt.Errorf("failed to parse scenario %s: %w", file, err)
		}

		s.registry.Register(scenario)
		log.Info().
			Str("scenario_id", scenario.ID).
			Str("file", file).
			Str("version", scenario.Version).
			Msg("Scenario loaded")
	}

	if s.registry.Count() == 0 {
		return fmt.Errorf("no valid scenarios loaded")
	}

	return nil
}

// newRouter builds the mux router. Split out from Start so tests can
// exercise handlers via httptest without binding a real port.
func (s *Server) newRouter() http.Handler {
	s.initializeRunManager()

	router := mux.NewRouter()
	if s.config.EnableCORS {
		router.Use(s.corsMiddleware)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/scenarios", s.listScenarios).Methods("GET")
	api.HandleFunc("/scenarios/{id}/run", s.runScenario).Methods("POST")
	api.HandleFunc("/runs/{runId}", s.getRun).Methods("GET")
	api.HandleFunc("/runs/{runId}/stream", s.streamRun).Methods("GET")
	api.HandleFunc("/runs/{runId}/pause", s.pauseRun).Methods("POST")
	api.HandleFunc("/runs/{runId}/resume", s.resumeRun).Methods("POST")
	api.HandleFunc("/runs/{runId}/cancel", s.cancelRun).Methods("POST")

	if s.config.EnableCORS {
		api.Methods("OPTIONS").HandlerFunc(s.handleOptions)
	}

	if s.config.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.HandleFunc("/health", s.healthCheck)
	return router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	router := s.newRouter()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Info().
		Str("addr", addr).
		Int("scenarios", s.registry.Count()).
		Int("concurrency", s.config.Concurrency).
		Bool("metrics", s.config.EnableMetrics).
		Msg("Starting scenrun server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// StartWithGracefulShutdown starts the server and blocks until a
// SIGINT/SIGTERM triggers a graceful shutdown.
func (s *Server) StartWithGracefulShutdown() error {
	if err := s.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer shutdownCancel()

		if err := s.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	<-ctx.Done()
	log.Info().Msg("Server shutdown complete")
	return nil
}

// GetAddr returns the server address.
func (s *Server) GetAddr() string {
	if s.server != nil && s.config.Port == 0 {
		return s.server.Addr
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// GetScenarioCount returns the number of loaded scenarios.
func (s *Server) GetScenarioCount() int {
	return s.registry.Count()
}

func (s *Server) findScenarioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
