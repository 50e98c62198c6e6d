// Package engine provides a public API for executing scenrun scenarios
// programmatically. It lets a third-party Go program run a scenario
// document, supply parameters and mode overrides, and observe progress
// through the same Listener interface the CLI uses, without importing
// any internal package.
//
// Example usage:
//
//	summary, err := engine.RunScenario(context.Background(), "scenario.json", map[string]any{
//		"baseUrl": "https://api.example.com",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(summary.Status)
package engine

import (
	"context"
	"net/http"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/parser"
	"github.com/scenrun/scenrun/internal/scheduler"
	"github.com/scenrun/scenrun/pkg/events"
)

// runConfig holds the options a caller can set through functional
// options before a scenario starts running.
type runConfig struct {
	httpClient    *http.Client
	modeOverrides map[string]ast.ExecutionMode
	listener      events.Listener
}

// Option configures a RunScenario call. Options follow the functional
// options pattern used throughout the CLI's flag parsing.
type Option func(*runConfig)

// WithHTTPClient overrides the *http.Client used to dispatch request
// steps. Nil (the default) gets the dispatcher's own client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *runConfig) { c.httpClient = client }
}

// WithModeOverride forces stepID to run in mode regardless of what the
// scenario document declares, the same override surface "scenrun run
// --mode" exposes on the command line.
func WithModeOverride(stepID string, mode ast.ExecutionMode) Option {
	return func(c *runConfig) {
		if c.modeOverrides == nil {
			c.modeOverrides = map[string]ast.ExecutionMode{}
		}
		c.modeOverrides[stepID] = mode
	}
}

// WithProgressListener attaches a listener that receives every
// execution event published during the run, the same Observer
// contract SPEC_FULL.md §6 names.
func WithProgressListener(listener events.Listener) Option {
	return func(c *runConfig) { c.listener = listener }
}

// RunScenario loads a scenario document, executes it to completion
// with the supplied parameters, and returns its final Summary.
//
// Execution runs synchronously from the caller's point of view: the
// scenario has either completed, failed, or been cancelled by the
// time RunScenario returns. Manual gates are never answered here -- a
// scenario that reaches one blocks until ctx is cancelled, since there
// is no decision channel for a headless caller to answer on. Use the
// scheduler package directly (or "scenrun watch") when a run needs
// manual gates.
func RunScenario(ctx context.Context, scenarioFile string, params map[string]any, opts ...Option) (execcontext.Summary, error) {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	scenario, err := parser.LoadFile(scenarioFile)
	if err != nil {
		return execcontext.Summary{}, err
	}

	sched := scheduler.New(scenario, dispatch.New(cfg.httpClient))
	handle, err := sched.Run(ctx, params, cfg.modeOverrides)
	if err != nil {
		return execcontext.Summary{}, err
	}

	listener := cfg.listener
	if listener == nil {
		listener = events.NoopListener{}
	}

	forwarded := make(chan events.ExecutionEvent, 256)
	listened := make(chan struct{})
	go func() {
		listener.StartListening(forwarded)
		close(listened)
	}()

	for e := range handle.Bus.Channel() {
		forwarded <- e
	}
	close(forwarded)
	<-listened
	listener.StopListening()

	return handle.Context.GetSummary(), nil
}
