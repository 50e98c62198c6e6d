package events

import (
	"fmt"
	"sync"

	"github.com/fatih/color"

	"github.com/scenrun/scenrun/pkg/events"
)

// TerminalListener renders a run's events as plain lines to stdout,
// colored by event type. It is the default Listener for `scenrun run`
// when not attached to the `watch` TUI, grounded on the teacher's
// CLI-progress-printing idiom (color-coded, one line per event) rather
// than its bubbletea model, which `scenrun watch` uses instead.
type TerminalListener struct {
	mu   sync.Mutex
	done chan struct{}
}

func NewTerminalListener() *TerminalListener {
	return &TerminalListener{done: make(chan struct{})}
}

func (l *TerminalListener) StartListening(ch <-chan events.ExecutionEvent) {
	go func() {
		for e := range ch {
			l.render(e)
		}
		close(l.done)
	}()
}

func (l *TerminalListener) StopListening() {
	<-l.done
}

func (l *TerminalListener) render(e events.ExecutionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.Type {
	case events.EventRunStateChanged:
		color.Cyan("run %s -> %s", e.RunID, e.RunStatus)
	case events.EventStepStarted:
		fmt.Printf("  step %s started\n", e.StepID)
	case events.EventStepFinished:
		if e.StepResult != nil && e.StepResult.Status == "failed" {
			color.Red("  step %s failed: %s", e.StepID, e.StepResult.Error)
		} else {
			color.Green("  step %s finished", e.StepID)
		}
	case events.EventLoopEntered:
		fmt.Printf("  loop %s entered\n", e.StepID)
	case events.EventLoopIterationAdvanced:
		fmt.Printf("  loop %s iteration %d\n", e.StepID, e.Iteration)
	case events.EventLoopExited:
		fmt.Printf("  loop %s exited\n", e.StepID)
	case events.EventManualGateReached:
		color.Yellow("  manual gate reached at %s, waiting for Resume()", e.StepID)
	case events.EventLogEmitted:
		if e.Log != nil {
			fmt.Printf("  [%s] %s\n", e.Log.Level, e.Log.Message)
		}
	}
}
