package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/parser"
	"github.com/scenrun/scenrun/internal/scheduler"
	"github.com/scenrun/scenrun/internal/style"
	pkgevents "github.com/scenrun/scenrun/pkg/events"
)

// watchCmd attaches a live terminal UI to a scenario run, grounded on the
// step-state-list pattern used elsewhere in the pack for streaming an
// engine's trace events into a Bubble Tea model (step list + status bar,
// driven by an event channel read in a background goroutine). No teacher
// command does this; it generalizes internal/events.TerminalListener's
// "consume the run's event channel" shape into a redrawing list instead
// of scrolled stdout lines.
var watchCmd = &cobra.Command{
	Use:   "watch [scenario.json]",
	Short: "Run a scenario with a live step-graph TUI",
	Long: `Run a scenario document the same way "scenrun run" does, but render
its progress as a live, navigable list of steps instead of scrolling
terminal lines. Manual gates pause the run and prompt for a decision
inside the TUI.

Examples:
  scenrun watch scenario.json
  scenrun watch scenario.json --param key=value`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params, err := parseParams(paramFlags, paramJSONRaw)
		if err != nil {
			style.Error(cmd.OutOrStderr(), err.Error())
			os.Exit(1)
		}
		modeOverrides, err := parseModeOverrides(modeFlags)
		if err != nil {
			style.Error(cmd.OutOrStderr(), err.Error())
			os.Exit(1)
		}
		if err := watchScenario(args[0], params, modeOverrides); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringToStringVarP(&paramFlags, "param", "p", map[string]string{}, "scenario parameter (key=value)")
	watchCmd.Flags().StringVarP(&paramJSONRaw, "params-json", "j", "", "scenario parameters as a JSON object")
	watchCmd.Flags().StringToStringVarP(&modeFlags, "mode", "m", map[string]string{}, "execution mode override (stepId=mode)")
}

func watchScenario(scenarioFile string, params map[string]any, modeOverrides map[string]ast.ExecutionMode) error {
	scenario, err := parser.LoadFile(scenarioFile)
	if err != nil {
		style.Error(os.Stderr, err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(scenario, dispatch.New(nil))
	handle, err := sched.Run(ctx, params, modeOverrides)
	if err != nil {
		style.Error(os.Stderr, err.Error())
		return err
	}

	m := newWatchModel(scenario, sched, cancel, handle)
	program := tea.NewProgram(m)
	final, err := program.Run()
	if err != nil {
		style.Error(os.Stderr, err.Error())
		return err
	}

	if wm, ok := final.(watchModel); ok && wm.err != nil {
		return wm.err
	}
	return nil
}

// stepRow is one line of the live step list.
type stepRow struct {
	id       string
	name     string
	kind     string
	status   string // pending, running, or a step result status: success, failed, skipped, cancelled
	duration time.Duration
}

// execEventMsg wraps a scheduler event for tea.Update.
type execEventMsg struct{ event pkgevents.ExecutionEvent }

// runEndedMsg signals the event channel closed (run reached a terminal state).
type runEndedMsg struct{}

// watchModel is the Bubble Tea model driving `scenrun watch`. The
// scheduler is already running by the time the model is constructed
// (Init cannot mutate a value-receiver model), mirroring the pack's
// SetRunConfig-before-Program.Run wiring for the same reason.
type watchModel struct {
	scenario *ast.Scenario
	sched    *scheduler.Scheduler
	cancel   context.CancelFunc
	eventCh  <-chan pkgevents.ExecutionEvent

	rows     []stepRow
	rowIndex map[string]int
	selected int

	runID        string
	runStatus    string
	awaitingGate string
	err          error

	width, height int
}

func newWatchModel(scenario *ast.Scenario, sched *scheduler.Scheduler, cancel context.CancelFunc, handle *scheduler.RunHandle) watchModel {
	rows := make([]stepRow, 0, len(scenario.Steps))
	index := make(map[string]int, len(scenario.Steps))
	for _, s := range scenario.Steps {
		index[s.ID] = len(rows)
		rows = append(rows, stepRow{id: s.ID, name: s.Name, kind: string(s.Type), status: "pending"})
	}
	return watchModel{
		scenario:  scenario,
		sched:     sched,
		cancel:    cancel,
		eventCh:   handle.Bus.Channel(),
		rows:      rows,
		rowIndex:  index,
		runID:     handle.Context.RunID,
		runStatus: "running",
	}
}

func (m watchModel) Init() tea.Cmd {
	return waitForExecEvent(m.eventCh)
}

func waitForExecEvent(ch <-chan pkgevents.ExecutionEvent) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return runEndedMsg{}
		}
		return execEventMsg{event: e}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.awaitingGate != "" {
				m.resumeGate(scheduler.DecisionCancel)
				return m, waitForExecEvent(m.eventCh)
			}
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case "e":
			if m.awaitingGate != "" {
				m.resumeGate(scheduler.DecisionExecute)
				return m, waitForExecEvent(m.eventCh)
			}
		case "s":
			if m.awaitingGate != "" {
				m.resumeGate(scheduler.DecisionSkip)
				return m, waitForExecEvent(m.eventCh)
			}
		}

	case execEventMsg:
		m.applyEvent(msg.event)
		return m, waitForExecEvent(m.eventCh)

	case runEndedMsg:
		if m.runStatus == "running" {
			m.runStatus = "ended"
		}
		return m, nil
	}

	return m, nil
}

// resumeGate resumes a scheduler paused at a manual gate with decision.
func (m *watchModel) resumeGate(decision scheduler.Decision) {
	m.awaitingGate = ""
	m.sched.Resume(decision)
}

func (m *watchModel) applyEvent(e pkgevents.ExecutionEvent) {
	switch e.Type {
	case pkgevents.EventRunStateChanged:
		m.runStatus = e.RunStatus
	case pkgevents.EventStepStarted:
		if i, ok := m.rowIndex[e.StepID]; ok {
			m.rows[i].status = "running"
		}
	case pkgevents.EventStepFinished:
		if i, ok := m.rowIndex[e.StepID]; ok && e.StepResult != nil {
			m.rows[i].status = e.StepResult.Status
			m.rows[i].duration = e.StepResult.EndedAt.Sub(e.StepResult.StartedAt)
		}
	case pkgevents.EventManualGateReached:
		m.awaitingGate = e.StepID
	}
}

var (
	watchHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	watchSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	watchDimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	watchGateStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(watchHeaderStyle.Render(fmt.Sprintf("  scenrun watch: %s (%s)", m.scenario.Name, m.runID)))
	b.WriteString("\n\n")

	for i, row := range m.rows {
		line := fmt.Sprintf("  %s %s [%s]", stepStatusIcon(row.status), row.name, row.kind)
		if row.duration > 0 {
			line += fmt.Sprintf("  %s", row.duration.Truncate(time.Millisecond))
		}
		if i == m.selected {
			b.WriteString(watchSelectedStyle.Render("▸ " + strings.TrimPrefix(line, "  ")))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.awaitingGate != "" {
		b.WriteString(watchGateStyle.Render(fmt.Sprintf("  step %s is at a manual gate: [e]xecute  [s]kip  [q]cancel", m.awaitingGate)))
	} else {
		b.WriteString(watchDimStyle.Render(fmt.Sprintf("  %s", m.runStatus)))
	}

	b.WriteString("\n\n")
	b.WriteString(watchDimStyle.Render("  q: quit  ↑/↓: navigate"))
	return b.String()
}

func stepStatusIcon(status string) string {
	switch status {
	case "pending":
		return "○"
	case "running":
		return "◉"
	case "success", "completed", "succeeded", "finished":
		return "✓"
	case "failed":
		return "✗"
	case "skipped":
		return "⊘"
	default:
		return "?"
	}
}
