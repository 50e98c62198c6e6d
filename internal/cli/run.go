package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/dispatch"
	"github.com/scenrun/scenrun/internal/events"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/parser"
	"github.com/scenrun/scenrun/internal/scenerr"
	"github.com/scenrun/scenrun/internal/scheduler"
	"github.com/scenrun/scenrun/internal/style"
	pkgevents "github.com/scenrun/scenrun/pkg/events"
)

// runCmd represents the run command, grounded on the teacher's
// internal/cli/run.go (signal handling, viper-bound output format,
// Runner/ProgressTracker wiring) adapted from a single-pass workflow
// executor to the scheduler's suspend/resume run model.
var runCmd = &cobra.Command{
	Use:   "run [scenario.json]",
	Short: "Run an HTTP scenario",
	Long: `Run a scenario document to completion, or to its first suspension.

This command:
- Loads and structurally validates the scenario document
- Executes steps from startStepId, branching, looping and dispatching
  requests as the graph dictates
- Prints each step's progress to the terminal as it happens
- Prompts interactively at manual gates, unless --non-interactive is
  set, in which case the run fails at the first manual gate

Examples:
  scenrun run scenario.json                      # run with no params
  scenrun run scenario.json --param key=value     # provide a param
  scenrun run scenario.json --mode stepId=manual  # force a step's mode
  scenrun run scenario.json --non-interactive     # fail instead of prompting`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			log.Info().Msg("received interrupt signal, cancelling run...")
			cancel()
		}()

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

		if err := runScenario(ctx, args[0], params, modeOverrides); err != nil {
			os.Exit(1)
		}
	},
}

var (
	paramFlags     map[string]string
	paramJSONRaw   string
	modeFlags      map[string]string
	nonInteractive bool
	exportPath     string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringToStringVarP(&paramFlags, "param", "p", map[string]string{}, "scenario parameter (key=value)")
	runCmd.Flags().StringVarP(&paramJSONRaw, "params-json", "j", "", "scenario parameters as a JSON object")
	runCmd.Flags().StringToStringVarP(&modeFlags, "mode", "m", map[string]string{}, "execution mode override (stepId=mode)")
	runCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "fail at the first manual gate instead of prompting")
	runCmd.Flags().StringVarP(&exportPath, "export", "o", "", "write the run's step results to a JSON file (consumed by \"scenrun diff\")")
}

func parseParams(flags map[string]string, rawJSON string) (map[string]any, error) {
	params := make(map[string]any)
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &params); err != nil {
			return nil, fmt.Errorf("parsing --params-json: %w", err)
		}
	}
	for k, v := range flags {
		params[k] = v
	}
	return params, nil
}

func parseModeOverrides(flags map[string]string) (map[string]ast.ExecutionMode, error) {
	overrides := make(map[string]ast.ExecutionMode, len(flags))
	for stepID, mode := range flags {
		m := ast.ExecutionMode(mode)
		switch m {
		case ast.ModeAuto, ast.ModeManual, ast.ModeDelayed, ast.ModeBypass:
			overrides[stepID] = m
		default:
			return nil, fmt.Errorf("--mode %s=%s: unknown execution mode", stepID, mode)
		}
	}
	return overrides, nil
}

// runScenario loads scenarioFile, runs it against the default dispatcher,
// streams progress to the terminal, and services manual gates
// interactively until the run reaches a terminal state.
func runScenario(ctx context.Context, scenarioFile string, params map[string]any, modeOverrides map[string]ast.ExecutionMode) error {
	scenario, err := parser.LoadFile(scenarioFile)
	if err != nil {
		style.Error(os.Stderr, err.Error())
		return err
	}

	sched := scheduler.New(scenario, dispatch.New(nil))
	handle, err := sched.Run(ctx, params, modeOverrides)
	if err != nil {
		style.Error(os.Stderr, err.Error())
		return err
	}

	listener := events.NewTerminalListener()
	relayed := make(chan pkgevents.ExecutionEvent, 256)
	listener.StartListening(relayed)

	for e := range handle.Bus.Channel() {
		relayed <- e
		if e.Type == pkgevents.EventManualGateReached {
			servicManualGate(sched, e.StepID)
		}
	}
	close(relayed)
	listener.StopListening()

	summary := handle.Context.GetSummary()
	printRunSummary(os.Stdout, summary)

	if exportPath != "" {
		if err := exportRunSummary(exportPath, summary); err != nil {
			style.Error(os.Stderr, fmt.Sprintf("failed to export run: %v", err))
			return err
		}
	}

	if summary.Status != execcontext.RunCompleted {
		return scenerr.New(scenerr.KindCancelled, fmt.Sprintf("run ended with status %s", summary.Status))
	}
	return nil
}

// servicManualGate blocks for an interactive decision (unless
// --non-interactive) and resumes the scheduler with it.
func servicManualGate(sched *scheduler.Scheduler, stepID string) {
	if nonInteractive {
		style.Error(os.Stderr, fmt.Sprintf("manual gate reached at step %s; failing (--non-interactive)", stepID))
		sched.Resume(scheduler.DecisionCancel)
		return
	}
	sched.Resume(promptManualGate(stepID))
}

// promptManualGate reads a decision from stdin: e (execute), s (skip), c (cancel).
func promptManualGate(stepID string) scheduler.Decision {
	fmt.Fprintf(os.Stdout, "\n%s step %s is waiting at a manual gate. [e]xecute, [s]kip, [c]ancel? ", style.WarningIcon(), stepID)
	var line string
	fmt.Fscanln(os.Stdin, &line)
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "s", "skip":
		return scheduler.DecisionSkip
	case "c", "cancel":
		return scheduler.DecisionCancel
	default:
		return scheduler.DecisionExecute
	}
}

// exportRunSummary writes summary as indented JSON, for later comparison
// with "scenrun diff".
func exportRunSummary(path string, summary execcontext.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printRunSummary(w *os.File, summary execcontext.Summary) {
	fmt.Fprintln(w)
	switch summary.Status {
	case execcontext.RunCompleted:
		fmt.Fprintf(w, "%s run %s completed\n", style.SuccessIcon(), summary.RunID)
	case execcontext.RunCancelled:
		fmt.Fprintf(w, "%s run %s cancelled\n", style.ErrorIcon(), summary.RunID)
	default:
		fmt.Fprintf(w, "%s run %s ended with status %s\n", style.ErrorIcon(), summary.RunID, summary.Status)
	}

	if len(summary.Responses) > 0 {
		fmt.Fprintln(w)
		style.PrintJSON(w, summary.Responses)
	}
}
