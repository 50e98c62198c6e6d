package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/style"
)

// diffCmd compares two recorded run exports (produced by "scenrun run
// --export"), grounded on sergi/go-diff's text-diff idiom already wired
// in internal/style/spinner.go's SetSuffix, generalized from a single
// suffix string to a whole run's per-step status/error/response record.
// No teacher command does this.
var diffCmd = &cobra.Command{
	Use:   "diff [runA.json] [runB.json]",
	Short: "Diff two recorded scenario runs",
	Long: `Compare two run exports produced by "scenrun run --export", step by
step: status changes and textual diffs of saved responses and error
messages. Exits 1 if any step's outcome differs, for use in regression
checks between two executions of the same scenario.

Example:
  scenrun run scenario.json --export before.json
  scenrun run scenario.json --export after.json
  scenrun diff before.json after.json`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		changed, err := diffRuns(cmd.OutOrStdout(), args[0], args[1])
		if err != nil {
			style.Error(cmd.OutOrStderr(), err.Error())
			os.Exit(1)
		}
		if changed {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func loadRunSummary(path string) (execcontext.Summary, error) {
	var summary execcontext.Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return summary, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("parsing %s: %w", path, err)
	}
	return summary, nil
}

// diffRuns prints a step-by-step comparison of two run exports to w and
// reports whether any step's outcome differs.
func diffRuns(w io.Writer, pathA, pathB string) (bool, error) {
	a, err := loadRunSummary(pathA)
	if err != nil {
		return false, err
	}
	b, err := loadRunSummary(pathB)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(w, "--- %s (%s)\n", pathA, a.RunID)
	fmt.Fprintf(w, "+++ %s (%s)\n\n", pathB, b.RunID)

	if a.Status != b.Status {
		color.New(color.FgYellow).Fprintf(w, "run status: %s -> %s\n\n", a.Status, b.Status)
	}

	changed := a.Status != b.Status
	for _, stepID := range unionStepIDs(a, b) {
		if diffStep(w, stepID, lastResult(a, stepID), lastResult(b, stepID)) {
			changed = true
		}
	}

	if diffResponses(w, a.Responses, b.Responses) {
		changed = true
	}

	if !changed {
		color.New(color.FgGreen).Fprintln(w, "no differences")
	}
	return changed, nil
}

func unionStepIDs(a, b execcontext.Summary) []string {
	seen := make(map[string]struct{}, len(a.StepResults)+len(b.StepResults))
	for id := range a.StepResults {
		seen[id] = struct{}{}
	}
	for id := range b.StepResults {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func lastResult(s execcontext.Summary, stepID string) *execcontext.StepResult {
	results := s.StepResults[stepID]
	if len(results) == 0 {
		return nil
	}
	return results[len(results)-1]
}

// diffStep prints the per-step comparison and reports whether it differs.
func diffStep(w io.Writer, stepID string, a, b *execcontext.StepResult) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		color.New(color.FgGreen).Fprintf(w, "+ %s: added (%s)\n", stepID, b.Status)
		return true
	case b == nil:
		color.New(color.FgRed).Fprintf(w, "- %s: removed (was %s)\n", stepID, a.Status)
		return true
	}

	changed := false
	if a.Status != b.Status {
		color.New(color.FgYellow).Fprintf(w, "~ %s: %s -> %s\n", stepID, a.Status, b.Status)
		changed = true
	}

	if aErr, bErr := errString(a), errString(b); aErr != bErr {
		changed = true
		fmt.Fprintf(w, "  %s error:\n", stepID)
		printTextDiff(w, aErr, bErr)
	}

	return changed
}

func errString(r *execcontext.StepResult) string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// diffResponses compares saved response aliases, reporting whether any
// differ, were added, or removed.
func diffResponses(w io.Writer, a, b map[string]any) bool {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changed := false
	for _, k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		switch {
		case !aok:
			color.New(color.FgGreen).Fprintf(w, "+ response %s: added\n", k)
			changed = true
		case !bok:
			color.New(color.FgRed).Fprintf(w, "- response %s: removed\n", k)
			changed = true
		default:
			aj, _ := json.Marshal(av)
			bj, _ := json.Marshal(bv)
			if string(aj) != string(bj) {
				fmt.Fprintf(w, "~ response %s:\n", k)
				printTextDiff(w, string(aj), string(bj))
				changed = true
			}
		}
	}
	return changed
}

// printTextDiff renders a semantic-cleaned diffmatchpatch diff between
// two strings, one changed fragment per line.
func printTextDiff(w io.Writer, a, b string) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			color.New(color.FgRed).Fprintf(w, "  -%s\n", d.Text)
		case diffmatchpatch.DiffInsert:
			color.New(color.FgGreen).Fprintf(w, "  +%s\n", d.Text)
		}
	}
}
