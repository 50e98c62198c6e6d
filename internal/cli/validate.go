package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scenrun/scenrun/internal/parser"
	"github.com/scenrun/scenrun/internal/style"
)

// validateCmd represents the validate command, grounded on the teacher's
// internal/cli/validate.go (collectFiles/recursive walk, ValidationResult/
// ValidationSummary shape, text/json/yaml output switch), adapted from
// YAML syntax+semantic validation with line/column-anchored issues to
// structural validation of JSON scenario documents via parser.LoadFile,
// whose errors carry no source position.
var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate scenario documents",
	Long: `Validate scenario documents for JSON syntax, supported version, and graph structure.

This command checks:
- JSON syntax validity
- Supported scenario document version
- Graph structure (unique step ids, no dangling edges, each step in at
  most one container, an existing start step, condition steps with at
  least two branches)

Cyclic container nesting and steps with several plain outgoing edges
are not reported.

This is purely a structural check: no requests are dispatched.

Examples:
  scenrun validate scenario.json              # Validate a single file
  scenrun validate *.json                     # Validate multiple files
  scenrun validate --recursive ./scenarios    # Validate directory recursively
  scenrun validate --output json scenario.json  # JSON output for CI/CD`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateScenarios(cmd.OutOrStdout(), args); err != nil {
			os.Exit(1)
		}
	},
}

var (
	recursive bool
	showAll   bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively validate files in directories")
	validateCmd.Flags().BoolVar(&showAll, "show-all", false, "show all validation results, including successful ones")
}

// ValidationResult is the outcome of validating one scenario document.
type ValidationResult struct {
	File     string        `json:"file" yaml:"file"`
	Valid    bool          `json:"valid" yaml:"valid"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func NewValidationResult(file string) *ValidationResult {
	return &ValidationResult{File: file, Valid: true}
}

func (v *ValidationResult) CollectError(err error) {
	if err == nil {
		return
	}
	v.Valid = false
	v.Error = err.Error()
}

// ValidationSummary is the aggregate outcome across every file validated
// in one invocation.
type ValidationSummary struct {
	Total    int                `json:"total" yaml:"total"`
	Valid    int                `json:"valid" yaml:"valid"`
	Invalid  int                `json:"invalid" yaml:"invalid"`
	Duration time.Duration      `json:"total_duration_ms" yaml:"total_duration_ms"`
	Results  []ValidationResult `json:"results" yaml:"results"`
}

func validateScenarios(w io.Writer, args []string) error {
	start := time.Now()

	files, err := collectFiles(args, recursive)
	if err != nil {
		style.Error(w, fmt.Sprintf("Failed to collect files: %v", err))
		return err
	}

	if len(files) == 0 {
		style.Warning(w, "No scenario files found to validate")
		return nil
	}

	results := make([]ValidationResult, 0, len(files))
	for _, file := range files {
		result := validateSingleFile(file)
		results = append(results, *result)

		if !viper.GetBool("quiet") && viper.GetString("output") == "text" && result.Valid && showAll {
			style.Success(w, fmt.Sprintf("%s (%v)", file, result.Duration))
		}
	}

	summary := ValidationSummary{
		Total:    len(results),
		Duration: time.Since(start),
		Results:  results,
	}
	for _, result := range results {
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
	}

	switch viper.GetString("output") {
	case "json":
		style.PrintJSON(w, summary)
	case "yaml":
		style.PrintYAML(w, summary)
	default:
		printValidationSummary(w, summary)
	}

	if summary.Invalid > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func validateSingleFile(filename string) *ValidationResult {
	start := time.Now()
	result := NewValidationResult(filename)

	_, err := parser.LoadFile(filename)
	result.Duration = time.Since(start)
	if err != nil {
		result.CollectError(err)
		return result
	}

	log.Debug().Str("file", filename).Dur("duration", result.Duration).Msg("validated scenario file")
	return result
}

func collectFiles(args []string, recursive bool) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			if !recursive {
				return nil, fmt.Errorf("%s is a directory, use --recursive to validate directories", arg)
			}
			err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if isScenarioFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("error walking directory %s: %w", arg, err)
			}
		} else if isScenarioFile(arg) {
			files = append(files, arg)
		} else {
			return nil, fmt.Errorf("%s is not a scenario document (.json)", arg)
		}
	}

	return files, nil
}

func isScenarioFile(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".json")
}

func printValidationSummary(w io.Writer, summary ValidationSummary) {
	if viper.GetBool("quiet") {
		return
	}

	fmt.Fprintf(w, "\n")
	if summary.Invalid == 0 {
		style.Success(w, fmt.Sprintf("All %d scenario(s) are valid", summary.Total))
	} else {
		style.Error(w, fmt.Sprintf("%d of %d scenario(s) failed validation", summary.Invalid, summary.Total))
	}

	for _, result := range summary.Results {
		if !result.Valid {
			fmt.Fprintf(w, "\n%s %s\n  %s\n",
				style.ErrorIcon(), style.FileStyle.Render(result.File), style.ErrorStyle.Render(result.Error))
		}
	}
}
