package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scenrun/scenrun/internal/server"
	"github.com/scenrun/scenrun/internal/style"
)

var (
	// Serve command flags
	servePort         int
	serveHost         string
	serveConcurrency  int
	serveScenarios    []string
	serveScenarioDir  string
	serveMetrics      bool
	serveCORS         bool
)

// serveCmd represents the serve command, grounded on the teacher's
// internal/cli/serve.go (flag shape, findWorkflowFiles walk,
// StartWithGracefulShutdown wiring), adapted from workflow files to
// scenario documents.
var serveCmd = &cobra.Command{
	Use:   "serve [scenario files...]",
	Short: "Start the scenario execution HTTP+WebSocket server",
	Long: `Start an HTTP server that runs registered scenarios on demand and streams
their progress.

The server provides:
- REST API for listing scenarios and starting/pausing/resuming/
  cancelling runs
- WebSocket streaming of a run's events as they happen
- A Prometheus metrics endpoint
- Concurrent execution of multiple runs, up to --concurrency

Examples:
  scenrun serve scenario.json                      # serve a single scenario
  scenrun serve a.json b.json                      # serve multiple scenarios
  scenrun serve --scenario-dir ./scenarios         # serve a whole directory
  scenrun serve --port 8080 --host 0.0.0.0         # custom host and port
  scenrun serve --concurrency 10 scenario.json     # allow 10 concurrent runs`,
	Run: func(cmd *cobra.Command, args []string) {
		scenarioFiles := append(append([]string{}, args...), serveScenarios...)

		if len(scenarioFiles) == 0 && serveScenarioDir == "" {
			style.Error(cmd.OutOrStderr(), "no scenario files specified. Use arguments, --scenario, or --scenario-dir")
			os.Exit(1)
		}

		startServer(cmd, scenarioFiles)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "server port")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVar(&serveConcurrency, "concurrency", 5, "maximum concurrent runs")

	serveCmd.Flags().StringSliceVarP(&serveScenarios, "scenario", "s", []string{}, "scenario files to serve")
	serveCmd.Flags().StringVar(&serveScenarioDir, "scenario-dir", "", "directory containing scenario files")

	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "enable Prometheus metrics endpoint")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", true, "enable CORS headers")
}

func startServer(cmd *cobra.Command, scenarioFiles []string) {
	w := cmd.OutOrStdout()

	config := server.DefaultConfig()
	config.Host = serveHost
	config.Port = servePort
	config.Concurrency = serveConcurrency
	config.EnableMetrics = serveMetrics
	config.EnableCORS = serveCORS
	config.ScenarioFiles = scenarioFiles
	config.ScenarioDir = serveScenarioDir

	srv, err := server.New(config)
	if err != nil {
		style.Error(w, fmt.Sprintf("failed to create server: %v", err))
		os.Exit(1)
	}

	if err := srv.LoadScenarios(); err != nil {
		style.Error(w, fmt.Sprintf("failed to load scenarios: %v", err))
		os.Exit(1)
	}

	if !viper.GetBool("quiet") {
		style.Success(w, fmt.Sprintf("scenrun server starting at http://%s", srv.GetAddr()))
		fmt.Fprintf(w, "loaded scenarios: %d\n", srv.GetScenarioCount())
		fmt.Fprintf(w, "API: http://%s/api/v1/scenarios\n", srv.GetAddr())
		if serveMetrics {
			fmt.Fprintf(w, "metrics: http://%s/metrics\n", srv.GetAddr())
		}
	}

	if err := srv.StartWithGracefulShutdown(); err != nil {
		style.Error(w, fmt.Sprintf("server error: %v", err))
		os.Exit(1)
	}
}
