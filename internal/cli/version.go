package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/scenrun/scenrun/internal/style"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Build-time variables (set by goreleaser or build scripts)
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	BuiltBy   = "unknown"
	GoVersion = runtime.Version()
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display version information for scenrun, including build details and component versions.`,
	Example: `
  scenrun version              # Show basic version info
  scenrun version --output json # Show version info as JSON`,
	Run: func(cmd *cobra.Command, args []string) {
		showVersion(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// VersionInfo represents version information
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	BuiltBy   string `json:"built_by" yaml:"built_by"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`

	Components ComponentVersions `json:"components" yaml:"components"`
}

// ComponentVersions reports the version of each part of scenrun.
type ComponentVersions struct {
	Parser  string `json:"parser" yaml:"parser"`
	Runtime string `json:"runtime" yaml:"runtime"`
	CLI     string `json:"cli" yaml:"cli"`
}

func showVersion(cmd *cobra.Command) {
	versionInfo := VersionInfo{
		Version:    Version,
		Commit:     Commit,
		Date:       Date,
		BuiltBy:    BuiltBy,
		GoVersion:  GoVersion,
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Components: ComponentVersions{Parser: Version, Runtime: Version, CLI: Version},
	}

	outputFormat := viper.GetString("output")

	switch outputFormat {
	case "json":
		style.PrintJSON(cmd.OutOrStdout(), versionInfo)
	case "yaml":
		style.PrintYAML(cmd.OutOrStdout(), versionInfo)
	default:
		printText(cmd.OutOrStdout(), versionInfo)
	}
}

func printText(w io.Writer, info VersionInfo) {
	fmt.Fprintf(w, "%s", info.Version)
}
