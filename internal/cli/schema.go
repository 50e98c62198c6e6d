package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scenrun/scenrun/internal/ast"
)

// schemaCmd represents the schema command, grounded on the teacher's
// internal/cli/schema.go (ast.NewSchema() + indented-JSON-to-stdout
// shape), adapted from the teacher's combined schema+expression+
// model-provider output (this domain has no expression DSL or model
// providers) down to the scenario document's JSON Schema alone.
var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Output the scenario document JSON Schema",
	Long:   `Output the JSON Schema for the scenario document format.`,
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		schemaBytes, err := ast.NewSchema()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error generating schema: %v\n", err)
			os.Exit(1)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(schemaBytes))
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
