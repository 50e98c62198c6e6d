package cli

import (
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/ast"
)

// TestSchemaCmd_MatchesSnapshot pins the generated scenario document
// JSON Schema against a committed snapshot, grounded on the teacher's
// own snaps.MatchSnapshot usage in internal/engine/run_test.go -- a
// regression here means a Scenario/Step field changed shape without
// a deliberate schema bump.
func TestSchemaCmd_MatchesSnapshot(t *testing.T) {
	schemaBytes, err := ast.NewSchema()
	require.NoError(t, err)

	snaps.MatchSnapshot(t, string(schemaBytes))
}
