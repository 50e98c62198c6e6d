// Package parser loads and saves scenario documents. Mirrors the
// teacher's parser/yaml.go + parser/semantic.go split (load, then
// validate), adapted from YAML workflow documents to JSON scenario
// documents and from step-reference semantic checks to this graph's
// structural invariants in internal/graph.
package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/graph"
	"github.com/scenrun/scenrun/internal/scenerr"
)

// SupportedVersions is the range of scenario document "version" values
// this engine accepts. Bumped only for breaking document-shape changes;
// additive fields do not require a bump.
var SupportedVersions = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(fmt.Sprintf("parser: invalid built-in version constraint %q: %v", s, err))
	}
	return c
}

// LoadFile reads and parses a scenario document from disk.
func LoadFile(filename string) (*ast.Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, scenerr.Wrap(scenerr.KindGraph, err, fmt.Sprintf("reading scenario file %s", filename))
	}
	return LoadBytes(data)
}

// LoadReader parses a scenario document from an io.Reader.
func LoadReader(r io.Reader) (*ast.Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, scenerr.Wrap(scenerr.KindGraph, err, "reading scenario document")
	}
	return LoadBytes(data)
}

// LoadBytes unmarshals a scenario document, checks its version against
// SupportedVersions, and runs structural validation before returning it.
// A structurally invalid scenario is never returned alongside a nil
// error: callers can assume a returned *ast.Scenario is runnable.
func LoadBytes(data []byte) (*ast.Scenario, error) {
	if len(data) == 0 {
		return nil, scenerr.New(scenerr.KindGraph, "scenario document is empty")
	}

	var scenario ast.Scenario
	if err := json.Unmarshal(data, &scenario); err != nil {
		return nil, scenerr.Wrap(scenerr.KindGraph, err, "decoding scenario document")
	}

	if err := checkVersion(scenario.Version); err != nil {
		return nil, err
	}

	model := graph.New(&scenario)
	if err := model.Validate(); err != nil {
		return nil, err
	}

	return &scenario, nil
}

// checkVersion rejects documents whose version field falls outside
// SupportedVersions, with a message naming whether the document is too
// old or too new for this build.
func checkVersion(raw string) error {
	if raw == "" {
		return scenerr.New(scenerr.KindGraph, "scenario document is missing a version field")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return scenerr.Wrap(scenerr.KindGraph, err, fmt.Sprintf("scenario document version %q is not valid semver", raw))
	}
	if SupportedVersions.Check(v) {
		return nil
	}
	return scenerr.Newf(scenerr.KindGraph,
		"scenario document version %s is not supported by this build (requires %s)", raw, SupportedVersions.String())
}

// SaveFile serializes a scenario document to disk as indented JSON.
func SaveFile(filename string, scenario *ast.Scenario) error {
	data, err := SaveBytes(scenario)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return scenerr.Wrap(scenerr.KindGraph, err, fmt.Sprintf("writing scenario file %s", filename))
	}
	return nil
}

// SaveBytes serializes a scenario document as indented JSON.
func SaveBytes(scenario *ast.Scenario) ([]byte, error) {
	data, err := json.MarshalIndent(scenario, "", "  ")
	if err != nil {
		return nil, scenerr.Wrap(scenerr.KindGraph, err, "encoding scenario document")
	}
	return data, nil
}
