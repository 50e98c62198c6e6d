package graph

import (
	"github.com/scenrun/scenrun/internal/ast"
)

// LayoutDirection selects how AutoLayout stacks graph layers.
type LayoutDirection string

const (
	LayoutTopBottom LayoutDirection = "top-bottom"
	LayoutLeftRight LayoutDirection = "left-right"
)

const (
	layerSpacing = 180.0
	nodeSpacing  = 120.0
)

// AutoLayout computes new Position values for every step using a simple
// layered graph layout (BFS depth from startStepId = layer index, stable
// order within a layer = declaration order). It is a pure function: it
// never touches Steps, Edges, or any branch/container pointer, only the
// returned position map (§4.3 "does not modify topology").
func AutoLayout(scenario *ast.Scenario, direction LayoutDirection) map[string]ast.Position {
	layer := computeLayers(scenario)

	byLayer := make(map[int][]string)
	maxLayer := 0
	for _, s := range scenario.Steps {
		l := layer[s.ID]
		byLayer[l] = append(byLayer[l], s.ID)
		if l > maxLayer {
			maxLayer = l
		}
	}

	positions := make(map[string]ast.Position, len(scenario.Steps))
	for l := 0; l <= maxLayer; l++ {
		ids := byLayer[l]
		for i, id := range ids {
			var pos ast.Position
			switch direction {
			case LayoutLeftRight:
				pos = ast.Position{X: float64(l) * layerSpacing, Y: float64(i) * nodeSpacing}
			default:
				pos = ast.Position{X: float64(i) * nodeSpacing, Y: float64(l) * layerSpacing}
			}
			positions[id] = pos
		}
	}
	return positions
}

// computeLayers assigns each step a BFS depth from the scenario's start
// step (sequential edges, branch edges, and container edges all count as
// one layer-hop); unreachable steps get layer 0.
func computeLayers(scenario *ast.Scenario) map[string]int {
	adj := make(map[string][]string)
	for _, e := range scenario.Edges {
		adj[e.SourceStepID] = append(adj[e.SourceStepID], e.TargetStepID)
	}

	layer := make(map[string]int)
	if scenario.StartStepID == "" {
		return layer
	}

	queue := []string{scenario.StartStepID}
	layer[scenario.StartStepID] = 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if _, seen := layer[next]; !seen {
				layer[next] = layer[id] + 1
				queue = append(queue, next)
			}
		}
	}
	return layer
}
