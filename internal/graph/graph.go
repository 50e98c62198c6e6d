// Package graph implements the Graph Model & Sync layer: a mutable
// in-memory scenario topology that keeps the edge list and the
// per-step branch/container pointers coherent on every mutation, plus
// edge-conflict detection, auto-layout, and a bounded undo journal.
//
// Edges are chosen as the authoritative representation (SPEC_FULL.md §9
// "Open questions", decided in DESIGN.md): every mutation here appends
// to, or removes from, scenario.Edges first, then re-derives
// Branch.NextStepID / container StepIDs from the edge list. Grounded on
// the teacher's internal/ast/validation.go accumulate-don't-panic idiom,
// generalized from one-shot parse-time checking to an always-consistent
// mutable store.
package graph

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/scenerr"
)

// Model wraps a *ast.Scenario with mutation operations that keep the
// dual representation in sync, plus a bounded undo journal.
type Model struct {
	scenario *ast.Scenario
	journal  *journal
}

// New wraps an existing scenario. The scenario is normalized immediately
// so any document loaded from disk starts from a consistent state.
func New(scenario *ast.Scenario) *Model {
	m := &Model{scenario: scenario, journal: newJournal(50)}
	m.normalize()
	return m
}

// Scenario returns the live, mutable scenario document.
func (m *Model) Scenario() *ast.Scenario { return m.scenario }

// normalize rebuilds every Branch.NextStepID and container StepIDs list
// from the edge list, the authoritative representation.
func (m *Model) normalize() {
	for _, step := range m.scenario.Steps {
		for _, b := range step.Branches() {
			step.SetBranchNext(b.ID, "")
		}
		if step.IsLoop() || step.IsGroup() {
			step.SetContainerStepIDs(nil)
		}
	}

	for _, e := range m.scenario.Edges {
		src := m.scenario.StepByID(e.SourceStepID)
		if src == nil {
			continue
		}
		switch {
		case isBranchHandle(e.SourceHandle):
			branchID := e.SourceHandle[len("branch_"):]
			src.SetBranchNext(branchID, e.TargetStepID)
		case e.SourceHandle == ast.HandleLoopBody || e.SourceHandle == ast.HandleGroupBody:
			ids := src.ContainerStepIDs()
			if !containsStr(ids, e.TargetStepID) {
				src.SetContainerStepIDs(append(ids, e.TargetStepID))
			}
		}
	}
}

func isBranchHandle(handle string) bool {
	return len(handle) > len("branch_") && handle[:len("branch_")] == "branch_"
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// snapshot captures enough state to undo a mutation: a copy of the edge
// list and of the step list. Branch/container pointers are re-derived
// from the restored edges by restore.
type snapshot struct {
	edges []ast.Edge
	steps []*ast.Step
}

func (m *Model) snapshotNow() snapshot {
	edges := make([]ast.Edge, len(m.scenario.Edges))
	copy(edges, m.scenario.Edges)

	steps := make([]*ast.Step, len(m.scenario.Steps))
	for i, s := range m.scenario.Steps {
		clone := *s
		steps[i] = &clone
	}
	return snapshot{edges: edges, steps: steps}
}

func (m *Model) restore(s snapshot) {
	m.scenario.Edges = s.edges
	m.scenario.Steps = s.steps
	m.normalize()
}

func (m *Model) record() {
	m.journal.push(m.snapshotNow())
}

// Undo reverts the most recent journaled mutation, if any.
func (m *Model) Undo() bool {
	s, ok := m.journal.pop()
	if !ok {
		return false
	}
	m.restore(s)
	return true
}

// AddEdge appends edge and syncs the derived branch/container pointers
// (§4.3 AddEdge).
func (m *Model) AddEdge(edge ast.Edge) error {
	if m.scenario.StepByID(edge.SourceStepID) == nil || m.scenario.StepByID(edge.TargetStepID) == nil {
		return scenerr.GraphErr("addEdge: endpoint does not exist (source=%s target=%s)", edge.SourceStepID, edge.TargetStepID)
	}
	m.record()
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	m.scenario.Edges = append(m.scenario.Edges, edge)
	m.normalize()
	return nil
}

// DeleteEdge removes the edge with the given id, clearing whatever
// derived pointer it had set (§4.3 DeleteEdge).
func (m *Model) DeleteEdge(edgeID string) error {
	idx := -1
	for i, e := range m.scenario.Edges {
		if e.ID == edgeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return scenerr.GraphErr("deleteEdge: no such edge %s", edgeID)
	}
	m.record()
	m.scenario.Edges = append(m.scenario.Edges[:idx], m.scenario.Edges[idx+1:]...)
	m.normalize()
	return nil
}

// DeleteStep removes a step and every edge/pointer/membership touching
// it, reassigning StartStepID if necessary (§4.3 DeleteStep, §8 property
// 2 "deletion closure").
func (m *Model) DeleteStep(stepID string) error {
	if m.scenario.StepByID(stepID) == nil {
		return scenerr.GraphErr("deleteStep: no such step %s", stepID)
	}
	m.record()

	newSteps := make([]*ast.Step, 0, len(m.scenario.Steps))
	for _, s := range m.scenario.Steps {
		if s.ID != stepID {
			newSteps = append(newSteps, s)
		}
	}
	m.scenario.Steps = newSteps

	newEdges := make([]ast.Edge, 0, len(m.scenario.Edges))
	for _, e := range m.scenario.Edges {
		if e.SourceStepID != stepID && e.TargetStepID != stepID {
			newEdges = append(newEdges, e)
		}
	}
	m.scenario.Edges = newEdges

	if m.scenario.StartStepID == stepID {
		if len(m.scenario.Steps) > 0 {
			m.scenario.StartStepID = m.scenario.Steps[0].ID
		} else {
			m.scenario.StartStepID = ""
		}
	}

	m.normalize()
	return nil
}

// MoveStepToContainer atomically relocates stepID between containers
// (or to/from the root) and removes the edges specified, typically those
// that would cross the new container boundary (§4.3 MoveStepToContainer).
func (m *Model) MoveStepToContainer(stepID string, sourceContainerID, targetContainerID string, edgesToDelete []string) error {
	if m.scenario.StepByID(stepID) == nil {
		return scenerr.GraphErr("moveStepToContainer: no such step %s", stepID)
	}
	m.record()

	if sourceContainerID != "" {
		if src := m.scenario.StepByID(sourceContainerID); src != nil {
			ids := src.ContainerStepIDs()
			out := make([]string, 0, len(ids))
			for _, id := range ids {
				if id != stepID {
					out = append(out, id)
				}
			}
			src.SetContainerStepIDs(out)
		}
	}
	if targetContainerID != "" {
		if tgt := m.scenario.StepByID(targetContainerID); tgt != nil {
			ids := tgt.ContainerStepIDs()
			if !containsStr(ids, stepID) {
				tgt.SetContainerStepIDs(append(ids, stepID))
			}
		}
	}

	toDelete := make(map[string]bool, len(edgesToDelete))
	for _, id := range edgesToDelete {
		toDelete[id] = true
	}
	newEdges := make([]ast.Edge, 0, len(m.scenario.Edges)+1)
	for _, e := range m.scenario.Edges {
		oldBodyEdge := sourceContainerID != "" && e.SourceStepID == sourceContainerID && e.TargetStepID == stepID &&
			(e.SourceHandle == ast.HandleLoopBody || e.SourceHandle == ast.HandleGroupBody)
		if !toDelete[e.ID] && !oldBodyEdge {
			newEdges = append(newEdges, e)
		}
	}
	if tgt := m.scenario.StepByID(targetContainerID); tgt != nil && (tgt.IsLoop() || tgt.IsGroup()) {
		handle := ast.HandleGroupBody
		if tgt.IsLoop() {
			handle = ast.HandleLoopBody
		}
		newEdges = append(newEdges, ast.Edge{ID: uuid.NewString(), SourceStepID: targetContainerID, TargetStepID: stepID, SourceHandle: handle})
	}
	m.scenario.Edges = newEdges

	m.normalize()
	return nil
}

// ConflictDirection classifies an edge-conflict.
type ConflictDirection string

const (
	ConflictOutgoing ConflictDirection = "outgoing"
	ConflictIncoming ConflictDirection = "incoming"
)

// Conflict is one edge whose endpoints would straddle a container
// boundary after a proposed move.
type Conflict struct {
	EdgeID    string
	Direction ConflictDirection
}

// DetectConflicts inspects every edge with exactly one endpoint in
// movingStepIDs, given the target container those steps are headed to
// (empty string = root). An edge whose other endpoint lands in a
// different container than the moved set is a conflict (§4.3
// edge-conflict detection).
func (m *Model) DetectConflicts(movingStepIDs []string, targetContainerID string) []Conflict {
	moving := make(map[string]bool, len(movingStepIDs))
	for _, id := range movingStepIDs {
		moving[id] = true
	}

	containerOf := make(map[string]string)
	for _, s := range m.scenario.Steps {
		for _, childID := range s.ContainerStepIDs() {
			containerOf[childID] = s.ID
		}
	}

	var conflicts []Conflict
	for _, e := range m.scenario.Edges {
		srcMoving := moving[e.SourceStepID]
		tgtMoving := moving[e.TargetStepID]
		if srcMoving == tgtMoving {
			continue // both or neither moving: no boundary crossing
		}
		if srcMoving {
			otherContainer := containerOf[e.TargetStepID]
			if otherContainer != targetContainerID {
				conflicts = append(conflicts, Conflict{EdgeID: e.ID, Direction: ConflictOutgoing})
			}
		} else {
			otherContainer := containerOf[e.SourceStepID]
			if otherContainer != targetContainerID {
				conflicts = append(conflicts, Conflict{EdgeID: e.ID, Direction: ConflictIncoming})
			}
		}
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].EdgeID < conflicts[j].EdgeID })
	return conflicts
}

// Validate checks the structural invariants of §3.4 and returns a
// *scenerr.Error of KindGraph describing the first violation, or nil.
func (m *Model) Validate() error {
	stepIDs := make(map[string]bool, len(m.scenario.Steps))
	for _, s := range m.scenario.Steps {
		if stepIDs[s.ID] {
			return scenerr.GraphErr("duplicate step id %s", s.ID)
		}
		stepIDs[s.ID] = true
	}

	for _, e := range m.scenario.Edges {
		if !stepIDs[e.SourceStepID] {
			return scenerr.GraphErr("edge %s: dangling source %s", e.ID, e.SourceStepID)
		}
		if !stepIDs[e.TargetStepID] {
			return scenerr.GraphErr("edge %s: dangling target %s", e.ID, e.TargetStepID)
		}
	}

	owner := make(map[string]string)
	for _, s := range m.scenario.Steps {
		for _, childID := range s.ContainerStepIDs() {
			if prev, ok := owner[childID]; ok && prev != s.ID {
				return scenerr.GraphErr("step %s belongs to both container %s and %s", childID, prev, s.ID)
			}
			owner[childID] = s.ID
		}
	}

	if m.scenario.StartStepID != "" && !stepIDs[m.scenario.StartStepID] {
		return scenerr.GraphErr("startStepId %s does not exist", m.scenario.StartStepID)
	}

	for _, s := range m.scenario.Steps {
		if s.IsCondition() {
			branches := s.Branches()
			if len(branches) < 2 {
				return scenerr.GraphErr("condition step %s must have at least 2 branches", s.ID)
			}
			hasDefault := false
			for _, b := range branches {
				if b.IsDefault {
					hasDefault = true
				}
			}
			if !hasDefault {
				log.Warn().Str("stepId", s.ID).Msg("graph: condition step has no default branch")
			}
		}
	}

	return nil
}
