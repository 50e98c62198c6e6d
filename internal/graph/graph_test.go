package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/ast"
)

func twoStepCondition() *ast.Scenario {
	return &ast.Scenario{
		ID:          "s1",
		StartStepID: "cond",
		Steps: []*ast.Step{
			{ID: "cond", Type: ast.StepTypeCondition, CondStep: &ast.ConditionStep{
				Branches: []ast.Branch{
					{ID: "b1", Label: "yes"},
					{ID: "b2", IsDefault: true, Label: "no"},
				},
			}},
			{ID: "a", Type: ast.StepTypeRequest, Request: &ast.RequestStep{}},
			{ID: "b", Type: ast.StepTypeRequest, Request: &ast.RequestStep{}},
		},
	}
}

func TestAddEdge_SyncsBranchPointer(t *testing.T) {
	sc := twoStepCondition()
	m := New(sc)

	require.NoError(t, m.AddEdge(ast.Edge{SourceStepID: "cond", TargetStepID: "a", SourceHandle: ast.BranchHandle("b1")}))

	cond := sc.StepByID("cond")
	var b1 *ast.Branch
	for i := range cond.CondStep.Branches {
		if cond.CondStep.Branches[i].ID == "b1" {
			b1 = &cond.CondStep.Branches[i]
		}
	}
	require.NotNil(t, b1)
	assert.Equal(t, "a", b1.NextStepID)
}

func TestDeleteEdge_ClearsBranchPointer(t *testing.T) {
	sc := twoStepCondition()
	m := New(sc)
	require.NoError(t, m.AddEdge(ast.Edge{ID: "e1", SourceStepID: "cond", TargetStepID: "a", SourceHandle: ast.BranchHandle("b1")}))

	require.NoError(t, m.DeleteEdge("e1"))

	cond := sc.StepByID("cond")
	assert.Equal(t, "", cond.CondStep.Branches[0].NextStepID)
}

func TestDeleteStep_ClosureNoDanglingReferences(t *testing.T) {
	sc := twoStepCondition()
	m := New(sc)
	require.NoError(t, m.AddEdge(ast.Edge{ID: "e1", SourceStepID: "cond", TargetStepID: "a", SourceHandle: ast.BranchHandle("b1")}))
	require.NoError(t, m.AddEdge(ast.Edge{ID: "e2", SourceStepID: "cond", TargetStepID: "b", SourceHandle: ast.BranchHandle("b2")}))

	require.NoError(t, m.DeleteStep("a"))

	for _, e := range sc.Edges {
		assert.NotEqual(t, "a", e.SourceStepID)
		assert.NotEqual(t, "a", e.TargetStepID)
	}
	cond := sc.StepByID("cond")
	for _, b := range cond.CondStep.Branches {
		assert.NotEqual(t, "a", b.NextStepID)
	}
	assert.Nil(t, sc.StepByID("a"))
}

func TestDeleteStep_ReassignsStartStep(t *testing.T) {
	sc := twoStepCondition()
	m := New(sc)
	require.NoError(t, m.DeleteStep("cond"))
	assert.Equal(t, "a", sc.StartStepID)
}

func TestLoopBodyEdgeSyncsContainerMembership(t *testing.T) {
	sc := &ast.Scenario{
		StartStepID: "loop1",
		Steps: []*ast.Step{
			{ID: "loop1", Type: ast.StepTypeLoop, Loop: &ast.LoopStep{}},
			{ID: "child1", Type: ast.StepTypeRequest, Request: &ast.RequestStep{}},
		},
	}
	m := New(sc)
	require.NoError(t, m.AddEdge(ast.Edge{SourceStepID: "loop1", TargetStepID: "child1", SourceHandle: ast.HandleLoopBody}))

	loop := sc.StepByID("loop1")
	assert.Equal(t, []string{"child1"}, loop.Loop.StepIDs)
}

func TestDetectConflicts_OutgoingAndIncoming(t *testing.T) {
	sc := &ast.Scenario{
		StartStepID: "g1",
		Steps: []*ast.Step{
			{ID: "g1", Type: ast.StepTypeGroup, Group: &ast.GroupStep{StepIDs: []string{"a"}}},
			{ID: "a", Type: ast.StepTypeRequest, Request: &ast.RequestStep{}},
			{ID: "outside", Type: ast.StepTypeRequest, Request: &ast.RequestStep{}},
		},
		Edges: []ast.Edge{
			{ID: "e1", SourceStepID: "a", TargetStepID: "outside"},
			{ID: "e2", SourceStepID: "outside", TargetStepID: "a"},
		},
	}
	m := New(sc)
	conflicts := m.DetectConflicts([]string{"a"}, "g1")
	require.Len(t, conflicts, 2)
	byID := map[string]Conflict{}
	for _, c := range conflicts {
		byID[c.EdgeID] = c
	}
	assert.Equal(t, ConflictOutgoing, byID["e1"].Direction)
	assert.Equal(t, ConflictIncoming, byID["e2"].Direction)
}

func TestValidate_DetectsDanglingEdge(t *testing.T) {
	sc := &ast.Scenario{
		Steps: []*ast.Step{{ID: "a", Type: ast.StepTypeRequest, Request: &ast.RequestStep{}}},
		Edges: []ast.Edge{{ID: "e1", SourceStepID: "a", TargetStepID: "ghost"}},
	}
	m := New(sc)
	err := m.Validate()
	require.Error(t, err)
}

func TestUndo_RevertsLastMutation(t *testing.T) {
	sc := twoStepCondition()
	m := New(sc)
	require.NoError(t, m.AddEdge(ast.Edge{ID: "e1", SourceStepID: "cond", TargetStepID: "a", SourceHandle: ast.BranchHandle("b1")}))
	require.True(t, m.Undo())
	assert.Len(t, sc.Edges, 0)
}

func TestAutoLayout_DoesNotMutateTopology(t *testing.T) {
	sc := twoStepCondition()
	m := New(sc)
	require.NoError(t, m.AddEdge(ast.Edge{SourceStepID: "cond", TargetStepID: "a", SourceHandle: ast.BranchHandle("b1")}))
	edgesBefore := len(sc.Edges)

	positions := AutoLayout(sc, LayoutTopBottom)

	assert.Len(t, sc.Edges, edgesBefore)
	assert.Contains(t, positions, "cond")
}
