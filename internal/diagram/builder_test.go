package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/pkg/schema"
)

// --- Test canvas builders ---

func linearCanvas() *schema.Snapshot {
	return &schema.Snapshot{
		CanvasID: "drip",
		Nodes: []*schema.Node{
			{ID: "start", Kind: schema.NodeKindStart},
			{ID: "welcome", Kind: schema.NodeKindSMS, Label: "Welcome SMS", IsConfigured: true},
			{ID: "end", Kind: schema.NodeKindEnd},
		},
		Connections: []*schema.Connection{
			{ID: "c1", SourceID: "start", TargetID: "welcome"},
			{ID: "c2", SourceID: "welcome", TargetID: "end"},
		},
	}
}

func splitCanvas() *schema.Snapshot {
	return &schema.Snapshot{
		CanvasID:  "split",
		Direction: schema.LayoutLeftRight,
		Nodes: []*schema.Node{
			{ID: "start", Kind: schema.NodeKindStart},
			{ID: "split", Kind: schema.NodeKindAudienceSplit},
			{ID: "sms", Kind: schema.NodeKindSMS},
			{ID: "wait", Kind: schema.NodeKindWait, IsConfigured: true},
		},
		Connections: []*schema.Connection{
			{ID: "c1", SourceID: "start", TargetID: "split"},
			{ID: "c2", SourceID: "split", TargetID: "sms", BranchID: "vip"},
		},
		PreviewLines: []*schema.PreviewLine{
			{ID: "p1", SourceID: "split", TargetID: "wait", BranchID: "rest"},
			{ID: "p2", SourceID: "split", BranchID: "other"},
		},
	}
}

// --- Tests ---

func TestBuildLinearCanvas(t *testing.T) {
	model, err := Build(linearCanvas(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Canvas drip", model.Title)
	assert.Equal(t, "TB", model.Direction)
	require.Len(t, model.Nodes, 3)
	assert.Equal(t, ShapeStart, model.Nodes[0].Shape)
	assert.Equal(t, "Welcome SMS\n(sms)", model.Nodes[1].Label)
	assert.Equal(t, ShapeEnd, model.Nodes[2].Shape)

	assert.Equal(t, [][]string{{"start"}, {"welcome"}, {"end"}}, model.Levels)
	assert.Len(t, model.Edges, 2)
	for _, e := range model.Edges {
		assert.False(t, e.Preview)
	}
}

func TestBuildSplitCanvasWithPreviews(t *testing.T) {
	model, err := Build(splitCanvas(), nil)
	require.NoError(t, err)

	assert.Equal(t, "LR", model.Direction)
	assert.Equal(t, ShapeSplit, findNode(model.Nodes, "split").Shape)
	assert.Equal(t, ShapeWait, findNode(model.Nodes, "wait").Shape)

	stub := findNode(model.Nodes, "stub:p2")
	require.NotNil(t, stub)
	assert.Equal(t, ShapeStub, stub.Shape)
	assert.Equal(t, "other", stub.Label)

	previews := 0
	for _, e := range model.Edges {
		if e.Preview {
			previews++
		}
	}
	assert.Equal(t, 2, previews)

	// Targeted previews count for depth, stubs sit one level below their source.
	require.Len(t, model.Levels, 3)
	assert.Equal(t, []string{"sms", "stub:p2", "wait"}, model.Levels[2])
}

func TestBuildSkipsDanglingEdges(t *testing.T) {
	snap := linearCanvas()
	snap.Connections = append(snap.Connections, &schema.Connection{ID: "bad", SourceID: "start", TargetID: "ghost"})
	snap.PreviewLines = []*schema.PreviewLine{{ID: "p", SourceID: "ghost", TargetID: "end"}}

	model, err := Build(snap, nil)
	require.NoError(t, err)
	assert.Len(t, model.Edges, 2)
}

func TestBuildOverlaysValidation(t *testing.T) {
	result := &schema.ValidationResult{}
	result.AddError("nodes[sms].config", schema.ErrCodeValidation, "template required")
	result.AddWarning("nodes[wait]", schema.IssueUnreachable, "unreachable")
	result.AddError("nodes", schema.IssueMultipleStart, "ignored: no node id")

	model, err := Build(splitCanvas(), result)
	require.NoError(t, err)

	assert.Equal(t, "error", findNode(model.Nodes, "sms").Status.State())
	assert.Equal(t, "warning", findNode(model.Nodes, "wait").Status.State())
	assert.Equal(t, "unconfigured", findNode(model.Nodes, "split").Status.State())
	assert.Equal(t, "ok", findNode(model.Nodes, "start").Status.State())
	assert.Equal(t, "", findNode(model.Nodes, "stub:p2").Status.State())
}

func TestBuildEmptyAndNil(t *testing.T) {
	model, err := Build(&schema.Snapshot{}, nil)
	require.NoError(t, err)
	assert.Empty(t, model.Nodes)
	assert.Empty(t, model.Levels)

	_, err = Build(nil, nil)
	assert.Error(t, err)
}

func TestNodeFromPath(t *testing.T) {
	id, ok := nodeFromPath("nodes[a-1].branches[x]")
	assert.True(t, ok)
	assert.Equal(t, "a-1", id)

	_, ok = nodeFromPath("connections[c1]")
	assert.False(t, ok)
	_, ok = nodeFromPath("nodes[]")
	assert.False(t, ok)
}
