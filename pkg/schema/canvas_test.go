package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_DecodesArrays(t *testing.T) {
	data := `{
		"nodes": [{"id": "start", "kind": "start"}, {"id": "split", "kind": "audience-split"}],
		"connections": [{"id": "c1", "source_id": "start", "target_id": "split"}]
	}`

	var sc Scenario
	require.NoError(t, json.Unmarshal([]byte(data), &sc))
	assert.Len(t, sc.Nodes, 2)
	assert.Len(t, sc.Connections, 1)
	assert.Empty(t, sc.Repaired)
}

func TestScenario_NormalizesNonArrayContainers(t *testing.T) {
	cases := map[string]string{
		"null":    `{"nodes": null, "connections": null}`,
		"missing": `{}`,
		"object":  `{"nodes": {"id": "x"}, "connections": "oops"}`,
		"number":  `{"nodes": 42, "connections": 7}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			var sc Scenario
			require.NoError(t, json.Unmarshal([]byte(data), &sc))
			assert.NotNil(t, sc.Nodes)
			assert.NotNil(t, sc.Connections)
			assert.Empty(t, sc.Nodes)
			assert.Empty(t, sc.Connections)
			assert.ElementsMatch(t, []string{"nodes", "connections"}, sc.Repaired)
		})
	}
}

func TestNode_CenterAndContains(t *testing.T) {
	n := &Node{ID: "n", Position: Point{X: 10, Y: 20}, Size: Size{W: 100, H: 60}}
	assert.Equal(t, Point{X: 60, Y: 50}, n.Center())
	assert.True(t, n.Contains(Point{X: 10, Y: 20}, 0))
	assert.False(t, n.Contains(Point{X: 5, Y: 20}, 0))
	assert.True(t, n.Contains(Point{X: 5, Y: 20}, 10))
}

func TestNode_CloneCopiesConfig(t *testing.T) {
	n := &Node{ID: "n", Config: map[string]any{"template": "welcome"}}
	cp := n.Clone()
	cp.Config["template"] = "changed"
	assert.Equal(t, "welcome", n.Config["template"])
}

func TestKinds(t *testing.T) {
	assert.True(t, NodeKindAudienceSplit.IsSplit())
	assert.False(t, NodeKindSMS.IsSplit())
	assert.True(t, NodeKindWait.Valid())
	assert.False(t, NodeKind("fax").Valid())
	assert.Equal(t, UnlimitedOutputs, Kinds[NodeKindABTest].MaxOutputs)
	assert.Equal(t, 2, Kinds[NodeKindEventSplit].MaxOutputs)
}

func TestCanvasError(t *testing.T) {
	cause := errors.New("boom")
	err := NewErrorf(ErrCodeNotFound, "node %s not found", "n1").WithNode("n1").WithCause(cause)

	assert.Equal(t, "[NOT_FOUND] node n1: node n1 not found", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, ErrCodeNotFound))
	assert.False(t, HasCode(cause, ErrCodeNotFound))
}
