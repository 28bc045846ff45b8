package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/pkg/schema"
)

func setup(t *testing.T) (*canvas.Store, *Engine, *[]schema.Notification) {
	t.Helper()
	var events []schema.Notification
	store := canvas.New(canvas.WithEmitter(canvas.EmitterFunc(func(n schema.Notification) {
		events = append(events, n)
	})))
	store.AddNode(schema.Node{ID: "split", Kind: schema.NodeKindAudienceSplit, Position: schema.Point{X: 100, Y: 0}})
	store.AddNode(schema.Node{ID: "sms1", Kind: schema.NodeKindSMS, Position: schema.Point{X: 0, Y: 200}})
	store.AddNode(schema.Node{ID: "sms2", Kind: schema.NodeKindSMS, Position: schema.Point{X: 200, Y: 200}})
	events = nil

	engine, err := New(store)
	require.NoError(t, err)
	return store, engine, &events
}

func countType(events []schema.Notification, typ string) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInitialization))
}

func TestCreateIsIdempotent(t *testing.T) {
	store, engine, events := setup(t)

	first := engine.Create("split", "sms1", Options{BranchID: "A"})
	require.NotNil(t, first)
	second := engine.Create("split", "sms1", Options{BranchID: "A", Color: "#ff0000"})
	require.NotNil(t, second)

	assert.Equal(t, first, second)
	assert.Len(t, store.PreviewLines(), 1)
	assert.Equal(t, 1, countType(*events, schema.EventPreviewLineCreated))
}

func TestCreateDedupsTargetedPairAcrossBranches(t *testing.T) {
	store, engine, _ := setup(t)

	a := engine.Create("split", "sms1", Options{BranchID: "A"})
	b := engine.Create("split", "sms1", Options{BranchID: "B"})
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, store.PreviewLines(), 1)
}

func TestCreateAnchorsAtCenters(t *testing.T) {
	_, engine, _ := setup(t)

	line := engine.Create("split", "sms2", Options{})
	require.NotNil(t, line)
	assert.Equal(t, schema.Point{X: 150, Y: 50}, line.Start)
	assert.Equal(t, schema.Point{X: 250, Y: 250}, line.End)
	assert.Equal(t, schema.DefaultPreviewStyle, line.Style)
}

func TestCreateAppliesStyleOptions(t *testing.T) {
	_, engine, _ := setup(t)
	solid := false
	end := schema.Point{X: 7, Y: 9}

	line := engine.Create("split", "sms1", Options{Color: "#52c41a", Width: 3, Dashed: &solid, End: &end})
	require.NotNil(t, line)
	assert.Equal(t, schema.LineStyle{Color: "#52c41a", Width: 3, Dashed: false}, line.Style)
	assert.Equal(t, end, line.End)
}

func TestCreateUnknownNodesReturnsNil(t *testing.T) {
	store := canvas.New()
	engine, err := New(store)
	require.NoError(t, err)

	assert.Nil(t, engine.Create("missing-1", "missing-2", Options{}))
	assert.Empty(t, store.PreviewLines())
}

func TestCreateUnknownTargetLeavesStoreUntouched(t *testing.T) {
	store, engine, events := setup(t)

	assert.Nil(t, engine.Create("split", "ghost", Options{}))
	assert.Empty(t, store.PreviewLines())
	assert.Empty(t, *events)
}

func TestCreateStubDefaultsBelowSource(t *testing.T) {
	_, engine, _ := setup(t)

	stub := engine.Create("split", "", Options{BranchID: "A"})
	require.NotNil(t, stub)
	assert.True(t, stub.IsStub())
	assert.Equal(t, schema.Point{X: 150, Y: 180}, stub.End)
}

func TestCreateBranchStubs(t *testing.T) {
	store, engine, _ := setup(t)

	stubs := engine.CreateBranchStubs("split", []string{"A", "B", "C"})
	require.Len(t, stubs, 3)
	assert.Equal(t, 0.0, stubs[0].End.X)
	assert.Equal(t, 150.0, stubs[1].End.X)
	assert.Equal(t, 300.0, stubs[2].End.X)

	again := engine.CreateBranchStubs("split", []string{"A", "B", "C"})
	assert.Len(t, again, 3)
	assert.Len(t, store.PreviewLines(), 3, "stubs dedup per branch")

	assert.Nil(t, engine.CreateBranchStubs("ghost", []string{"A"}))
}

func TestCloseBranchStub(t *testing.T) {
	store, engine, _ := setup(t)
	engine.CreateBranchStubs("split", []string{"A", "B"})
	engine.Create("split", "sms1", Options{BranchID: "A"})

	assert.True(t, engine.CloseBranchStub("split", "A"))
	assert.False(t, engine.CloseBranchStub("split", "A"))
	assert.False(t, engine.CloseBranchStub("split", ""))

	lines := store.PreviewLines()
	require.Len(t, lines, 2)
	for _, l := range lines {
		if l.TargetID == "" {
			assert.Equal(t, "B", l.BranchID)
		} else {
			assert.Equal(t, "sms1", l.TargetID)
		}
	}
}

func TestForSourceAndRemove(t *testing.T) {
	_, engine, _ := setup(t)
	line := engine.Create("split", "sms1", Options{})
	engine.Create("sms1", "sms2", Options{})

	assert.Len(t, engine.ForSource("split"), 1)
	assert.True(t, engine.Remove(line.ID))
	assert.False(t, engine.Remove(line.ID))
	assert.Equal(t, 1, engine.Count())
}

func TestBranchIDs(t *testing.T) {
	n := &schema.Node{ID: "s", Kind: schema.NodeKindAudienceSplit, Config: map[string]any{
		"branches": []any{map[string]any{"id": "vip"}, "churned", map[string]any{"name": "no-id"}},
	}}
	assert.Equal(t, []string{"vip", "churned"}, BranchIDs(n))

	assert.Nil(t, BranchIDs(&schema.Node{ID: "x", Kind: schema.NodeKindSMS}))
	assert.Nil(t, BranchIDs(nil))
}
