package overlap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/internal/preview"
	"github.com/rendis/flowcanvas/pkg/schema"
)

func setup(t *testing.T, nodes ...schema.Node) (*canvas.Store, *preview.Engine, *Manager) {
	t.Helper()
	store := canvas.New()
	for _, n := range nodes {
		require.NotNil(t, store.AddNode(n))
	}
	previews, err := preview.New(store)
	require.NoError(t, err)
	mgr, err := New(store)
	require.NoError(t, err)
	return store, previews, mgr
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInitialization))
}

func TestCommitSupersedesPreview(t *testing.T) {
	store, previews, mgr := setup(t,
		schema.Node{ID: "start", Kind: schema.NodeKindStart},
		schema.Node{ID: "split", Kind: schema.NodeKindAudienceSplit},
	)
	require.NotNil(t, previews.Create("start", "split", preview.Options{}))

	require.NotNil(t, store.AddConnection(schema.Connection{ID: "c1", SourceID: "start", TargetID: "split"}))
	assert.Equal(t, 1, mgr.HandleEdgeAdd("start", "split"))

	assert.Empty(t, store.PreviewLines())
	assert.Len(t, store.Connections(), 1)
}

func TestCommitLeavesOtherBranchPreview(t *testing.T) {
	store, previews, mgr := setup(t,
		schema.Node{ID: "split", Kind: schema.NodeKindAudienceSplit},
		schema.Node{ID: "sms1", Kind: schema.NodeKindSMS},
		schema.Node{ID: "sms2", Kind: schema.NodeKindSMS},
	)
	previews.Create("split", "sms1", preview.Options{BranchID: "A"})
	previews.Create("split", "sms2", preview.Options{BranchID: "B"})

	store.AddConnection(schema.Connection{ID: "c1", SourceID: "split", TargetID: "sms1", BranchID: "A"})
	mgr.HandleEdgeAdd("split", "sms1")

	lines := store.PreviewLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "sms2", lines[0].TargetID)
}

func TestHandleEdgeAddIsIdempotent(t *testing.T) {
	store, previews, mgr := setup(t,
		schema.Node{ID: "a", Kind: schema.NodeKindSMS},
		schema.Node{ID: "b", Kind: schema.NodeKindWait},
	)
	previews.Create("a", "b", preview.Options{})

	assert.Equal(t, 1, mgr.HandleEdgeAdd("a", "b"))
	assert.Equal(t, 0, mgr.HandleEdgeAdd("a", "b"))
	assert.Empty(t, store.PreviewLines())
}

func TestHandleEdgeAddIgnoresStubsAndReverse(t *testing.T) {
	store, previews, mgr := setup(t,
		schema.Node{ID: "a", Kind: schema.NodeKindAudienceSplit},
		schema.Node{ID: "b", Kind: schema.NodeKindSMS},
	)
	previews.Create("a", "", preview.Options{BranchID: "A"})
	previews.Create("b", "a", preview.Options{})

	assert.Equal(t, 0, mgr.HandleEdgeAdd("a", "b"))
	assert.Equal(t, 0, mgr.HandleEdgeAdd("a", ""))
	assert.Len(t, store.PreviewLines(), 2)
}

func TestReconcile(t *testing.T) {
	store, previews, mgr := setup(t,
		schema.Node{ID: "start", Kind: schema.NodeKindStart},
		schema.Node{ID: "split", Kind: schema.NodeKindAudienceSplit},
		schema.Node{ID: "sms", Kind: schema.NodeKindSMS},
	)
	previews.Create("start", "split", preview.Options{})
	previews.Create("split", "sms", preview.Options{})
	store.AddConnection(schema.Connection{ID: "c1", SourceID: "start", TargetID: "split"})
	store.AddConnection(schema.Connection{ID: "c2", SourceID: "start", TargetID: "split", BranchID: "x"})

	assert.Equal(t, 1, mgr.Reconcile())
	lines := store.PreviewLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "sms", lines[0].TargetID)
	assert.Equal(t, 0, mgr.Reconcile())
}
