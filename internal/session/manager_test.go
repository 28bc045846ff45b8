package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/internal/overlap"
	"github.com/rendis/flowcanvas/internal/preview"
	"github.com/rendis/flowcanvas/pkg/schema"
)

type fixture struct {
	mu       sync.Mutex
	store    *canvas.Store
	previews *preview.Engine
	mgr      *Manager
	events   []string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{}
	f.store = canvas.New(canvas.WithEmitter(canvas.EmitterFunc(func(n schema.Notification) {
		f.events = append(f.events, n.Type)
	})))
	f.store.AddNode(schema.Node{ID: "start", Kind: schema.NodeKindStart})
	f.store.AddNode(schema.Node{ID: "split", Kind: schema.NodeKindAudienceSplit, Position: schema.Point{X: 0, Y: 200}})
	f.store.AddNode(schema.Node{ID: "sms", Kind: schema.NodeKindSMS, Position: schema.Point{X: 300, Y: 200}})

	var err error
	f.previews, err = preview.New(f.store)
	require.NoError(t, err)
	om, err := overlap.New(f.store)
	require.NoError(t, err)
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(fn func()) {
			f.mu.Lock()
			defer f.mu.Unlock()
			fn()
		}
	}
	f.mgr, err = New(f.store, f.previews, om, cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, Config{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInitialization))

	_, err = New(canvas.New(), nil, nil, Config{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInitialization))
}

func TestCommitAndConfirmSupersedesPreview(t *testing.T) {
	f := newFixture(t, Config{})
	require.NotNil(t, f.previews.Create("start", "split", preview.Options{}))

	sess, err := f.mgr.Begin("start", "", "")
	require.NoError(t, err)
	assert.Equal(t, schema.DragStateDragging, sess.State)
	assert.Equal(t, schema.DragModeNormal, sess.Mode)

	line, err := f.mgr.Commit("split")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, schema.DragStateCommitting, f.mgr.State())
	assert.True(t, f.mgr.Active().Locked(schema.Pair{SourceID: "start", TargetID: "split"}))

	conn, err := f.mgr.Confirm()
	require.NoError(t, err)
	assert.Equal(t, "start", conn.SourceID)
	assert.Equal(t, "split", conn.TargetID)

	assert.Empty(t, f.store.PreviewLines())
	assert.Len(t, f.store.Connections(), 1)
	assert.Equal(t, schema.DragStateIdle, f.mgr.State())
	assert.Nil(t, f.mgr.Active())
	assert.Zero(t, f.store.LockCount())
	assert.Contains(t, f.events, schema.EventSessionStarted)
	assert.Contains(t, f.events, schema.EventSessionEnded)
}

func TestBranchCommitLeavesSiblingPreview(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.AddNode(schema.Node{ID: "sms2", Kind: schema.NodeKindSMS, Position: schema.Point{X: 600, Y: 200}})
	f.previews.Create("split", "sms", preview.Options{BranchID: "A"})
	f.previews.Create("split", "sms2", preview.Options{BranchID: "B"})

	_, err := f.mgr.Begin("split", "A", schema.DragModeNormal)
	require.NoError(t, err)
	_, err = f.mgr.Commit("sms")
	require.NoError(t, err)
	conn, err := f.mgr.Confirm()
	require.NoError(t, err)
	assert.Equal(t, "A", conn.BranchID)

	lines := f.store.PreviewLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "sms2", lines[0].TargetID)
}

func TestSecondBeginIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	first, err := f.mgr.Begin("start", "", "")
	require.NoError(t, err)

	_, err = f.mgr.Begin("split", "", "")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSessionActive))
	assert.Equal(t, first.ID, f.mgr.Active().ID)
}

func TestBeginValidatesInput(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.mgr.Begin("ghost", "", "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	_, err = f.mgr.Begin("start", "", "sideways")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Nil(t, f.mgr.Active())
}

func TestCancelLeavesConnectionsUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.AddConnection(schema.Connection{ID: "c1", SourceID: "start", TargetID: "split"})
	existing := f.previews.Create("split", "sms", preview.Options{})

	_, err := f.mgr.Begin("split", "", "")
	require.NoError(t, err)
	_, err = f.mgr.Commit("sms")
	require.NoError(t, err)
	require.NoError(t, f.mgr.Cancel())

	assert.Len(t, f.store.Connections(), 1)
	require.Len(t, f.store.PreviewLines(), 1, "pre-existing preview survives cancel")
	assert.Equal(t, existing.ID, f.store.PreviewLines()[0].ID)
	assert.Zero(t, f.store.LockCount())
	assert.Equal(t, schema.DragStateIdle, f.mgr.State())
}

func TestCancelRemovesPreviewCreatedBySession(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Begin("split", "", "")
	require.NoError(t, err)
	line, err := f.mgr.Commit("sms")
	require.NoError(t, err)
	require.NotNil(t, line)

	require.NoError(t, f.mgr.Cancel())
	assert.Empty(t, f.store.PreviewLines())
	assert.Empty(t, f.store.Connections())
}

func TestCommitWithoutTargetCancels(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Begin("start", "", "")
	require.NoError(t, err)

	_, err = f.mgr.Commit("")
	assert.True(t, schema.HasCode(err, schema.ErrCodeCancelled))
	assert.Equal(t, schema.DragStateIdle, f.mgr.State())
	assert.Empty(t, f.store.Connections())

	_, err = f.mgr.Begin("start", "", "")
	require.NoError(t, err)
	_, err = f.mgr.Commit("start")
	assert.True(t, schema.HasCode(err, schema.ErrCodeCancelled), "self target is invalid")
}

func TestMisuseReturnsErrors(t *testing.T) {
	f := newFixture(t, Config{})

	assert.True(t, schema.HasCode(f.mgr.Move(schema.Point{}), schema.ErrCodeNoSession))
	assert.True(t, schema.HasCode(f.mgr.Cancel(), schema.ErrCodeNoSession))
	_, err := f.mgr.Confirm()
	assert.True(t, schema.HasCode(err, schema.ErrCodeNoSession))

	_, err = f.mgr.Begin("start", "", "")
	require.NoError(t, err)
	_, err = f.mgr.Confirm()
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
}

func TestDebouncedSnapEvaluation(t *testing.T) {
	f := newFixture(t, Config{SnapDebounce: 20 * time.Millisecond})

	f.locked(func() {
		_, err := f.mgr.Begin("start", "", "")
		require.NoError(t, err)
		require.NoError(t, f.mgr.Move(schema.Point{X: 10, Y: 10}))
		require.NoError(t, f.mgr.Move(schema.Point{X: 340, Y: 260}))
		assert.True(t, f.store.SnapPending())
		assert.Empty(t, f.mgr.Active().SnapTargetID)
	})

	require.Eventually(t, func() bool {
		var target string
		f.locked(func() { target = f.mgr.Active().SnapTargetID })
		return target == "sms"
	}, time.Second, 5*time.Millisecond)

	f.locked(func() {
		assert.False(t, f.store.SnapPending())
		line, err := f.mgr.Commit("")
		require.NoError(t, err)
		assert.Equal(t, "sms", line.TargetID)
	})
}

func TestDefaultDispatchSerializesSnapWithMoves(t *testing.T) {
	store := canvas.New()
	store.AddNode(schema.Node{ID: "start", Kind: schema.NodeKindStart})
	store.AddNode(schema.Node{ID: "sms", Kind: schema.NodeKindSMS, Position: schema.Point{X: 300, Y: 200}})
	previews, err := preview.New(store)
	require.NoError(t, err)
	om, err := overlap.New(store)
	require.NoError(t, err)
	mgr, err := New(store, previews, om, Config{SnapDebounce: time.Millisecond})
	require.NoError(t, err)

	_, err = mgr.Begin("start", "", "")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, mgr.Move(schema.Point{X: float64(300 + i%40), Y: 240}))
		if i%10 == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	}

	require.Eventually(t, func() bool {
		return mgr.Active().SnapTargetID == "sms"
	}, time.Second, 2*time.Millisecond)
	_, err = mgr.Commit("")
	require.NoError(t, err)
	assert.Equal(t, schema.DragStateCommitting, mgr.State())
}

func TestLeavingDraggingClearsSnapTimer(t *testing.T) {
	f := newFixture(t, Config{SnapDebounce: 30 * time.Millisecond})

	f.locked(func() {
		_, err := f.mgr.Begin("start", "", "")
		require.NoError(t, err)
		require.NoError(t, f.mgr.Move(schema.Point{X: 50, Y: 250}))
		require.True(t, f.store.SnapPending())
		_, err = f.mgr.Commit("split")
		require.NoError(t, err)
		assert.False(t, f.store.SnapPending())
	})

	time.Sleep(80 * time.Millisecond)
	f.locked(func() {
		assert.Empty(t, f.mgr.Active().SnapTargetID)
		assert.Equal(t, schema.DragStateCommitting, f.mgr.State())
	})
}

func TestResetClearsSessionAndTimer(t *testing.T) {
	f := newFixture(t, Config{SnapDebounce: 30 * time.Millisecond})

	f.locked(func() {
		_, err := f.mgr.Begin("start", "", "")
		require.NoError(t, err)
		require.NoError(t, f.mgr.Move(schema.Point{X: 50, Y: 250}))

		f.store.ResetAllState()
		assert.False(t, f.store.SnapPending())
		assert.Equal(t, schema.DragStateIdle, f.mgr.State())
		assert.Zero(t, f.store.LockCount())
	})

	time.Sleep(80 * time.Millisecond)
	f.locked(func() {
		assert.Nil(t, f.mgr.Active())
		assert.Empty(t, f.store.Nodes())
	})
}

func TestStaleSnapCallbackIsIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Begin("start", "", "")
	require.NoError(t, err)
	sess := f.store.Session()
	sess.Pointer = schema.Point{X: 340, Y: 260}

	f.mgr.fireSnap(f.mgr.snapSeq, f.store.Epoch()+1, sess.ID)
	assert.Empty(t, sess.SnapTargetID)

	f.mgr.fireSnap(f.mgr.snapSeq, f.store.Epoch(), sess.ID)
	assert.Equal(t, "sms", sess.SnapTargetID)
}

func TestPrecisionModeSnapsImmediately(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Begin("start", "", schema.DragModePrecision)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Move(schema.Point{X: 20, Y: 190}))
	assert.False(t, f.store.SnapPending())
	assert.Equal(t, "split", f.mgr.Active().SnapTargetID)

	require.NoError(t, f.mgr.Move(schema.Point{X: 2000, Y: 2000}))
	assert.Empty(t, f.mgr.Active().SnapTargetID)
}

func TestRemovingSourceEndsSession(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Begin("start", "", "")
	require.NoError(t, err)

	f.store.RemoveNode("start")
	assert.Equal(t, schema.DragStateIdle, f.mgr.State())

	_, err = f.mgr.Begin("split", "", "")
	assert.NoError(t, err)
}

func TestHooks(t *testing.T) {
	f := newFixture(t, Config{})
	var seen []string
	f.mgr.OnAfter(schema.DragStateIdle, schema.DragStateDragging, func(from, to schema.DragState) error {
		seen = append(seen, string(from)+"->"+string(to))
		return nil
	})
	f.mgr.OnBefore(schema.DragStateDragging, schema.DragStateCommitting, func(_, _ schema.DragState) error {
		return errors.New("vetoed")
	})

	_, err := f.mgr.Begin("start", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"idle->dragging"}, seen)

	_, err = f.mgr.Commit("split")
	assert.EqualError(t, err, "vetoed")
	assert.Equal(t, schema.DragStateDragging, f.mgr.State())
	assert.Zero(t, f.store.LockCount())
}

func TestValidTransitionsTable(t *testing.T) {
	assert.True(t, isValidTransition(schema.DragStateIdle, schema.DragStateDragging))
	assert.True(t, isValidTransition(schema.DragStateCancelled, schema.DragStateIdle))
	assert.False(t, isValidTransition(schema.DragStateIdle, schema.DragStateCommitting))
	assert.False(t, isValidTransition(schema.DragStateCancelled, schema.DragStateDragging))
}
