package session

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/internal/overlap"
	"github.com/rendis/flowcanvas/internal/preview"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// Config tunes pointer handling. Zero values take the defaults.
type Config struct {
	// SnapDebounce coalesces pointer moves before a snap evaluation runs.
	SnapDebounce time.Duration
	// SnapRadius grows every node's bounds when looking for a snap target.
	SnapRadius float64
	// Dispatch runs debounced callbacks on the goroutine that owns the store.
	// The default calls the function directly; the Manager's own lock still
	// serializes the callback with Move, Commit, Confirm and Cancel.
	Dispatch func(func())
}

// DefaultConfig holds the default pointer tuning.
var DefaultConfig = Config{SnapDebounce: 100 * time.Millisecond, SnapRadius: 30}

func (c Config) withDefaults() Config {
	if c.SnapDebounce <= 0 {
		c.SnapDebounce = DefaultConfig.SnapDebounce
	}
	if c.SnapRadius <= 0 {
		c.SnapRadius = DefaultConfig.SnapRadius
	}
	if c.Dispatch == nil {
		c.Dispatch = func(f func()) { f() }
	}
	return c
}

// Manager owns the single in-flight connection gesture on a canvas. Its
// methods are safe to call while a debounced snap evaluation fires; transition
// hooks run under the Manager's lock and must not call back into it.
type Manager struct {
	mu sync.Mutex

	store    *canvas.Store
	previews *preview.Engine
	overlap  *overlap.Manager
	cfg      Config
	logger   *slog.Logger
	newID    func(prefix string) string

	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook

	createdPreview bool
	snapSeq        uint64
}

// New creates a Manager.
func New(store *canvas.Store, previews *preview.Engine, om *overlap.Manager, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "state initialization failed: session manager needs a store")
	}
	if previews == nil || om == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "session manager needs preview and overlap engines")
	}
	return &Manager{
		store:    store,
		previews: previews,
		overlap:  om,
		cfg:      cfg.withDefaults(),
		logger:   store.Logger().With("component", "session"),
		newID:    func(prefix string) string { return prefix + "-" + uuid.NewString() },
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}, nil
}

// State returns the current drag state. Without a session it is idle.
func (m *Manager) State() schema.DragState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess := m.store.Session(); sess != nil {
		return sess.State
	}
	return schema.DragStateIdle
}

// Active returns a copy of the active session, or nil.
func (m *Manager) Active() *schema.DragSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active()
}

func (m *Manager) active() *schema.DragSession {
	sess := m.store.Session()
	if sess == nil {
		return nil
	}
	cp := *sess
	cp.LockedPairs = make(map[schema.Pair]struct{}, len(sess.LockedPairs))
	for p := range sess.LockedPairs {
		cp.LockedPairs[p] = struct{}{}
	}
	return &cp
}

// Begin starts dragging a connector out of sourceID. An empty mode uses the
// store's drag mode. A second Begin while a session is active is rejected.
func (m *Manager) Begin(sourceID, branchID string, mode schema.DragMode) (*schema.DragSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.store.Session(); cur != nil {
		return nil, schema.NewError(schema.ErrCodeSessionActive, "a drag session is already active").
			WithDetails(map[string]any{"session_id": cur.ID, "source_node_id": cur.SourceNodeID})
	}
	src := m.store.Node(sourceID)
	if src == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "source node %q not found", sourceID).WithNode(sourceID)
	}
	if mode == "" {
		mode = m.store.DragMode()
	}
	if !mode.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown drag mode %q", mode)
	}

	sess := &schema.DragSession{
		ID:           m.newID("drag"),
		SourceNodeID: sourceID,
		BranchID:     branchID,
		Mode:         mode,
		State:        schema.DragStateIdle,
		Pointer:      src.Center(),
		LockedPairs:  map[schema.Pair]struct{}{},
		StartedAt:    m.store.Now(),
	}
	m.store.SetSession(sess)
	m.createdPreview = false
	if err := m.transition(schema.DragStateDragging); err != nil {
		m.store.SetSession(nil)
		return nil, err
	}

	m.logger.Debug("drag started", "session_id", sess.ID, "source_id", sourceID, "mode", mode)
	m.store.Emit(schema.EventSessionStarted, m.active())
	return m.active(), nil
}

func (m *Manager) dragging() (*schema.DragSession, error) {
	sess := m.store.Session()
	if sess == nil {
		return nil, schema.NewError(schema.ErrCodeNoSession, "no active drag session")
	}
	if sess.State != schema.DragStateDragging {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "drag session is %s, not dragging", sess.State)
	}
	return sess, nil
}

// Move records the pointer position. Precision mode evaluates the snap target
// immediately; other modes debounce the evaluation.
func (m *Manager) Move(p schema.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.dragging()
	if err != nil {
		return err
	}
	sess.Pointer = p

	if sess.Mode == schema.DragModePrecision {
		m.store.StopSnapTimer()
		m.evaluateSnap()
		return nil
	}

	m.snapSeq++
	seq, epoch, id := m.snapSeq, m.store.Epoch(), sess.ID
	m.store.SetSnapTimer(time.AfterFunc(m.cfg.SnapDebounce, func() {
		m.cfg.Dispatch(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.fireSnap(seq, epoch, id)
		})
	}))
	return nil
}

// fireSnap runs a debounced evaluation unless the canvas was reset, the
// session changed, or a newer move superseded it.
func (m *Manager) fireSnap(seq, epoch uint64, sessionID string) {
	sess := m.store.Session()
	if m.store.Epoch() != epoch || sess == nil || sess.ID != sessionID ||
		sess.State != schema.DragStateDragging || seq != m.snapSeq {
		return
	}
	m.store.StopSnapTimer()
	m.evaluateSnap()
}

// EvaluateSnap picks the node nearest to the pointer whose bounds, grown by
// the snap radius, contain it. The source node never snaps.
func (m *Manager) EvaluateSnap() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateSnap()
}

func (m *Manager) evaluateSnap() string {
	sess := m.store.Session()
	if sess == nil || sess.State != schema.DragStateDragging {
		return ""
	}
	best, bestDist := "", math.Inf(1)
	for _, n := range m.store.Nodes() {
		if n.ID == sess.SourceNodeID || !n.Contains(sess.Pointer, m.cfg.SnapRadius) {
			continue
		}
		c := n.Center()
		if d := math.Hypot(c.X-sess.Pointer.X, c.Y-sess.Pointer.Y); d < bestDist {
			best, bestDist = n.ID, d
		}
	}
	sess.SnapTargetID = best
	return best
}

// Commit releases the pointer over targetID, or over the current snap target
// when targetID is empty. An invalid target cancels the session. On success
// the pair is locked and its preview line looked up or created.
func (m *Manager) Commit(targetID string) (*schema.PreviewLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.dragging()
	if err != nil {
		return nil, err
	}
	if targetID == "" {
		targetID = sess.SnapTargetID
	}
	if targetID == "" || targetID == sess.SourceNodeID || !m.store.HasNode(targetID) {
		if cerr := m.cancel(); cerr != nil {
			return nil, cerr
		}
		return nil, schema.NewError(schema.ErrCodeCancelled, "pointer released without a valid target").WithNode(targetID)
	}

	pair := schema.Pair{SourceID: sess.SourceNodeID, TargetID: targetID}
	if !m.store.LockPair(pair, sess.ID) {
		owner, _ := m.store.LockOwner(pair)
		if cerr := m.cancel(); cerr != nil {
			return nil, cerr
		}
		return nil, schema.NewError(schema.ErrCodeConflict, "connection pair is locked by another session").
			WithDetails(map[string]any{"source_id": pair.SourceID, "target_id": pair.TargetID, "owner": owner})
	}
	sess.LockedPairs[pair] = struct{}{}
	sess.TargetID = targetID

	if err := m.transition(schema.DragStateCommitting); err != nil {
		m.store.UnlockPair(pair)
		delete(sess.LockedPairs, pair)
		return nil, err
	}

	line := m.store.FindPreviewLine(pair.SourceID, pair.TargetID, sess.BranchID)
	if line == nil {
		line = m.previews.Create(pair.SourceID, pair.TargetID, preview.Options{BranchID: sess.BranchID})
		m.createdPreview = line != nil
	}
	if line != nil {
		sess.PreviewLineID = line.ID
	}
	return line, nil
}

// Confirm turns the committing gesture into a connection, removes the
// preview lines it supersedes, closes the stub of a committed branch and
// returns to idle.
func (m *Manager) Confirm() (*schema.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.store.Session()
	if sess == nil {
		return nil, schema.NewError(schema.ErrCodeNoSession, "no active drag session")
	}
	if sess.State != schema.DragStateCommitting {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "drag session is %s, not committing", sess.State)
	}

	conn := m.store.AddConnection(schema.Connection{
		ID:       m.newID("conn"),
		SourceID: sess.SourceNodeID,
		TargetID: sess.TargetID,
		BranchID: sess.BranchID,
	})
	if conn == nil {
		if err := m.cancel(); err != nil {
			return nil, err
		}
		return nil, schema.NewError(schema.ErrCodeExecution, "connection could not be created")
	}
	m.overlap.HandleEdgeAdd(conn.SourceID, conn.TargetID)
	m.previews.CloseBranchStub(conn.SourceID, conn.BranchID)

	if err := m.transition(schema.DragStateIdle); err != nil {
		return nil, err
	}
	m.logger.Debug("connection committed", "connection_id", conn.ID, "source_id", conn.SourceID, "target_id", conn.TargetID)
	return conn, nil
}

// Cancel abandons the active session. Locks are released and a preview line
// created by this session is removed; connections are never touched.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel()
}

func (m *Manager) cancel() error {
	sess := m.store.Session()
	if sess == nil {
		return schema.NewError(schema.ErrCodeNoSession, "no active drag session")
	}
	if sess.State != schema.DragStateCancelled {
		if err := m.transition(schema.DragStateCancelled); err != nil {
			return err
		}
	}
	if m.createdPreview && sess.PreviewLineID != "" {
		m.store.RemovePreviewLine(sess.PreviewLineID)
	}
	return m.transition(schema.DragStateIdle)
}
