package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/internal/expressions"
	"github.com/rendis/flowcanvas/internal/layout"
	"github.com/rendis/flowcanvas/internal/overlap"
	"github.com/rendis/flowcanvas/internal/preview"
	"github.com/rendis/flowcanvas/internal/session"
	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/internal/validation"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// Evaluators are the expression engines and validator a workspace uses.
// They are safe for concurrent use and may be shared across workspaces.
type Evaluators struct {
	CEL       *expressions.CELEngine
	Expr      *expressions.ExprEngine
	JQ        *expressions.GoJQEngine
	Validator *validation.FlowValidator
}

// NewEvaluators builds a fresh set of engines.
func NewEvaluators() (*Evaluators, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "create CEL engine").WithCause(err)
	}
	fv, err := validation.NewFlowValidator(cel)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "create flow validator").WithCause(err)
	}
	return &Evaluators{
		CEL:       cel,
		Expr:      expressions.NewExprEngine(),
		JQ:        expressions.NewGoJQEngine(),
		Validator: fv,
	}, nil
}

// Options configures a Workspace. Zero values take defaults.
type Options struct {
	Logger     *slog.Logger
	Layout     layout.Config
	Session    session.Config
	Hub        streaming.EventHub
	Sinks      []streaming.Sink
	Clock      func() time.Time
	Evaluators *Evaluators
}

// Workspace is one mounted canvas. Every operation runs under one lock, so
// the canvas core only ever sees a single caller at a time.
type Workspace struct {
	mu sync.Mutex

	id       string
	logger   *slog.Logger
	store    *canvas.Store
	previews *preview.Engine
	overlap  *overlap.Manager
	layout   *layout.Engine
	session  *session.Manager
	eval     *Evaluators
}

// New creates an empty workspace for canvas id. An empty id gets a uuid.
func New(id string, opts Options) (*Workspace, error) {
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	eval := opts.Evaluators
	if eval == nil {
		var err error
		if eval, err = NewEvaluators(); err != nil {
			return nil, err
		}
	}

	w := &Workspace{id: id, logger: logger.With("component", "workspace", "canvas_id", id), eval: eval}

	storeOpts := []canvas.Option{
		canvas.WithID(id),
		canvas.WithLogger(logger),
		canvas.WithEmitter(&streaming.CanvasEmitter{Hub: opts.Hub, CanvasID: id, Sinks: opts.Sinks, Logger: logger}),
	}
	if opts.Clock != nil {
		storeOpts = append(storeOpts, canvas.WithClock(opts.Clock))
	}
	st, err := canvas.Init(func() *canvas.Store { return canvas.New(storeOpts...) })
	if err != nil {
		return nil, err
	}
	w.store = st

	if w.previews, err = preview.New(st); err != nil {
		return nil, err
	}
	if w.overlap, err = overlap.New(st); err != nil {
		return nil, err
	}
	if w.layout, err = layout.New(st, opts.Layout); err != nil {
		return nil, err
	}
	sessCfg := opts.Session
	sessCfg.Dispatch = w.dispatch
	if w.session, err = session.New(st, w.previews, w.overlap, sessCfg); err != nil {
		return nil, err
	}
	return w, nil
}

// dispatch runs a debounced callback under the workspace lock.
func (w *Workspace) dispatch(f func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f()
}

// ID returns the canvas id.
func (w *Workspace) ID() string { return w.id }

// --- Mount ---

// MountResult summarizes a scenario load.
type MountResult struct {
	Nodes       int            `json:"nodes"`
	Connections int            `json:"connections"`
	Stubs       int            `json:"stubs"`
	Superseded  int            `json:"superseded"`
	Repaired    []string       `json:"repaired,omitempty"`
	Layout      *layout.Result `json:"layout,omitempty"`
}

// MountJSON validates raw scenario JSON and mounts it.
func (w *Workspace) MountJSON(raw []byte) (*MountResult, error) {
	if res := w.eval.Validator.ValidateScenario(raw); !res.Valid() {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid scenario").
			WithDetails(map[string]any{"errors": res.Errors})
	}
	var sc schema.Scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode scenario").WithCause(err)
	}
	return w.Mount(sc)
}

// Mount resets the canvas and seeds it from sc: nodes, then connections,
// then one stub per unconnected branch of each split node. Previews already
// superseded by a connection are swept, the graph is laid out and the canvas
// is marked initialized. Replacing a non-empty canvas emits canvas-reset
// first.
func (w *Workspace) Mount(sc schema.Scenario) (*MountResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remount := !w.store.IsCanvasEmpty()
	w.store.ResetAllState()
	if remount {
		w.store.Emit(schema.EventCanvasReset, map[string]any{"canvas_id": w.id})
	}
	res := &MountResult{Repaired: sc.Repaired}
	if len(sc.Repaired) > 0 {
		w.logger.Warn("scenario containers repaired", "fields", sc.Repaired)
	}

	for _, n := range sc.Nodes {
		if w.store.AddNode(n) != nil {
			res.Nodes++
		}
	}
	for _, c := range sc.Connections {
		if c.ID == "" {
			c.ID = newID("conn")
		}
		if w.store.AddConnection(c) != nil {
			res.Connections++
		}
	}
	for _, n := range w.store.Nodes() {
		res.Stubs += len(w.openBranchStubs(n))
	}
	res.Superseded = w.overlap.Reconcile()
	w.store.MarkGraphReady()

	if w.store.CanPerformLayout() {
		lr, err := w.layout.Apply()
		if err != nil {
			return nil, err
		}
		res.Layout = lr
	}
	w.store.MarkInitializationComplete()
	w.logger.Info("canvas mounted", "nodes", res.Nodes, "connections", res.Connections, "stubs", res.Stubs)
	return res, nil
}

// openBranchStubs creates stubs for the branches of n that have no
// committed connection yet.
func (w *Workspace) openBranchStubs(n *schema.Node) []*schema.PreviewLine {
	branches := preview.BranchIDs(n)
	if len(branches) == 0 {
		return nil
	}
	taken := map[string]bool{}
	for _, c := range w.store.Connections() {
		if c.SourceID == n.ID && c.BranchID != "" {
			taken[c.BranchID] = true
		}
	}
	open := make([]string, 0, len(branches))
	for _, b := range branches {
		if !taken[b] {
			open = append(open, b)
		}
	}
	return w.previews.CreateBranchStubs(n.ID, open)
}

// Reset returns the canvas to its canonical empty shape and tells the host.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.ResetAllState()
	w.store.Emit(schema.EventCanvasReset, map[string]any{"canvas_id": w.id})
}

// Close tears the canvas down. Pending timers and locks are released.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.ResetAllState()
}

// WaitReady blocks until the canvas is mounted, the timeout elapses or ctx
// is done. It does not take the workspace lock.
func (w *Workspace) WaitReady(ctx context.Context, timeout time.Duration) bool {
	return w.store.WaitForInitialization(ctx, timeout)
}

// --- Nodes ---

// AddNode places a node. A missing id is generated. Split nodes with
// configured branches get one stub per branch.
func (w *Workspace) AddNode(n schema.Node) (*schema.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n.ID == "" {
		n.ID = newID("node")
	}
	existed := w.store.HasNode(n.ID)
	stored := w.store.AddNode(n)
	if stored == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q rejected", n.ID).WithNode(n.ID)
	}
	if !existed {
		w.openBranchStubs(stored)
	}
	return w.store.Node(n.ID), nil
}

// RemoveNode deletes a node with its incident edges.
func (w *Workspace) RemoveNode(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.store.RemoveNode(id) {
		return notFound("node", id)
	}
	return nil
}

// MoveNode sets a node's position without re-running layout.
func (w *Workspace) MoveNode(id string, p schema.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.store.SetNodePosition(id, p) {
		return notFound("node", id)
	}
	return nil
}

// UpdateNodeConfig writes back a node's configuration. A config marked
// configured must satisfy the node kind's config schema.
func (w *Workspace) UpdateNodeConfig(id string, config map[string]any, configured bool) (*schema.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := w.store.Node(id)
	if cur == nil {
		return nil, notFound("node", id)
	}
	if configured {
		candidate := cur.Clone()
		candidate.Config, candidate.IsConfigured = config, true
		if err := w.eval.Validator.ValidateNodeConfig(candidate); err != nil {
			return nil, err
		}
	}
	return w.store.UpdateNodeConfig(id, config, configured), nil
}

// Node returns a copy of a node.
func (w *Workspace) Node(id string) (*schema.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.store.Node(id); n != nil {
		return n, nil
	}
	return nil, notFound("node", id)
}

// --- Connections ---

// Connect commits a connection and removes the preview lines it supersedes,
// including the stub of a committed branch.
func (w *Workspace) Connect(sourceID, targetID, branchID string) (*schema.Connection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range []string{sourceID, targetID} {
		if !w.store.HasNode(id) {
			return nil, notFound("node", id)
		}
	}
	if sourceID == targetID {
		return nil, schema.NewError(schema.ErrCodeValidation, "a node cannot connect to itself").WithNode(sourceID)
	}
	conn := w.store.AddConnection(schema.Connection{ID: newID("conn"), SourceID: sourceID, TargetID: targetID, BranchID: branchID})
	if conn == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "connection could not be created")
	}
	w.overlap.HandleEdgeAdd(sourceID, targetID)
	w.previews.CloseBranchStub(sourceID, branchID)
	return conn, nil
}

// Disconnect removes a connection. A split branch left without a connection
// gets its stub back.
func (w *Workspace) Disconnect(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	conn := w.store.Connection(id)
	if conn == nil || !w.store.RemoveConnection(id) {
		return notFound("connection", id)
	}
	if conn.BranchID != "" {
		w.openBranchStubs(w.store.Node(conn.SourceID))
	}
	return nil
}

// --- Preview lines ---

// CreatePreview returns the preview line for the pair, creating it when
// absent. An empty targetID creates a dangling stub.
func (w *Workspace) CreatePreview(sourceID, targetID string, opts preview.Options) (*schema.PreviewLine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	line := w.previews.Create(sourceID, targetID, opts)
	if line == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "preview line endpoints %q -> %q not found", sourceID, targetID).
			WithNode(sourceID)
	}
	return line, nil
}

// RemovePreview deletes a preview line.
func (w *Workspace) RemovePreview(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.previews.Remove(id) {
		return notFound("preview line", id)
	}
	return nil
}

// CreateBranchStubs adds a stub for every configured branch of a split node
// that has neither a connection nor a stub.
func (w *Workspace) CreateBranchStubs(nodeID string) ([]*schema.PreviewLine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.store.Node(nodeID)
	if n == nil {
		return nil, notFound("node", nodeID)
	}
	if !n.Kind.IsSplit() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q is not a split node", nodeID).WithNode(nodeID)
	}
	return w.openBranchStubs(n), nil
}

// --- Layout ---

// ApplyLayout re-runs the layered layout.
func (w *Workspace) ApplyLayout() (*layout.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.layout.Apply()
}

// SetLayoutDirection changes the flow direction used by the next layout.
func (w *Workspace) SetLayoutDirection(d schema.LayoutDirection) error {
	if d != schema.LayoutTopBottom && d != schema.LayoutLeftRight {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown layout direction %q", d)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.SetLayoutDirection(d)
	return nil
}

// --- Drag session ---

// BeginDrag starts dragging a connector out of sourceID.
func (w *Workspace) BeginDrag(sourceID, branchID string, mode schema.DragMode) (*schema.DragSession, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Begin(sourceID, branchID, mode)
}

// MoveDrag records a pointer move.
func (w *Workspace) MoveDrag(p schema.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Move(p)
}

// CommitDrag releases the pointer over targetID, or the snap target when empty.
func (w *Workspace) CommitDrag(targetID string) (*schema.PreviewLine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Commit(targetID)
}

// ConfirmDrag turns the committed gesture into a connection.
func (w *Workspace) ConfirmDrag() (*schema.Connection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Confirm()
}

// CancelDrag abandons the active gesture.
func (w *Workspace) CancelDrag() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Cancel()
}

// DragSession returns a copy of the active session, or nil.
func (w *Workspace) DragSession() *schema.DragSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Active()
}

// SetDragMode sets the mode used by drags that do not name one.
func (w *Workspace) SetDragMode(m schema.DragMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.store.SetDragMode(m) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown drag mode %q", m)
	}
	return nil
}

// --- Selection ---

// Selection is what the configuration drawers read.
type Selection struct {
	Node      *schema.Node `json:"node,omitempty"`
	StartNode *schema.Node `json:"start_node,omitempty"`
	Nodes     []string     `json:"nodes"`
	Edges     []string     `json:"edges"`
}

// Select makes id the selected node.
func (w *Workspace) Select(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.store.Select(id) {
		return notFound("node", id)
	}
	return nil
}

// SelectNodes adds nodes to the multi-selection.
func (w *Workspace) SelectNodes(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.SelectNodes(ids...)
}

// SelectEdges adds connections to the multi-selection.
func (w *Workspace) SelectEdges(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.SelectEdges(ids...)
}

// ClearSelection drops every selection.
func (w *Workspace) ClearSelection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.ClearSelection()
}

// Selection returns the current selection.
func (w *Workspace) Selection() Selection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Selection{
		Node:      w.store.SelectedNode(),
		StartNode: w.store.SelectedStartNode(),
		Nodes:     w.store.SelectedNodes(),
		Edges:     w.store.SelectedEdges(),
	}
}

// SelectWhere replaces the node multi-selection with the nodes matching an
// Expr predicate over node data, e.g. `kind == "sms" && !isConfigured`.
func (w *Workspace) SelectWhere(ctx context.Context, predicate string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids, err := w.eval.Expr.SelectNodes(ctx, predicate, w.store.Nodes())
	if err != nil {
		return nil, err
	}
	w.store.ClearSelection()
	w.store.SelectNodes(ids...)
	return ids, nil
}

// --- Flags and stats ---

// SetUndoRedo records the host's undo/redo availability.
func (w *Workspace) SetUndoRedo(canUndo, canRedo bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.SetUndoRedo(canUndo, canRedo)
}

// Stats gathers every derived counter and flag.
type Stats struct {
	Layout           schema.LayoutStats     `json:"layout"`
	Debug            schema.DebugStats      `json:"debug"`
	Nodes            schema.NodeStats       `json:"nodes"`
	Connections      schema.ConnectionStats `json:"connections"`
	Empty            bool                   `json:"empty"`
	GraphReady       bool                   `json:"graph_ready"`
	Initialized      bool                   `json:"initialized"`
	CanPerformLayout bool                   `json:"can_perform_layout"`
	CanUndo          bool                   `json:"can_undo"`
	CanRedo          bool                   `json:"can_redo"`
	Direction        schema.LayoutDirection `json:"direction"`
	DragMode         schema.DragMode        `json:"drag_mode"`
	DragState        schema.DragState       `json:"drag_state"`
}

// Stats returns the canvas counters.
func (w *Workspace) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Layout:           w.store.LayoutStats(),
		Debug:            w.store.DebugStats(),
		Nodes:            w.store.NodeStats(),
		Connections:      w.store.ConnectionStats(),
		Empty:            w.store.IsCanvasEmpty(),
		GraphReady:       w.store.GraphReady(),
		Initialized:      w.store.Initialized(),
		CanPerformLayout: w.store.CanPerformLayout(),
		CanUndo:          w.store.CanUndo(),
		CanRedo:          w.store.CanRedo(),
		Direction:        w.store.LayoutDirection(),
		DragMode:         w.store.DragMode(),
		DragState:        w.session.State(),
	}
}

// Snapshot returns a read-only copy of the canvas.
func (w *Workspace) Snapshot() *schema.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.Snapshot()
}

// --- Analysis ---

// Validate runs the integrity checks over the current canvas.
func (w *Workspace) Validate() *schema.ValidationResult {
	return w.eval.Validator.CheckIntegrity(w.Snapshot())
}

// Audit validates the canvas and reports the result to the host.
func (w *Workspace) Audit() *schema.ValidationResult {
	result := w.Validate()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.Emit(schema.EventIntegrityChecked, result)
	if !result.Valid() {
		w.logger.Warn("integrity check failed", "errors", len(result.Errors), "warnings", len(result.Warnings))
	}
	return result
}

// Query runs a jq expression against the canvas snapshot.
func (w *Workspace) Query(ctx context.Context, expression string) (any, error) {
	return w.eval.JQ.Query(ctx, expression, w.Snapshot())
}

// EvaluateBranch routes a contact through a split node.
func (w *Workspace) EvaluateBranch(ctx context.Context, nodeID string, audience, event map[string]any) (string, error) {
	n, err := w.Node(nodeID)
	if err != nil {
		return "", err
	}
	return w.eval.CEL.EvaluateBranch(ctx, n, audience, event)
}

func newID(prefix string) string { return prefix + "-" + uuid.NewString() }

func notFound(resource, id string) *schema.CanvasError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}
