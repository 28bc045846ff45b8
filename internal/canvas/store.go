package canvas

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rendis/flowcanvas/pkg/schema"
)

// Emitter receives outbound notifications. Delivery is fire-and-forget.
type Emitter interface {
	Emit(n schema.Notification)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(n schema.Notification)

// Emit calls f(n).
func (f EmitterFunc) Emit(n schema.Notification) { f(n) }

type nopEmitter struct{}

func (nopEmitter) Emit(schema.Notification) {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEmitter sets the notification sink.
func WithEmitter(e Emitter) Option {
	return func(s *Store) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithID sets the canvas ID reported in snapshots and logs.
func WithID(id string) Option {
	return func(s *Store) { s.id = id }
}

// Store is the single mutable source of truth for one canvas. It is not safe
// for concurrent use; callers serialize access (see internal/workspace).
type Store struct {
	id      string
	logger  *slog.Logger
	emitter Emitter
	now     func() time.Time

	nodes        *collection[schema.Node]
	connections  *collection[schema.Connection]
	previewLines *collection[schema.PreviewLine]

	selectedNodeID string
	selectedNodes  map[string]struct{}
	selectedEdges  map[string]struct{}

	session   *schema.DragSession
	locks     map[schema.Pair]string
	snapTimer *time.Timer
	epoch     uint64

	dragMode    schema.DragMode
	direction   schema.LayoutDirection
	layoutStats schema.LayoutStats
	debugStats  schema.DebugStats
	layingOut   bool
	canUndo     bool
	canRedo     bool

	graphReady   atomic.Bool
	initComplete atomic.Bool
}

// New creates an empty store in its canonical shape.
func New(opts ...Option) *Store {
	s := &Store{
		logger:  slog.Default(),
		emitter: nopEmitter{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "canvas", "canvas_id", s.id)
	s.resetFields()
	return s
}

// Init runs factory and fails loudly when it yields no store. This is the
// only unrecoverable condition of the canvas core.
func Init(factory func() *Store) (*Store, error) {
	if factory == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "state initialization failed: no store factory")
	}
	s := factory()
	if s == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "state initialization failed: store factory returned nil")
	}
	return s, nil
}

// ID returns the canvas ID.
func (s *Store) ID() string { return s.id }

// Logger returns the store's diagnostic logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Emit forwards a notification to the host.
func (s *Store) Emit(typ string, payload any) {
	s.emitter.Emit(schema.Notification{Type: typ, Payload: payload})
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) resetFields() {
	s.nodes = newCollection[schema.Node]()
	s.connections = newCollection[schema.Connection]()
	s.previewLines = newCollection[schema.PreviewLine]()
	s.selectedNodeID = ""
	s.selectedNodes = map[string]struct{}{}
	s.selectedEdges = map[string]struct{}{}
	s.session = nil
	s.locks = map[schema.Pair]string{}
	s.dragMode = schema.DragModeNormal
	s.direction = schema.LayoutTopBottom
	s.layoutStats = schema.LayoutStats{}
	s.debugStats = schema.DebugStats{}
	s.layingOut = false
	s.canUndo = false
	s.canRedo = false
	s.graphReady.Store(false)
	s.initComplete.Store(false)
}

// ResetAllState returns the store to its canonical empty shape in one pass.
// The pending snap timer is stopped and the epoch advances so a callback that
// already fired observes a stale epoch and does nothing. Safe to call repeatedly.
func (s *Store) ResetAllState() {
	s.StopSnapTimer()
	s.epoch++
	s.resetFields()
}

// --- self-healing accessors ---

func (s *Store) repair(field string) {
	s.debugStats.Repairs++
	s.logger.Warn("repaired corrupted collection", "field", field, "repairs", s.debugStats.Repairs)
}

func (s *Store) nodeList() *collection[schema.Node] {
	if !s.nodes.healthy() {
		s.nodes = newCollection[schema.Node]()
		s.repair("nodes")
	}
	return s.nodes
}

func (s *Store) connectionList() *collection[schema.Connection] {
	if !s.connections.healthy() {
		s.connections = newCollection[schema.Connection]()
		s.repair("connections")
	}
	return s.connections
}

func (s *Store) previewList() *collection[schema.PreviewLine] {
	if !s.previewLines.healthy() {
		s.previewLines = newCollection[schema.PreviewLine]()
		s.repair("preview_lines")
	}
	return s.previewLines
}

// Nodes returns copies of every node, in insertion order. Never nil.
func (s *Store) Nodes() []*schema.Node {
	items := s.nodeList().items
	out := make([]*schema.Node, len(items))
	for i, n := range items {
		out[i] = n.Clone()
	}
	return out
}

// Connections returns copies of every connection. Never nil.
func (s *Store) Connections() []*schema.Connection {
	items := s.connectionList().items
	out := make([]*schema.Connection, len(items))
	for i, c := range items {
		cp := *c
		out[i] = &cp
	}
	return out
}

// PreviewLines returns copies of every preview line. Never nil.
func (s *Store) PreviewLines() []*schema.PreviewLine {
	items := s.previewList().items
	out := make([]*schema.PreviewLine, len(items))
	for i, l := range items {
		cp := *l
		out[i] = &cp
	}
	return out
}

func (s *Store) node(id string) *schema.Node {
	return s.nodeList().find(func(n *schema.Node) bool { return n.ID == id })
}

// Node returns a copy of the node with the given id, or nil.
func (s *Store) Node(id string) *schema.Node {
	if n := s.node(id); n != nil {
		return n.Clone()
	}
	return nil
}

// HasNode reports whether a node with the given id exists.
func (s *Store) HasNode(id string) bool {
	return id != "" && s.node(id) != nil
}

// Connection returns a copy of the connection with the given id, or nil.
func (s *Store) Connection(id string) *schema.Connection {
	c := s.connectionList().find(func(c *schema.Connection) bool { return c.ID == id })
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// PreviewLine returns a copy of the preview line with the given id, or nil.
func (s *Store) PreviewLine(id string) *schema.PreviewLine {
	l := s.previewList().find(func(l *schema.PreviewLine) bool { return l.ID == id })
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// --- node mutators ---

// AddNode inserts the node, or merges non-zero fields into the node already
// stored under the same id. It returns a copy of the stored node, or nil when
// the input has no id. On a merge a zero Position means "keep the current
// position"; moving a node back to the origin goes through SetNodePosition.
func (s *Store) AddNode(data schema.Node) *schema.Node {
	if data.ID == "" {
		s.logger.Warn("rejected node without id", "kind", data.Kind)
		return nil
	}
	if existing := s.node(data.ID); existing != nil {
		mergeNode(existing, &data)
		s.touch()
		return existing.Clone()
	}

	n := data.Clone()
	if n.Size.W <= 0 || n.Size.H <= 0 {
		n.Size = schema.DefaultNodeSize
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Kind != "" && !n.Kind.Valid() {
		s.logger.Warn("node has unknown kind", "node_id", n.ID, "kind", n.Kind)
	}
	s.nodeList().append(n)
	s.refreshStats()
	s.Emit(schema.EventNodeAdded, n.Clone())
	return n.Clone()
}

// mergeNode copies every non-zero field of src onto dst, so a zero Position
// never overwrites a stored one. IsConfigured only
// merges upward; clearing it goes through UpdateNodeConfig.
func mergeNode(dst, src *schema.Node) {
	if src.Kind != "" {
		dst.Kind = src.Kind
	}
	if src.Label != "" {
		dst.Label = src.Label
	}
	if src.Position != (schema.Point{}) {
		dst.Position = src.Position
	}
	if src.Size.W > 0 && src.Size.H > 0 {
		dst.Size = src.Size
	}
	if src.BranchID != "" {
		dst.BranchID = src.BranchID
	}
	if src.IsConfigured {
		dst.IsConfigured = true
	}
	if len(src.Config) > 0 {
		if dst.Config == nil {
			dst.Config = make(map[string]any, len(src.Config))
		}
		for k, v := range src.Config {
			dst.Config[k] = v
		}
	}
}

// RemoveNode deletes the node and every connection and preview line incident
// to it. Selection, pair locks and a drag session anchored on the node are
// released. Unknown ids are a no-op.
func (s *Store) RemoveNode(id string) bool {
	removed := s.nodeList().removeWhere(func(n *schema.Node) bool { return n.ID == id })
	if len(removed) == 0 {
		return false
	}

	for _, c := range s.connectionList().removeWhere(func(c *schema.Connection) bool {
		return c.SourceID == id || c.TargetID == id
	}) {
		delete(s.selectedEdges, c.ID)
		s.Emit(schema.EventEdgeRemoved, c)
	}
	for _, l := range s.previewList().removeWhere(func(l *schema.PreviewLine) bool {
		return l.SourceID == id || l.TargetID == id
	}) {
		s.Emit(schema.EventPreviewLineRemoved, l)
	}

	if s.selectedNodeID == id {
		s.selectedNodeID = ""
	}
	delete(s.selectedNodes, id)

	for p := range s.locks {
		if p.SourceID == id || p.TargetID == id {
			delete(s.locks, p)
		}
	}
	if sess := s.session; sess != nil && (sess.SourceNodeID == id || sess.TargetID == id || sess.SnapTargetID == id) {
		s.logger.Warn("drag session ended by node removal", "node_id", id, "session_id", sess.ID)
		s.EndSession()
	}

	s.refreshStats()
	s.Emit(schema.EventNodeRemoved, removed[0])
	return true
}

// SetNodePosition moves a node's top-left corner.
func (s *Store) SetNodePosition(id string, p schema.Point) bool {
	n := s.node(id)
	if n == nil {
		return false
	}
	n.Position = p
	s.touch()
	return true
}

// UpdateNodeConfig replaces a node's configuration and configured flag. This
// is the write-back path of the configuration drawers.
func (s *Store) UpdateNodeConfig(id string, config map[string]any, configured bool) *schema.Node {
	n := s.node(id)
	if n == nil {
		s.logger.Warn("config update for unknown node", "node_id", id)
		return nil
	}
	n.Config = make(map[string]any, len(config))
	for k, v := range config {
		n.Config[k] = v
	}
	n.IsConfigured = configured
	s.touch()
	return n.Clone()
}

// --- connection mutators ---

func (s *Store) findConnection(sourceID, targetID, branchID string) *schema.Connection {
	return s.connectionList().find(func(c *schema.Connection) bool {
		return c.SourceID == sourceID && c.TargetID == targetID && c.BranchID == branchID
	})
}

// FindConnection returns a copy of the connection for the triple, or nil.
func (s *Store) FindConnection(sourceID, targetID, branchID string) *schema.Connection {
	if c := s.findConnection(sourceID, targetID, branchID); c != nil {
		cp := *c
		return &cp
	}
	return nil
}

// AddConnection inserts a committed edge keyed by id. An existing id or an
// existing (source, target, branch) triple yields the stored connection
// unchanged. Missing ids or unknown endpoints are logged and return nil.
func (s *Store) AddConnection(data schema.Connection) *schema.Connection {
	if data.ID == "" {
		s.logger.Warn("rejected connection without id", "source_id", data.SourceID, "target_id", data.TargetID)
		return nil
	}
	if existing := s.Connection(data.ID); existing != nil {
		return existing
	}
	src, dst := s.node(data.SourceID), s.node(data.TargetID)
	if src == nil || dst == nil {
		s.logger.Warn("rejected connection with unknown endpoint",
			"connection_id", data.ID, "source_id", data.SourceID, "target_id", data.TargetID)
		return nil
	}
	if existing := s.findConnection(data.SourceID, data.TargetID, data.BranchID); existing != nil {
		s.logger.Debug("connection already exists for triple", "connection_id", existing.ID)
		cp := *existing
		return &cp
	}

	c := data
	if c.Start == (schema.Point{}) && c.End == (schema.Point{}) {
		c.Start, c.End = src.Center(), dst.Center()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.connectionList().append(&c)
	s.refreshStats()
	cp := c
	s.Emit(schema.EventEdgeCreated, &cp)
	return &cp
}

// RemoveConnection deletes the connection with the given id.
func (s *Store) RemoveConnection(id string) bool {
	removed := s.connectionList().removeWhere(func(c *schema.Connection) bool { return c.ID == id })
	if len(removed) == 0 {
		return false
	}
	delete(s.selectedEdges, id)
	s.refreshStats()
	s.Emit(schema.EventEdgeRemoved, removed[0])
	return true
}

// AnchorConnection sets a connection's endpoints.
func (s *Store) AnchorConnection(id string, start, end schema.Point) bool {
	c := s.connectionList().find(func(c *schema.Connection) bool { return c.ID == id })
	if c == nil {
		return false
	}
	c.Start, c.End = start, end
	return true
}

// --- preview line mutators ---

// FindPreviewLine returns the preview line deduplicated by key. A targeted
// line is keyed by (source, target); a stub is keyed by (source, branch).
func (s *Store) FindPreviewLine(sourceID, targetID, branchID string) *schema.PreviewLine {
	l := s.previewList().find(func(l *schema.PreviewLine) bool {
		if l.SourceID != sourceID || l.TargetID != targetID {
			return false
		}
		return targetID != "" || l.BranchID == branchID
	})
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// AddPreviewLine appends a preview line. Endpoint and dedup checks belong to
// the preview engine; the store only rejects a missing id or source.
func (s *Store) AddPreviewLine(line schema.PreviewLine) *schema.PreviewLine {
	if line.ID == "" || !s.HasNode(line.SourceID) {
		s.logger.Warn("rejected preview line", "preview_line_id", line.ID, "source_id", line.SourceID)
		return nil
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = s.now()
	}
	l := line
	s.previewList().append(&l)
	s.refreshStats()
	cp := l
	s.Emit(schema.EventPreviewLineCreated, &cp)
	return &cp
}

// RemovePreviewLine deletes the preview line with the given id.
func (s *Store) RemovePreviewLine(id string) bool {
	removed := s.previewList().removeWhere(func(l *schema.PreviewLine) bool { return l.ID == id })
	if len(removed) == 0 {
		return false
	}
	s.refreshStats()
	s.Emit(schema.EventPreviewLineRemoved, removed[0])
	return true
}

// AnchorPreviewLine sets a preview line's endpoints.
func (s *Store) AnchorPreviewLine(id string, start, end schema.Point) bool {
	l := s.previewList().find(func(l *schema.PreviewLine) bool { return l.ID == id })
	if l == nil {
		return false
	}
	l.Start, l.End = start, end
	return true
}

// --- selection ---

// Select makes id the focused node. Unknown ids clear the focus.
func (s *Store) Select(id string) bool {
	if !s.HasNode(id) {
		s.selectedNodeID = ""
		return false
	}
	s.selectedNodeID = id
	s.selectedNodes[id] = struct{}{}
	return true
}

// SelectNodes replaces the multi-selection. Unknown ids are skipped.
func (s *Store) SelectNodes(ids ...string) {
	s.selectedNodes = map[string]struct{}{}
	for _, id := range ids {
		if s.HasNode(id) {
			s.selectedNodes[id] = struct{}{}
		}
	}
}

// SelectEdges replaces the edge selection. Unknown ids are skipped.
func (s *Store) SelectEdges(ids ...string) {
	s.selectedEdges = map[string]struct{}{}
	for _, id := range ids {
		if s.Connection(id) != nil {
			s.selectedEdges[id] = struct{}{}
		}
	}
}

// ClearSelection drops the focus and both multi-selections.
func (s *Store) ClearSelection() {
	s.selectedNodeID = ""
	s.selectedNodes = map[string]struct{}{}
	s.selectedEdges = map[string]struct{}{}
}

// SelectedNode returns the focused node, or nil.
func (s *Store) SelectedNode() *schema.Node {
	if s.selectedNodeID == "" {
		return nil
	}
	return s.Node(s.selectedNodeID)
}

// SelectedStartNode returns the focused node when it is a start node. The
// start node has its own configuration drawer.
func (s *Store) SelectedStartNode() *schema.Node {
	n := s.SelectedNode()
	if n == nil || n.Kind != schema.NodeKindStart {
		return nil
	}
	return n
}

// SelectedNodes returns the multi-selected node ids, sorted.
func (s *Store) SelectedNodes() []string { return sortedKeys(s.selectedNodes) }

// SelectedEdges returns the selected connection ids, sorted.
func (s *Store) SelectedEdges() []string { return sortedKeys(s.selectedEdges) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- drag session and locks ---

// Session returns the active drag session, or nil. The session manager owns it.
func (s *Store) Session() *schema.DragSession { return s.session }

// SetSession installs the active drag session.
func (s *Store) SetSession(sess *schema.DragSession) { s.session = sess }

// EndSession stops the snap timer, releases the session's locks and clears it.
func (s *Store) EndSession() {
	s.StopSnapTimer()
	if s.session == nil {
		return
	}
	for p, owner := range s.locks {
		if owner == s.session.ID {
			delete(s.locks, p)
		}
	}
	ended := *s.session
	s.session = nil
	s.Emit(schema.EventSessionEnded, &ended)
}

// LockPair records that sessionID is creating an edge for p. It fails when
// another session holds the pair.
func (s *Store) LockPair(p schema.Pair, sessionID string) bool {
	if owner, ok := s.locks[p]; ok && owner != sessionID {
		return false
	}
	s.locks[p] = sessionID
	return true
}

// UnlockPair releases p.
func (s *Store) UnlockPair(p schema.Pair) { delete(s.locks, p) }

// LockOwner returns the session holding p.
func (s *Store) LockOwner(p schema.Pair) (string, bool) {
	owner, ok := s.locks[p]
	return owner, ok
}

// LockCount returns the number of held pair locks.
func (s *Store) LockCount() int { return len(s.locks) }

// SetSnapTimer replaces the pending snap evaluation timer, stopping the old one.
func (s *Store) SetSnapTimer(t *time.Timer) {
	s.StopSnapTimer()
	s.snapTimer = t
}

// StopSnapTimer cancels the pending snap evaluation, if any.
func (s *Store) StopSnapTimer() {
	if s.snapTimer != nil {
		s.snapTimer.Stop()
		s.snapTimer = nil
	}
}

// SnapPending reports whether a snap evaluation is scheduled.
func (s *Store) SnapPending() bool { return s.snapTimer != nil }

// Epoch increments on every reset.
func (s *Store) Epoch() uint64 { return s.epoch }

// DragMode returns the current drag mode.
func (s *Store) DragMode() schema.DragMode { return s.dragMode }

// SetDragMode changes the drag mode. Unknown modes are ignored.
func (s *Store) SetDragMode(m schema.DragMode) bool {
	if !m.Valid() {
		s.logger.Warn("ignored unknown drag mode", "mode", m)
		return false
	}
	s.dragMode = m
	return true
}

// --- readiness ---

// MarkGraphReady flags the graph as loaded.
func (s *Store) MarkGraphReady() { s.graphReady.Store(true) }

// GraphReady reports whether the graph finished loading.
func (s *Store) GraphReady() bool { return s.graphReady.Load() }

// MarkInitializationComplete releases WaitForInitialization callers.
func (s *Store) MarkInitializationComplete() { s.initComplete.Store(true) }

// Initialized reports whether initialization completed.
func (s *Store) Initialized() bool { return s.initComplete.Load() }

// --- layout bookkeeping and derived values ---

// LayoutDirection returns the primary flow direction.
func (s *Store) LayoutDirection() schema.LayoutDirection { return s.direction }

// SetLayoutDirection changes the primary flow direction.
func (s *Store) SetLayoutDirection(d schema.LayoutDirection) { s.direction = d }

// BeginLayout marks a layout run in progress. It returns false when one is
// already running.
func (s *Store) BeginLayout() bool {
	if s.layingOut {
		return false
	}
	s.layingOut = true
	return true
}

// EndLayout records a finished layout run.
func (s *Store) EndLayout(maxDepth int) {
	s.layingOut = false
	at := s.now()
	s.layoutStats.MaxDepth = maxDepth
	s.layoutStats.LastLayoutTime = &at
	s.refreshStats()
}

// CanPerformLayout reports whether a layout run may start now.
func (s *Store) CanPerformLayout() bool {
	return s.GraphReady() && !s.layingOut && s.nodeList().len() > 0
}

// IsCanvasEmpty reports whether the canvas has no nodes.
func (s *Store) IsCanvasEmpty() bool { return s.nodeList().len() == 0 }

// SetUndoRedo records the host's undo/redo availability.
func (s *Store) SetUndoRedo(canUndo, canRedo bool) {
	s.canUndo, s.canRedo = canUndo, canRedo
}

// CanUndo reports the host's undo flag.
func (s *Store) CanUndo() bool { return s.canUndo }

// CanRedo reports the host's redo flag.
func (s *Store) CanRedo() bool { return s.canRedo }

// LayoutStats returns the derived layout statistics.
func (s *Store) LayoutStats() schema.LayoutStats { return s.layoutStats }

// DebugStats returns collection sizes and the self-heal counter.
func (s *Store) DebugStats() schema.DebugStats {
	s.debugStats.NodeCount = s.nodeList().len()
	s.debugStats.EdgeCount = s.connectionList().len()
	s.debugStats.PreviewLineCount = s.previewList().len()
	return s.debugStats
}

// NodeStats counts nodes by configuration state and kind.
func (s *Store) NodeStats() schema.NodeStats {
	st := schema.NodeStats{ByKind: map[schema.NodeKind]int{}}
	for _, n := range s.nodeList().items {
		st.Total++
		if n.IsConfigured {
			st.Configured++
		} else {
			st.Unconfigured++
		}
		st.ByKind[n.Kind]++
	}
	return st
}

// ConnectionStats counts edges and preview lines.
func (s *Store) ConnectionStats() schema.ConnectionStats {
	st := schema.ConnectionStats{}
	for _, c := range s.connectionList().items {
		st.Connections++
		if c.BranchID != "" {
			st.Branched++
		}
	}
	for _, l := range s.previewList().items {
		st.PreviewLines++
		if l.IsStub() {
			st.Stubs++
		}
	}
	return st
}

func (s *Store) touch() {
	at := s.now()
	s.debugStats.LastUpdate = &at
}

func (s *Store) refreshStats() {
	connected := make(map[string]struct{})
	for _, c := range s.connectionList().items {
		connected[c.SourceID] = struct{}{}
		connected[c.TargetID] = struct{}{}
	}
	total := s.nodeList().len()
	s.layoutStats.TotalNodes = total
	s.layoutStats.ConnectedNodes = len(connected)
	s.layoutStats.IsolatedNodes = total - len(connected)
	s.layoutStats.TotalConnections = s.connectionList().len()
	s.DebugStats()
	s.touch()
}

// Snapshot returns a deep copy of the canvas.
func (s *Store) Snapshot() *schema.Snapshot {
	snap := &schema.Snapshot{
		CanvasID:     s.id,
		Nodes:        s.Nodes(),
		Connections:  s.Connections(),
		PreviewLines: s.PreviewLines(),
		Layout:       s.layoutStats,
		Debug:        s.DebugStats(),
		Direction:    s.direction,
		GraphReady:   s.GraphReady(),
		CanUndo:      s.canUndo,
		CanRedo:      s.canRedo,
	}
	if s.session != nil {
		cp := *s.session
		cp.LockedPairs = nil
		snap.Session = &cp
	}
	return snap
}
