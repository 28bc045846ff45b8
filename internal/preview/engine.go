package preview

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/pkg/schema"
)

const (
	stubLength  = 80
	stubSpacing = 150
)

// Options customizes a preview line. Zero values fall back to the default style.
type Options struct {
	BranchID string
	Color    string
	Width    float64
	Dashed   *bool
	// End overrides the default anchor at the target's center. Stubs use it
	// to dangle at an explicit coordinate.
	End *schema.Point
}

// Engine creates and queries preview lines on one canvas.
type Engine struct {
	store  *canvas.Store
	logger *slog.Logger
	newID  func() string
}

// New creates an Engine over store.
func New(store *canvas.Store) (*Engine, error) {
	if store == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "state initialization failed: preview engine needs a store")
	}
	return &Engine{
		store:  store,
		logger: store.Logger().With("component", "preview"),
		newID:  func() string { return "preview-" + uuid.NewString() },
	}, nil
}

// Create returns the preview line for (sourceID, targetID), creating it when
// absent. An empty targetID requests a dangling stub. Unknown node ids are
// logged and yield nil with the store untouched.
func (e *Engine) Create(sourceID, targetID string, opts Options) *schema.PreviewLine {
	src := e.store.Node(sourceID)
	if src == nil {
		e.logger.Error("preview line source not found", "source_id", sourceID, "target_id", targetID)
		return nil
	}
	var dst *schema.Node
	if targetID != "" {
		if dst = e.store.Node(targetID); dst == nil {
			e.logger.Error("preview line target not found", "source_id", sourceID, "target_id", targetID)
			return nil
		}
	}

	if existing := e.store.FindPreviewLine(sourceID, targetID, opts.BranchID); existing != nil {
		return existing
	}

	line := schema.PreviewLine{
		ID:       e.newID(),
		SourceID: sourceID,
		TargetID: targetID,
		BranchID: opts.BranchID,
		Style:    styleFor(opts),
		Start:    src.Center(),
	}
	switch {
	case opts.End != nil:
		line.End = *opts.End
	case dst != nil:
		line.End = dst.Center()
	default:
		line.End = StubEnd(src, 0)
	}
	return e.store.AddPreviewLine(line)
}

func styleFor(opts Options) schema.LineStyle {
	style := schema.DefaultPreviewStyle
	if opts.Color != "" {
		style.Color = opts.Color
	}
	if opts.Width > 0 {
		style.Width = opts.Width
	}
	if opts.Dashed != nil {
		style.Dashed = *opts.Dashed
	}
	return style
}

// StubEnd is where a dangling stub ends when no coordinate is given: below
// the node, shifted horizontally by offset.
func StubEnd(n *schema.Node, offset float64) schema.Point {
	c := n.Center()
	return schema.Point{X: c.X + offset, Y: n.Position.Y + n.Size.H + stubLength}
}

// CreateBranchStubs creates one dangling stub per branch of a split node,
// fanned out horizontally below it.
func (e *Engine) CreateBranchStubs(nodeID string, branches []string) []*schema.PreviewLine {
	n := e.store.Node(nodeID)
	if n == nil {
		e.logger.Error("branch stubs for unknown node", "node_id", nodeID)
		return nil
	}
	lines := make([]*schema.PreviewLine, 0, len(branches))
	mid := float64(len(branches)-1) / 2
	for i, branch := range branches {
		end := StubEnd(n, (float64(i)-mid)*stubSpacing)
		if l := e.Create(nodeID, "", Options{BranchID: branch, End: &end}); l != nil {
			lines = append(lines, l)
		}
	}
	return lines
}

// CloseBranchStub removes the dangling stub of branchID on sourceID once the
// branch has a connection. It reports whether a stub was removed.
func (e *Engine) CloseBranchStub(sourceID, branchID string) bool {
	if branchID == "" {
		return false
	}
	l := e.store.FindPreviewLine(sourceID, "", branchID)
	if l == nil {
		return false
	}
	return e.store.RemovePreviewLine(l.ID)
}

// ForSource returns the preview lines leaving sourceID.
func (e *Engine) ForSource(sourceID string) []*schema.PreviewLine {
	var out []*schema.PreviewLine
	for _, l := range e.store.PreviewLines() {
		if l.SourceID == sourceID {
			out = append(out, l)
		}
	}
	return out
}

// Remove deletes a preview line by id.
func (e *Engine) Remove(id string) bool {
	return e.store.RemovePreviewLine(id)
}

// Count returns the number of preview lines on the canvas.
func (e *Engine) Count() int {
	return len(e.store.PreviewLines())
}

// BranchIDs reads the branch ids configured on a split node from
// config["branches"], accepting either a list of ids or a list of objects
// with an "id" field.
func BranchIDs(n *schema.Node) []string {
	if n == nil || !n.Kind.IsSplit() {
		return nil
	}
	raw, ok := n.Config["branches"].([]any)
	if !ok {
		return nil
	}
	var ids []string
	for _, b := range raw {
		switch v := b.(type) {
		case string:
			ids = append(ids, v)
		case map[string]any:
			if id, ok := v["id"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
