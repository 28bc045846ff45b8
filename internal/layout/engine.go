package layout

import (
	"log/slog"
	"slices"
	"sort"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// Config holds layout pitches. Zero values take the defaults.
type Config struct {
	// ColumnPitch is the distance between node origins within a layer.
	ColumnPitch float64
	// RowPitch is the distance between consecutive layers.
	RowPitch float64
}

// DefaultConfig matches a 100px node with 50px separation and 200px rank separation.
var DefaultConfig = Config{ColumnPitch: 150, RowPitch: 200}

func (c Config) withDefaults() Config {
	if c.ColumnPitch <= 0 {
		c.ColumnPitch = DefaultConfig.ColumnPitch
	}
	if c.RowPitch <= 0 {
		c.RowPitch = DefaultConfig.RowPitch
	}
	return c
}

// Result describes one layout run.
type Result struct {
	Layers    [][]string     `json:"layers"`
	Depths    map[string]int `json:"depths"`
	MaxDepth  int            `json:"max_depth"`
	NodeCount int            `json:"node_count"`
}

// Engine computes layered positions for a canvas.
type Engine struct {
	store  *canvas.Store
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine over store.
func New(store *canvas.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "state initialization failed: layout engine needs a store")
	}
	return &Engine{store: store, cfg: cfg.withDefaults(), logger: store.Logger().With("component", "layout")}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// incoming collects the distinct parents of every node over connections and
// targeted preview lines. Edges to unknown nodes are ignored.
func incoming(nodes []*schema.Node, conns []*schema.Connection, lines []*schema.PreviewLine) map[string][]string {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	parents := make(map[string][]string, len(nodes))
	seen := make(map[schema.Pair]bool)
	add := func(src, dst string) {
		p := schema.Pair{SourceID: src, TargetID: dst}
		if !known[src] || !known[dst] || seen[p] {
			return
		}
		seen[p] = true
		parents[dst] = append(parents[dst], src)
	}
	for _, c := range conns {
		add(c.SourceID, c.TargetID)
	}
	for _, l := range lines {
		if !l.IsStub() {
			add(l.SourceID, l.TargetID)
		}
	}
	return parents
}

// Depths returns the layer index of every node: 0 without incoming edges,
// otherwise one more than the deepest parent. A parent already on the current
// walk counts as depth 0, so cycles cannot deepen themselves. The result does
// not depend on node order: outside cycles depths are settled once per
// component, inside a cycle every node is walked with its own path.
func Depths(nodes []*schema.Node, conns []*schema.Connection, lines []*schema.PreviewLine) map[string]int {
	parents := incoming(nodes, conns, lines)
	depth := make(map[string]int, len(nodes))

	for _, comp := range components(nodes, parents) {
		if len(comp) == 1 && !slices.Contains(parents[comp[0]], comp[0]) {
			best := -1
			for _, p := range parents[comp[0]] {
				best = max(best, depth[p])
			}
			depth[comp[0]] = best + 1
			continue
		}
		w := &cycleWalk{
			parents: parents,
			outer:   depth,
			index:   make(map[string]int, len(comp)),
			onPath:  make([]byte, len(comp)),
			memo:    make(map[string]int),
		}
		for i, id := range comp {
			w.index[id] = i
		}
		settled := make([]int, len(comp))
		for i, id := range comp {
			settled[i] = w.depth(id)
		}
		for i, id := range comp {
			depth[id] = settled[i]
		}
	}
	return depth
}

// components returns the strongly connected components of the parent graph.
// A component is listed after every component holding one of its ancestors.
func components(nodes []*schema.Node, parents map[string][]string) [][]string {
	index := make(map[string]int, len(nodes))
	low := make(map[string]int, len(nodes))
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string
	next := 0

	type frame struct {
		id   string
		next int
	}
	enter := func(id string) frame {
		index[id], low[id] = next, next
		next++
		stack = append(stack, id)
		onStack[id] = true
		return frame{id: id}
	}

	for _, root := range nodes {
		if _, seen := index[root.ID]; seen {
			continue
		}
		work := []frame{enter(root.ID)}
		for len(work) > 0 {
			top := &work[len(work)-1]
			if ps := parents[top.id]; top.next < len(ps) {
				p := ps[top.next]
				top.next++
				if _, seen := index[p]; !seen {
					work = append(work, enter(p))
				} else if onStack[p] {
					low[top.id] = min(low[top.id], index[p])
				}
				continue
			}

			id := top.id
			work = work[:len(work)-1]
			if len(work) > 0 {
				up := work[len(work)-1].id
				low[up] = min(low[up], low[id])
			}
			if low[id] != index[id] {
				continue
			}
			var comp []string
			for {
				m := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[m] = false
				comp = append(comp, m)
				if m == id {
					break
				}
			}
			out = append(out, comp)
		}
	}
	return out
}

// cycleWalk computes per-path depths inside one cyclic component. Parents
// outside the component already have settled depths in outer. Results are
// memoized by node and the set of component members on the path.
type cycleWalk struct {
	parents map[string][]string
	outer   map[string]int
	index   map[string]int
	onPath  []byte
	memo    map[string]int
}

func (w *cycleWalk) depth(id string) int {
	i := w.index[id]
	if w.onPath[i] == 1 {
		return 0
	}
	key := id + "\x00" + string(w.onPath)
	if d, ok := w.memo[key]; ok {
		return d
	}

	w.onPath[i] = 1
	best := -1
	for _, p := range w.parents[id] {
		if _, inner := w.index[p]; inner {
			best = max(best, w.depth(p))
		} else {
			best = max(best, w.outer[p])
		}
	}
	w.onPath[i] = 0

	w.memo[key] = best + 1
	return best + 1
}

// Apply computes depths, repositions every node by layer and re-anchors
// every edge at its endpoints' new centers. Stub ends keep their coordinate.
// An empty canvas is a no-op.
func (e *Engine) Apply() (*Result, error) {
	nodes := e.store.Nodes()
	if len(nodes) == 0 {
		return &Result{Layers: [][]string{}, Depths: map[string]int{}}, nil
	}
	if !e.store.BeginLayout() {
		return nil, schema.NewError(schema.ErrCodeConflict, "layout already in progress")
	}

	conns := e.store.Connections()
	lines := e.store.PreviewLines()
	depths := Depths(nodes, conns, lines)

	maxDepth := 0
	for _, d := range depths {
		maxDepth = max(maxDepth, d)
	}
	layers := make([][]*schema.Node, maxDepth+1)
	for _, n := range nodes {
		layers[depths[n.ID]] = append(layers[depths[n.ID]], n)
	}

	direction := e.store.LayoutDirection()
	ids := make([][]string, len(layers))
	for d, layer := range layers {
		sort.SliceStable(layer, func(i, j int) bool {
			if layer[i].Position.X != layer[j].Position.X {
				return layer[i].Position.X < layer[j].Position.X
			}
			return layer[i].ID < layer[j].ID
		})
		ids[d] = make([]string, len(layer))
		for col, n := range layer {
			ids[d][col] = n.ID
			e.store.SetNodePosition(n.ID, e.position(direction, d, col))
		}
	}

	e.reanchor()
	e.store.EndLayout(maxDepth)

	e.logger.Debug("layout applied", "nodes", len(nodes), "max_depth", maxDepth)
	e.store.Emit(schema.EventLayoutApplied, schema.LayoutAppliedPayload{Layers: ids, NodeCount: len(nodes)})

	return &Result{Layers: ids, Depths: depths, MaxDepth: maxDepth, NodeCount: len(nodes)}, nil
}

func (e *Engine) position(dir schema.LayoutDirection, depth, col int) schema.Point {
	along := float64(depth) * e.cfg.RowPitch
	across := float64(col) * e.cfg.ColumnPitch
	if dir == schema.LayoutLeftRight {
		return schema.Point{X: along, Y: across}
	}
	return schema.Point{X: across, Y: along}
}

func (e *Engine) reanchor() {
	centers := make(map[string]schema.Point)
	for _, n := range e.store.Nodes() {
		centers[n.ID] = n.Center()
	}
	for _, c := range e.store.Connections() {
		e.store.AnchorConnection(c.ID, centers[c.SourceID], centers[c.TargetID])
	}
	for _, l := range e.store.PreviewLines() {
		end := l.End
		if !l.IsStub() {
			end = centers[l.TargetID]
		}
		e.store.AnchorPreviewLine(l.ID, centers[l.SourceID], end)
	}
}
