package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowcanvas/internal/layout"
	"github.com/rendis/flowcanvas/pkg/schema"
)

const stubPrefix = "stub:"

// Build constructs a DiagramModel from a canvas snapshot. Levels follow the
// same depth rule as the layout engine. Dangling preview lines end in a stub
// node one level below their source. When result is non-nil its issues are
// overlaid on the nodes they name.
func Build(snap *schema.Snapshot, result *schema.ValidationResult) (*DiagramModel, error) {
	if snap == nil {
		return nil, fmt.Errorf("diagram: nil snapshot")
	}

	issues := issuesByNode(result)
	nodes := make([]*Node, 0, len(snap.Nodes))
	known := make(map[string]*schema.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		known[n.ID] = n
		nodes = append(nodes, toNode(n, issues[n.ID]))
	}

	var edges []Edge
	for _, c := range snap.Connections {
		if known[c.SourceID] == nil || known[c.TargetID] == nil {
			continue
		}
		edges = append(edges, Edge{From: c.SourceID, To: c.TargetID, Label: c.BranchID})
	}

	depths := layout.Depths(snap.Nodes, snap.Connections, snap.PreviewLines)
	stubDepth := make(map[string]int)
	for _, l := range snap.PreviewLines {
		if known[l.SourceID] == nil {
			continue
		}
		to := l.TargetID
		if l.IsStub() {
			to = stubPrefix + l.ID
			label := l.BranchID
			if label == "" {
				label = "..."
			}
			nodes = append(nodes, &Node{ID: to, Label: label, Shape: ShapeStub})
			stubDepth[to] = depths[l.SourceID] + 1
		} else if known[to] == nil {
			continue
		}
		edges = append(edges, Edge{From: l.SourceID, To: to, Label: l.BranchID, Preview: true})
	}

	direction := string(snap.Direction)
	if direction == "" {
		direction = string(schema.LayoutTopBottom)
	}
	return &DiagramModel{
		Title:     titleFromSnapshot(snap),
		Direction: direction,
		Nodes:     nodes,
		Edges:     edges,
		Levels:    buildLevels(snap.Nodes, depths, stubDepth),
	}, nil
}

// toNode maps a canvas node to a diagram Node.
func toNode(n *schema.Node, counts [2]int) *Node {
	configured := n.IsConfigured || n.Kind == schema.NodeKindStart || n.Kind == schema.NodeKindEnd
	return &Node{
		ID:     n.ID,
		Label:  nodeLabel(n),
		Shape:  kindToShape(n.Kind),
		Status: &StatusOverlay{Configured: configured, Errors: counts[0], Warnings: counts[1]},
	}
}

// kindToShape converts a node kind to a Shape.
func kindToShape(k schema.NodeKind) Shape {
	switch {
	case k == schema.NodeKindStart:
		return ShapeStart
	case k == schema.NodeKindEnd:
		return ShapeEnd
	case k == schema.NodeKindWait:
		return ShapeWait
	case k.IsSplit():
		return ShapeSplit
	default:
		return ShapeAction
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(n *schema.Node) string {
	if n.Label != "" {
		return fmt.Sprintf("%s\n(%s)", n.Label, n.Kind)
	}
	if spec, ok := schema.Kinds[n.Kind]; ok && n.Kind != schema.NodeKindStart && n.Kind != schema.NodeKindEnd {
		return fmt.Sprintf("%s\n(%s)", n.ID, spec.Label)
	}
	return n.ID
}

// issuesByNode counts errors and warnings per node from paths of the form
// nodes[<id>]...
func issuesByNode(result *schema.ValidationResult) map[string][2]int {
	out := make(map[string][2]int)
	if result == nil {
		return out
	}
	add := func(issues []schema.ValidationIssue, slot int) {
		for _, is := range issues {
			id, ok := nodeFromPath(is.Path)
			if !ok {
				continue
			}
			c := out[id]
			c[slot]++
			out[id] = c
		}
	}
	add(result.Errors, 0)
	add(result.Warnings, 1)
	return out
}

func nodeFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "nodes[")
	if !ok {
		return "", false
	}
	end := strings.Index(rest, "]")
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}

// buildLevels groups nodes by depth, ordered by id within a level.
func buildLevels(nodes []*schema.Node, depths map[string]int, stubs map[string]int) [][]string {
	maxDepth := -1
	for _, d := range depths {
		maxDepth = max(maxDepth, d)
	}
	for _, d := range stubs {
		maxDepth = max(maxDepth, d)
	}
	levels := make([][]string, maxDepth+1)
	for _, n := range nodes {
		d := depths[n.ID]
		levels[d] = append(levels[d], n.ID)
	}
	for id, d := range stubs {
		levels[d] = append(levels[d], id)
	}
	for _, level := range levels {
		sort.Strings(level)
	}
	return levels
}

// titleFromSnapshot generates a diagram title from the canvas id.
func titleFromSnapshot(snap *schema.Snapshot) string {
	if snap.CanvasID != "" {
		return "Canvas " + snap.CanvasID
	}
	return "Canvas"
}
