package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// previewColor is the default preview line color.
const previewColor = "#1890ff"

// RenderImage renders a DiagramModel as a PNG image using graphviz.
// Returns the PNG bytes.
func RenderImage(model *DiagramModel) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	if model.Direction == "LR" {
		graph.SetRankDir(cgraph.LRRank)
	} else {
		graph.SetRankDir(cgraph.TBRank)
	}
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr != nil {
			continue
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		if edge.Preview {
			e.SetStyle(cgraph.DashedEdgeStyle)
			e.SetColor(previewColor)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on shape and overlay state.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Shape {
	case ShapeAction:
		gvNode.SetShape(cgraph.BoxShape)
	case ShapeSplit:
		gvNode.SetShape(cgraph.DiamondShape)
	case ShapeWait:
		gvNode.SetShape(cgraph.EllipseShape)
	case ShapeStart, ShapeEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	case ShapeStub:
		gvNode.SetShape(cgraph.PointShape)
		gvNode.SetColor(previewColor)
		return
	}

	if state := node.Status.State(); state != "" {
		applyStatusColor(gvNode, state)
	}
}

// applyStatusColor sets fill color and style based on overlay state.
func applyStatusColor(gvNode *cgraph.Node, state string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch state {
	case "ok":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "error":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case "warning":
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case "unconfigured":
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#555555")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
