package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for an overlay state.
func statusTag(state string) string {
	switch state {
	case "error":
		return "[ERR]"
	case "warning":
		return "[WARN]"
	case "unconfigured":
		return "[TODO]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text-based ASCII diagram.
// It uses a level-based layout with box-drawing characters; preview lines
// are listed after the levels.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	var previews []Edge
	for _, e := range model.Edges {
		if e.Preview {
			previews = append(previews, e)
		}
	}
	if len(previews) > 0 {
		b.WriteString("\n--- preview lines ---\n")
		for _, e := range previews {
			to := e.To
			if n := findNode(model.Nodes, e.To); n != nil && n.Shape == ShapeStub {
				to = "(stub)"
			}
			label := ""
			if e.Label != "" {
				label = " [" + e.Label + "]"
			}
			b.WriteString(fmt.Sprintf("  %s ┄→ %s%s\n", e.From, to, label))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if tag := statusTag(node.Status.State()); tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, len(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	h, v := "─", "│"
	corners := [4]string{"┌", "┐", "└", "┘"}
	if node.Shape == ShapeStub {
		h, v = "┄", "┆"
	}

	var lines []string
	lines = append(lines, corners[0]+strings.Repeat(h, width-2)+corners[1])
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len(content))
		lines = append(lines, v+" "+padded+" "+v)
	}
	lines = append(lines, corners[2]+strings.Repeat(h, width-2)+corners[3])

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
