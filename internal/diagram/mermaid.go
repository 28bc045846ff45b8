package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Preview lines are drawn dotted.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	dir := model.Direction
	if dir == "" {
		dir = "TB"
	}
	b.WriteString(fmt.Sprintf("graph %s\n", dir))

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Preview {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef ok fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef warning fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef unconfigured fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef stub fill:none,stroke:#1890ff,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		cls := node.Status.State()
		if node.Shape == ShapeStub {
			cls = "stub"
		}
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Shape {
	case ShapeSplit:
		return fmt.Sprintf("%s{%q}", id, label)
	case ShapeWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case ShapeStart, ShapeEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case ShapeStub:
		return fmt.Sprintf("%s>%q]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
	return r.Replace(id)
}
