package diagram

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RenderASCIIAuto tries to render using the mermaid-ascii CLI binary if available,
// falling back to the built-in RenderASCII renderer.
func RenderASCIIAuto(model *DiagramModel, binDir string) string {
	if binDir != "" {
		binPath := filepath.Join(binDir, "mermaid-ascii")
		if _, err := os.Stat(binPath); err == nil {
			result, err := RenderASCIIViaCLI(model, binPath)
			if err == nil {
				return result
			}
		}
	}
	return RenderASCII(model)
}

// RenderASCIIViaCLI pipes simplified Mermaid syntax through the mermaid-ascii binary.
func RenderASCIIViaCLI(model *DiagramModel, binPath string) (string, error) {
	mermaid := RenderMermaidForCLI(model)

	cmd := exec.Command(binPath)
	cmd.Stdin = strings.NewReader(mermaid)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mermaid-ascii: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderMermaidForCLI generates simplified Mermaid syntax compatible with the
// mermaid-ascii CLI tool. It avoids ["label"] node declarations, which
// mermaid-ascii cannot parse, and embeds the overlay state in the node IDs.
// mermaid-ascii has no dotted edges, so preview lines carry a "preview" label.
func RenderMermaidForCLI(model *DiagramModel) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	displayID := make(map[string]string, len(model.Nodes))
	for _, node := range model.Nodes {
		displayID[node.ID] = cliNodeID(node)
	}
	resolve := func(id string) string {
		if d, ok := displayID[id]; ok {
			return d
		}
		return mermaidSafeID(id)
	}

	for _, edge := range model.Edges {
		label := edge.Label
		if edge.Preview {
			label = strings.TrimSpace("preview " + label)
		}
		if label != "" {
			label = fmt.Sprintf("|%s|", label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", resolve(edge.From), label, resolve(edge.To)))
	}

	// Isolated nodes still need a line to appear.
	linked := make(map[string]bool)
	for _, edge := range model.Edges {
		linked[edge.From], linked[edge.To] = true, true
	}
	for _, node := range model.Nodes {
		if !linked[node.ID] {
			b.WriteString(fmt.Sprintf("    %s\n", resolve(node.ID)))
		}
	}

	return b.String()
}

// cliNodeID builds a display ID for the mermaid-ascii CLI.
func cliNodeID(node *Node) string {
	id := firstLine(node.Label)
	if id == "" || node.Shape == ShapeStub {
		id = mermaidSafeID(node.ID)
	}
	if tag := cliStatusTag(node.Status.State()); tag != "" {
		id += "-" + tag
	}
	return strings.ReplaceAll(id, " ", "-")
}

// cliStatusTag returns a compact status indicator for node IDs.
func cliStatusTag(state string) string {
	switch state {
	case "error":
		return "ERR"
	case "warning":
		return "WARN"
	case "unconfigured":
		return "TODO"
	default:
		return ""
	}
}
