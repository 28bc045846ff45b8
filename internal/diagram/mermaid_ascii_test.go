package diagram

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/pkg/schema"
)

func TestRenderMermaidForCLI_Linear(t *testing.T) {
	model, err := Build(linearCanvas(), nil)
	require.NoError(t, err)

	result := RenderMermaidForCLI(model)
	assert.Contains(t, result, "graph TD")
	assert.Contains(t, result, "start --> Welcome-SMS")
	assert.Contains(t, result, "Welcome-SMS --> end")
	// mermaid-ascii cannot parse ["..."] declarations.
	assert.NotContains(t, result, "[\"")
	assert.NotContains(t, result, "classDef")
}

func TestRenderMermaidForCLI_StatusAndPreviews(t *testing.T) {
	result := &schema.ValidationResult{}
	result.AddError("nodes[sms]", schema.ErrCodeValidation, "bad")
	model, err := Build(splitCanvas(), result)
	require.NoError(t, err)

	out := RenderMermaidForCLI(model)
	assert.Contains(t, out, "split-TODO -->|vip| sms-ERR")
	assert.Contains(t, out, "-->|preview rest| wait")
	assert.Contains(t, out, "-->|preview other| stub_p2")
}

func TestRenderMermaidForCLI_IsolatedNode(t *testing.T) {
	model := &DiagramModel{Nodes: []*Node{{ID: "lonely", Label: "lonely", Shape: ShapeAction}}}
	assert.Contains(t, RenderMermaidForCLI(model), "    lonely\n")
}

func TestRenderASCIIViaCLI(t *testing.T) {
	binPath := findMermaidASCII()
	if binPath == "" {
		t.Skip("mermaid-ascii binary not found")
	}
	model, err := Build(linearCanvas(), nil)
	require.NoError(t, err)

	out, err := RenderASCIIViaCLI(model, binPath)
	require.NoError(t, err)
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "┌")
}

func TestRenderASCIIAuto_Fallback(t *testing.T) {
	model, err := Build(linearCanvas(), nil)
	require.NoError(t, err)

	result := RenderASCIIAuto(model, "/nonexistent/path")
	assert.Contains(t, result, "=== Canvas drip ===")
	assert.Contains(t, result, "Welcome SMS")
}

func TestRenderASCIIAuto_EmptyBinDir(t *testing.T) {
	model := &DiagramModel{
		Nodes:  []*Node{{ID: "start", Label: "start", Shape: ShapeStart}},
		Levels: [][]string{{"start"}},
	}
	assert.Contains(t, RenderASCIIAuto(model, ""), "start")
}

// findMermaidASCII checks common paths for the mermaid-ascii binary.
func findMermaidASCII() string {
	home, _ := os.UserHomeDir()
	if home != "" {
		p := home + "/.flowcanvas/bin/mermaid-ascii"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat("/tmp/mermaid-ascii"); err == nil {
		return "/tmp/mermaid-ascii"
	}
	return ""
}
