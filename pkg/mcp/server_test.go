package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCanvasServer(t *testing.T) {
	s := NewCanvasServer(CanvasServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.sessions)
	assert.NotNil(t, s.notifier)
	assert.NotNil(t, s.HTTPHandler())
}

func TestToolRegistration(t *testing.T) {
	s := NewCanvasServer(CanvasServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 15)

	expectedTools := []string{
		"canvas.create", "canvas.mount", "canvas.list", "canvas.snapshot",
		"canvas.node", "canvas.edge", "canvas.drag", "canvas.layout",
		"canvas.select", "canvas.validate", "canvas.query", "canvas.route",
		"canvas.events", "canvas.diagram", "canvas.watch",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"create", "canvas.create", "Create a canvas, optionally seeded from a scenario"},
		{"snapshot", "canvas.snapshot", "Get the full state of a canvas"},
		{"query", "canvas.query", "Run a jq expression against a canvas snapshot"},
		{"watch", "canvas.watch", "Push a canvas's notifications to the calling agent"},
	}

	s := NewCanvasServer(CanvasServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
