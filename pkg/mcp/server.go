package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/internal/workspace"
)

// CanvasServerDeps holds the dependencies for creating a CanvasServer.
type CanvasServerDeps struct {
	Registry *workspace.Registry
	// Store serves canvas.events. Optional.
	Store store.Store
	// Hub feeds canvas.watch. Optional.
	Hub streaming.EventHub
	// Sessions maps agents to MCP sessions. A fresh registry is used when nil.
	Sessions *SessionRegistry
	// Notifier delivers watched notifications. Defaults to MCP push.
	Notifier AgentNotifier
	// BinDir is searched for the mermaid-ascii binary.
	BinDir string
	Logger *slog.Logger
}

// CanvasServer wraps an MCP server with canvas tool handlers.
type CanvasServer struct {
	registry  *workspace.Registry
	store     store.Store
	hub       streaming.EventHub
	sessions  *SessionRegistry
	notifier  AgentNotifier
	binDir    string
	logger    *slog.Logger
	mcpServer *server.MCPServer

	watchMu sync.Mutex
	watches map[watchKey]context.CancelFunc
}

// NewCanvasServer creates a CanvasServer with every canvas tool registered.
func NewCanvasServer(deps CanvasServerDeps) *CanvasServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	s := &CanvasServer{
		registry: deps.Registry,
		store:    deps.Store,
		hub:      deps.Hub,
		sessions: sessions,
		binDir:   deps.BinDir,
		logger:   logger.With("component", "mcp"),
		watches:  make(map[watchKey]context.CancelFunc),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"flowcanvas",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("flowcanvas edits campaign flow canvases. Use canvas.create or canvas.mount to seed a canvas, "+
			"canvas.node and canvas.edge to edit it, canvas.drag to connect nodes through a drag gesture, canvas.layout to arrange it, "+
			"canvas.validate and canvas.diagram to inspect it, and canvas.watch to receive its notifications."),
	)

	s.notifier = deps.Notifier
	if s.notifier == nil {
		s.notifier = NewMCPNotifier(mcpSrv, sessions)
	}

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CanvasServer) Serve(ctx context.Context) error {
	defer s.Close()
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a streamable HTTP transport for the server, mounted at
// /mcp by the serve command.
func (s *CanvasServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CanvasServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Close stops every watch.
func (s *CanvasServer) Close() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for k, cancel := range s.watches {
		cancel()
		delete(s.watches, k)
	}
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *CanvasServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: mountTool(), Handler: s.handleMount},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: snapshotTool(), Handler: s.handleSnapshot},
		{Tool: nodeTool(), Handler: s.handleNode},
		{Tool: edgeTool(), Handler: s.handleEdge},
		{Tool: dragTool(), Handler: s.handleDrag},
		{Tool: layoutTool(), Handler: s.handleLayout},
		{Tool: selectTool(), Handler: s.handleSelect},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: routeTool(), Handler: s.handleRoute},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("canvas.create",
		mcp.WithDescription("Create a canvas, optionally seeded from a scenario"),
		mcp.WithString("canvas_id", mcp.Description("Canvas ID (generated when empty)")),
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithObject("scenario", mcp.Description("Seed scenario: {nodes: [...], connections: [...]}")),
	)
}

func mountTool() mcp.Tool {
	return mcp.NewTool("canvas.mount",
		mcp.WithDescription("Replace a canvas's contents with a scenario"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithObject("scenario", mcp.Required(), mcp.Description("Seed scenario: {nodes: [...], connections: [...]}")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("canvas.list",
		mcp.WithDescription("List mounted canvases with their counters"),
	)
}

func snapshotTool() mcp.Tool {
	return mcp.NewTool("canvas.snapshot",
		mcp.WithDescription("Get the full state of a canvas"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
	)
}

func nodeTool() mcp.Tool {
	return mcp.NewTool("canvas.node",
		mcp.WithDescription("Add, remove, move or configure a node"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("add", "remove", "move", "configure", "stubs"),
			mcp.Description("Node operation"),
		),
		mcp.WithString("node_id", mcp.Description("Target node (required except for add)")),
		mcp.WithObject("node", mcp.Description("Node to add: {id, kind, label, position, config}")),
		mcp.WithNumber("x", mcp.Description("New x for move")),
		mcp.WithNumber("y", mcp.Description("New y for move")),
		mcp.WithObject("config", mcp.Description("Node config for configure")),
		mcp.WithBoolean("configured", mcp.Description("Mark the node configured (config is then validated)")),
	)
}

func edgeTool() mcp.Tool {
	return mcp.NewTool("canvas.edge",
		mcp.WithDescription("Create or remove connections and preview lines"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("connect", "disconnect", "preview", "unpreview"),
			mcp.Description("Edge operation"),
		),
		mcp.WithString("source_id", mcp.Description("Source node for connect and preview")),
		mcp.WithString("target_id", mcp.Description("Target node for connect and preview")),
		mcp.WithString("branch_id", mcp.Description("Branch of the source split node")),
		mcp.WithString("id", mcp.Description("Connection or preview line ID for disconnect and unpreview")),
	)
}

func dragTool() mcp.Tool {
	return mcp.NewTool("canvas.drag",
		mcp.WithDescription("Drive the connection drag gesture: begin, move, commit, confirm or cancel"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("begin", "move", "commit", "confirm", "cancel", "status"),
			mcp.Description("Gesture step"),
		),
		mcp.WithString("source_id", mcp.Description("Source node for begin")),
		mcp.WithString("branch_id", mcp.Description("Branch for begin")),
		mcp.WithString("mode", mcp.Enum("normal", "batch", "precision"), mcp.Description("Drag mode for begin")),
		mcp.WithNumber("x", mcp.Description("Pointer x for move")),
		mcp.WithNumber("y", mcp.Description("Pointer y for move")),
		mcp.WithString("target_id", mcp.Description("Release target for commit (snap target when empty)")),
	)
}

func layoutTool() mcp.Tool {
	return mcp.NewTool("canvas.layout",
		mcp.WithDescription("Apply the layered auto-layout"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("direction", mcp.Enum("TB", "LR"), mcp.Description("Set the layout direction first")),
	)
}

func selectTool() mcp.Tool {
	return mcp.NewTool("canvas.select",
		mcp.WithDescription("Select nodes by id or by predicate, e.g. kind == \"sms\" && !isConfigured"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("node_id", mcp.Description("Node to select")),
		mcp.WithString("predicate", mcp.Description("Expr predicate over node data")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("canvas.validate",
		mcp.WithDescription("Run integrity checks on a canvas"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithBoolean("notify", mcp.Description("Publish the result as an integrity-checked notification")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("canvas.query",
		mcp.WithDescription("Run a jq expression against a canvas snapshot"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("jq expression, e.g. [.nodes[] | select(.is_configured | not) | .id]")),
	)
}

func routeTool() mcp.Tool {
	return mcp.NewTool("canvas.route",
		mcp.WithDescription("Evaluate which branch of a split node a contact takes"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Split node")),
		mcp.WithObject("audience", mcp.Description("Contact attributes")),
		mcp.WithObject("event", mcp.Description("Triggering event")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("canvas.events",
		mcp.WithDescription("List recorded notifications of a canvas"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("event_type", mcp.Description("Only this notification type, newest first")),
		mcp.WithNumber("since", mcp.Description("Only events after this sequence number")),
		mcp.WithNumber("limit", mcp.Description("Maximum events with event_type (default 100)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("canvas.diagram",
		mcp.WithDescription("Generate a diagram of a canvas with its validation overlay. Returns ASCII art, Mermaid flowchart syntax, or a PNG image"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Target canvas")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (PNG)"),
		),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("canvas.watch",
		mcp.WithDescription("Push a canvas's notifications to the calling agent"),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Canvas to watch")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the watching agent")),
		mcp.WithBoolean("stop", mcp.Description("Stop watching instead")),
	)
}
