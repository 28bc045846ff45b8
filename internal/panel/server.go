package panel

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/flowcanvas/internal/scheduler"
	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/internal/workspace"
)

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Registry *workspace.Registry
	Hub      streaming.EventHub
	// Store serves the notification history. Optional.
	Store store.Store
	// Auditor serves the periodic audit report. Optional.
	Auditor *scheduler.Auditor
	// BinDir is searched for the mermaid-ascii binary.
	BinDir string
	Logger *slog.Logger
}

// PanelServer serves the canvas management API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	deps.Logger = deps.Logger.With("component", "panel")
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Reads.
	mux.HandleFunc("GET /api/canvases", s.handleListCanvases)
	mux.HandleFunc("GET /api/canvases/{id}", s.handleSnapshot)
	mux.HandleFunc("GET /api/canvases/{id}/stats", s.handleStats)
	mux.HandleFunc("GET /api/canvases/{id}/selection", s.handleSelection)
	mux.HandleFunc("GET /api/canvases/{id}/validate", s.handleValidate)
	mux.HandleFunc("GET /api/canvases/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("GET /api/canvases/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/canvases/{id}/query", s.handleQuery)
	mux.HandleFunc("GET /api/audit", s.handleAuditReport)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/canvases/{id}", s.handleSSECanvas)

	// API mutations.
	mux.HandleFunc("POST /api/canvases", s.handleCreateCanvas)
	mux.HandleFunc("DELETE /api/canvases/{id}", s.handleDeleteCanvas)
	mux.HandleFunc("PUT /api/canvases/{id}/scenario", s.handleMount)
	mux.HandleFunc("POST /api/canvases/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /api/canvases/{id}/nodes", s.handleAddNode)
	mux.HandleFunc("DELETE /api/canvases/{id}/nodes/{node}", s.handleRemoveNode)
	mux.HandleFunc("PUT /api/canvases/{id}/nodes/{node}/position", s.handleMoveNode)
	mux.HandleFunc("PUT /api/canvases/{id}/nodes/{node}/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/canvases/{id}/nodes/{node}/stubs", s.handleBranchStubs)
	mux.HandleFunc("POST /api/canvases/{id}/connections", s.handleConnect)
	mux.HandleFunc("DELETE /api/canvases/{id}/connections/{conn}", s.handleDisconnect)
	mux.HandleFunc("POST /api/canvases/{id}/previews", s.handleCreatePreview)
	mux.HandleFunc("DELETE /api/canvases/{id}/previews/{line}", s.handleRemovePreview)
	mux.HandleFunc("POST /api/canvases/{id}/layout", s.handleApplyLayout)
	mux.HandleFunc("PUT /api/canvases/{id}/layout/direction", s.handleSetDirection)
	mux.HandleFunc("PUT /api/canvases/{id}/selection", s.handleSelect)
	mux.HandleFunc("POST /api/audit", s.handleRunAudit)

	return mux
}

// workspace resolves the {id} path value, writing the error response when
// the canvas is not mounted.
func (s *PanelServer) workspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, err := s.deps.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeCanvasError(w, err)
		return nil, false
	}
	return ws, true
}
