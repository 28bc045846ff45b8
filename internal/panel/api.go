package panel

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rendis/flowcanvas/internal/preview"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// handleCreateCanvas mounts a new canvas, seeded from an optional scenario.
func (s *PanelServer) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Scenario json.RawMessage `json:"scenario"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	ws, err := s.deps.Registry.Create(r.Context(), body.ID, body.Name)
	if err != nil {
		writeCanvasError(w, err)
		return
	}

	resp := map[string]any{"id": ws.ID()}
	if len(body.Scenario) > 0 && string(body.Scenario) != "null" {
		res, err := ws.MountJSON(body.Scenario)
		if err != nil {
			if rerr := s.deps.Registry.Remove(ws.ID()); rerr != nil {
				s.deps.Logger.Warn("unmount after failed seed", "canvas_id", ws.ID(), "error", rerr)
			}
			writeCanvasError(w, err)
			return
		}
		resp["mount"] = res
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleDeleteCanvas unmounts a canvas. With ?purge=true its catalog row and
// notification history are deleted as well.
func (s *PanelServer) handleDeleteCanvas(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Registry.Remove(id); err != nil {
		writeCanvasError(w, err)
		return
	}
	purged := false
	if r.URL.Query().Get("purge") == "true" && s.deps.Store != nil {
		if err := s.deps.Store.DeleteCanvas(r.Context(), id); err != nil {
			writeCanvasError(w, err)
			return
		}
		purged = true
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "purged": purged})
}

// handleMount replaces the canvas contents with the scenario in the body.
func (s *PanelServer) handleMount(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	res, err := ws.MountJSON(raw)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *PanelServer) handleReset(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	ws.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": ws.ID()})
}

// --- Nodes ---

func (s *PanelServer) handleAddNode(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var node schema.Node
	if !decodeBody(w, r, &node) {
		return
	}
	added, err := ws.AddNode(node)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *PanelServer) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	nodeID := r.PathValue("node")
	if err := ws.RemoveNode(nodeID); err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "node_id": nodeID})
}

func (s *PanelServer) handleMoveNode(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var p schema.Point
	if !decodeBody(w, r, &p) {
		return
	}
	nodeID := r.PathValue("node")
	if err := ws.MoveNode(nodeID, p); err != nil {
		writeCanvasError(w, err)
		return
	}
	node, err := ws.Node(nodeID)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *PanelServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var body struct {
		Config     map[string]any `json:"config"`
		Configured bool           `json:"configured"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	node, err := ws.UpdateNodeConfig(r.PathValue("node"), body.Config, body.Configured)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *PanelServer) handleBranchStubs(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	lines, err := ws.CreateBranchStubs(r.PathValue("node"))
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lines)
}

// --- Connections and previews ---

type edgeBody struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	BranchID string `json:"branch_id"`
}

func (s *PanelServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var body edgeBody
	if !decodeBody(w, r, &body) {
		return
	}
	conn, err := ws.Connect(body.SourceID, body.TargetID, body.BranchID)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *PanelServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	connID := r.PathValue("conn")
	if err := ws.Disconnect(connID); err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "connection_id": connID})
}

func (s *PanelServer) handleCreatePreview(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var body struct {
		edgeBody
		Color  string  `json:"color"`
		Width  float64 `json:"width"`
		Dashed *bool   `json:"dashed"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	line, err := ws.CreatePreview(body.SourceID, body.TargetID, preview.Options{
		BranchID: body.BranchID,
		Color:    body.Color,
		Width:    body.Width,
		Dashed:   body.Dashed,
	})
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (s *PanelServer) handleRemovePreview(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	lineID := r.PathValue("line")
	if err := ws.RemovePreview(lineID); err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "preview_line_id": lineID})
}

// --- Layout and selection ---

func (s *PanelServer) handleApplyLayout(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	res, err := ws.ApplyLayout()
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *PanelServer) handleSetDirection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var body struct {
		Direction schema.LayoutDirection `json:"direction"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := ws.SetLayoutDirection(body.Direction); err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "direction": string(body.Direction)})
}

// handleSelect replaces the selection. A predicate selects the matching
// nodes; otherwise node, nodes and edges are applied as given. An empty body
// clears the selection.
func (s *PanelServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var body struct {
		Node      string   `json:"node"`
		Nodes     []string `json:"nodes"`
		Edges     []string `json:"edges"`
		Predicate string   `json:"predicate"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	switch {
	case body.Predicate != "":
		if _, err := ws.SelectWhere(r.Context(), body.Predicate); err != nil {
			writeCanvasError(w, err)
			return
		}
	case body.Node == "" && len(body.Nodes) == 0 && len(body.Edges) == 0:
		ws.ClearSelection()
	default:
		if body.Node != "" {
			if err := ws.Select(body.Node); err != nil {
				writeCanvasError(w, err)
				return
			}
		}
		if len(body.Nodes) > 0 {
			ws.SelectNodes(body.Nodes...)
		}
		if len(body.Edges) > 0 {
			ws.SelectEdges(body.Edges...)
		}
	}
	writeJSON(w, http.StatusOK, ws.Selection())
}

func (s *PanelServer) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "auditor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Auditor.RunOnce(r.Context()))
}
