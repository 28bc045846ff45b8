package panel

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rendis/flowcanvas/internal/diagram"
	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/internal/workspace"
)

type canvasSummary struct {
	ID    string          `json:"id"`
	Stats workspace.Stats `json:"stats"`
}

// --- Read handlers ---

func (s *PanelServer) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Registry.List()
	out := make([]canvasSummary, 0, len(list))
	for _, ws := range list {
		out = append(out, canvasSummary{ID: ws.ID(), Stats: ws.Stats()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *PanelServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Snapshot())
}

func (s *PanelServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Stats())
}

func (s *PanelServer) handleSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Selection())
}

func (s *PanelServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Validate())
}

// handleDiagram renders the canvas with its validation overlay.
// ?format= mermaid (default), ascii or png.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	model, err := diagram.Build(ws.Snapshot(), ws.Validate())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderASCIIAuto(model, s.deps.BinDir))
	case "png":
		png, err := diagram.RenderImage(model)
		if err != nil {
			s.deps.Logger.Error("render diagram", "canvas_id", ws.ID(), "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("render image: %v", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}

// handleEvents lists recorded notifications of a canvas. With ?type= it
// returns the newest events of that type, otherwise the events after
// sequence ?since= in order.
func (s *PanelServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "notification log not configured")
		return
	}
	ctx := r.Context()
	canvasID := r.PathValue("id")

	var (
		events []*store.Event
		err    error
	)
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		events, err = s.deps.Store.GetEventsByType(ctx, eventType, store.EventFilter{
			CanvasID: canvasID,
			Limit:    queryInt(r, "limit", 100),
		})
	} else {
		events, err = s.deps.Store.GetEvents(ctx, canvasID, int64(queryInt(r, "since", 0)))
	}
	if err != nil {
		s.deps.Logger.Error("list events", "canvas_id", canvasID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleQuery runs a jq expression over the canvas snapshot.
func (s *PanelServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var body struct {
		Expression string `json:"expression"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Expression == "" {
		writeError(w, http.StatusBadRequest, "expression is required")
		return
	}
	result, err := ws.Query(r.Context(), body.Expression)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *PanelServer) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "auditor not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":   s.deps.Auditor.LastReport(),
		"next_run": s.deps.Auditor.NextRun(time.Now()),
	})
}
