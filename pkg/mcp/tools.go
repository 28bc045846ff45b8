package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowcanvas/internal/diagram"
	"github.com/rendis/flowcanvas/internal/preview"
	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/internal/workspace"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// handleCreate creates a canvas and seeds it when a scenario is given.
func (s *CanvasServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := s.registry.Create(ctx, req.GetString("canvas_id", ""), req.GetString("name", ""))
	if err != nil {
		return toolError("create failed", err), nil
	}

	out := map[string]any{"canvas_id": ws.ID()}
	if sc := mcp.ParseStringMap(req, "scenario", nil); sc != nil {
		res, mountErr := mountScenario(ws, sc)
		if mountErr != nil {
			if rmErr := s.registry.Remove(ws.ID()); rmErr != nil {
				s.logger.Warn("unmount after failed seed", "canvas_id", ws.ID(), "error", rmErr)
			}
			return toolError("mount failed", mountErr), nil
		}
		out["mount"] = res
	}
	return marshalResult(out)
}

// handleMount replaces a canvas's contents with a scenario.
func (s *CanvasServer) handleMount(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	sc := mcp.ParseStringMap(req, "scenario", nil)
	if sc == nil {
		return mcp.NewToolResultError("scenario is required"), nil
	}
	res, err := mountScenario(ws, sc)
	if err != nil {
		return toolError("mount failed", err), nil
	}
	return marshalResult(res)
}

func mountScenario(ws *workspace.Workspace, sc map[string]any) (*workspace.MountResult, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "encode scenario").WithCause(err)
	}
	return ws.MountJSON(raw)
}

func (s *CanvasServer) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.registry.List()
	canvases := make([]map[string]any, 0, len(list))
	for _, ws := range list {
		canvases = append(canvases, map[string]any{"canvas_id": ws.ID(), "stats": ws.Stats()})
	}
	return marshalResult(map[string]any{"canvases": canvases})
}

func (s *CanvasServer) handleSnapshot(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	return marshalResult(ws.Snapshot())
}

// handleNode dispatches the node operations.
func (s *CanvasServer) handleNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	if action == "add" {
		raw := mcp.ParseStringMap(req, "node", nil)
		if raw == nil {
			return mcp.NewToolResultError("node is required for add"), nil
		}
		var n schema.Node
		if err := remarshal(raw, &n); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid node: %v", err)), nil
		}
		added, err := ws.AddNode(n)
		if err != nil {
			return toolError("add node failed", err), nil
		}
		return marshalResult(added)
	}

	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	switch action {
	case "remove":
		if err := ws.RemoveNode(nodeID); err != nil {
			return toolError("remove node failed", err), nil
		}
		return marshalResult(map[string]any{"ok": true, "node_id": nodeID})
	case "move":
		p := schema.Point{X: req.GetFloat("x", 0), Y: req.GetFloat("y", 0)}
		if err := ws.MoveNode(nodeID, p); err != nil {
			return toolError("move node failed", err), nil
		}
		n, err := ws.Node(nodeID)
		if err != nil {
			return toolError("move node failed", err), nil
		}
		return marshalResult(n)
	case "configure":
		cfg := mcp.ParseStringMap(req, "config", map[string]any{})
		n, err := ws.UpdateNodeConfig(nodeID, cfg, req.GetBool("configured", false))
		if err != nil {
			return toolError("configure node failed", err), nil
		}
		return marshalResult(n)
	case "stubs":
		lines, err := ws.CreateBranchStubs(nodeID)
		if err != nil {
			return toolError("create stubs failed", err), nil
		}
		return marshalResult(map[string]any{"preview_lines": lines})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown node action: %s", action)), nil
	}
}

// handleEdge dispatches connection and preview line operations.
func (s *CanvasServer) handleEdge(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	sourceID := req.GetString("source_id", "")
	targetID := req.GetString("target_id", "")
	branchID := req.GetString("branch_id", "")
	id := req.GetString("id", "")

	switch action {
	case "connect":
		conn, err := ws.Connect(sourceID, targetID, branchID)
		if err != nil {
			return toolError("connect failed", err), nil
		}
		return marshalResult(conn)
	case "preview":
		line, err := ws.CreatePreview(sourceID, targetID, preview.Options{BranchID: branchID})
		if err != nil {
			return toolError("preview failed", err), nil
		}
		return marshalResult(line)
	case "disconnect", "unpreview":
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		remove := ws.Disconnect
		if action == "unpreview" {
			remove = ws.RemovePreview
		}
		if err := remove(id); err != nil {
			return toolError(action+" failed", err), nil
		}
		return marshalResult(map[string]any{"ok": true, "id": id})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown edge action: %s", action)), nil
	}
}

// handleDrag steps the drag session state machine.
func (s *CanvasServer) handleDrag(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "begin":
		sourceID, err := req.RequireString("source_id")
		if err != nil {
			return mcp.NewToolResultError("source_id is required for begin"), nil
		}
		mode := schema.DragMode(req.GetString("mode", ""))
		sess, err := ws.BeginDrag(sourceID, req.GetString("branch_id", ""), mode)
		if err != nil {
			return toolError("begin drag failed", err), nil
		}
		return marshalResult(sess)
	case "move":
		if err := ws.MoveDrag(schema.Point{X: req.GetFloat("x", 0), Y: req.GetFloat("y", 0)}); err != nil {
			return toolError("move drag failed", err), nil
		}
		return marshalResult(map[string]any{"session": ws.DragSession()})
	case "commit":
		line, err := ws.CommitDrag(req.GetString("target_id", ""))
		if err != nil {
			return toolError("commit drag failed", err), nil
		}
		return marshalResult(map[string]any{"preview_line": line, "session": ws.DragSession()})
	case "confirm":
		conn, err := ws.ConfirmDrag()
		if err != nil {
			return toolError("confirm drag failed", err), nil
		}
		return marshalResult(conn)
	case "cancel":
		if err := ws.CancelDrag(); err != nil {
			return toolError("cancel drag failed", err), nil
		}
		return marshalResult(map[string]any{"ok": true})
	case "status":
		return marshalResult(map[string]any{"session": ws.DragSession()})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown drag action: %s", action)), nil
	}
}

func (s *CanvasServer) handleLayout(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	if dir := req.GetString("direction", ""); dir != "" {
		if err := ws.SetLayoutDirection(schema.LayoutDirection(dir)); err != nil {
			return toolError("set direction failed", err), nil
		}
	}
	res, err := ws.ApplyLayout()
	if err != nil {
		return toolError("layout failed", err), nil
	}
	return marshalResult(res)
}

func (s *CanvasServer) handleSelect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	nodeID := req.GetString("node_id", "")
	predicate := req.GetString("predicate", "")
	switch {
	case predicate != "":
		if _, err := ws.SelectWhere(ctx, predicate); err != nil {
			return toolError("select failed", err), nil
		}
	case nodeID != "":
		if err := ws.Select(nodeID); err != nil {
			return toolError("select failed", err), nil
		}
	default:
		ws.ClearSelection()
	}
	return marshalResult(ws.Selection())
}

func (s *CanvasServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	if req.GetBool("notify", false) {
		return marshalResult(ws.Audit())
	}
	return marshalResult(ws.Validate())
}

func (s *CanvasServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	result, err := ws.Query(ctx, expression)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"result": result})
}

func (s *CanvasServer) handleRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	branch, err := ws.EvaluateBranch(ctx, nodeID,
		mcp.ParseStringMap(req, "audience", map[string]any{}),
		mcp.ParseStringMap(req, "event", map[string]any{}))
	if err != nil {
		return toolError("route failed", err), nil
	}
	return marshalResult(map[string]any{"node_id": nodeID, "branch_id": branch})
}

// handleEvents reads the notification log. The canvas need not be mounted.
func (s *CanvasServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("notification log not configured"), nil
	}
	canvasID, err := req.RequireString("canvas_id")
	if err != nil {
		return mcp.NewToolResultError("canvas_id is required"), nil
	}

	var events []*store.Event
	if eventType := req.GetString("event_type", ""); eventType != "" {
		events, err = s.store.GetEventsByType(ctx, eventType, store.EventFilter{
			CanvasID: canvasID,
			Limit:    extractInt(req.GetArguments(), "limit", 100),
		})
	} else {
		events, err = s.store.GetEvents(ctx, canvasID, int64(extractInt(req.GetArguments(), "since", 0)))
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if events == nil {
		events = []*store.Event{}
	}
	return marshalResult(map[string]any{"events": events})
}

// handleDiagram renders the canvas in the requested format.
func (s *CanvasServer) handleDiagram(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
	ws, errResult := s.workspace(req)
	if errResult != nil {
		return errResult, nil
	}

	model, buildErr := diagram.Build(ws.Snapshot(), ws.Validate())
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCIIAuto(model, s.binDir)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		encoded := base64.StdEncoding.EncodeToString(png)
		return mcp.NewToolResultImage(model.Title, encoded, "image/png"), nil
	}
}

// handleWatch starts or stops pushing a canvas's notifications to an agent.
func (s *CanvasServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	canvasID, err := req.RequireString("canvas_id")
	if err != nil {
		return mcp.NewToolResultError("canvas_id is required"), nil
	}
	s.captureSession(ctx, agentID)

	if req.GetBool("stop", false) {
		stopped := s.unwatch(agentID, canvasID)
		return marshalResult(map[string]any{"ok": true, "watching": false, "stopped": stopped})
	}
	if _, err := s.registry.Get(canvasID); err != nil {
		return toolError("watch failed", err), nil
	}
	if err := s.watch(agentID, canvasID); err != nil {
		return toolError("watch failed", err), nil
	}
	return marshalResult(map[string]any{"ok": true, "watching": true, "canvas_id": canvasID})
}

// --- Internal helpers ---

// workspace resolves the canvas_id argument.
func (s *CanvasServer) workspace(req mcp.CallToolRequest) (*workspace.Workspace, *mcp.CallToolResult) {
	id, err := req.RequireString("canvas_id")
	if err != nil {
		return nil, mcp.NewToolResultError("canvas_id is required")
	}
	ws, err := s.registry.Get(id)
	if err != nil {
		return nil, toolError("canvas lookup failed", err)
	}
	return ws, nil
}

// toolError renders err as a tool error. CanvasErrors carry their code.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var ce *schema.CanvasError
	if errors.As(err, &ce) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, ce.Code, ce.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// remarshal converts a decoded JSON object into a typed value.
func remarshal(in map[string]any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// extractInt safely extracts an integer from an arguments map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *CanvasServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
