package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// AgentNotifier pushes notifications to connected agents.
type AgentNotifier interface {
	Notify(ctx context.Context, agentID string, payload map[string]any) error
}

// MCPNotifier implements AgentNotifier using MCP server push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes over the agent's MCP session.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the agent's session.
// Best-effort: returns nil if the agent is not connected.
func (n *MCPNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(agentID)
	if !ok {
		return nil // agent not connected, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

type watchKey struct{ agentID, canvasID string }

// watch forwards the canvas's hub notifications to the agent until unwatched.
// Watching the same canvas again replaces the earlier subscription.
func (s *CanvasServer) watch(agentID, canvasID string) error {
	if s.hub == nil {
		return schema.NewError(schema.ErrCodeInitialization, "event streaming not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{CanvasID: canvasID})
	if err != nil {
		cancel()
		return schema.NewError(schema.ErrCodeExecution, "subscribe").WithCause(err)
	}

	key := watchKey{agentID, canvasID}
	s.watchMu.Lock()
	if prev, ok := s.watches[key]; ok {
		prev()
	}
	s.watches[key] = cancel
	s.watchMu.Unlock()

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				payload := map[string]any{
					"canvas_id":  ev.CanvasID,
					"event_type": ev.EventType,
					"seq":        ev.Seq,
					"payload":    ev.Payload,
				}
				if err := s.notifier.Notify(ctx, agentID, payload); err != nil {
					s.logger.Warn("notify agent", "agent_id", agentID, "canvas_id", canvasID, "error", err)
				}
			}
		}
	}()
	s.logger.Info("watch started", "agent_id", agentID, "canvas_id", canvasID)
	return nil
}

// unwatch stops a watch. It reports whether one was running.
func (s *CanvasServer) unwatch(agentID, canvasID string) bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	key := watchKey{agentID, canvasID}
	cancel, ok := s.watches[key]
	if ok {
		cancel()
		delete(s.watches, key)
	}
	return ok
}
