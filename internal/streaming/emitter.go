package streaming

import (
	"context"
	"log/slog"

	"github.com/rendis/flowcanvas/pkg/schema"
)

// Sink receives every event published through a CanvasEmitter, after the hub.
type Sink func(StreamEvent)

// CanvasEmitter forwards one canvas's notifications to an EventHub. It
// satisfies the canvas store's Emitter interface.
type CanvasEmitter struct {
	Hub      EventHub
	CanvasID string
	Sinks    []Sink
	Logger   *slog.Logger
}

// Emit publishes n. Hub errors are logged, never returned.
func (e *CanvasEmitter) Emit(n schema.Notification) {
	event := StreamEvent{CanvasID: e.CanvasID, EventType: n.Type, Payload: n.Payload}
	if e.Hub != nil {
		if err := e.Hub.Publish(context.Background(), event); err != nil && e.Logger != nil {
			e.Logger.Warn("publish notification", "canvas_id", e.CanvasID, "type", n.Type, "error", err)
		}
	}
	for _, sink := range e.Sinks {
		sink(event)
	}
}
