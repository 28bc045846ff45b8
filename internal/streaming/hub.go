package streaming

import (
	"context"
	"time"
)

// StreamEvent is a canvas notification delivered to live subscribers.
type StreamEvent struct {
	Seq       uint64    `json:"seq"`
	CanvasID  string    `json:"canvas_id"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Time      time.Time `json:"time"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	CanvasID   string   `json:"canvas_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for canvas notifications.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
