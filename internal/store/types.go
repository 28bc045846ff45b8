package store

import (
	"encoding/json"
	"time"
)

// Canvas is the registry record of a mounted canvas.
type Canvas struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Event is one notification as recorded in the append-only log.
type Event struct {
	ID        int64           `json:"id"`
	CanvasID  string          `json:"canvas_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EventFilter specifies criteria for querying events.
type EventFilter struct {
	CanvasID string     `json:"canvas_id,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// CanvasFilter specifies criteria for listing canvases.
type CanvasFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}
