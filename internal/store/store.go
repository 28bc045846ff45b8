package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Canvases
	RegisterCanvas(ctx context.Context, c *Canvas) error
	GetCanvas(ctx context.Context, id string) (*Canvas, error)
	ListCanvases(ctx context.Context, filter CanvasFilter) ([]*Canvas, error)
	DeleteCanvas(ctx context.Context, id string) error

	// Notification log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, canvasID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
