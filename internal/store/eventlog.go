package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// EventLog records canvas notifications on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-canvas sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces the
	// lock before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a canvas with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, canvasID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, canvasID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// Tally is the per-canvas summary rebuilt from the log.
type Tally struct {
	CanvasID    string         `json:"canvas_id"`
	Events      int64          `json:"events"`
	ByType      map[string]int `json:"by_type"`
	Nodes       int            `json:"nodes"`
	Connections int            `json:"connections"`
	Previews    int            `json:"previews"`
	Layouts     int            `json:"layouts"`
	Resets      int            `json:"resets"`
}

// Replay folds every event of a canvas into a Tally. The live counters
// restart at each canvas-reset. A sequence gap is a store error.
func (el *EventLog) Replay(ctx context.Context, canvasID string) (*Tally, error) {
	events, err := el.store.GetEvents(ctx, canvasID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	t := &Tally{CanvasID: canvasID, ByType: make(map[string]int)}
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in canvas %s: expected %d, got %d", canvasID, expected, e.Sequence)
		}
		t.Events++
		t.ByType[e.Type]++

		switch e.Type {
		case schema.EventNodeAdded:
			t.Nodes++
		case schema.EventNodeRemoved:
			t.Nodes = max(t.Nodes-1, 0)
		case schema.EventEdgeCreated:
			t.Connections++
		case schema.EventEdgeRemoved:
			t.Connections = max(t.Connections-1, 0)
		case schema.EventPreviewLineCreated:
			t.Previews++
		case schema.EventPreviewLineRemoved:
			t.Previews = max(t.Previews-1, 0)
		case schema.EventLayoutApplied:
			t.Layouts++
		case schema.EventCanvasReset:
			t.Resets++
			t.Nodes, t.Connections, t.Previews = 0, 0, 0
		}
	}
	return t, nil
}

// Sink returns a streaming sink that appends every published notification.
// Failures are logged; notifications are fire-and-forget.
func (el *EventLog) Sink(logger *slog.Logger) streaming.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev streaming.StreamEvent) {
		var payload json.RawMessage
		if ev.Payload != nil {
			b, err := json.Marshal(ev.Payload)
			if err != nil {
				logger.Warn("encode notification payload", "canvas_id", ev.CanvasID, "type", ev.EventType, "error", err)
			} else {
				payload = b
			}
		}
		e := &Event{CanvasID: ev.CanvasID, Type: ev.EventType, Payload: payload, Timestamp: ev.Time}
		if err := el.AppendEvent(context.Background(), e); err != nil {
			logger.Warn("record notification", "canvas_id", ev.CanvasID, "type", ev.EventType, "error", err)
		}
	}
}
