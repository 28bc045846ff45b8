package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := &Event{CanvasID: "c1", Type: schema.EventNodeAdded}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
	}
}

func TestEventLog_ConcurrentAppend(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, el.AppendEvent(ctx, &Event{CanvasID: "c1", Type: schema.EventEdgeCreated}))
		}()
	}
	wg.Wait()

	events, err := el.GetEvents(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_Replay(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	for _, typ := range []string{
		schema.EventNodeAdded, schema.EventNodeAdded, schema.EventNodeAdded,
		schema.EventPreviewLineCreated, schema.EventEdgeCreated, schema.EventPreviewLineRemoved,
		schema.EventNodeRemoved, schema.EventEdgeRemoved, schema.EventLayoutApplied,
	} {
		require.NoError(t, el.AppendEvent(ctx, &Event{CanvasID: "c1", Type: typ}))
	}

	tally, err := el.Replay(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), tally.Events)
	assert.Equal(t, 2, tally.Nodes)
	assert.Equal(t, 0, tally.Connections)
	assert.Equal(t, 0, tally.Previews)
	assert.Equal(t, 1, tally.Layouts)
	assert.Equal(t, 3, tally.ByType[schema.EventNodeAdded])
}

func TestEventLog_Replay_ResetClearsCounters(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	for _, typ := range []string{schema.EventNodeAdded, schema.EventEdgeCreated, schema.EventCanvasReset, schema.EventNodeAdded} {
		require.NoError(t, el.AppendEvent(ctx, &Event{CanvasID: "c1", Type: typ}))
	}

	tally, err := el.Replay(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Nodes)
	assert.Equal(t, 0, tally.Connections)
	assert.Equal(t, 1, tally.Resets)
}

func TestEventLog_Replay_Empty(t *testing.T) {
	el, _ := newTestEventLog(t)
	tally, err := el.Replay(context.Background(), "none")
	require.NoError(t, err)
	assert.Zero(t, tally.Events)
	assert.NotNil(t, tally.ByType)
}

func TestEventLog_Replay_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	require.NoError(t, el.AppendEvent(ctx, &Event{CanvasID: "c1", Type: schema.EventNodeAdded}))
	_, err := s.DB().Exec(`INSERT INTO events (canvas_id, event_type, timestamp, sequence) VALUES (?, ?, ?, ?)`,
		"c1", schema.EventNodeAdded, time.Now().UTC(), 5)
	require.NoError(t, err)

	_, err = el.Replay(ctx, "c1")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

func TestEventLog_Sink(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	emitter := &streaming.CanvasEmitter{
		CanvasID: "c1",
		Sinks:    []streaming.Sink{el.Sink(nil)},
	}
	emitter.Emit(schema.Notification{Type: schema.EventNodeAdded, Payload: map[string]any{"id": "n1"}})
	emitter.Emit(schema.Notification{Type: schema.EventCanvasReset})

	events, err := el.GetEvents(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventNodeAdded, events[0].Type)
	assert.JSONEq(t, `{"id":"n1"}`, string(events[0].Payload))
	assert.Nil(t, events[1].Payload)
	assert.False(t, events[1].Timestamp.IsZero())
}
