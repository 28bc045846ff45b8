package panel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/internal/scheduler"
	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/internal/workspace"
	"github.com/rendis/flowcanvas/pkg/schema"
)

const seed = `{
  "nodes": [
    {"id": "start", "kind": "start"},
    {"id": "split", "kind": "audience-split", "config": {"branches": [{"id": "vip"}, {"id": "rest"}]}},
    {"id": "sms", "kind": "sms"}
  ],
  "connections": [
    {"id": "c1", "source_id": "start", "target_id": "split"},
    {"id": "c2", "source_id": "split", "target_id": "sms", "branch_id": "vip"}
  ]
}`

type fixture struct {
	srv      *httptest.Server
	registry *workspace.Registry
	hub      *streaming.MemoryHub
	log      *store.EventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	log := store.NewEventLog(db)
	hub := streaming.NewMemoryHub()
	reg, err := workspace.NewRegistry(workspace.Options{
		Hub:   hub,
		Sinks: []streaming.Sink{log.Sink(nil)},
	}, db)
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	auditor, err := scheduler.NewAuditor("", scheduler.RegistryTargets(reg), nil)
	require.NoError(t, err)

	srv := httptest.NewServer(NewPanelServer(PanelDeps{
		Registry: reg,
		Hub:      hub,
		Store:    db,
		Auditor:  auditor,
	}).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, registry: reg, hub: hub, log: log}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (f *fixture) seed(t *testing.T, id string) {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/canvases", map[string]any{
		"id": id, "name": "Spring", "scenario": json.RawMessage(seed),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestCreateCanvasWithScenario(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/canvases", map[string]any{
		"id": "spring", "scenario": json.RawMessage(seed),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		ID    string                `json:"id"`
		Mount workspace.MountResult `json:"mount"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "spring", created.ID)
	assert.Equal(t, 3, created.Mount.Nodes)
	assert.Equal(t, 2, created.Mount.Connections)
	assert.Equal(t, 1, created.Mount.Stubs, "only the rest branch is open")

	resp, _ = f.do(t, http.MethodPost, "/api/canvases", map[string]any{"id": "spring"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/canvases", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []canvasSummary
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Stats.Nodes.Total)
}

func TestCreateCanvasInvalidScenarioUnmounts(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/canvases", map[string]any{
		"id": "bad", "scenario": json.RawMessage(`{"nodes": [{"id": "x", "kind": "teleport"}]}`),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), schema.ErrCodeValidation)

	_, err := f.registry.Get("bad")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestSnapshotAndUnknownCanvas(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodGet, "/api/canvases/spring", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap schema.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Len(t, snap.Nodes, 3)
	assert.Len(t, snap.PreviewLines, 1)
	assert.True(t, snap.GraphReady)

	resp, body = f.do(t, http.MethodGet, "/api/canvases/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), schema.ErrCodeNotFound)
}

func TestNodeAndConnectionMutations(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodPost, "/api/canvases/spring/nodes", map[string]any{
		"id": "wait", "kind": "wait",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPut, "/api/canvases/spring/nodes/wait/position", schema.Point{X: 40, Y: 600})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var moved schema.Node
	require.NoError(t, json.Unmarshal(body, &moved))
	assert.Equal(t, schema.Point{X: 40, Y: 600}, moved.Position)

	resp, body = f.do(t, http.MethodPost, "/api/canvases/spring/connections", map[string]string{
		"source_id": "sms", "target_id": "wait",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var conn schema.Connection
	require.NoError(t, json.Unmarshal(body, &conn))
	assert.NotEmpty(t, conn.ID)

	resp, _ = f.do(t, http.MethodPost, "/api/canvases/spring/connections", map[string]string{
		"source_id": "sms", "target_id": "sms",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/canvases/spring/connections/"+conn.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/canvases/spring/connections/"+conn.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/canvases/spring/nodes/wait", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateConfigValidates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, _ := f.do(t, http.MethodPut, "/api/canvases/spring/nodes/sms/config", map[string]any{
		"config": map[string]any{}, "configured": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPut, "/api/canvases/spring/nodes/sms/config", map[string]any{
		"config": map[string]any{"template": "hello"}, "configured": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var node schema.Node
	require.NoError(t, json.Unmarshal(body, &node))
	assert.True(t, node.IsConfigured)
}

func TestPreviewsLayoutAndDirection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodPost, "/api/canvases/spring/previews", map[string]string{
		"source_id": "sms", "target_id": "start",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var line schema.PreviewLine
	require.NoError(t, json.Unmarshal(body, &line))

	resp, _ = f.do(t, http.MethodDelete, "/api/canvases/spring/previews/"+line.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/canvases/spring/layout/direction", map[string]string{"direction": "LR"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/api/canvases/spring/layout/direction", map[string]string{"direction": "XY"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/canvases/spring/layout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"max_depth":2`)

	resp, _ = f.do(t, http.MethodPost, "/api/canvases/spring/nodes/sms/stubs", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "sms is not a split")
}

func TestSelectionEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodPut, "/api/canvases/spring/selection", map[string]string{"node": "start"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var sel workspace.Selection
	require.NoError(t, json.Unmarshal(body, &sel))
	require.NotNil(t, sel.StartNode)
	assert.Equal(t, "start", sel.StartNode.ID)

	resp, body = f.do(t, http.MethodPut, "/api/canvases/spring/selection", map[string]string{"predicate": `kind == "sms"`})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &sel))
	assert.Equal(t, []string{"sms"}, sel.Nodes)

	resp, _ = f.do(t, http.MethodPut, "/api/canvases/spring/selection", map[string]string{"node": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodPut, "/api/canvases/spring/selection", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sel))
	assert.Empty(t, sel.Nodes)
	assert.Nil(t, sel.Node)
}

func TestQueryValidateAndDiagram(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodPost, "/api/canvases/spring/query", map[string]string{
		"expression": "[.nodes[].id]",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var q struct {
		Result []string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &q))
	assert.ElementsMatch(t, []string{"start", "split", "sms"}, q.Result)

	resp, _ = f.do(t, http.MethodPost, "/api/canvases/spring/query", map[string]string{"expression": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/canvases/spring/query", map[string]string{"expression": ".nodes[["})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/canvases/spring/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result schema.ValidationResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.NotEmpty(t, result.Warnings, "sms and split are unconfigured")

	resp, body = f.do(t, http.MethodGet, "/api/canvases/spring/diagram", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "graph TB")
	assert.Contains(t, string(body), "-.->|rest|")

	resp, body = f.do(t, http.MethodGet, "/api/canvases/spring/diagram?format=ascii", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "=== Canvas spring ===")

	resp, _ = f.do(t, http.MethodGet, "/api/canvases/spring/diagram?format=svg", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodGet, "/api/canvases/spring/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []*store.Event
	require.NoError(t, json.Unmarshal(body, &events))
	require.NotEmpty(t, events)
	assert.Equal(t, int64(1), events[0].Sequence)

	resp, body = f.do(t, http.MethodGet, "/api/canvases/spring/events?type="+schema.EventNodeAdded, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &events))
	assert.Len(t, events, 3)

	resp, body = f.do(t, http.MethodGet, "/api/canvases/ghost/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestResetAndDelete(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, _ := f.do(t, http.MethodPost, "/api/canvases/spring/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ws, err := f.registry.Get("spring")
	require.NoError(t, err)
	assert.True(t, ws.Stats().Empty)

	resp, _ = f.do(t, http.MethodPut, "/api/canvases/spring/scenario", seed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, ws.Stats().Nodes.Total)

	resp, _ = f.do(t, http.MethodDelete, "/api/canvases/spring", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/canvases/spring", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	history, err := f.log.GetEvents(context.Background(), "spring", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, history, "plain delete keeps the history")
}

func TestDeleteWithPurge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodDelete, "/api/canvases/spring?purge=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"ok": true, "id": "spring", "purged": true}`, string(body))

	history, err := f.log.GetEvents(context.Background(), "spring", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAuditEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "spring")

	resp, body := f.do(t, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var last struct {
		Report  *scheduler.Report `json:"report"`
		NextRun time.Time         `json:"next_run"`
	}
	require.NoError(t, json.Unmarshal(body, &last))
	assert.Nil(t, last.Report)
	assert.True(t, last.NextRun.After(time.Now()))

	resp, body = f.do(t, http.MethodPost, "/api/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report scheduler.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 1, report.Canvases)
}

func TestOptionalDepsUnavailable(t *testing.T) {
	reg, err := workspace.NewRegistry(workspace.Options{}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(NewPanelServer(PanelDeps{Registry: reg}).Handler())
	defer srv.Close()

	for _, path := range []string{"/api/audit", "/api/canvases/x/events", "/sse/events"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestSSECanvasStream(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/canvases", map[string]string{"id": "live"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.srv.URL+"/sse/canvases/live?types="+schema.EventNodeAdded, nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	resp, _ = f.do(t, http.MethodPost, "/api/canvases/live/nodes", map[string]string{"id": "start", "kind": "start"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	scanner := bufio.NewScanner(stream.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: "+schema.EventNodeAdded, eventLine)
	assert.Contains(t, dataLine, `"canvas_id":"live"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(schema.ErrCodeValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(schema.ErrCodeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(schema.ErrCodeSessionActive))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(schema.ErrCodeCancelled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(schema.ErrCodeStore))
}
