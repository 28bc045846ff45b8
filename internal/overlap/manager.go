package overlap

import (
	"log/slog"

	"github.com/rendis/flowcanvas/internal/canvas"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// Manager removes preview lines superseded by committed connections.
type Manager struct {
	store  *canvas.Store
	logger *slog.Logger
}

// New creates a Manager over store.
func New(store *canvas.Store) (*Manager, error) {
	if store == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "state initialization failed: overlap manager needs a store")
	}
	return &Manager{store: store, logger: store.Logger().With("component", "overlap")}, nil
}

// HandleEdgeAdd removes every preview line for exactly (sourceID, targetID)
// and returns how many were removed. Stubs and lines between other pairs are
// untouched. Calling it again for the same pair removes nothing.
func (m *Manager) HandleEdgeAdd(sourceID, targetID string) int {
	if sourceID == "" || targetID == "" {
		return 0
	}
	var ids []string
	for _, l := range m.store.PreviewLines() {
		if l.SourceID == sourceID && l.TargetID == targetID {
			ids = append(ids, l.ID)
		}
	}
	removed := 0
	for _, id := range ids {
		if m.store.RemovePreviewLine(id) {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("removed superseded preview lines", "source_id", sourceID, "target_id", targetID, "count", removed)
	}
	return removed
}

// Reconcile sweeps the canvas and removes every preview line superseded by
// an existing connection. It runs after a scenario is mounted.
func (m *Manager) Reconcile() int {
	seen := make(map[schema.Pair]struct{})
	removed := 0
	for _, c := range m.store.Connections() {
		p := schema.Pair{SourceID: c.SourceID, TargetID: c.TargetID}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		removed += m.HandleEdgeAdd(p.SourceID, p.TargetID)
	}
	return removed
}
