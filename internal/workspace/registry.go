package workspace

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// Registry holds the mounted canvases of one process.
type Registry struct {
	mu      sync.RWMutex
	items   map[string]*Workspace
	opts    Options
	catalog store.Store
	logger  *slog.Logger
}

// NewRegistry creates a Registry. Every workspace it creates shares opts and
// one set of evaluators. catalog may be nil; when set, created canvases are
// recorded in it.
func NewRegistry(opts Options, catalog store.Store) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Evaluators == nil {
		eval, err := NewEvaluators()
		if err != nil {
			return nil, err
		}
		opts.Evaluators = eval
	}
	return &Registry{
		items:   make(map[string]*Workspace),
		opts:    opts,
		catalog: catalog,
		logger:  opts.Logger.With("component", "registry"),
	}, nil
}

// Create mounts a new empty canvas. An empty id gets a uuid; an id already
// in use is a conflict.
func (r *Registry) Create(ctx context.Context, id, name string) (*Workspace, error) {
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "canvas %q already exists", id)
	}
	w, err := New(id, r.opts)
	if err != nil {
		return nil, err
	}
	if r.catalog != nil {
		if err := r.catalog.RegisterCanvas(ctx, &store.Canvas{ID: id, Name: name}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "register canvas %q", id).WithCause(err)
		}
	}
	r.items[id] = w
	r.logger.Info("canvas created", "canvas_id", id)
	return w, nil
}

// Get returns a mounted canvas.
func (r *Registry) Get(id string) (*Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.items[id]; ok {
		return w, nil
	}
	return nil, notFound("canvas", id)
}

// List returns the mounted canvases ordered by id.
func (r *Registry) List() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workspace, 0, len(r.items))
	for _, w := range r.items {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove unmounts a canvas and tears it down. Its notification history is kept.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	w, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if !ok {
		return notFound("canvas", id)
	}
	w.Close()
	r.logger.Info("canvas removed", "canvas_id", id)
	return nil
}

// Close tears down every canvas.
func (r *Registry) Close() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*Workspace)
	r.mu.Unlock()
	for _, w := range items {
		w.Close()
	}
}

// Evaluators returns the shared evaluators.
func (r *Registry) Evaluators() *Evaluators { return r.opts.Evaluators }
