package session

import "github.com/rendis/flowcanvas/pkg/schema"

// ValidTransitions is the drag lifecycle:
// idle -> dragging -> (committing | cancelled) -> idle.
var ValidTransitions = map[schema.DragState][]schema.DragState{
	schema.DragStateIdle:       {schema.DragStateDragging},
	schema.DragStateDragging:   {schema.DragStateCommitting, schema.DragStateCancelled},
	schema.DragStateCommitting: {schema.DragStateIdle, schema.DragStateCancelled},
	schema.DragStateCancelled:  {schema.DragStateIdle},
}

// TransitionHook is called before or after a drag state transition. An error
// from a before hook aborts the transition.
type TransitionHook func(from, to schema.DragState) error

type hookKey struct {
	from, to schema.DragState
}

func isValidTransition(from, to schema.DragState) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// OnBefore registers a hook called before a transition.
func (m *Manager) OnBefore(from, to schema.DragState, hook TransitionHook) {
	key := hookKey{from, to}
	m.before[key] = append(m.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (m *Manager) OnAfter(from, to schema.DragState, hook TransitionHook) {
	key := hookKey{from, to}
	m.after[key] = append(m.after[key], hook)
}

// transition validates and applies a state change on the active session.
// Leaving dragging always stops the pending snap evaluation; reaching idle
// ends the session and releases its locks.
func (m *Manager) transition(to schema.DragState) error {
	sess := m.store.Session()
	from := schema.DragStateIdle
	if sess != nil {
		from = sess.State
	}
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "invalid drag transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	for _, hook := range m.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if from == schema.DragStateDragging {
		m.store.StopSnapTimer()
	}
	if to == schema.DragStateIdle {
		m.store.EndSession()
		m.createdPreview = false
	} else if sess != nil {
		sess.State = to
	}

	for _, hook := range m.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}
