package schema

// Outbound notification names delivered to the host.
const (
	EventNodeAdded          = "node-added"
	EventNodeRemoved        = "node-removed"
	EventEdgeCreated        = "edge-created"
	EventEdgeRemoved        = "edge-removed"
	EventPreviewLineCreated = "preview-line-created"
	EventPreviewLineRemoved = "preview-line-removed"
	EventLayoutApplied      = "layout-applied"
	EventCanvasReset        = "canvas-reset"
	EventSessionStarted     = "drag-session-started"
	EventSessionEnded       = "drag-session-ended"
	EventIntegrityChecked   = "integrity-checked"
)

// Notification is a fire-and-forget message from the canvas core to its host.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// LayoutAppliedPayload is the payload of EventLayoutApplied.
type LayoutAppliedPayload struct {
	Layers    [][]string `json:"layers"`
	NodeCount int        `json:"node_count"`
}

// DragState is the lifecycle state of the interaction session manager.
type DragState string

const (
	DragStateIdle       DragState = "idle"
	DragStateDragging   DragState = "dragging"
	DragStateCommitting DragState = "committing"
	DragStateCancelled  DragState = "cancelled"
)

// DragMode selects how pointer movement is interpreted during a drag.
type DragMode string

const (
	DragModeNormal    DragMode = "normal"
	DragModeBatch     DragMode = "batch"
	DragModePrecision DragMode = "precision"
)

// Valid reports whether m is a known drag mode.
func (m DragMode) Valid() bool {
	switch m {
	case DragModeNormal, DragModeBatch, DragModePrecision:
		return true
	}
	return false
}

// LayoutDirection is the primary flow direction of the layered layout.
type LayoutDirection string

const (
	LayoutTopBottom LayoutDirection = "TB"
	LayoutLeftRight LayoutDirection = "LR"
)
