package schema

import (
	"bytes"
	"encoding/json"
	"time"
)

// NodeKind enumerates the workflow steps that can be placed on the canvas.
type NodeKind string

const (
	NodeKindStart         NodeKind = "start"
	NodeKindEnd           NodeKind = "end"
	NodeKindAudienceSplit NodeKind = "audience-split"
	NodeKindCrowdSplit    NodeKind = "crowd-split"
	NodeKindEventSplit    NodeKind = "event-split"
	NodeKindABTest        NodeKind = "ab-test"
	NodeKindSMS           NodeKind = "sms"
	NodeKindEmail         NodeKind = "email"
	NodeKindWechat        NodeKind = "wechat"
	NodeKindAICall        NodeKind = "ai-call"
	NodeKindManualCall    NodeKind = "manual-call"
	NodeKindBenefit       NodeKind = "benefit"
	NodeKindWait          NodeKind = "wait"
	NodeKindTask          NodeKind = "task"
)

// UnlimitedOutputs marks a kind whose outgoing edge count depends on its configured branches.
const UnlimitedOutputs = -1

// KindSpec describes the static properties of a node kind.
type KindSpec struct {
	Label      string `json:"label"`
	MaxOutputs int    `json:"max_outputs"`
	Split      bool   `json:"split"`
}

// DefaultNodeSize is applied to nodes created without an explicit size.
var DefaultNodeSize = Size{W: 100, H: 100}

// Kinds is the node kind catalogue.
var Kinds = map[NodeKind]KindSpec{
	NodeKindStart:         {Label: "Start", MaxOutputs: 1},
	NodeKindEnd:           {Label: "End", MaxOutputs: 0},
	NodeKindAudienceSplit: {Label: "Audience split", MaxOutputs: UnlimitedOutputs, Split: true},
	NodeKindCrowdSplit:    {Label: "Crowd split", MaxOutputs: UnlimitedOutputs, Split: true},
	NodeKindEventSplit:    {Label: "Event split", MaxOutputs: 2, Split: true},
	NodeKindABTest:        {Label: "A/B test", MaxOutputs: UnlimitedOutputs, Split: true},
	NodeKindSMS:           {Label: "SMS", MaxOutputs: 1},
	NodeKindEmail:         {Label: "Email", MaxOutputs: 1},
	NodeKindWechat:        {Label: "WeChat", MaxOutputs: 1},
	NodeKindAICall:        {Label: "AI call", MaxOutputs: 1},
	NodeKindManualCall:    {Label: "Manual call", MaxOutputs: 1},
	NodeKindBenefit:       {Label: "Benefit", MaxOutputs: 1},
	NodeKindWait:          {Label: "Wait", MaxOutputs: 1},
	NodeKindTask:          {Label: "Task", MaxOutputs: 1},
}

// Valid reports whether k is in the catalogue.
func (k NodeKind) Valid() bool {
	_, ok := Kinds[k]
	return ok
}

// IsSplit reports whether nodes of this kind fan out into branches.
func (k NodeKind) IsSplit() bool {
	return Kinds[k].Split
}

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a node's bounding box dimensions.
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Node is a workflow step placed on the canvas. Position is the top-left corner.
type Node struct {
	ID           string         `json:"id"`
	Kind         NodeKind       `json:"kind"`
	Label        string         `json:"label,omitempty"`
	Position     Point          `json:"position"`
	Size         Size           `json:"size"`
	BranchID     string         `json:"branch_id,omitempty"`
	IsConfigured bool           `json:"is_configured"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Center returns the center of the node's bounding box.
func (n *Node) Center() Point {
	return Point{X: n.Position.X + n.Size.W/2, Y: n.Position.Y + n.Size.H/2}
}

// Contains reports whether p lies within the node's bounds grown by margin on every side.
func (n *Node) Contains(p Point, margin float64) bool {
	return p.X >= n.Position.X-margin && p.X <= n.Position.X+n.Size.W+margin &&
		p.Y >= n.Position.Y-margin && p.Y <= n.Position.Y+n.Size.H+margin
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := *n
	if n.Config != nil {
		cp.Config = make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			cp.Config[k] = v
		}
	}
	return &cp
}

// Connection is a committed routing edge between two nodes.
type Connection struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	BranchID  string    `json:"branch_id,omitempty"`
	Start     Point     `json:"start"`
	End       Point     `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

// LineStyle controls how a preview line is drawn.
type LineStyle struct {
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Dashed bool    `json:"dashed"`
}

// DefaultPreviewStyle is applied when a preview line is created without style options.
var DefaultPreviewStyle = LineStyle{Color: "#1890ff", Width: 2, Dashed: true}

// PreviewLine is an ephemeral suggestion edge. An empty TargetID marks a
// dangling branch stub whose End is an explicit coordinate.
type PreviewLine struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id,omitempty"`
	BranchID  string    `json:"branch_id,omitempty"`
	Style     LineStyle `json:"style"`
	Start     Point     `json:"start"`
	End       Point     `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

// IsStub reports whether the line has no target node.
func (l *PreviewLine) IsStub() bool {
	return l.TargetID == ""
}

// Pair identifies an ordered (source, target) node pair.
type Pair struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// DragSession is the single in-flight pointer interaction.
type DragSession struct {
	ID            string            `json:"id"`
	SourceNodeID  string            `json:"source_node_id"`
	BranchID      string            `json:"branch_id,omitempty"`
	Mode          DragMode          `json:"mode"`
	State         DragState         `json:"state"`
	Pointer       Point             `json:"pointer"`
	SnapTargetID  string            `json:"snap_target_id,omitempty"`
	TargetID      string            `json:"target_id,omitempty"`
	PreviewLineID string            `json:"preview_line_id,omitempty"`
	LockedPairs   map[Pair]struct{} `json:"-"`
	StartedAt     time.Time         `json:"started_at"`
}

// Locked reports whether the session holds the lock for p.
func (s *DragSession) Locked(p Pair) bool {
	_, ok := s.LockedPairs[p]
	return ok
}

// LayoutStats is derived from the graph after structural changes and layout runs.
type LayoutStats struct {
	TotalNodes       int        `json:"total_nodes"`
	ConnectedNodes   int        `json:"connected_nodes"`
	IsolatedNodes    int        `json:"isolated_nodes"`
	TotalConnections int        `json:"total_connections"`
	MaxDepth         int        `json:"max_depth"`
	LastLayoutTime   *time.Time `json:"last_layout_time,omitempty"`
}

// DebugStats exposes collection sizes and self-heal counters for diagnostics.
type DebugStats struct {
	NodeCount        int        `json:"node_count"`
	EdgeCount        int        `json:"edge_count"`
	PreviewLineCount int        `json:"preview_line_count"`
	Repairs          int        `json:"repairs"`
	LastUpdate       *time.Time `json:"last_update,omitempty"`
}

// NodeStats counts nodes by configuration state and kind.
type NodeStats struct {
	Total        int              `json:"total"`
	Configured   int              `json:"configured"`
	Unconfigured int              `json:"unconfigured"`
	ByKind       map[NodeKind]int `json:"by_kind"`
}

// ConnectionStats counts committed connections and preview lines.
type ConnectionStats struct {
	Connections  int `json:"connections"`
	Branched     int `json:"branched"`
	PreviewLines int `json:"preview_lines"`
	Stubs        int `json:"stubs"`
}

// Snapshot is a read-only copy of a canvas.
type Snapshot struct {
	CanvasID     string          `json:"canvas_id"`
	Nodes        []*Node         `json:"nodes"`
	Connections  []*Connection   `json:"connections"`
	PreviewLines []*PreviewLine  `json:"preview_lines"`
	Layout       LayoutStats     `json:"layout"`
	Debug        DebugStats      `json:"debug"`
	Direction    LayoutDirection `json:"direction"`
	Session      *DragSession    `json:"session,omitempty"`
	GraphReady   bool            `json:"graph_ready"`
	CanUndo      bool            `json:"can_undo"`
	CanRedo      bool            `json:"can_redo"`
}

// Scenario is the seed state consumed once when a canvas is mounted.
// Decoding tolerates a null or non-array "nodes"/"connections" field by
// normalizing it to an empty list; Repaired lists the fields that were normalized.
type Scenario struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Repaired    []string     `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	var raw struct {
		Nodes       json.RawMessage `json:"nodes"`
		Connections json.RawMessage `json:"connections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Scenario{Nodes: []Node{}, Connections: []Connection{}}
	if isArray(raw.Nodes) {
		if err := json.Unmarshal(raw.Nodes, &s.Nodes); err != nil {
			return err
		}
	} else {
		s.Repaired = append(s.Repaired, "nodes")
	}
	if isArray(raw.Connections) {
		if err := json.Unmarshal(raw.Connections, &s.Connections); err != nil {
			return err
		}
	} else {
		s.Repaired = append(s.Repaired, "connections")
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
