package models

import "maps"

// NodeKind is the closed set of node kinds a workflow graph can contain.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger" // Entry point of a workflow
	NodeKindAction  NodeKind = "action"  // Does something against CRM records
	NodeKindSwitch  NodeKind = "switch"  // Branches into the three condition slots
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTrigger, NodeKindAction, NodeKindSwitch:
		return true
	default:
		return false
	}
}

// NodeStatus is the display status of a node during a run. It is never part of a saved definition.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusTriggered NodeStatus = "triggered"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// Config keys written by the editor.
const (
	ConfigKeyCatalogID   = "catalogId"
	ConfigKeyCatalogType = "catalogType"
)

// Position is an editor coordinate in graph space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorkflowNode is a vertex of a workflow graph.
type WorkflowNode struct {
	ID          string         `json:"id"                    validate:"required"`
	Kind        NodeKind       `json:"kind"                  validate:"required,oneof=trigger action switch"`
	Position    Position       `json:"position"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Config      map[string]any `json:"config"`
	Status      NodeStatus     `json:"status,omitempty"`
}

// Clone returns a copy of the node with its own config map.
func (n *WorkflowNode) Clone() *WorkflowNode {
	if n == nil {
		return nil
	}

	clone := *n
	clone.Config = maps.Clone(n.Config)

	if clone.Config == nil {
		clone.Config = map[string]any{}
	}

	return &clone
}

// CatalogID returns the catalog entry id stored in the node config, if any.
func (n *WorkflowNode) CatalogID() string {
	id, _ := n.Config[ConfigKeyCatalogID].(string)

	return id
}

func (n *WorkflowNode) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

func (n *WorkflowNode) IsSwitch() bool {
	return n.Kind == NodeKindSwitch
}
