// Package models defines the core domain models for CRM workflow automation graphs.
package models

import (
	"slices"
	"time"
)

// DefaultWorkflowName is the name given to workflows created through the "new workflow" action.
const DefaultWorkflowName = "New workflow"

// Workflow is an automation graph together with its enablement flag and run summary.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                   validate:"required"`
	Description string          `json:"description,omitempty"`
	IsEnabled   bool            `json:"is_enabled"`
	Nodes       []*WorkflowNode `json:"nodes"                  validate:"dive"`
	Edges       []*WorkflowEdge `json:"edges"                  validate:"dive"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
	RunCount    int             `json:"run_count,omitempty"`
}

// Clone returns a deep copy of the workflow, including its nodes and edges.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := *w

	clone.Nodes = make([]*WorkflowNode, 0, len(w.Nodes))
	for _, node := range w.Nodes {
		clone.Nodes = append(clone.Nodes, node.Clone())
	}

	clone.Edges = make([]*WorkflowEdge, 0, len(w.Edges))
	for _, edge := range w.Edges {
		clone.Edges = append(clone.Edges, edge.Clone())
	}

	if w.LastRunAt != nil {
		lastRunAt := *w.LastRunAt
		clone.LastRunAt = &lastRunAt
	}

	return &clone
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	idx := slices.IndexFunc(w.Nodes, func(n *WorkflowNode) bool { return n.ID == id })
	if idx < 0 {
		return nil
	}

	return w.Nodes[idx]
}
