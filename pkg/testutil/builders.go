// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:       uuid.New().String(),
		Kind:     models.NodeKindAction,
		Label:    "Create task",
		Icon:     "lucide:play-circle",
		Config:   map[string]any{models.ConfigKeyCatalogID: "a1", "taskContent": "Call back"},
		Position: models.Position{X: 100, Y: 200},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithTriggerNode configures the node as a "New company added" trigger.
func WithTriggerNode() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Kind = models.NodeKindTrigger
		n.Label = "New company added"
		n.Icon = "lucide:zap"
		n.Config = map[string]any{models.ConfigKeyCatalogID: "t1"}
	}
}

// WithSwitchNode configures the node as a switch.
func WithSwitchNode() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Kind = models.NodeKindSwitch
		n.Label = "Switch"
		n.Icon = "lucide:git-fork"
		n.Config = map[string]any{models.ConfigKeyCatalogID: "switch"}
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

// WithLabel sets the node label.
func WithLabel(label string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Label = label
	}
}

// WithPosition sets the node position.
func WithPosition(x, y float64) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Position = models.Position{X: x, Y: y}
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// CreateTestEdge creates an edge between two nodes. port is empty for plain edges.
func CreateTestEdge(id, source, target, port string) *models.WorkflowEdge {
	return &models.WorkflowEdge{
		ID:         id,
		Source:     source,
		Target:     target,
		SourcePort: port,
		Label:      models.ConditionLabel(port),
		Animated:   true,
		Marker:     models.MarkerArrowClosed,
	}
}

// CreateTestWorkflow creates an empty disabled workflow.
func CreateTestWorkflow() *models.Workflow {
	now := time.Now().UTC()

	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Nodes:       []*models.WorkflowNode{},
		Edges:       []*models.WorkflowEdge{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateTestWorkflowWithNodes creates a workflow with a trigger feeding a switch whose first
// condition leads to an action.
func CreateTestWorkflowWithNodes() *models.Workflow {
	workflow := CreateTestWorkflow()

	workflow.Nodes = []*models.WorkflowNode{
		CreateTestNode(WithTriggerNode(), WithID("trigger-1")),
		CreateTestNode(WithSwitchNode(), WithID("switch-1"), WithPosition(100, 350)),
		CreateTestNode(WithID("action-1"), WithPosition(100, 500)),
	}

	workflow.Edges = []*models.WorkflowEdge{
		CreateTestEdge("edge-1", "trigger-1", "switch-1", ""),
		CreateTestEdge("edge-2", "switch-1", "action-1", models.PortCondition1),
	}

	return workflow
}
