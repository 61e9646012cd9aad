// Package events defines the notifications published for workflow and run lifecycle changes.
package events

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "crmflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	// Workflow store events.
	WorkflowSavedEvent   EventType = "workflow.saved"
	WorkflowDeletedEvent EventType = "workflow.deleted"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// RunEvent carries a snapshot of the run at the time of the transition.
type RunEvent struct {
	BaseEvent

	Run *models.WorkflowRun `json:"run"`
}

func (e RunEvent) GetType() EventType {
	return e.Type
}

// NewRunEvent builds the event matching the run status: run.started while executing, otherwise
// run.completed or run.failed.
func NewRunEvent(run *models.WorkflowRun) *RunEvent {
	eventType := RunStartedEvent

	switch run.Status {
	case models.RunStatusCompleted:
		eventType = RunCompletedEvent
	case models.RunStatusFailed:
		eventType = RunFailedEvent
	case models.RunStatusExecuting:
	}

	return &RunEvent{
		BaseEvent: NewBaseEvent(eventType, run.WorkflowID),
		Run:       run.Clone(),
	}
}

type WorkflowSaved struct {
	BaseEvent

	Name      string `json:"name"`
	IsEnabled bool   `json:"is_enabled"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

func (e WorkflowSaved) GetType() EventType {
	return WorkflowSavedEvent
}

func NewWorkflowSaved(workflow *models.Workflow) *WorkflowSaved {
	return &WorkflowSaved{
		BaseEvent: NewBaseEvent(WorkflowSavedEvent, workflow.ID),
		Name:      workflow.Name,
		IsEnabled: workflow.IsEnabled,
		NodeCount: len(workflow.Nodes),
		EdgeCount: len(workflow.Edges),
	}
}

type WorkflowDeleted struct {
	BaseEvent
}

func (e WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

func NewWorkflowDeleted(workflowID string) *WorkflowDeleted {
	return &WorkflowDeleted{BaseEvent: NewBaseEvent(WorkflowDeletedEvent, workflowID)}
}
