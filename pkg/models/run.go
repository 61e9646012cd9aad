package models

import (
	"slices"
	"time"
)

// RunStatus is the lifecycle state of a workflow run. executing is the only non-terminal state.
type RunStatus string

const (
	RunStatusExecuting RunStatus = "executing"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// NodeRunStatus is the display status of one node within a run.
type NodeRunStatus struct {
	NodeID      string     `json:"node_id"`
	Status      NodeStatus `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkflowRun is one execution attempt of a workflow.
type WorkflowRun struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowName    string          `json:"workflow_name"`
	Status          RunStatus       `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreditsConsumed int             `json:"credits_consumed"`
	NodeStatuses    []NodeRunStatus `json:"node_statuses,omitempty"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}

	clone := *r
	clone.NodeStatuses = slices.Clone(r.NodeStatuses)

	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
