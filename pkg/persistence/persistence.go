// Package persistence provides the storage abstraction for workflow records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow records. GetByID returns nil without an error when the
// workflow does not exist.
//
// Save keeps the run summary (RunCount, LastRunAt) of a workflow that is already stored; only
// RecordRun changes it. RecordRun reports false when the workflow does not exist and never
// creates one.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	RecordRun(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ListWorkflowsOptions contains filtering, sorting and pagination for workflow listings.
type ListWorkflowsOptions struct {
	Limit  int
	Offset int

	Enabled *bool

	SortBy    string
	SortOrder string
}

type WorkflowListResult struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}
