package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/simulator"
)

// Runs requests runs of stored workflows and reads the run history.
type Runs struct {
	workflows *Workflow
	executor  simulator.Executor
	history   history.History
	logger    *slog.Logger
}

func NewRuns(workflows *Workflow, executor simulator.Executor, h history.History, logger *slog.Logger) *Runs {
	return &Runs{
		workflows: workflows,
		executor:  executor,
		history:   h,
		logger:    logger.With("module", "run_service"),
	}
}

// RequestRun starts a run of the stored workflow. Deleted workflows are not found and disabled
// ones are rejected by the executor.
func (r *Runs) RequestRun(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	workflow, err := r.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	handle, err := r.executor.RequestRun(ctx, workflow)
	if err != nil {
		return nil, &ServiceError{Op: "RequestRun", Code: "RUN_NOT_STARTED", Err: err}
	}

	if err := r.workflows.RecordRun(ctx, workflowID, handle.Run.StartedAt); err != nil {
		r.logger.WarnContext(ctx, "Failed to record run summary", "workflow_id", workflowID, "error", err)
	}

	return handle.Run, nil
}

// History lists the kept runs, optionally for one workflow only.
func (r *Runs) History(ctx context.Context, workflowID string) ([]*models.WorkflowRun, error) {
	runs, err := r.history.List(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

func (r *Runs) Get(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return r.history.Get(ctx, runID)
}
