// Package simulator runs workflows without a backend: every accepted run completes or fails on
// its own after a random delay.
package simulator

import (
	"context"
	"errors"

	"github.com/dukex/crmflow/pkg/models"
)

// ErrRunRejected is returned for run requests on disabled workflows. No run is recorded.
var ErrRunRejected = errors.New("run rejected")

// RunHandle identifies an accepted run. Run is the state at acceptance.
type RunHandle struct {
	ID         string
	WorkflowID string
	Run        *models.WorkflowRun
}

// StatusFunc receives the run each time its status changes.
type StatusFunc func(run *models.WorkflowRun)

// Executor accepts run requests and reports their terminal state. A real dispatcher can take the
// simulator's place behind it.
type Executor interface {
	RequestRun(ctx context.Context, workflow *models.Workflow) (*RunHandle, error)
	Subscribe(runID string, fn StatusFunc) (cancel func(), err error)
}
