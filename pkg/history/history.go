// Package history keeps the bounded, most-recent-first list of workflow runs.
package history

import (
	"context"
	"errors"

	"github.com/dukex/crmflow/pkg/models"
)

// DefaultSize is the number of runs kept when no size is given.
const DefaultSize = 20

var ErrRunNotFound = errors.New("run not found")

// History stores runs most recent first. Prepending beyond the capacity evicts the oldest run.
type History interface {
	Prepend(ctx context.Context, run *models.WorkflowRun) error
	// Update replaces a run that is still kept. Evicted or unknown runs return ErrRunNotFound.
	Update(ctx context.Context, run *models.WorkflowRun) error
	Get(ctx context.Context, id string) (*models.WorkflowRun, error)
	// List returns the kept runs, filtered to one workflow when workflowID is not empty.
	List(ctx context.Context, workflowID string) ([]*models.WorkflowRun, error)
	Close() error
}

func normalizeSize(size int) int {
	if size <= 0 {
		return DefaultSize
	}

	return size
}
