// Package memory provides the in-process persistence used by default and in tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// Persistence keeps workflows in a map. Records are copied on the way in and out so callers
// never share state with the store.
type Persistence struct {
	workflowRepo *WorkflowRepository
}

func NewPersistence(seed ...*models.Workflow) *Persistence {
	repo := &WorkflowRepository{workflows: make(map[string]*models.Workflow, len(seed))}

	for _, workflow := range seed {
		repo.workflows[workflow.ID] = workflow.Clone()
	}

	return &Persistence{workflowRepo: repo}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type WorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.ListInMemory(all, opts)
}

// GetAll returns every workflow, newest first.
func (r *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.workflows))
	for _, workflow := range r.workflows {
		workflows = append(workflows, workflow.Clone())
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, nil
	}

	return workflow.Clone(), nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := workflow.Clone()

	if existing, ok := r.workflows[workflow.ID]; ok {
		stored.RunCount = existing.RunCount
		stored.LastRunAt = existing.LastRunAt
	}

	r.workflows[workflow.ID] = stored

	return nil
}

func (r *WorkflowRepository) RecordRun(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return false, nil
	}

	at = at.UTC()
	workflow.RunCount++
	workflow.LastRunAt = &at

	return true, nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.workflows, id)

	return nil
}
