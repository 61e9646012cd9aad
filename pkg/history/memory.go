package history

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
)

type Memory struct {
	size int

	mu   sync.RWMutex
	runs []*models.WorkflowRun
}

func NewMemory(size int) *Memory {
	size = normalizeSize(size)

	return &Memory{size: size, runs: make([]*models.WorkflowRun, 0, size)}
}

func (m *Memory) Prepend(_ context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = slices.Insert(m.runs, 0, run.Clone())
	if len(m.runs) > m.size {
		m.runs = m.runs[:m.size]
	}

	return nil
}

func (m *Memory) Update(_ context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.index(run.ID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	m.runs[idx] = run.Clone()

	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.index(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return m.runs[idx].Clone(), nil
}

func (m *Memory) List(_ context.Context, workflowID string) ([]*models.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*models.WorkflowRun, 0, len(m.runs))

	for _, run := range m.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}

		runs = append(runs, run.Clone())
	}

	return runs, nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) index(id string) int {
	return slices.IndexFunc(m.runs, func(r *models.WorkflowRun) bool { return r.ID == id })
}
