package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

var errInvalidWorkflowID = errors.New("invalid workflow id")

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string // File system root for storing workflows

	mu sync.RWMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// ListWorkflows returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if _, err := persistence.NormalizeListOptions(opts); err != nil {
		return nil, err
	}

	allWorkflows, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.ListInMemory(allWorkflows, opts)
}

// GetAll loads every workflow document under the root.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(wr.workflowsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := strings.TrimSuffix(file, ".json")

		workflow, err := wr.GetByID(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if workflow != nil {
			workflows = append(workflows, workflow)
		}
	}

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	filePath, err := wr.filePath(workflowID)
	if err != nil {
		return nil, nil
	}

	wr.mu.RLock()
	body, err := os.ReadFile(filePath)
	wr.mu.RUnlock()

	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// Save saves a workflow to the file system. A workflow already on disk keeps its run summary.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	filePath, err := wr.filePath(workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	existing, err := wr.read(filePath)
	if err != nil {
		return fmt.Errorf("failed to fetch workflow %s: %w", workflow.ID, err)
	}

	stored := workflow
	if existing != nil {
		stored = workflow.Clone()
		stored.RunCount = existing.RunCount
		stored.LastRunAt = existing.LastRunAt
	}

	return wr.write(filePath, stored)
}

// RecordRun bumps the run summary of a stored workflow. Missing workflows are left missing.
func (wr *WorkflowRepository) RecordRun(_ context.Context, id string, at time.Time) (bool, error) {
	filePath, err := wr.filePath(id)
	if err != nil {
		return false, nil
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.read(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	if workflow == nil {
		return false, nil
	}

	at = at.UTC()
	workflow.RunCount++
	workflow.LastRunAt = &at

	if err := wr.write(filePath, workflow); err != nil {
		return false, err
	}

	return true, nil
}

// read loads one document; a missing file is a nil workflow. Callers hold wr.mu.
func (wr *WorkflowRepository) read(filePath string) (*models.Workflow, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var workflow models.Workflow

	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// write stores one document. Callers hold wr.mu.
func (wr *WorkflowRepository) write(filePath string, workflow *models.Workflow) error {
	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	if err := os.MkdirAll(wr.workflowsDir(), 0750); err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	return os.WriteFile(filePath, data, 0600)
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	filePath, err := wr.filePath(id)
	if err != nil {
		return nil
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err = os.Remove(filePath)

	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

func (wr *WorkflowRepository) workflowsDir() string {
	return path.Join(wr.root, "workflows")
}

// filePath maps an id to its document, refusing ids that would escape the workflows directory.
func (wr *WorkflowRepository) filePath(workflowID string) (string, error) {
	if workflowID == "" || strings.ContainsAny(workflowID, `/\`) || strings.Contains(workflowID, "..") {
		return "", fmt.Errorf("%w: %q", errInvalidWorkflowID, workflowID)
	}

	return filepath.Clean(path.Join(wr.workflowsDir(), workflowID+".json")), nil
}
