package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
)

const workflowColumns = `
			id
		  , name
		  , description
		  , is_enabled
		  , nodes
		  , edges
		  , created_at
		  , updated_at
		  , last_run_at
		  , run_count`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// ListWorkflows returns a filtered, sorted page of workflows.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	opts, err := persistence.NormalizeListOptions(opts)
	if err != nil {
		return nil, err
	}

	where, args := buildWhere(opts)

	var totalCount int64

	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query, args, err := r.buildListQuery(opts)
	if err != nil {
		return nil, err
	}

	workflows, err := r.queryWorkflows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(workflows)) < totalCount,
	}, nil
}

// buildListQuery renders the page query. The sort field is checked against the allowlist since it
// cannot be passed as a bind parameter.
func (r *WorkflowRepository) buildListQuery(opts persistence.ListWorkflowsOptions) (string, []any, error) {
	if !persistence.SortFields[opts.SortBy] {
		return "", nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	sortOrder := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		sortOrder = "ASC"
	}

	where, args := buildWhere(opts)
	args = append(args, opts.Limit, opts.Offset)

	query := fmt.Sprintf(
		"SELECT %s FROM workflows %s ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d",
		workflowColumns, where, opts.SortBy, sortOrder, len(args)-1, len(args),
	)

	return query, args, nil
}

func buildWhere(opts persistence.ListWorkflowsOptions) (string, []any) {
	where := "WHERE deleted_at IS NULL"

	var args []any

	if opts.Enabled != nil {
		args = append(args, *opts.Enabled)
		where += fmt.Sprintf(" AND is_enabled = $%d", len(args))
	}

	return where, args
}

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := "SELECT " + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryWorkflows(ctx, query)
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func(ctx context.Context, r *WorkflowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := "SELECT " + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save inserts or replaces a workflow. Nodes and edges are stored as JSONB documents.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = workflow.CreatedAt
	}

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	nodes := workflow.Nodes
	if nodes == nil {
		nodes = []*models.WorkflowNode{}
	}

	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edges := workflow.Edges
	if edges == nil {
		edges = []*models.WorkflowEdge{}
	}

	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	// The run summary is owned by RecordRun and a soft deleted row stays deleted.
	query := `
		INSERT INTO workflows (id, name, description, is_enabled, nodes, edges,
created_at, updated_at, last_run_at, run_count, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_enabled = EXCLUDED.is_enabled,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at
		WHERE workflows.deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.IsEnabled,
		nodesJSON,
		edgesJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.LastRunAt,
		workflow.RunCount,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// RecordRun bumps the run summary in place. Deleted or unknown workflows are not touched.
func (r *WorkflowRepository) RecordRun(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE workflows
		SET run_count = run_count + 1, last_run_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return false, persistence.NewWorkflowError("RecordRun", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewWorkflowError("RecordRun", id, err)
	}

	return affected > 0, nil
}

// Delete soft deletes a workflow by setting deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		nodesJSON []byte
		edgesJSON []byte
		lastRunAt sql.NullTime
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.IsEnabled,
		&nodesJSON,
		&edgesJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&lastRunAt,
		&workflow.RunCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes of %s: %w", workflow.ID, err)
	}

	if err := json.Unmarshal(edgesJSON, &workflow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges of %s: %w", workflow.ID, err)
	}

	if lastRunAt.Valid {
		t := lastRunAt.Time
		workflow.LastRunAt = &t
	}

	return &workflow, nil
}
