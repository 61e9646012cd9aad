package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/graph"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WorkflowOption func(*Workflow)

func WithPublisher(publisher eventbus.EventPublisher) WorkflowOption {
	return func(w *Workflow) {
		w.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) {
		w.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) WorkflowOption {
	return func(w *Workflow) {
		w.tracer = tracer
	}
}

func WithClock(clock clockwork.Clock) WorkflowOption {
	return func(w *Workflow) {
		w.clock = clock
	}
}

// Workflow is the workflow store: CRUD over workflow records plus enablement and run summary.
type Workflow struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       clockwork.Clock
	locks       *workflowLocks
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		persistence: persistence,
		publisher:   eventbus.Nop{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		locks:       newWorkflowLocks(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.With("module", "workflow_service")
	w.tracer = otelhelper.Tracer(w.tracer, "crmflow/services")

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	Enabled *bool

	// Sorting
	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	result, err := w.persistence.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		Enabled:   req.Enabled,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = persistence.DefaultListLimit
	}

	if req.Limit > persistence.MaxListLimit {
		req.Limit = persistence.MaxListLimit
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	if !persistence.SortFields[req.SortBy] {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: created_at, updated_at, name", req.SortBy),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	return nil
}

// List returns every workflow, newest first.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	slices.SortStableFunc(workflows, func(a, b *models.Workflow) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// CreateEmpty creates a disabled workflow without nodes. An empty name falls back to the default.
func (w *Workflow) CreateEmpty(ctx context.Context, name string) (*models.Workflow, error) {
	if strings.TrimSpace(name) == "" {
		name = models.DefaultWorkflowName
	}

	return w.Create(ctx, &models.Workflow{Name: name})
}

// Create adds a new workflow to the repository. An id is generated when none is given.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.create")
	defer span.End()

	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	unlock := w.locks.lock(workflow.ID)
	defer unlock()

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflow.ID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	if existing != nil {
		return nil, &ServiceError{Op: "Create", Code: "WORKFLOW_EXISTS", Err: ErrWorkflowAlreadyExists, Message: "workflow " + workflow.ID + " already exists"}
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflow.ID))

	now := w.clock.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := w.prepare(workflow); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.publish(ctx, workflow.ID, events.NewWorkflowSaved(workflow))

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID)

	return workflow, nil
}

// Update replaces the definition of an existing workflow: name, description, nodes and edges.
// Enablement and the run summary are taken from the stored record, so a stale copy cannot undo
// a concurrent SetEnabled or RecordRun. CreatedAt is kept and UpdatedAt refreshed.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.update",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	unlock := w.locks.lock(workflowID)
	defer unlock()

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	updated := existing.Clone()
	updated.Name = workflow.Name
	updated.Description = workflow.Description
	updated.Nodes = workflow.Nodes
	updated.Edges = workflow.Edges

	if err := w.store(ctx, existing, updated); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.Int(otelhelper.NodeCountKey, len(updated.Nodes)),
		attribute.Int(otelhelper.EdgeCountKey, len(updated.Edges)),
	)

	w.publish(ctx, updated.ID, events.NewWorkflowSaved(updated))

	return updated, nil
}

// SetEnabled flips the flag that gates run requests.
func (w *Workflow) SetEnabled(ctx context.Context, workflowID string, enabled bool) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.set_enabled",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.Bool(otelhelper.WorkflowEnabledKey, enabled),
	)
	defer span.End()

	unlock := w.locks.lock(workflowID)
	defer unlock()

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if existing.IsEnabled == enabled {
		return existing, nil
	}

	updated := existing.Clone()
	updated.IsEnabled = enabled

	if err := w.store(ctx, existing, updated); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	w.publish(ctx, updated.ID, events.NewWorkflowSaved(updated))

	w.logger.InfoContext(ctx, "Workflow enablement changed", "workflow_id", workflowID, "enabled", enabled)

	return updated, nil
}

// store validates updated, moves UpdatedAt past the stored value and writes it. Callers hold the
// workflow lock.
func (w *Workflow) store(ctx context.Context, existing, updated *models.Workflow) error {
	updated.UpdatedAt = w.clock.Now().UTC()
	if !updated.UpdatedAt.After(existing.UpdatedAt) {
		updated.UpdatedAt = existing.UpdatedAt.Add(time.Microsecond)
	}

	if err := w.prepare(updated); err != nil {
		return err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, updated); err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return ErrWorkflowNotFound
		}

		return fmt.Errorf("failed to update workflow: %w", err)
	}

	return nil
}

// RecordRun updates the advisory run summary. It does not count as an edit and never brings a
// deleted workflow back.
func (w *Workflow) RecordRun(ctx context.Context, workflowID string, at time.Time) error {
	unlock := w.locks.lock(workflowID)
	defer unlock()

	recorded, err := w.persistence.WorkflowRepository().RecordRun(ctx, workflowID, at)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if !recorded {
		return ErrWorkflowNotFound
	}

	return nil
}

// Delete removes a workflow by its ID. Runs already recorded stay in the history.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.delete",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	unlock := w.locks.lock(workflowID)
	defer unlock()

	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.publish(ctx, workflowID, events.NewWorkflowDeleted(workflowID))

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

// prepare normalizes and validates a workflow before it is stored. Transient node statuses are
// dropped since they never belong to a saved definition.
func (w *Workflow) prepare(workflow *models.Workflow) error {
	workflow.Name = strings.TrimSpace(workflow.Name)

	if workflow.Nodes == nil {
		workflow.Nodes = []*models.WorkflowNode{}
	}

	if workflow.Edges == nil {
		workflow.Edges = []*models.WorkflowEdge{}
	}

	for _, node := range workflow.Nodes {
		if node == nil {
			return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", "workflow contains an empty node", ErrInvalidWorkflow)
		}

		node.Status = ""
	}

	if slices.Contains(workflow.Edges, nil) {
		return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", "workflow contains an empty edge", ErrInvalidWorkflow)
	}

	if err := w.validate.Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				if fieldErr.StructNamespace() == "Workflow.Name" {
					return NewValidationError("validateWorkflow", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
				}
			}
		}

		return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", err.Error(), ErrInvalidWorkflow)
	}

	if err := graph.FromWorkflow(workflow).Validate(); err != nil {
		return NewValidationError("validateWorkflow", "INVALID_GRAPH", err.Error(), errors.Join(ErrInvalidWorkflow, err))
	}

	return nil
}

func (w *Workflow) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := w.publisher.Publish(ctx, key, event); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
