// Package web provides the HTTP handlers of the workflow automation API.
package web

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/form"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/palette"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	runService      *services.Runs
	editors         *canvas.Manager
	catalog         *catalog.Catalog
	scheduler       *scheduler.Scheduler
	validator       *validator.Validate
	logger          *slog.Logger

	formsMu sync.Mutex
	forms   map[string]*form.Form
}

type HandlerOption func(*APIHandlers)

// WithScheduler exposes the registered schedules under /schedules.
func WithScheduler(s *scheduler.Scheduler) HandlerOption {
	return func(h *APIHandlers) {
		h.scheduler = s
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *APIHandlers) {
		h.logger = logger
	}
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	runService *services.Runs,
	editors *canvas.Manager,
	catalog *catalog.Catalog,
	validator *validator.Validate,
	opts ...HandlerOption,
) *APIHandlers {
	h := &APIHandlers{
		workflowService: workflowService,
		runService:      runService,
		editors:         editors,
		catalog:         catalog,
		validator:       validator,
		logger:          slog.Default(),
		forms:           make(map[string]*form.Form),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.logger = h.logger.With("module", "web")
	h.editors.OnClose(h.dropForm)

	return h
}

// Routes registers every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Post("/:id/runs", h.RequestRun)
	w.Get("/:id/runs", h.GetWorkflowRuns)
	w.Post("/:id/editor", h.OpenEditor)

	r := router.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)

	router.Get("/catalog", h.GetCatalog)
	router.Get("/catalog/:id", h.GetCatalogEntry)
	router.Get("/palette", h.GetPalette)
	router.Get("/schedules", h.GetSchedules)

	e := router.Group("/editor")
	e.Get("/:sid", h.GetEditor)
	e.Patch("/:sid", h.UpdateEditor)
	e.Delete("/:sid", h.CloseEditor)
	e.Post("/:sid/drop", h.Drop)
	e.Post("/:sid/edges", h.Connect)
	e.Delete("/:sid/edges/:edgeId", h.DeleteEdge)
	e.Patch("/:sid/nodes/:nodeId", h.UpdateNode)
	e.Delete("/:sid/nodes/:nodeId", h.DeleteNode)
	e.Post("/:sid/select", h.SelectNode)
	e.Post("/:sid/keys", h.PressKey)
	e.Put("/:sid/viewport", h.SetViewport)
	e.Get("/:sid/form", h.GetForm)
	e.Patch("/:sid/form", h.UpdateForm)
	e.Post("/:sid/save", h.Save)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return nil, err
		}

		req.Enabled = &enabled
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var (
		created *models.Workflow
		err     error
	)

	if req.Description == "" && !req.IsEnabled && len(req.Nodes) == 0 && len(req.Edges) == 0 {
		created, err = h.workflowService.CreateEmpty(c.Context(), req.Name)
	} else {
		name := req.Name
		if name == "" {
			name = models.DefaultWorkflowName
		}

		created, err = h.workflowService.Create(c.Context(), &models.Workflow{
			Name:        name,
			Description: req.Description,
			IsEnabled:   req.IsEnabled,
			Nodes:       req.Nodes,
			Edges:       req.Edges,
		})
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Nodes != nil {
		existing.Nodes = req.Nodes
	}

	if req.Edges != nil {
		existing.Edges = req.Edges
	}

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, true)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *APIHandlers) setEnabled(c fiber.Ctx, enabled bool) error {
	workflow, err := h.workflowService.SetEnabled(c.Context(), c.Params("id"), enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) RequestRun(c fiber.Ctx) error {
	run, err := h.runService.RequestRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	return h.listRuns(c, c.Params("id"))
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	return h.listRuns(c, c.Query("workflow_id"))
}

func (h *APIHandlers) listRuns(c fiber.Ctx, workflowID string) error {
	runs, err := h.runService.History(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetCatalog(c fiber.Ctx) error {
	response := CatalogResponse{
		Triggers: h.catalog.ListTriggers(),
		Actions:  h.catalog.ListActions(),
	}

	if entry, ok := h.catalog.Switch(); ok {
		response.Switch = entry
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetCatalogEntry(c fiber.Ctx) error {
	entry, ok := h.catalog.Lookup(c.Params("id"))
	if !ok {
		return notFound(c, "Catalog entry not found")
	}

	return c.JSON(CatalogEntryResponse{CatalogEntry: entry, Schema: catalog.Schema(entry)})
}

// GetPalette returns the palette groups filtered by the q query parameter.
func (h *APIHandlers) GetPalette(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"search": c.Query("q"),
		"groups": palette.Filter(h.catalog, c.Query("q")),
	})
}

func (h *APIHandlers) GetSchedules(c fiber.Ctx) error {
	schedules := []ScheduleResponse{}

	if h.scheduler != nil {
		for workflowID, expression := range h.scheduler.Entries() {
			schedule := ScheduleResponse{WorkflowID: workflowID, Cron: expression}

			if next, ok := h.scheduler.Next(workflowID); ok {
				schedule.Next = next.UTC().Format(time.RFC3339)
			}

			schedules = append(schedules, schedule)
		}
	}

	slices.SortFunc(schedules, func(a, b ScheduleResponse) int {
		return strings.Compare(a.WorkflowID, b.WorkflowID)
	})

	return c.JSON(fiber.Map{"schedules": schedules})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "crmflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "crmflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"editing_sessions": h.editors.Len(),
		"timestamp":        time.Now().UTC(),
	})
}
