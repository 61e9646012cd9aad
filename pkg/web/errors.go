package web

import (
	"errors"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/form"
	"github.com/dukex/crmflow/pkg/graph"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps store, run, editor and form errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, canvas.ErrSaveFailed):
		if services.IsNotFoundError(err) {
			return problem(c, fiber.StatusNotFound, "workflow_not_found", err.Error())
		}

		return problem(c, fiber.StatusUnprocessableEntity, "save_failed", err.Error())

	case errors.Is(err, graph.ErrInvalidEdge):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_edge", err.Error())

	case services.IsValidationError(err),
		errors.Is(err, form.ErrUnknownField),
		errors.Is(err, catalog.ErrEntryNotFound):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case errors.Is(err, services.ErrWorkflowNotFound):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case errors.Is(err, services.ErrRunNotFound):
		return problem(c, fiber.StatusNotFound, "run_not_found", "run not found")

	case errors.Is(err, canvas.ErrSessionNotFound):
		return problem(c, fiber.StatusNotFound, "session_not_found", "editing session not found")

	case errors.Is(err, services.ErrRunRejected):
		return problem(c, fiber.StatusConflict, "run_rejected", err.Error())

	case services.IsConflictError(err),
		errors.Is(err, form.ErrNoSelection),
		errors.Is(err, form.ErrNotConfigurable),
		errors.Is(err, canvas.ErrNotLoaded):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	default:
		return internalError(c, err)
	}
}
