package web

import (
	"maps"
	"slices"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/form"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// OpenEditor starts an editing session on a stored workflow.
func (h *APIHandlers) OpenEditor(c fiber.Ctx) error {
	session, err := h.editors.Open(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(session.Snapshot())
}

func (h *APIHandlers) session(c fiber.Ctx) (*canvas.Session, error) {
	return h.editors.Get(c.Params("sid"))
}

// formFor returns the configuration form bound to the session, creating it on first use. Forms
// of sessions closed meanwhile are not kept.
func (h *APIHandlers) formFor(session *canvas.Session) *form.Form {
	h.formsMu.Lock()
	defer h.formsMu.Unlock()

	f, ok := h.forms[session.ID()]
	if !ok {
		f = form.New(session, h.catalog, h.logger)

		if h.editors.Contains(session.ID()) {
			h.forms[session.ID()] = f
		}
	}

	return f
}

func (h *APIHandlers) dropForm(sessionID string) {
	h.formsMu.Lock()
	defer h.formsMu.Unlock()

	delete(h.forms, sessionID)
}

func (h *APIHandlers) GetEditor(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session.Snapshot())
}

func (h *APIHandlers) UpdateEditor(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req EditorMetaRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.Name != nil {
		session.SetName(*req.Name)
	}

	if req.Description != nil {
		session.SetDescription(*req.Description)
	}

	return c.JSON(session.Snapshot())
}

// CloseEditor drops the session and its unsaved edits.
func (h *APIHandlers) CloseEditor(c fiber.Ctx) error {
	id := c.Params("sid")

	if !h.editors.Close(id) {
		return handleServiceError(c, canvas.ErrSessionNotFound)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Drop adds a node from a palette drag payload. Payloads the canvas ignores answer 204.
func (h *APIHandlers) Drop(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req DropRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	node, ok := session.OnDrop(req.Payload, models.Position{X: req.X, Y: req.Y})
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}

	return c.Status(fiber.StatusCreated).JSON(node)
}

func (h *APIHandlers) Connect(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req ConnectRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	edge, err := session.OnConnect(req.Source, req.Target, req.Port)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(edge)
}

func (h *APIHandlers) DeleteEdge(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !session.OnDeleteEdge(c.Params("edgeId")) {
		return notFound(c, "Edge not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateNode(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req UpdateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	nodeID := c.Params("nodeId")

	if req.Position != nil && !session.OnMoveNode(nodeID, *req.Position) {
		return notFound(c, "Node not found")
	}

	if req.Config != nil && !session.UpdateNodeConfig(nodeID, req.Config) {
		return notFound(c, "Node not found")
	}

	for _, node := range session.Snapshot().Nodes {
		if node.ID == nodeID {
			return c.JSON(node)
		}
	}

	return notFound(c, "Node not found")
}

func (h *APIHandlers) DeleteNode(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !session.OnDeleteNode(c.Params("nodeId")) {
		return notFound(c, "Node not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// SelectNode selects a node; an empty node_id clears the selection.
func (h *APIHandlers) SelectNode(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req SelectRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if !session.OnSelectNode(req.NodeID) {
		return notFound(c, "Node not found")
	}

	return c.JSON(h.formFor(session).State())
}

// PressKey forwards an editor key press. Keys without effect answer 204.
func (h *APIHandlers) PressKey(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req KeyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if !session.OnKey(req.Key) {
		return c.SendStatus(fiber.StatusNoContent)
	}

	return c.JSON(session.Snapshot())
}

func (h *APIHandlers) SetViewport(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req ViewportRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	session.SetViewport(req)

	return c.JSON(session.Snapshot().Viewport)
}

func (h *APIHandlers) GetForm(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.formFor(session).State())
}

// UpdateForm applies the entry, label, description and field edits in that order and stops at the
// first failing one. Edits applied before the failure stay on the node.
func (h *APIHandlers) UpdateForm(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	var req FormRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	f := h.formFor(session)
	state := f.State()

	if req.EntryID != nil {
		if state, err = f.SelectEntry(*req.EntryID); err != nil {
			return handleServiceError(c, err)
		}
	}

	if req.Label != nil {
		if state, err = f.SetLabel(*req.Label); err != nil {
			return handleServiceError(c, err)
		}
	}

	if req.Description != nil {
		if state, err = f.SetDescription(*req.Description); err != nil {
			return handleServiceError(c, err)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(req.Fields)) {
		if state, err = f.SetField(name, req.Fields[name]); err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.JSON(state)
}

// Save commits the session to the store. A rejected save keeps the session so it can be retried.
func (h *APIHandlers) Save(c fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	workflow, err := session.Save(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}
