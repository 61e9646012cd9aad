package web

import (
	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/models"
)

// CreateWorkflowRequest is the body of POST /workflows. An empty body creates an empty, disabled
// workflow with the default name.
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"omitempty,max=200"`
	Description string                 `json:"description"`
	IsEnabled   bool                   `json:"is_enabled"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
	Edges       []*models.WorkflowEdge `json:"edges"`
}

// UpdateWorkflowRequest replaces the given parts of a stored workflow. Nodes and edges are
// replaced as a whole.
type UpdateWorkflowRequest struct {
	Name        *string                `json:"name,omitempty"        validate:"omitempty,min=1,max=200"`
	Description *string                `json:"description,omitempty"`
	Nodes       []*models.WorkflowNode `json:"nodes,omitempty"`
	Edges       []*models.WorkflowEdge `json:"edges,omitempty"`
}

// CatalogResponse lists the entries the palette and the form offer.
type CatalogResponse struct {
	Triggers []*models.WorkflowTrigger `json:"triggers"`
	Actions  []*models.WorkflowAction  `json:"actions"`
	Switch   *models.CatalogEntry      `json:"switch,omitempty"`
}

type CatalogEntryResponse struct {
	*models.CatalogEntry

	Schema map[string]any `json:"schema"`
}

type ScheduleResponse struct {
	WorkflowID string `json:"workflow_id"`
	Cron       string `json:"cron"`
	Next       string `json:"next,omitempty"`
}

type EditorMetaRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// DropRequest carries the drag payload and the screen position of the drop.
type DropRequest struct {
	Payload map[string]string `json:"payload"`
	X       float64           `json:"x"`
	Y       float64           `json:"y"`
}

type ConnectRequest struct {
	Source string `json:"source"        validate:"required"`
	Target string `json:"target"        validate:"required"`
	Port   string `json:"port,omitempty"`
}

// UpdateNodeRequest moves a node and or merges config keys into it. A null config value removes
// the key.
type UpdateNodeRequest struct {
	Position *models.Position `json:"position,omitempty"`
	Config   map[string]any   `json:"config,omitempty"`
}

type SelectRequest struct {
	NodeID string `json:"node_id"`
}

type KeyRequest struct {
	Key string `json:"key" validate:"required"`
}

type ViewportRequest = canvas.Viewport

// FormRequest edits the selected node. EntryID is applied first so the fields can target the
// new entry.
type FormRequest struct {
	EntryID     *string           `json:"entry_id,omitempty"`
	Label       *string           `json:"label,omitempty"`
	Description *string           `json:"description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}
