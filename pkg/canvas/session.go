// Package canvas implements the editing session of one workflow: the live graph, the selected
// node, the workflow name and description and the viewport used to place dropped nodes.
package canvas

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/crmflow/pkg/graph"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/palette"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Keys that delete the selected node.
const (
	KeyBackspace = "Backspace"
	KeyDelete    = "Delete"
)

// Store is the part of the workflow store a session commits to.
type Store interface {
	FetchByID(ctx context.Context, id string) (*models.Workflow, error)
	Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error)
}

// Option configures a Session.
type Option func(*Session)

// WithTracer sets the tracer for save spans. The global provider is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// WithGraphOptions is applied to every graph the session loads.
func WithGraphOptions(opts ...graph.Option) Option {
	return func(s *Session) {
		s.graphOpts = append(s.graphOpts, opts...)
	}
}

// Session is the editing state of one workflow. Methods are safe for concurrent use but the
// session models a single editor.
type Session struct {
	id        string
	store     Store
	logger    *slog.Logger
	tracer    trace.Tracer
	graphOpts []graph.Option

	mu          sync.Mutex
	workflowID  string
	graph       *graph.Graph
	selectedID  string
	name        string
	description string
	viewport    Viewport
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	SessionID      string                 `json:"session_id"`
	WorkflowID     string                 `json:"workflow_id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	Nodes          []*models.WorkflowNode `json:"nodes"`
	Edges          []*models.WorkflowEdge `json:"edges"`
	SelectedNodeID string                 `json:"selected_node_id,omitempty"`
	Viewport       Viewport               `json:"viewport"`
}

// NewSession returns an empty session. Call Load before editing.
func NewSession(id string, store Store, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		id:       id,
		store:    store,
		logger:   logger.With("module", "canvas", "session_id", id),
		viewport: DefaultViewport(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.tracer = otelhelper.Tracer(s.tracer, "crmflow/canvas")

	return s
}

// ID identifies the session in the editor API.
func (s *Session) ID() string {
	return s.id
}

// Load replaces the whole editing state with the given workflow. Unsaved edits are discarded.
func (s *Session) Load(workflow *models.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflowID = workflow.ID
	s.graph = graph.FromWorkflow(workflow, s.graphOpts...)
	s.graph.ClearStatuses()
	s.name = workflow.Name
	s.description = workflow.Description
	s.selectedID = ""
	s.viewport = DefaultViewport()

	s.logger.Debug("Loaded workflow", "workflow_id", workflow.ID, "nodes", len(workflow.Nodes))
}

// Loaded reports whether a workflow has been loaded.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.graph != nil
}

// WorkflowID returns the id of the loaded workflow, or an empty string.
func (s *Session) WorkflowID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.workflowID
}

// OnDrop creates a node from a drag payload at the graph position under screen. A missing or
// incomplete payload, or a session without a workflow, is ignored with a warning.
func (s *Session) OnDrop(data map[string]string, screen models.Position) (*models.WorkflowNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph == nil {
		s.logger.Warn("Drop ignored, no workflow loaded")

		return nil, false
	}

	payload, ok := palette.ParsePayload(data)
	if !ok {
		s.logger.Warn("Drop ignored, invalid palette payload", "payload", data)

		return nil, false
	}

	node := s.graph.AddNode(payload.Kind, s.viewport.ToGraph(screen), payload.Entry())

	s.logger.Debug("Node added", "node_id", node.ID, "kind", node.Kind)

	return node, true
}

// OnConnect adds an edge. Invalid edges are returned as graph.ErrInvalidEdge and leave the
// graph untouched.
func (s *Session) OnConnect(source, target, port string) (*models.WorkflowEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph == nil {
		return nil, ErrNotLoaded
	}

	edge, err := s.graph.Connect(source, target, port)
	if err != nil {
		s.logger.Debug("Connection rejected", "error", err)

		return nil, err
	}

	return edge, nil
}

// OnSelectNode selects the node with the given id; an empty id clears the selection. Unknown
// ids leave the selection as it is.
func (s *Session) OnSelectNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.selectedID = ""

		return true
	}

	if s.graph == nil {
		return false
	}

	if _, ok := s.graph.Node(id); !ok {
		return false
	}

	s.selectedID = id

	return true
}

// OnDeleteNode removes a node with its edges and clears the selection if it pointed at it.
func (s *Session) OnDeleteNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteNode(id)
}

func (s *Session) deleteNode(id string) bool {
	if s.graph == nil || !s.graph.RemoveNode(id) {
		return false
	}

	if s.selectedID == id {
		s.selectedID = ""
	}

	return true
}

// OnDeleteEdge removes one edge. It reports false for unknown ids.
func (s *Session) OnDeleteEdge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph == nil {
		return false
	}

	return s.graph.RemoveEdge(id)
}

// OnMoveNode sets the graph position of a node.
func (s *Session) OnMoveNode(id string, position models.Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph == nil {
		return false
	}

	return s.graph.MoveNode(id, position)
}

// OnKey handles editor key presses. Backspace and Delete remove the selected node.
func (s *Session) OnKey(key string) bool {
	if key != KeyBackspace && key != KeyDelete {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedID == "" {
		return false
	}

	return s.deleteNode(s.selectedID)
}

// UpdateNodeConfig merges partial into the node. The keys label and description set the node
// fields; a nil value removes a config key.
func (s *Session) UpdateNodeConfig(id string, partial map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph == nil {
		return false
	}

	return s.graph.UpdateNodeConfig(id, partial)
}

// SetName changes the workflow name committed by the next Save.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.name = name
}

func (s *Session) SetDescription(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.description = description
}

// SetViewport stores the viewport with its zoom normalized.
func (s *Session) SetViewport(viewport Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewport = viewport.normalized()
}

// Selected returns a copy of the selected node.
func (s *Session) Selected() (*models.WorkflowNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph == nil || s.selectedID == "" {
		return nil, false
	}

	return s.graph.Node(s.selectedID)
}

// Snapshot copies the session state. Nodes and edges are cloned.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{
		SessionID:      s.id,
		WorkflowID:     s.workflowID,
		Name:           s.name,
		Description:    s.description,
		Nodes:          []*models.WorkflowNode{},
		Edges:          []*models.WorkflowEdge{},
		SelectedNodeID: s.selectedID,
		Viewport:       s.viewport,
	}

	if s.graph != nil {
		snapshot.Nodes = s.graph.Nodes()
		snapshot.Edges = s.graph.Edges()
	}

	return snapshot
}

// Save validates the graph and commits name, description, nodes and edges to the store. Every
// failure matches ErrSaveFailed and leaves the session untouched.
func (s *Session) Save(ctx context.Context) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "canvas.save",
		attribute.String(otelhelper.SessionIDKey, s.id),
		attribute.String(otelhelper.WorkflowIDKey, s.workflowID),
	)
	defer span.End()

	saved, err := s.save(ctx)
	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.Warn("Save failed", "workflow_id", s.workflowID, "error", err)

		return nil, &SaveError{WorkflowID: s.workflowID, Err: err}
	}

	span.SetAttributes(
		attribute.Int(otelhelper.NodeCountKey, len(saved.Nodes)),
		attribute.Int(otelhelper.EdgeCountKey, len(saved.Edges)),
	)

	s.logger.Info("Workflow saved", "workflow_id", saved.ID)

	return saved, nil
}

func (s *Session) save(ctx context.Context) (*models.Workflow, error) {
	if s.graph == nil {
		return nil, ErrNotLoaded
	}

	if err := s.graph.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.store.FetchByID(ctx, s.workflowID)
	if err != nil {
		return nil, err
	}

	workflow := stored.Clone()
	workflow.Name = s.name
	workflow.Description = s.description
	workflow.Nodes = s.graph.Nodes()
	workflow.Edges = s.graph.Edges()

	for _, node := range workflow.Nodes {
		node.Status = ""
	}

	return s.store.Update(ctx, s.workflowID, workflow)
}
