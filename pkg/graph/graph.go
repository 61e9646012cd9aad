// Package graph implements the structural operations of a workflow graph: nodes, edges and
// the invariants that tie them together. It has no knowledge of rendering or persistence.
package graph

import (
	"maps"
	"slices"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// Graph is the mutable node/edge container of one workflow.
type Graph struct {
	nodes []*models.WorkflowNode
	edges []*models.WorkflowEdge
	newID func() string
}

// Option configures a Graph.
type Option func(*Graph)

// WithIDGenerator replaces the uuid based id generator, mostly useful in tests.
func WithIDGenerator(newID func() string) Option {
	return func(g *Graph) {
		g.newID = newID
	}
}

// New builds a graph from copies of the given nodes and edges.
func New(nodes []*models.WorkflowNode, edges []*models.WorkflowEdge, opts ...Option) *Graph {
	g := &Graph{
		nodes: make([]*models.WorkflowNode, 0, len(nodes)),
		edges: make([]*models.WorkflowEdge, 0, len(edges)),
		newID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(g)
	}

	for _, node := range nodes {
		g.nodes = append(g.nodes, node.Clone())
	}

	for _, edge := range edges {
		g.edges = append(g.edges, edge.Clone())
	}

	return g
}

// FromWorkflow builds a graph from a workflow's nodes and edges.
func FromWorkflow(workflow *models.Workflow, opts ...Option) *Graph {
	return New(workflow.Nodes, workflow.Edges, opts...)
}

// Nodes returns copies of the nodes in insertion order.
func (g *Graph) Nodes() []*models.WorkflowNode {
	nodes := make([]*models.WorkflowNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node.Clone())
	}

	return nodes
}

// Edges returns copies of the edges in insertion order.
func (g *Graph) Edges() []*models.WorkflowEdge {
	edges := make([]*models.WorkflowEdge, 0, len(g.edges))
	for _, edge := range g.edges {
		edges = append(edges, edge.Clone())
	}

	return edges
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (*models.WorkflowNode, bool) {
	node := g.node(id)
	if node == nil {
		return nil, false
	}

	return node.Clone(), true
}

func (g *Graph) node(id string) *models.WorkflowNode {
	idx := slices.IndexFunc(g.nodes, func(n *models.WorkflowNode) bool { return n.ID == id })
	if idx < 0 {
		return nil
	}

	return g.nodes[idx]
}

// AddNode creates a node of the given kind at position. Display fields are seeded from entry
// when given, and the entry id is kept in the config so the node can be matched back to it.
func (g *Graph) AddNode(kind models.NodeKind, position models.Position, entry *models.CatalogEntry) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:       g.newID(),
		Kind:     kind,
		Position: position,
		Config:   map[string]any{},
	}

	if entry != nil {
		node.Label = entry.Name
		node.Description = entry.Description
		node.Icon = entry.Icon

		if entry.ID != "" {
			node.Config[models.ConfigKeyCatalogID] = entry.ID
		}
	}

	g.nodes = append(g.nodes, node)

	return node.Clone()
}

// RemoveNode deletes the node and every edge that starts or ends at it.
func (g *Graph) RemoveNode(id string) bool {
	before := len(g.nodes)

	g.nodes = slices.DeleteFunc(g.nodes, func(n *models.WorkflowNode) bool { return n.ID == id })
	if len(g.nodes) == before {
		return false
	}

	g.edges = slices.DeleteFunc(g.edges, func(e *models.WorkflowEdge) bool {
		return e.Source == id || e.Target == id
	})

	return true
}

// MoveNode updates the node position. Unknown ids are ignored.
func (g *Graph) MoveNode(id string, position models.Position) bool {
	node := g.node(id)
	if node == nil {
		return false
	}

	node.Position = position

	return true
}

// Connect adds a directed edge from source to target. port selects a condition slot and is only
// accepted on switch nodes; each slot carries at most one outgoing edge.
func (g *Graph) Connect(source, target, port string) (*models.WorkflowEdge, error) {
	sourceNode := g.node(source)
	if sourceNode == nil {
		return nil, invalidEdge(source, target, port, "source node not found")
	}

	if g.node(target) == nil {
		return nil, invalidEdge(source, target, port, "target node not found")
	}

	if source == target {
		return nil, invalidEdge(source, target, port, "self loops are not allowed")
	}

	if port != "" {
		if !sourceNode.IsSwitch() {
			return nil, invalidEdge(source, target, port, "source port is only allowed on switch nodes")
		}

		if !models.IsConditionPort(port) {
			return nil, invalidEdge(source, target, port, "unknown condition slot")
		}
	}

	for _, edge := range g.edges {
		if edge.Source != source {
			continue
		}

		if port != "" && edge.SourcePort == port {
			return nil, invalidEdge(source, target, port, "condition slot already connected")
		}

		if port == "" && edge.SourcePort == "" && edge.Target == target {
			return nil, invalidEdge(source, target, port, "nodes are already connected")
		}
	}

	edge := &models.WorkflowEdge{
		ID:         g.newID(),
		Source:     source,
		Target:     target,
		SourcePort: port,
		Label:      models.ConditionLabel(port),
		Animated:   true,
		Marker:     models.MarkerArrowClosed,
	}

	g.edges = append(g.edges, edge)

	return edge.Clone(), nil
}

// RemoveEdge deletes the edge with the given id, if present.
func (g *Graph) RemoveEdge(id string) bool {
	before := len(g.edges)
	g.edges = slices.DeleteFunc(g.edges, func(e *models.WorkflowEdge) bool { return e.ID == id })

	return len(g.edges) != before
}

// UpdateNodeConfig applies a partial edit. The label and description keys update those fields,
// every other key is merged into the config and a nil value unsets the key.
func (g *Graph) UpdateNodeConfig(id string, partial map[string]any) bool {
	node := g.node(id)
	if node == nil {
		return false
	}

	config := maps.Clone(node.Config)
	if config == nil {
		config = map[string]any{}
	}

	for key, value := range partial {
		switch key {
		case "label":
			node.Label = stringValue(value)
		case "description":
			node.Description = stringValue(value)
		default:
			if value == nil {
				delete(config, key)

				continue
			}

			config[key] = value
		}
	}

	node.Config = config

	return true
}

// ClearStatuses drops the transient run status of every node.
func (g *Graph) ClearStatuses() {
	for _, node := range g.nodes {
		node.Status = ""
	}
}

func stringValue(value any) string {
	s, _ := value.(string)

	return s
}
