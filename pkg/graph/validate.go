package graph

import (
	"errors"
	"fmt"

	dgraph "github.com/dominikbraun/graph"
	"github.com/dukex/crmflow/pkg/models"
)

// Validate re-checks every structural invariant of the graph and the single entry trigger rule:
// at most one trigger node may have no incoming edge.
func (g *Graph) Validate() error {
	seenNodes := make(map[string]*models.WorkflowNode, len(g.nodes))

	for _, node := range g.nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidGraph)
		}

		if _, exists := seenNodes[node.ID]; exists {
			return fmt.Errorf("%w: duplicate node id %s", ErrInvalidGraph, node.ID)
		}

		if !node.Kind.Valid() {
			return fmt.Errorf("%w: node %s has unknown kind %q", ErrInvalidGraph, node.ID, node.Kind)
		}

		seenNodes[node.ID] = node
	}

	seenEdges := make(map[string]bool, len(g.edges))
	usedSlots := make(map[string]bool)
	incoming := make(map[string]int, len(g.nodes))

	for _, edge := range g.edges {
		if seenEdges[edge.ID] {
			return fmt.Errorf("%w: duplicate edge id %s", ErrInvalidGraph, edge.ID)
		}

		seenEdges[edge.ID] = true

		source, ok := seenNodes[edge.Source]
		if !ok {
			return fmt.Errorf("%w: %w", ErrInvalidGraph, invalidEdge(edge.Source, edge.Target, edge.SourcePort, "source node not found"))
		}

		if _, ok := seenNodes[edge.Target]; !ok {
			return fmt.Errorf("%w: %w", ErrInvalidGraph, invalidEdge(edge.Source, edge.Target, edge.SourcePort, "target node not found"))
		}

		if edge.Source == edge.Target {
			return fmt.Errorf("%w: %w", ErrInvalidGraph, invalidEdge(edge.Source, edge.Target, edge.SourcePort, "self loops are not allowed"))
		}

		if edge.SourcePort != "" {
			if !source.IsSwitch() || !models.IsConditionPort(edge.SourcePort) {
				return fmt.Errorf("%w: %w", ErrInvalidGraph, invalidEdge(edge.Source, edge.Target, edge.SourcePort, "invalid source port"))
			}

			slot := edge.Source + ":" + edge.SourcePort
			if usedSlots[slot] {
				return fmt.Errorf("%w: %w", ErrInvalidGraph, invalidEdge(edge.Source, edge.Target, edge.SourcePort, "condition slot already connected"))
			}

			usedSlots[slot] = true
		}

		incoming[edge.Target]++
	}

	entries := 0

	for _, node := range g.nodes {
		if node.IsTrigger() && incoming[node.ID] == 0 {
			entries++
		}
	}

	if entries > 1 {
		return fmt.Errorf("%w: found %d", ErrMultipleEntryTriggers, entries)
	}

	return nil
}

// EntryTrigger returns the id of the first trigger node without incoming edges.
func (g *Graph) EntryTrigger() (string, bool) {
	incoming := make(map[string]bool, len(g.edges))
	for _, edge := range g.edges {
		incoming[edge.Target] = true
	}

	for _, node := range g.nodes {
		if node.IsTrigger() && !incoming[node.ID] {
			return node.ID, true
		}
	}

	return "", false
}

// ExecutionOrder returns the ids of the nodes reachable from the entry trigger, ordered so that
// every node comes after the nodes pointing at it. Graphs with cycles fall back to breadth-first order.
func (g *Graph) ExecutionOrder() ([]string, error) {
	entry, ok := g.EntryTrigger()
	if !ok {
		return nil, ErrNoEntryTrigger
	}

	directed := dgraph.New(dgraph.StringHash, dgraph.Directed())
	position := make(map[string]int, len(g.nodes))

	for i, node := range g.nodes {
		position[node.ID] = i

		if err := directed.AddVertex(node.ID); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", node.ID, err)
		}
	}

	for _, edge := range g.edges {
		err := directed.AddEdge(edge.Source, edge.Target)
		if err != nil && !errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
			return nil, fmt.Errorf("failed to add edge %s: %w", edge.ID, err)
		}
	}

	reachable := make(map[string]bool, len(g.nodes))
	bfsOrder := make([]string, 0, len(g.nodes))

	err := dgraph.BFS(directed, entry, func(id string) bool {
		reachable[id] = true
		bfsOrder = append(bfsOrder, id)

		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk workflow graph: %w", err)
	}

	sorted, err := dgraph.StableTopologicalSort(directed, func(a, b string) bool {
		return position[a] < position[b]
	})
	if err != nil {
		return bfsOrder, nil
	}

	order := make([]string, 0, len(reachable))

	for _, id := range sorted {
		if reachable[id] {
			order = append(order, id)
		}
	}

	return order, nil
}
