// Package seed loads the sample workflows and runs the in-memory store starts with.
package seed

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultData []byte

type document struct {
	Workflows []workflowDoc `yaml:"workflows"`
	Runs      []runDoc      `yaml:"runs"`
}

type workflowDoc struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Enabled     bool           `yaml:"enabled"`
	CreatedAt   *time.Time     `yaml:"created_at"`
	UpdatedAt   *time.Time     `yaml:"updated_at"`
	CreatedAgo  time.Duration  `yaml:"created_ago"`
	UpdatedAgo  time.Duration  `yaml:"updated_ago"`
	LastRunAgo  *time.Duration `yaml:"last_run_ago"`
	RunCount    int            `yaml:"run_count"`
	Nodes       []nodeDoc      `yaml:"nodes"`
	Edges       []edgeDoc      `yaml:"edges"`
}

type nodeDoc struct {
	ID          string          `yaml:"id"`
	Kind        models.NodeKind `yaml:"kind"`
	X           float64         `yaml:"x"`
	Y           float64         `yaml:"y"`
	Label       string          `yaml:"label"`
	Description string          `yaml:"description"`
	Icon        string          `yaml:"icon"`
	Config      map[string]any  `yaml:"config"`
}

type edgeDoc struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Port   string `yaml:"port"`
}

type runDoc struct {
	ID         string           `yaml:"id"`
	WorkflowID string           `yaml:"workflow_id"`
	Status     models.RunStatus `yaml:"status"`
	StartedAgo time.Duration    `yaml:"started_ago"`
	Duration   time.Duration    `yaml:"duration"`
	Credits    int              `yaml:"credits"`
}

// Data is a decoded seed set.
type Data struct {
	Workflows []*models.Workflow
	// Runs are ordered oldest first.
	Runs []*models.WorkflowRun
}

// Default decodes the embedded seed set relative to now.
func Default(now time.Time) (*Data, error) {
	return Parse(defaultData, now)
}

// Parse decodes a seed document. Offsets are subtracted from now.
func Parse(data []byte, now time.Time) (*Data, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode seed data: %w", err)
	}

	now = now.UTC()
	result := &Data{}
	names := make(map[string]string, len(doc.Workflows))

	for _, w := range doc.Workflows {
		workflow := w.toModel(now)
		names[workflow.ID] = workflow.Name
		result.Workflows = append(result.Workflows, workflow)
	}

	for _, r := range doc.Runs {
		name, ok := names[r.WorkflowID]
		if !ok {
			return nil, fmt.Errorf("seed run %s references unknown workflow %s", r.ID, r.WorkflowID)
		}

		if !r.Status.Terminal() {
			return nil, fmt.Errorf("seed run %s must be completed or failed", r.ID)
		}

		startedAt := now.Add(-r.StartedAgo)
		completedAt := startedAt.Add(r.Duration)

		result.Runs = append(result.Runs, &models.WorkflowRun{
			ID:              r.ID,
			WorkflowID:      r.WorkflowID,
			WorkflowName:    name,
			Status:          r.Status,
			StartedAt:       startedAt,
			CompletedAt:     &completedAt,
			CreditsConsumed: r.Credits,
		})
	}

	return result, nil
}

func (w workflowDoc) toModel(now time.Time) *models.Workflow {
	workflow := &models.Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		IsEnabled:   w.Enabled,
		CreatedAt:   now.Add(-w.CreatedAgo),
		UpdatedAt:   now.Add(-w.UpdatedAgo),
		RunCount:    w.RunCount,
		Nodes:       make([]*models.WorkflowNode, 0, len(w.Nodes)),
		Edges:       make([]*models.WorkflowEdge, 0, len(w.Edges)),
	}

	if w.CreatedAt != nil {
		workflow.CreatedAt = w.CreatedAt.UTC()
	}

	if w.UpdatedAt != nil {
		workflow.UpdatedAt = w.UpdatedAt.UTC()
	}

	if w.LastRunAgo != nil {
		lastRunAt := now.Add(-*w.LastRunAgo)
		workflow.LastRunAt = &lastRunAt
	}

	for _, n := range w.Nodes {
		config := n.Config
		if config == nil {
			config = map[string]any{}
		}

		workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
			ID:          n.ID,
			Kind:        n.Kind,
			Position:    models.Position{X: n.X, Y: n.Y},
			Label:       n.Label,
			Description: n.Description,
			Icon:        n.Icon,
			Config:      config,
		})
	}

	for _, e := range w.Edges {
		workflow.Edges = append(workflow.Edges, &models.WorkflowEdge{
			ID:         e.ID,
			Source:     e.Source,
			Target:     e.Target,
			SourcePort: e.Port,
			Label:      models.ConditionLabel(e.Port),
			Animated:   true,
			Marker:     models.MarkerArrowClosed,
		})
	}

	return workflow
}
