// Package form edits the selected node of an editing session: its label, description and the
// fields of the catalog entry it was created from.
package form

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/go-cmp/cmp"
)

var (
	ErrNoSelection = errors.New("no node selected")

	// ErrNotConfigurable is returned for edits on switch nodes. Their branches are drawn as edges.
	ErrNotConfigurable = errors.New("node is not configurable")

	ErrUnknownField = errors.New("unknown config field")
)

const switchInfo = "Connect up to three outgoing edges, one per condition slot."

// State is what the form shows for the current selection. Empty is set when nothing is selected.
type State struct {
	Empty        bool                   `json:"empty"`
	NodeID       string                 `json:"node_id,omitempty"`
	Kind         models.NodeKind        `json:"kind,omitempty"`
	Configurable bool                   `json:"configurable"`
	Info         string                 `json:"info,omitempty"`
	Label        string                 `json:"label,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Config       map[string]any         `json:"config,omitempty"`
	Options      []*models.CatalogEntry `json:"options,omitempty"`
	Selected     *models.CatalogEntry   `json:"selected,omitempty"`
	Fields       []models.ConfigField   `json:"fields,omitempty"`
	Violations   []string               `json:"violations,omitempty"`
}

// Form is bound to one session. Local fields are read from the node when the selection changes
// or when the node was edited elsewhere, and every form edit is written through to the session
// immediately.
type Form struct {
	session *canvas.Session
	catalog *catalog.Catalog
	logger  *slog.Logger

	mu    sync.Mutex
	local *State
	seen  *models.WorkflowNode
}

func New(session *canvas.Session, catalog *catalog.Catalog, logger *slog.Logger) *Form {
	return &Form{
		session: session,
		catalog: catalog,
		logger:  logger.With("module", "form", "session_id", session.ID()),
	}
}

// State returns the form for the selected node.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.session.Selected()
	if !ok {
		f.reset()

		return State{Empty: true}
	}

	f.sync(node)

	return f.snapshot()
}

func (f *Form) SetLabel(label string) (State, error) {
	return f.edit(map[string]any{"label": label})
}

func (f *Form) SetDescription(description string) (State, error) {
	return f.edit(map[string]any{"description": description})
}

// SetField sets one type-specific field. An empty value unsets it.
func (f *Form) SetField(name, value string) (State, error) {
	f.mu.Lock()
	node, err := f.current()
	f.mu.Unlock()

	if err != nil {
		return State{}, err
	}

	entry, ok := f.catalog.LookupForNode(node)
	if !ok || !hasField(entry, name) {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}

	var stored any = value
	if value == "" {
		stored = nil
	}

	return f.edit(map[string]any{name: stored})
}

// SelectEntry switches the node to another catalog entry of the same kind. Label and description
// are overwritten with the entry's and the entry id and type are kept in the config.
func (f *Form) SelectEntry(entryID string) (State, error) {
	entry, ok := f.catalog.Lookup(entryID)
	if !ok {
		return State{}, fmt.Errorf("%w: %s", catalog.ErrEntryNotFound, entryID)
	}

	partial := map[string]any{
		"label":                   entry.Name,
		"description":             entry.Description,
		models.ConfigKeyCatalogID: entry.ID,
	}

	if entry.Type != "" {
		partial[models.ConfigKeyCatalogType] = entry.Type
	}

	f.mu.Lock()
	node, err := f.current()
	f.mu.Unlock()

	if err != nil {
		return State{}, err
	}

	if entry.Kind != node.Kind {
		return State{}, fmt.Errorf("%w: %s is a %s entry", catalog.ErrEntryNotFound, entryID, entry.Kind)
	}

	return f.edit(partial)
}

// edit writes partial through to the selected node and reloads the form from the result.
func (f *Form) edit(partial map[string]any) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, err := f.current()
	if err != nil {
		return State{}, err
	}

	if !f.session.UpdateNodeConfig(node.ID, partial) {
		return State{}, ErrNoSelection
	}

	edited, ok := f.session.Selected()
	if !ok || edited.ID != node.ID {
		f.reset()

		return State{}, ErrNoSelection
	}

	f.sync(edited)

	f.logger.Debug("Node edited", "node_id", node.ID, "keys", slices.Sorted(maps.Keys(partial)))

	return f.snapshot(), nil
}

// current returns the selected node and makes sure the local fields belong to it.
func (f *Form) current() (*models.WorkflowNode, error) {
	node, ok := f.session.Selected()
	if !ok {
		f.reset()

		return nil, ErrNoSelection
	}

	if node.IsSwitch() {
		return nil, ErrNotConfigurable
	}

	f.sync(node)

	return node, nil
}

// sync reloads the local fields when the selection moved to another node or the node changed
// since it was last read, for example through a canvas edit.
func (f *Form) sync(node *models.WorkflowNode) {
	if f.local != nil && f.seen != nil && f.seen.ID == node.ID &&
		f.seen.Label == node.Label &&
		f.seen.Description == node.Description &&
		cmp.Equal(f.seen.Config, node.Config) {
		return
	}

	f.local = f.initialise(node)
	f.seen = node.Clone()
}

func (f *Form) reset() {
	f.local = nil
	f.seen = nil
}

func (f *Form) initialise(node *models.WorkflowNode) *State {
	state := &State{
		NodeID:      node.ID,
		Kind:        node.Kind,
		Label:       node.Label,
		Description: node.Description,
		Config:      maps.Clone(node.Config),
	}

	if state.Config == nil {
		state.Config = map[string]any{}
	}

	if node.IsSwitch() {
		state.Info = switchInfo

		return state
	}

	state.Configurable = true
	state.Options = f.catalog.List(node.Kind)
	f.resolve(state, node)

	return state
}

func (f *Form) resolve(state *State, node *models.WorkflowNode) {
	state.Selected = nil
	state.Fields = nil
	state.Violations = nil

	entry, ok := f.catalog.LookupForNode(node)
	if !ok {
		return
	}

	state.Selected = entry
	state.Fields = entry.Fields

	var configErr *catalog.ConfigError
	if err := f.catalog.ValidateConfig(entry.ID, state.Config); errors.As(err, &configErr) {
		state.Violations = configErr.Violations
	}
}

func (f *Form) snapshot() State {
	state := *f.local
	state.Config = maps.Clone(f.local.Config)

	return state
}

func hasField(entry *models.CatalogEntry, name string) bool {
	return slices.ContainsFunc(entry.Fields, func(field models.ConfigField) bool { return field.Name == name })
}
