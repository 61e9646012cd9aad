// Package catalog holds the static trigger, action and logic templates offered to the editor.
package catalog

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
)

// SwitchID is the catalog id of the built-in switch entry.
const SwitchID = "switch"

var ErrEntryNotFound = errors.New("catalog entry not found")

type Catalog struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*models.CatalogEntry
	order   []string
}

func New(logger *slog.Logger) *Catalog {
	return &Catalog{
		logger:  logger.With("module", "catalog"),
		entries: make(map[string]*models.CatalogEntry),
	}
}

// Register adds or replaces an entry. Listing order follows first registration.
func (c *Catalog) Register(entry *models.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[entry.ID]; !exists {
		c.order = append(c.order, entry.ID)
	}

	c.entries[entry.ID] = entry

	c.logger.Debug("Registered catalog entry", "id", entry.ID, "kind", entry.Kind)
}

func (c *Catalog) ListTriggers() []*models.WorkflowTrigger {
	return c.list(models.NodeKindTrigger)
}

func (c *Catalog) ListActions() []*models.WorkflowAction {
	return c.list(models.NodeKindAction)
}

// List returns the entries of the given kind in registration order.
func (c *Catalog) List(kind models.NodeKind) []*models.CatalogEntry {
	return c.list(kind)
}

func (c *Catalog) list(kind models.NodeKind) []*models.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*models.CatalogEntry, 0, len(c.order))

	for _, id := range c.order {
		entry := c.entries[id]
		if entry.Kind == kind {
			entries = append(entries, entry)
		}
	}

	return entries
}

// Switch returns the built-in switch entry, if registered.
func (c *Catalog) Switch() (*models.CatalogEntry, bool) {
	return c.Lookup(SwitchID)
}

func (c *Catalog) Lookup(id string) (*models.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]

	return entry, ok
}

// LookupForNode resolves the catalog entry a node was created from. The stored catalog id wins;
// nodes without one are matched by label against entries of the same kind.
func (c *Catalog) LookupForNode(node *models.WorkflowNode) (*models.CatalogEntry, bool) {
	if node == nil {
		return nil, false
	}

	if id := node.CatalogID(); id != "" {
		if entry, ok := c.Lookup(id); ok && entry.Kind == node.Kind {
			return entry, true
		}
	}

	candidates := c.list(node.Kind)

	idx := slices.IndexFunc(candidates, func(entry *models.CatalogEntry) bool {
		return strings.EqualFold(entry.Name, node.Label)
	})
	if idx < 0 {
		return nil, false
	}

	return candidates[idx], true
}
