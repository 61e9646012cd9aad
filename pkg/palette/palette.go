// Package palette lists the catalog entries that can be dragged onto the canvas and encodes the
// drag payload handed to the canvas on drop.
package palette

import (
	"strings"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
)

const (
	GroupTriggers = "Triggers"
	GroupActions  = "Actions"
	GroupLogic    = "Logic"
)

// Source is the part of the catalog the palette reads from.
type Source interface {
	List(kind models.NodeKind) []*models.CatalogEntry
}

// Item is one draggable palette entry.
type Item struct {
	CatalogID   string          `json:"catalog_id"`
	Kind        models.NodeKind `json:"kind"`
	Label       string          `json:"label"`
	Icon        string          `json:"icon,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Group struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Palette holds the search string; the groups are derived from the catalog on every call.
type Palette struct {
	source Source

	mu     sync.RWMutex
	search string
}

func New(source Source) *Palette {
	return &Palette{source: source}
}

func (p *Palette) SetSearch(search string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.search = search
}

func (p *Palette) Search() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.search
}

// Groups returns the Triggers, Actions and Logic groups filtered by the current search. Groups
// left without items are dropped.
func (p *Palette) Groups() []Group {
	return Filter(p.source, p.Search())
}

// Filter groups the catalog entries and keeps those whose label or description contains search,
// ignoring case.
func Filter(source Source, search string) []Group {
	needle := strings.ToLower(strings.TrimSpace(search))

	layout := []struct {
		name string
		kind models.NodeKind
	}{
		{GroupTriggers, models.NodeKindTrigger},
		{GroupActions, models.NodeKindAction},
		{GroupLogic, models.NodeKindSwitch},
	}

	groups := make([]Group, 0, len(layout))

	for _, group := range layout {
		var items []Item

		for _, entry := range source.List(group.kind) {
			item := itemFromEntry(entry)
			if matches(item, needle) {
				items = append(items, item)
			}
		}

		if len(items) > 0 {
			groups = append(groups, Group{Name: group.name, Items: items})
		}
	}

	return groups
}

func itemFromEntry(entry *models.CatalogEntry) Item {
	return Item{
		CatalogID:   entry.ID,
		Kind:        entry.Kind,
		Label:       entry.Name,
		Icon:        entry.Icon,
		Description: entry.Description,
	}
}

func matches(item Item, needle string) bool {
	if needle == "" {
		return true
	}

	return strings.Contains(strings.ToLower(item.Label), needle) ||
		strings.Contains(strings.ToLower(item.Description), needle)
}
