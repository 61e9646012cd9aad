package palette

import (
	"github.com/dukex/crmflow/pkg/models"
)

// Drag payload keys.
const (
	KeyKind        = "kind"
	KeyLabel       = "label"
	KeyIcon        = "icon"
	KeyDescription = "description"
	KeyCatalogID   = "catalogId"
)

// DragPayload is what a palette item carries to the canvas on drop.
type DragPayload struct {
	Kind        models.NodeKind `json:"kind"        validate:"required,oneof=trigger action switch"`
	Label       string          `json:"label"       validate:"required"`
	Icon        string          `json:"icon,omitempty"`
	Description string          `json:"description,omitempty"`
	CatalogID   string          `json:"catalog_id,omitempty"`
}

// Payload builds the drag payload of the item.
func (i Item) Payload() DragPayload {
	return DragPayload{
		Kind:        i.Kind,
		Label:       i.Label,
		Icon:        i.Icon,
		Description: i.Description,
		CatalogID:   i.CatalogID,
	}
}

// Encode returns the string-keyed form of the payload. Empty optional values are omitted.
func (p DragPayload) Encode() map[string]string {
	data := map[string]string{
		KeyKind:  string(p.Kind),
		KeyLabel: p.Label,
	}

	for key, value := range map[string]string{
		KeyIcon:        p.Icon,
		KeyDescription: p.Description,
		KeyCatalogID:   p.CatalogID,
	} {
		if value != "" {
			data[key] = value
		}
	}

	return data
}

// Entry returns the catalog entry shape the graph seeds a new node from.
func (p DragPayload) Entry() *models.CatalogEntry {
	return &models.CatalogEntry{
		ID:          p.CatalogID,
		Name:        p.Label,
		Description: p.Description,
		Kind:        p.Kind,
		Icon:        p.Icon,
	}
}

// ParsePayload decodes a string-keyed payload. It reports false when kind or label are missing
// or the kind is not one the palette offers.
func ParsePayload(data map[string]string) (DragPayload, bool) {
	kind := models.NodeKind(data[KeyKind])
	label := data[KeyLabel]

	if !kind.Valid() || label == "" {
		return DragPayload{}, false
	}

	return DragPayload{
		Kind:        kind,
		Label:       label,
		Icon:        data[KeyIcon],
		Description: data[KeyDescription],
		CatalogID:   data[KeyCatalogID],
	}, true
}

// Valid reports whether the payload can create a node.
func (p DragPayload) Valid() bool {
	return p.Kind.Valid() && p.Label != ""
}
