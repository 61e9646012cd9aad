package models

// FieldType describes how a catalog config field is edited.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeTextArea FieldType = "textarea"
	FieldTypeSelect   FieldType = "select"
	FieldTypeCron     FieldType = "cron"
)

// ConfigField is one type-specific setting of a catalog entry.
type ConfigField struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Options []string  `json:"options,omitempty"`
}

// CatalogEntry is a static template offered by the palette and the configuration form.
// Triggers and actions share the same shape; Kind tells them apart.
type CatalogEntry struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Kind        NodeKind      `json:"kind"`
	Icon        string        `json:"icon,omitempty"`
	Fields      []ConfigField `json:"fields,omitempty"`
}

// WorkflowTrigger and WorkflowAction name the two catalog lists exposed by the catalog boundary.
type (
	WorkflowTrigger = CatalogEntry
	WorkflowAction  = CatalogEntry
)
