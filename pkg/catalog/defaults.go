package catalog

import (
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
)

const (
	TriggerIcon = "lucide:zap"
	ActionIcon  = "lucide:play-circle"
	SwitchIcon  = "lucide:git-fork"
)

// ScheduledTriggerID is the trigger that fires on a cron schedule.
const ScheduledTriggerID = "t4"

// FieldSchedule is the config key holding the cron expression of the scheduled trigger.
const FieldSchedule = "schedule"

// NewDefault returns a catalog with the CRM triggers, actions and the switch entry registered.
func NewDefault(logger *slog.Logger) *Catalog {
	c := New(logger)
	RegisterDefaults(c)

	return c
}

func RegisterDefaults(c *Catalog) {
	for _, entry := range defaultTriggers() {
		c.Register(entry)
	}

	for _, entry := range defaultActions() {
		c.Register(entry)
	}

	c.Register(&models.CatalogEntry{
		ID:          SwitchID,
		Type:        "switch",
		Name:        "Switch",
		Description: "Branches the flow into up to three conditions.",
		Kind:        models.NodeKindSwitch,
		Icon:        SwitchIcon,
	})
}

func defaultTriggers() []*models.CatalogEntry {
	return []*models.CatalogEntry{
		{
			ID:          "t1",
			Type:        "new_company",
			Name:        "New company added",
			Description: "Fires when a company is created in the CRM.",
			Kind:        models.NodeKindTrigger,
			Icon:        TriggerIcon,
		},
		{
			ID:          "t2",
			Type:        "deal_stage_changed",
			Name:        "Deal stage changed",
			Description: "Fires when a deal moves to another stage.",
			Kind:        models.NodeKindTrigger,
			Icon:        TriggerIcon,
			Fields: []models.ConfigField{
				{
					Name:    "dealStage",
					Label:   "Target stage",
					Type:    models.FieldTypeSelect,
					Options: []string{"new", "negotiation", "contract", "lost"},
				},
			},
		},
		{
			ID:          "t3",
			Type:        "new_lead",
			Name:        "New lead added",
			Description: "Fires when a new lead (contact) is registered.",
			Kind:        models.NodeKindTrigger,
			Icon:        TriggerIcon,
		},
		{
			ID:          ScheduledTriggerID,
			Type:        "scheduled",
			Name:        "On a schedule",
			Description: "Fires on a cron schedule.",
			Kind:        models.NodeKindTrigger,
			Icon:        TriggerIcon,
			Fields: []models.ConfigField{
				{Name: FieldSchedule, Label: "Cron expression", Type: models.FieldTypeCron},
			},
		},
	}
}

func defaultActions() []*models.CatalogEntry {
	return []*models.CatalogEntry{
		{
			ID:          "a1",
			Type:        "create_task",
			Name:        "Create task",
			Description: "Assigns a task to the given owner.",
			Kind:        models.NodeKindAction,
			Icon:        ActionIcon,
			Fields: []models.ConfigField{
				{Name: "taskContent", Label: "Task", Type: models.FieldTypeText},
				{Name: "assignee", Label: "Assignee", Type: models.FieldTypeText},
			},
		},
		{
			ID:          "a2",
			Type:        "send_slack_notification",
			Name:        "Send Slack notification",
			Description: "Posts a message to the given channel.",
			Kind:        models.NodeKindAction,
			Icon:        ActionIcon,
			Fields: []models.ConfigField{
				{Name: "slackChannel", Label: "Slack channel", Type: models.FieldTypeText},
				{Name: "message", Label: "Message", Type: models.FieldTypeTextArea},
			},
		},
		{
			ID:          "a3",
			Type:        "add_tag",
			Name:        "Add tag",
			Description: "Tags the target record.",
			Kind:        models.NodeKindAction,
			Icon:        ActionIcon,
			Fields: []models.ConfigField{
				{Name: "tag", Label: "Tag", Type: models.FieldTypeText},
			},
		},
		{
			ID:          "a4",
			Type:        "send_email",
			Name:        "Send email",
			Description: "Sends a predefined template or a custom email.",
			Kind:        models.NodeKindAction,
			Icon:        ActionIcon,
			Fields: []models.ConfigField{
				{Name: "template", Label: "Template", Type: models.FieldTypeText},
				{Name: "subject", Label: "Subject", Type: models.FieldTypeText},
			},
		},
		{
			ID:          "a5",
			Type:        "add_record_to_list",
			Name:        "Add record to list",
			Description: "Adds the record to the given list.",
			Kind:        models.NodeKindAction,
			Icon:        ActionIcon,
			Fields: []models.ConfigField{
				{Name: "listName", Label: "List", Type: models.FieldTypeText},
				{
					Name:    "recordType",
					Label:   "Record type",
					Type:    models.FieldTypeSelect,
					Options: []string{"company", "contact", "deal"},
				},
			},
		},
	}
}
