package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidConfig = errors.New("invalid node config")

// ConfigError lists the config violations found for one catalog entry.
type ConfigError struct {
	EntryID    string
	Violations []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config for %s: %s", e.EntryID, strings.Join(e.Violations, "; "))
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Schema builds the JSON schema of an entry's config. Keys outside the declared fields are
// allowed since the editor stores its own bookkeeping keys next to them.
func Schema(entry *models.CatalogEntry) map[string]any {
	properties := make(map[string]any, len(entry.Fields))

	for _, field := range entry.Fields {
		property := map[string]any{
			"type":  "string",
			"title": field.Label,
		}

		if field.Type == models.FieldTypeSelect && len(field.Options) > 0 {
			enum := make([]any, 0, len(field.Options))
			for _, option := range field.Options {
				enum = append(enum, option)
			}

			property["enum"] = enum
		}

		properties[field.Name] = property
	}

	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
}

// ValidateConfig checks config against the fields of the entry. Empty values count as unset.
func (c *Catalog) ValidateConfig(entryID string, config map[string]any) error {
	entry, ok := c.Lookup(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}

	document := make(map[string]any, len(config))

	for key, value := range config {
		if s, isString := value.(string); value == nil || (isString && s == "") {
			continue
		}

		document[key] = value
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(Schema(entry)),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for %s: %w", entryID, err)
	}

	var violations []string

	for _, resultErr := range result.Errors() {
		violations = append(violations, resultErr.String())
	}

	for _, field := range entry.Fields {
		if field.Type != models.FieldTypeCron {
			continue
		}

		expression, _ := document[field.Name].(string)
		if expression == "" {
			continue
		}

		if _, err := cron.ParseStandard(expression); err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", field.Name, err))
		}
	}

	if len(violations) > 0 {
		return &ConfigError{EntryID: entryID, Violations: violations}
	}

	return nil
}
