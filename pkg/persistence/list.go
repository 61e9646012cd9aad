package persistence

import (
	"fmt"
	"sort"

	"github.com/dukex/crmflow/pkg/models"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// SortFields is the allowlist of fields a workflow listing can be sorted by.
var SortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// NormalizeListOptions applies defaults and rejects sort fields outside the allowlist.
func NormalizeListOptions(opts ListWorkflowsOptions) (ListWorkflowsOptions, error) {
	if opts.Limit <= 0 || opts.Limit > MaxListLimit {
		opts.Limit = DefaultListLimit
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder != "asc" {
		opts.SortOrder = "desc"
	}

	if !SortFields[opts.SortBy] {
		return opts, fmt.Errorf("%w: %s", ErrInvalidSortField, opts.SortBy)
	}

	return opts, nil
}

// ListInMemory filters, sorts and paginates a full set of workflows. Stores that load every
// record anyway use it to answer ListWorkflows.
func ListInMemory(all []*models.Workflow, opts ListWorkflowsOptions) (*WorkflowListResult, error) {
	opts, err := NormalizeListOptions(opts)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if opts.Enabled != nil && workflow.IsEnabled != *opts.Enabled {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &WorkflowListResult{
			Workflows:  make([]*models.Workflow, 0),
			TotalCount: totalCount,
		}, nil
	}

	endIdx := min(opts.Offset+opts.Limit, len(filtered))

	return &WorkflowListResult{
		Workflows:   filtered[opts.Offset:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

func sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.SliceStable(workflows, func(i, j int) bool {
		a, b := workflows[i], workflows[j]

		if sortOrder == "desc" {
			a, b = b, a
		}

		switch sortBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "name":
			return a.Name < b.Name
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}
