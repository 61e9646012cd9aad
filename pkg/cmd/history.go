package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
)

// NewHistory keeps runs in memory unless historyURL is a redis URL.
func NewHistory(ctx context.Context, logger *slog.Logger, historyURL string, size int) (history.History, error) {
	if strings.HasPrefix(historyURL, "redis://") || strings.HasPrefix(historyURL, "rediss://") {
		h, err := history.NewRedis(ctx, logger, historyURL, size)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis history: %w", err)
		}

		return h, nil
	}

	if historyURL != "" && historyURL != "memory://" {
		return nil, fmt.Errorf("unsupported history url: %s", historyURL)
	}

	return history.NewMemory(size), nil
}

// SeedHistory prepends runs in order, so the last one ends up most recent.
func SeedHistory(ctx context.Context, h history.History, runs []*models.WorkflowRun) error {
	for _, run := range runs {
		if err := h.Prepend(ctx, run); err != nil {
			return fmt.Errorf("failed to seed run %s: %w", run.ID, err)
		}
	}

	log.FromContext(ctx).InfoContext(ctx, "Seeded run history", "runs", len(runs))

	return nil
}
