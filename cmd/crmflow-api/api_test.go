package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/memory"
	"github.com/dukex/crmflow/pkg/seed"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAPI(t *testing.T) (*API, *fiber.App) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	data, err := seed.Default(time.Now())
	require.NoError(t, err)

	runHistory := history.NewMemory(history.DefaultSize)
	require.NoError(t, cmd.SeedHistory(context.Background(), runHistory, data.Runs))

	eventBus, err := cmd.NewEventBus("gochannel", nil, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = eventBus.Close()
	})

	api := NewAPI(logger, memory.NewPersistence(data.Workflows...), runHistory, eventBus, nil)

	return api, api.App()
}

func get(t *testing.T, app *fiber.App, path string) (int, []byte) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func TestAPI_RootEndpoint(t *testing.T) {
	_, app := setupTestAPI(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "crmflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	_, app := setupTestAPI(t)

	status, body := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))

	status, _ = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_SeededData(t *testing.T) {
	_, app := setupTestAPI(t)

	status, body := get(t, app, "/workflows?sort_by=name&sort_order=asc")
	require.Equal(t, http.StatusOK, status)

	var page struct {
		Workflows  []*models.Workflow `json:"workflows"`
		TotalCount int64              `json:"total_count"`
	}

	require.NoError(t, json.Unmarshal(body, &page))
	assert.EqualValues(t, 3, page.TotalCount)

	status, body = get(t, app, "/runs")
	require.Equal(t, http.StatusOK, status)

	var runs map[string][]*models.WorkflowRun

	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs["runs"], 3)
	assert.Equal(t, "run-70", runs["runs"][0].ID)
}

func TestAPI_ScheduleFollowsSavedWorkflows(t *testing.T) {
	api, app := setupTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, api.Subscribe(ctx))

	scheduled := web.CreateWorkflowRequest{
		Name:      "Weekly digest",
		IsEnabled: true,
		Nodes: []*models.WorkflowNode{
			{
				ID:   "trigger",
				Kind: models.NodeKindTrigger,
				Config: map[string]any{
					models.ConfigKeyCatalogID: catalog.ScheduledTriggerID,
					catalog.FieldSchedule:     "0 9 * * 1",
				},
			},
			{ID: "action", Kind: models.NodeKindAction, Config: map[string]any{models.ConfigKeyCatalogID: "a2"}},
		},
		Edges: []*models.WorkflowEdge{{ID: "e1", Source: "trigger", Target: "action"}},
	}

	payload, err := json.Marshal(scheduled)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return len(api.scheduler.Entries()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	status, body := get(t, app, "/schedules")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "0 9 * * 1")
}
