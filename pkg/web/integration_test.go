//go:build integration

package web_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/simulator"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "crmflow_web",
				"POSTGRES_USER":     "crmflow",
				"POSTGRES_PASSWORD": "crmflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://crmflow:crmflow@%s:%s/crmflow_web?sslmode=disable", host, port.Port())
}

func setupIntegrationApp(t *testing.T, databaseURL string) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := postgresql.NewPersistence(context.Background(), logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	clock := clockwork.NewFakeClock()
	workflowService := services.NewWorkflow(store, services.WithLogger(logger), services.WithClock(clock))
	runHistory := history.NewMemory(history.DefaultSize)
	sim := simulator.New(runHistory, logger, simulator.WithClock(clock))

	handlers := web.NewAPIHandlers(
		workflowService,
		services.NewRuns(workflowService, sim, runHistory, logger),
		canvas.NewManager(workflowService, logger),
		catalog.NewDefault(logger),
		validator.New(validator.WithRequiredStructEnabled()),
		web.WithLogger(logger),
	)

	app := fiber.New()
	handlers.Routes(app)

	return &testEnv{app: app, workflows: workflowService, clock: clock, simulator: sim}
}

func TestIntegration_EditorSaveAndRun(t *testing.T) {
	env := setupIntegrationApp(t, setupTestDB(t))

	workflowID, editor := openEditor(t, env)

	trigger := drop(t, env, editor, triggerPayload, 0, 0)
	action := drop(t, env, editor, actionPayload, 0, 150)

	status, body := env.do(t, http.MethodPost, editor+"/edges", web.ConnectRequest{Source: trigger.ID, Target: action.ID})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = env.do(t, http.MethodPost, editor+"/save", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = env.do(t, http.MethodPost, "/workflows/"+workflowID+"/enable", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, "/workflows/"+workflowID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))

	env.clock.Advance(simulator.DefaultMaxDelay)
	env.simulator.Wait()

	status, body = env.do(t, http.MethodGet, "/workflows/"+workflowID, nil)
	require.Equal(t, http.StatusOK, status)

	stored := decode[models.Workflow](t, body)
	assert.True(t, stored.IsEnabled)
	assert.Equal(t, 1, stored.RunCount)
	assert.Len(t, stored.Nodes, 2)
	assert.Len(t, stored.Edges, 1)

	status, body = env.do(t, http.MethodGet, "/workflows?enabled=true", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, decode[map[string]any](t, body)["total_count"])

	status, _ = env.do(t, http.MethodDelete, "/workflows/"+workflowID, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = env.do(t, http.MethodGet, "/workflows/"+workflowID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
