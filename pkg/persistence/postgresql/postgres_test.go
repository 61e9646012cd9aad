package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/dukex/crmflow/pkg/testutil"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("crmflow_test"),
			postgres.WithUsername("crmflow"),
			postgres.WithPassword("crmflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	persistence, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = persistence.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return persistence, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'workflows')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "workflows table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_WorkflowLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := testutil.CreateTestWorkflowWithNodes()
	workflow.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	workflow.UpdatedAt = workflow.CreatedAt

	require.NoError(t, repo.Save(ctx, workflow))

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, len(workflow.Nodes))
	assert.Equal(t, workflow.Edges[0].Source, loaded.Edges[0].Source)
	assert.True(t, workflow.CreatedAt.Equal(loaded.CreatedAt))

	lastRun := time.Now().UTC().Truncate(time.Millisecond)
	recorded, err := repo.RecordRun(ctx, workflow.ID, lastRun)
	require.NoError(t, err)
	assert.True(t, recorded)

	loaded.IsEnabled = true
	loaded.RunCount = 0
	loaded.Nodes = append(loaded.Nodes, testutil.CreateTestNode(testutil.WithID("tag"), testutil.WithLabel("Add tag")))
	require.NoError(t, repo.Save(ctx, loaded))

	updated, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsEnabled)
	assert.Equal(t, 1, updated.RunCount, "save keeps the recorded run summary")
	assert.Len(t, updated.Nodes, len(workflow.Nodes)+1)
	require.NotNil(t, updated.LastRunAt)
	assert.True(t, lastRun.Equal(*updated.LastRunAt))

	enabled := true
	result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{Enabled: &enabled})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.TotalCount)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	deleted, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)

	recorded, err = repo.RecordRun(ctx, workflow.ID, lastRun)
	require.NoError(t, err)
	assert.False(t, recorded)
	require.ErrorIs(t, repo.Save(ctx, loaded), persistence.ErrWorkflowNotFound)

	deleted, err = repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted, "a deleted workflow stays deleted")

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNewPersistence_ListWorkflows(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()
	base := time.Now().UTC().Truncate(time.Second)

	for i, name := range []string{"Charlie", "Alpha", "Bravo"} {
		require.NoError(t, repo.Save(ctx, &models.Workflow{
			ID:        name,
			Name:      name,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{SortBy: "name", SortOrder: "asc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "Alpha", result.Workflows[0].Name)
	assert.Equal(t, "Bravo", result.Workflows[1].Name)
	assert.True(t, result.HasNextPage)
	assert.EqualValues(t, 3, result.TotalCount)

	result, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bravo", result.Workflows[0].Name)
}
