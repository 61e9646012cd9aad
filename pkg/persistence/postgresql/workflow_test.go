package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"id", "name", "description", "is_enabled", "nodes", "edges",
	"created_at", "updated_at", "last_run_at", "run_count",
}

func newMockRepository(t *testing.T) (*WorkflowRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return NewWorkflowRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

// TestWorkflowRepository_buildListQuery_InvalidSortField tests that invalid sort field returns typed error.
func TestWorkflowRepository_buildListQuery_InvalidSortField(t *testing.T) {
	repo := &WorkflowRepository{
		db:     nil, // Not needed for this test
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	tests := []struct {
		name    string
		sortBy  string
		wantErr error
	}{
		{
			name:    "invalid sort field should return ErrInvalidSortField",
			sortBy:  "invalid_field",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "sql injection attempt should return ErrInvalidSortField",
			sortBy:  "name; DROP TABLE workflows; --",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:   "valid sort field should not return error",
			sortBy: "name",
		},
		{
			name:   "updated_at sort field should not return error",
			sortBy: "updated_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := persistence.ListWorkflowsOptions{
				SortBy:    tt.sortBy,
				SortOrder: "asc",
				Limit:     10,
				Offset:    0,
			}

			query, _, err := repo.buildListQuery(opts)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, persistence.IsInvalidSortField(err))
			} else {
				assert.NoError(t, err)
				assert.Contains(t, query, "ORDER BY "+tt.sortBy+" ASC")
			}
		})
	}
}

func TestWorkflowRepository_buildListQuery_EnabledFilter(t *testing.T) {
	repo := &WorkflowRepository{}
	enabled := true

	query, args, err := repo.buildListQuery(persistence.ListWorkflowsOptions{
		Enabled:   &enabled,
		SortBy:    "created_at",
		SortOrder: "desc",
		Limit:     20,
		Offset:    40,
	})
	require.NoError(t, err)
	assert.Contains(t, query, "is_enabled = $1")
	assert.Contains(t, query, "LIMIT $2 OFFSET $3")
	assert.Equal(t, []any{true, 20, 40}, args)
}

func TestWorkflowRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM workflows\s+WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"wf-1", "Assign lead task", "", true,
			[]byte(`[{"id":"t","kind":"trigger","position":{"x":50,"y":50},"label":"New lead added","config":{}}]`),
			[]byte(`[]`),
			created, created, nil, 15,
		))

	workflow, err := repo.GetByID(context.Background(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, workflow)
	assert.Equal(t, "Assign lead task", workflow.Name)
	assert.True(t, workflow.IsEnabled)
	require.Len(t, workflow.Nodes, 1)
	assert.Equal(t, models.NodeKindTrigger, workflow.Nodes[0].Kind)
	assert.Equal(t, models.Position{X: 50, Y: 50}, workflow.Nodes[0].Position)
	assert.Empty(t, workflow.Edges)
	assert.Nil(t, workflow.LastRunAt)
	assert.Equal(t, 15, workflow.RunCount)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("FROM workflows").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	workflow, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, workflow)
}

func TestWorkflowRepository_Save(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	workflow := &models.Workflow{
		ID:        "wf-2",
		Name:      "Deal won alert",
		CreatedAt: created,
		UpdatedAt: created,
	}

	mock.ExpectExec("INSERT INTO workflows").
		WithArgs("wf-2", "Deal won alert", "", false, []byte(`[]`), []byte(`[]`), created, created, nil, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), workflow))
}

func TestWorkflowRepository_Save_WrapsErrors(t *testing.T) {
	repo, mock := newMockRepository(t)
	boom := errors.New("connection reset")

	mock.ExpectExec("INSERT INTO workflows").WillReturnError(boom)

	err := repo.Save(context.Background(), &models.Workflow{ID: "wf-3", Name: "x"})

	var workflowErr *persistence.WorkflowError
	require.ErrorAs(t, err, &workflowErr)
	assert.Equal(t, "wf-3", workflowErr.WorkflowID)
	assert.ErrorIs(t, err, boom)
}

func TestWorkflowRepository_Save_DeletedRow(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET[\s\S]+WHERE workflows.deleted_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), &models.Workflow{ID: "wf-gone", Name: "x"})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_RecordRun(t *testing.T) {
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "stored workflow", affected: 1, want: true},
		{name: "missing or deleted workflow", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)

			mock.ExpectExec(`SET run_count = run_count \+ 1, last_run_at = \$2\s+WHERE id = \$1 AND deleted_at IS NULL`).
				WithArgs("wf-1", at).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.RecordRun(context.Background(), "wf-1", at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestWorkflowRepository_Delete(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE workflows SET deleted_at = NOW\(\) WHERE id = \$1`).
		WithArgs("wf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "wf-1"))
}

func TestWorkflowRepository_ListWorkflows(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM workflows WHERE deleted_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY name ASC, id ASC LIMIT \$1 OFFSET \$2`).
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("wf-a", "Alpha", "", false, []byte(`[]`), []byte(`[]`), created, created, created, 1).
			AddRow("wf-b", "Bravo", "", true, []byte(`[]`), []byte(`[]`), created, created, nil, 0))

	result, err := repo.ListWorkflows(context.Background(), persistence.ListWorkflowsOptions{
		SortBy:    "name",
		SortOrder: "asc",
		Limit:     2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Workflows, 2)
	require.NotNil(t, result.Workflows[0].LastRunAt)
	assert.True(t, created.Equal(*result.Workflows[0].LastRunAt))
}
