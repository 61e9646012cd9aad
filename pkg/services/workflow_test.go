package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/memory"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, seed ...*models.Workflow) (*Workflow, *mocks.MockEventBus, *clockwork.FakeClock) {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	clock := clockwork.NewFakeClockAt(now)

	service := NewWorkflow(
		memory.NewPersistence(seed...),
		WithPublisher(bus),
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	return service, bus, clock
}

func publishedTypes(bus *mocks.MockEventBus) []events.EventType {
	var types []events.EventType

	for _, call := range bus.Calls {
		if call.Method != "Publish" {
			continue
		}

		types = append(types, call.Arguments.Get(2).(interface{ GetType() events.EventType }).GetType())
	}

	return types
}

func TestNewWorkflow(t *testing.T) {
	p := memory.NewPersistence()
	service := NewWorkflow(p)

	assert.NotNil(t, service)
	assert.Equal(t, p, service.persistence)
}

func TestWorkflow_HealthCheck(t *testing.T) {
	p := &mocks.MockPersistence{}
	p.On("HealthCheck", mock.Anything).Return(errors.New("connection refused")).Once()
	p.On("HealthCheck", mock.Anything).Return(nil).Once()

	service := NewWorkflow(p)

	message, ok := service.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, message, "connection refused")

	_, ok = service.HealthCheck(context.Background())
	assert.True(t, ok)

	p.AssertExpectations(t)
}

func TestWorkflow_CreateEmpty(t *testing.T) {
	service, bus, _ := newService(t)

	created, err := service.CreateEmpty(context.Background(), "  ")
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.DefaultWorkflowName, created.Name)
	assert.False(t, created.IsEnabled)
	assert.Empty(t, created.Nodes)
	assert.Empty(t, created.Edges)
	assert.Equal(t, now, created.CreatedAt)
	assert.Equal(t, now, created.UpdatedAt)

	assert.Equal(t, []events.EventType{events.WorkflowSavedEvent}, publishedTypes(bus))
}

func TestWorkflow_Create(t *testing.T) {
	existing := testutil.CreateTestWorkflow()

	tests := []struct {
		name     string
		workflow *models.Workflow
		expected error
	}{
		{name: "valid graph", workflow: testutil.CreateTestWorkflowWithNodes()},
		{name: "nil", workflow: nil, expected: ErrWorkflowNil},
		{name: "blank name", workflow: &models.Workflow{Name: " "}, expected: ErrWorkflowNameRequired},
		{name: "duplicate id", workflow: &models.Workflow{ID: existing.ID, Name: "Copy"}, expected: ErrWorkflowAlreadyExists},
		{
			name: "unknown node kind",
			workflow: &models.Workflow{
				Name:  "Broken",
				Nodes: []*models.WorkflowNode{{ID: "n1", Kind: "condition"}},
			},
			expected: ErrInvalidWorkflow,
		},
		{
			name: "two entry triggers",
			workflow: &models.Workflow{
				Name: "Two entries",
				Nodes: []*models.WorkflowNode{
					testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("t1")),
					testutil.CreateTestNode(testutil.WithTriggerNode(), testutil.WithID("t2")),
				},
			},
			expected: ErrInvalidWorkflow,
		},
		{
			name: "nil node",
			workflow: &models.Workflow{
				Name:  "Holes",
				Nodes: []*models.WorkflowNode{nil},
			},
			expected: ErrInvalidWorkflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newService(t, existing)

			created, err := service.Create(context.Background(), tt.workflow)
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
				assert.Nil(t, created)

				return
			}

			require.NoError(t, err)

			stored, err := service.FetchByID(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Len(t, stored.Nodes, len(tt.workflow.Nodes))
		})
	}
}

func TestWorkflow_CreateValidationErrorsAreClassified(t *testing.T) {
	service, _, _ := newService(t)

	_, err := service.Create(context.Background(), &models.Workflow{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "NAME_REQUIRED", serviceErr.Code)
}

func TestWorkflow_FetchByID_NotFound(t *testing.T) {
	service, _, _ := newService(t)

	_, err := service.FetchByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_Update(t *testing.T) {
	workflow := testutil.CreateTestWorkflowWithNodes()
	workflow.CreatedAt = now.Add(-time.Hour)
	workflow.UpdatedAt = now.Add(-time.Hour)
	workflow.Nodes[0].Status = models.NodeStatusTriggered

	service, bus, clock := newService(t, workflow)
	clock.Advance(time.Minute)

	edit := workflow.Clone()
	edit.Name = "Renamed"
	edit.ID = ""

	updated, err := service.Update(context.Background(), workflow.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, updated.ID)
	assert.Equal(t, workflow.CreatedAt, updated.CreatedAt)
	assert.Equal(t, now.Add(time.Minute), updated.UpdatedAt)
	assert.Empty(t, updated.Nodes[0].Status)

	stored, err := service.FetchByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)

	_, err = service.Update(context.Background(), "missing", edit)
	require.ErrorIs(t, err, ErrWorkflowNotFound)

	assert.Equal(t, []events.EventType{events.WorkflowSavedEvent}, publishedTypes(bus))
}

func TestWorkflow_UpdateAlwaysMovesUpdatedAt(t *testing.T) {
	workflow := testutil.CreateTestWorkflow()
	workflow.UpdatedAt = now

	service, _, _ := newService(t, workflow)

	updated, err := service.Update(context.Background(), workflow.ID, workflow.Clone())
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(workflow.UpdatedAt))
}

func TestWorkflow_SetEnabled(t *testing.T) {
	workflow := testutil.CreateTestWorkflow()
	service, bus, _ := newService(t, workflow)

	updated, err := service.SetEnabled(context.Background(), workflow.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsEnabled)

	_, err = service.SetEnabled(context.Background(), workflow.ID, true)
	require.NoError(t, err)
	assert.Len(t, publishedTypes(bus), 1, "no-op changes are not saved")

	updated, err = service.SetEnabled(context.Background(), workflow.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsEnabled)

	_, err = service.SetEnabled(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestWorkflow_RecordRun(t *testing.T) {
	workflow := testutil.CreateTestWorkflow()
	service, bus, _ := newService(t, workflow)

	require.NoError(t, service.RecordRun(context.Background(), workflow.ID, now))
	require.NoError(t, service.RecordRun(context.Background(), workflow.ID, now.Add(time.Minute)))

	stored, err := service.FetchByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RunCount)
	require.NotNil(t, stored.LastRunAt)
	assert.Equal(t, now.Add(time.Minute), *stored.LastRunAt)
	assert.Equal(t, workflow.UpdatedAt, stored.UpdatedAt)
	assert.Empty(t, publishedTypes(bus))

	assert.ErrorIs(t, service.RecordRun(context.Background(), "missing", now), ErrWorkflowNotFound)
}

func TestWorkflow_Delete(t *testing.T) {
	workflow := testutil.CreateTestWorkflow()
	service, bus, _ := newService(t, workflow)

	require.NoError(t, service.Delete(context.Background(), workflow.ID))

	_, err := service.FetchByID(context.Background(), workflow.ID)
	require.ErrorIs(t, err, ErrWorkflowNotFound)

	require.ErrorIs(t, service.Delete(context.Background(), workflow.ID), ErrWorkflowNotFound)
	assert.Equal(t, []events.EventType{events.WorkflowDeletedEvent}, publishedTypes(bus))
}

func TestWorkflow_DeleteRepositoryFailure(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("GetByID", mock.Anything, "wf-1").Return(&models.Workflow{ID: "wf-1", Name: "A"}, nil)
	repo.On("Delete", mock.Anything, "wf-1").Return(errors.New("disk full"))

	p := &mocks.MockPersistence{}
	p.On("WorkflowRepository").Return(repo)

	service := NewWorkflow(p)

	err := service.Delete(context.Background(), "wf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	repo.AssertExpectations(t)
}

func TestWorkflow_ListWorkflows(t *testing.T) {
	enabled := testutil.CreateTestWorkflow()
	enabled.Name = "Enabled"
	enabled.IsEnabled = true

	disabled := testutil.CreateTestWorkflow()
	disabled.Name = "Disabled"

	service, _, _ := newService(t, enabled, disabled)

	yes := true

	tests := []struct {
		name     string
		req      ListWorkflowsRequest
		expected []string
		err      error
	}{
		{name: "by name", req: ListWorkflowsRequest{SortBy: "name", SortOrder: "asc"}, expected: []string{"Disabled", "Enabled"}},
		{name: "enabled only", req: ListWorkflowsRequest{Enabled: &yes}, expected: []string{"Enabled"}},
		{name: "bad sort field", req: ListWorkflowsRequest{SortBy: "owner"}, err: ErrInvalidSortField},
		{name: "bad sort order", req: ListWorkflowsRequest{SortOrder: "up"}, err: ErrInvalidSortOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.ListWorkflows(context.Background(), tt.req)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				assert.True(t, IsValidationError(err))

				return
			}

			require.NoError(t, err)

			names := make([]string, 0, len(result.Workflows))
			for _, workflow := range result.Workflows {
				names = append(names, workflow.Name)
			}

			assert.Equal(t, tt.expected, names)
			assert.EqualValues(t, len(tt.expected), result.TotalCount)
		})
	}
}

func TestWorkflow_ListWorkflows_RepositoryErrors(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("ListWorkflows", mock.Anything, mock.Anything).Return(nil, persistence.ErrInvalidSortField)

	p := &mocks.MockPersistence{}
	p.On("WorkflowRepository").Return(repo)

	_, err := NewWorkflow(p).ListWorkflows(context.Background(), ListWorkflowsRequest{})
	assert.ErrorIs(t, err, ErrInvalidSortField)
}

func TestWorkflow_List(t *testing.T) {
	service, _, _ := newService(t, testutil.CreateTestWorkflow(), testutil.CreateTestWorkflow())

	workflows, err := service.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, workflows, 2)
}

// interleavingRepository runs onRead, once, right after the first GetByID of the workflow.
type interleavingRepository struct {
	persistence.WorkflowRepository

	fired  atomic.Bool
	onRead func()
}

func (r *interleavingRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := r.WorkflowRepository.GetByID(ctx, id)
	if r.onRead != nil && r.fired.CompareAndSwap(false, true) {
		r.onRead()
	}

	return workflow, err
}

type interleavingPersistence struct {
	*memory.Persistence

	repo *interleavingRepository
}

func (p *interleavingPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.repo
}

// concurrently starts fn and gives it a moment to finish. A writer serialized behind the caller
// is still blocked when it returns; the returned channel closes once fn is done.
func concurrently(fn func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
	}

	return done
}

func TestWorkflow_ConcurrentWritesAreNotLost(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		seed   func(*models.Workflow)
		during func(*Workflow, string) error
		write  func(*Workflow, string) error
		check  func(*testing.T, *Workflow, string)
	}{
		{
			name: "disable during a definition update",
			seed: func(w *models.Workflow) { w.IsEnabled = true },
			during: func(s *Workflow, id string) error {
				_, err := s.SetEnabled(ctx, id, false)

				return err
			},
			write: func(s *Workflow, id string) error {
				_, err := s.Update(ctx, id, &models.Workflow{Name: "Renamed"})

				return err
			},
			check: func(t *testing.T, s *Workflow, id string) {
				stored, err := s.FetchByID(ctx, id)
				require.NoError(t, err)
				assert.False(t, stored.IsEnabled)
				assert.Equal(t, "Renamed", stored.Name)
			},
		},
		{
			name: "run recorded during a definition update",
			during: func(s *Workflow, id string) error {
				return s.RecordRun(ctx, id, now)
			},
			write: func(s *Workflow, id string) error {
				_, err := s.Update(ctx, id, &models.Workflow{Name: "Renamed"})

				return err
			},
			check: func(t *testing.T, s *Workflow, id string) {
				stored, err := s.FetchByID(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, 1, stored.RunCount)
				assert.Equal(t, "Renamed", stored.Name)
			},
		},
		{
			name: "delete during enable",
			during: func(s *Workflow, id string) error {
				return s.Delete(ctx, id)
			},
			write: func(s *Workflow, id string) error {
				_, err := s.SetEnabled(ctx, id, true)

				return err
			},
			check: func(t *testing.T, s *Workflow, id string) {
				_, err := s.FetchByID(ctx, id)
				require.ErrorIs(t, err, ErrWorkflowNotFound)
				assert.ErrorIs(t, s.RecordRun(ctx, id, now), ErrWorkflowNotFound)

				_, err = s.FetchByID(ctx, id)
				assert.ErrorIs(t, err, ErrWorkflowNotFound, "recording a run does not bring the workflow back")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := testutil.CreateTestWorkflow()
			if tt.seed != nil {
				tt.seed(workflow)
			}

			repo := &interleavingRepository{}
			p := &interleavingPersistence{Persistence: memory.NewPersistence(workflow), repo: repo}
			repo.WorkflowRepository = p.Persistence.WorkflowRepository()

			service := NewWorkflow(p, WithClock(clockwork.NewFakeClockAt(now)))

			var (
				done      <-chan struct{}
				duringErr error
			)

			repo.onRead = func() {
				done = concurrently(func() { duringErr = tt.during(service, workflow.ID) })
			}

			require.NoError(t, tt.write(service, workflow.ID))
			<-done
			require.NoError(t, duringErr)

			tt.check(t, service, workflow.ID)
			assert.Zero(t, service.locks.len())
		})
	}
}
