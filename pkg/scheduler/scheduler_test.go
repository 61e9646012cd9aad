package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu        sync.Mutex
	workflows []*models.Workflow
	err       error
}

func (f *fakeLister) List(context.Context) ([]*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.workflows, f.err
}

func (f *fakeLister) set(workflows ...*models.Workflow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.workflows = workflows
}

type fakeRunner struct {
	mu        sync.Mutex
	requested []string
	err       error
}

func (f *fakeRunner) RequestRun(_ context.Context, workflowID string) (*models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requested = append(f.requested, workflowID)
	if f.err != nil {
		return nil, f.err
	}

	return &models.WorkflowRun{ID: "run-" + workflowID, WorkflowID: workflowID}, nil
}

type fakeSubscriber struct {
	handlers map[events.EventType]eventbus.EventHandler
}

func (f *fakeSubscriber) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	f.handlers[eventType] = handler

	return nil
}

func (f *fakeSubscriber) Subscribe(context.Context) error {
	return nil
}

func scheduled(id, expression string) *models.Workflow {
	return &models.Workflow{
		ID:        id,
		Name:      "Scheduled " + id,
		IsEnabled: true,
		Nodes: []*models.WorkflowNode{
			{
				ID:   "trigger",
				Kind: models.NodeKindTrigger,
				Config: map[string]any{
					models.ConfigKeyCatalogID: catalog.ScheduledTriggerID,
					catalog.FieldSchedule:     expression,
				},
			},
			{ID: "action", Kind: models.NodeKindAction, Config: map[string]any{}},
		},
		Edges: []*models.WorkflowEdge{{ID: "e1", Source: "trigger", Target: "action"}},
	}
}

func newScheduler(lister *fakeLister, runner *fakeRunner) *Scheduler {
	return New(lister, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		name     string
		workflow func() *models.Workflow
		want     string
		wantOK   bool
	}{
		{
			name:     "enabled with valid expression",
			workflow: func() *models.Workflow { return scheduled("wf", "*/5 * * * *") },
			want:     "*/5 * * * *",
			wantOK:   true,
		},
		{
			name: "disabled",
			workflow: func() *models.Workflow {
				w := scheduled("wf", "*/5 * * * *")
				w.IsEnabled = false

				return w
			},
		},
		{
			name:     "invalid expression",
			workflow: func() *models.Workflow { return scheduled("wf", "every day") },
		},
		{
			name:     "empty expression",
			workflow: func() *models.Workflow { return scheduled("wf", "") },
		},
		{
			name: "other trigger",
			workflow: func() *models.Workflow {
				w := scheduled("wf", "*/5 * * * *")
				w.Nodes[0].Config[models.ConfigKeyCatalogID] = "t1"

				return w
			},
		},
		{
			name: "no entry trigger",
			workflow: func() *models.Workflow {
				w := scheduled("wf", "*/5 * * * *")
				w.Nodes[0].Kind = models.NodeKindAction

				return w
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Schedule(tt.workflow())
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduler_Sync(t *testing.T) {
	lister := &fakeLister{}
	s := newScheduler(lister, &fakeRunner{})
	ctx := context.Background()

	lister.set(scheduled("a", "0 * * * *"), scheduled("b", "30 9 * * 1"), scheduled("c", "nope"))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"a": "0 * * * *", "b": "30 9 * * 1"}, s.Entries())

	firstID := s.entries["a"].id

	disabled := scheduled("b", "30 9 * * 1")
	disabled.IsEnabled = false

	lister.set(scheduled("a", "0 * * * *"), disabled, scheduled("d", "15 * * * *"))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"a": "0 * * * *", "d": "15 * * * *"}, s.Entries())
	assert.Equal(t, firstID, s.entries["a"].id, "unchanged schedule keeps its entry")

	lister.set(scheduled("a", "5 * * * *"))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"a": "5 * * * *"}, s.Entries())
	assert.NotEqual(t, firstID, s.entries["a"].id)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_SyncListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("store down")}
	s := newScheduler(lister, &fakeRunner{})

	err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
	assert.Empty(t, s.Entries())
}

func TestScheduler_JobRequestsRun(t *testing.T) {
	lister := &fakeLister{}
	runner := &fakeRunner{}
	s := newScheduler(lister, runner)

	lister.set(scheduled("a", "0 * * * *"))
	require.NoError(t, s.Sync(context.Background()))

	s.cron.Entry(s.entries["a"].id).WrappedJob.Run()

	assert.Equal(t, []string{"a"}, runner.requested)

	runner.err = errors.New("rejected")

	assert.NotPanics(t, func() {
		s.cron.Entry(s.entries["a"].id).WrappedJob.Run()
	})
	assert.Equal(t, []string{"a", "a"}, runner.requested)
}

func TestScheduler_StartStop(t *testing.T) {
	lister := &fakeLister{}
	s := newScheduler(lister, &fakeRunner{})
	ctx := context.Background()

	lister.set(scheduled("a", "0 * * * *"))
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	next, ok := s.Next("a")
	assert.True(t, ok)
	assert.Equal(t, 0, next.Minute())

	_, ok = s.Next("missing")
	assert.False(t, ok)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, s.Stop(stopCtx))
}

func TestScheduler_Subscribe(t *testing.T) {
	lister := &fakeLister{}
	s := newScheduler(lister, &fakeRunner{})
	subscriber := &fakeSubscriber{handlers: make(map[events.EventType]eventbus.EventHandler)}

	require.NoError(t, s.Subscribe(subscriber))
	require.Contains(t, subscriber.handlers, events.WorkflowSavedEvent)
	require.Contains(t, subscriber.handlers, events.WorkflowDeletedEvent)

	lister.set(scheduled("a", "0 * * * *"))
	require.NoError(t, subscriber.handlers[events.WorkflowSavedEvent](context.Background(), &events.WorkflowSaved{}))
	assert.Equal(t, map[string]string{"a": "0 * * * *"}, s.Entries())

	lister.set()
	require.NoError(t, subscriber.handlers[events.WorkflowDeletedEvent](context.Background(), &events.WorkflowDeleted{}))
	assert.Empty(t, s.Entries())
}
