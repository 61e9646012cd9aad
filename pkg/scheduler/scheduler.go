// Package scheduler requests runs of enabled workflows whose entry trigger fires on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/graph"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// DefaultResyncInterval is how often the entries are rebuilt from the store.
const DefaultResyncInterval = time.Minute

var ErrAlreadyStarted = errors.New("scheduler already started")

type WorkflowLister interface {
	List(ctx context.Context) ([]*models.Workflow, error)
}

type RunRequester interface {
	RequestRun(ctx context.Context, workflowID string) (*models.WorkflowRun, error)
}

type Option func(*Scheduler)

func WithLocation(location *time.Location) Option {
	return func(s *Scheduler) {
		s.location = location
	}
}

func WithResyncInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.resync = interval
	}
}

type entry struct {
	id       cron.EntryID
	schedule string
}

type Scheduler struct {
	workflows WorkflowLister
	runs      RunRequester
	logger    *slog.Logger
	location  *time.Location
	resync    time.Duration
	cron      *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	started bool
	entries map[string]entry
}

func New(workflows WorkflowLister, runs RunRequester, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		workflows: workflows,
		runs:      runs,
		logger:    logger.With("module", "scheduler"),
		location:  time.UTC,
		resync:    DefaultResyncInterval,
		ctx:       context.Background(),
		entries:   make(map[string]entry),
	}

	for _, opt := range opts {
		opt(s)
	}

	cronLog := cronLogger{logger: s.logger}

	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLog),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		),
	)

	return s
}

// Schedule returns the cron expression of a workflow whose entry trigger is the scheduled trigger.
// Disabled workflows and invalid expressions have none.
func Schedule(workflow *models.Workflow) (string, bool) {
	if !workflow.IsEnabled {
		return "", false
	}

	entryID, ok := graph.FromWorkflow(workflow).EntryTrigger()
	if !ok {
		return "", false
	}

	node := workflow.NodeByID(entryID)
	if node == nil || node.CatalogID() != catalog.ScheduledTriggerID {
		return "", false
	}

	expression, _ := node.Config[catalog.FieldSchedule].(string)
	if expression == "" {
		return "", false
	}

	if _, err := cron.ParseStandard(expression); err != nil {
		return "", false
	}

	return expression, true
}

// Sync rebuilds the cron entries from the stored workflows. Entries whose schedule did not change
// are kept.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	wanted := make(map[string]string)

	for _, workflow := range workflows {
		if expression, ok := Schedule(workflow); ok {
			wanted[workflow.ID] = expression
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for workflowID, current := range s.entries {
		if wanted[workflowID] == current.schedule {
			continue
		}

		s.cron.Remove(current.id)
		delete(s.entries, workflowID)

		s.logger.InfoContext(ctx, "Removed schedule", "workflow_id", workflowID, "cron", current.schedule)
	}

	for workflowID, expression := range wanted {
		if _, exists := s.entries[workflowID]; exists {
			continue
		}

		id, err := s.cron.AddFunc(expression, s.job(workflowID))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to add schedule", "workflow_id", workflowID, "cron", expression, "error", err)

			continue
		}

		s.entries[workflowID] = entry{id: id, schedule: expression}

		s.logger.InfoContext(ctx, "Added schedule", "workflow_id", workflowID, "cron", expression, "entry_id", id)
	}

	return nil
}

func (s *Scheduler) job(workflowID string) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		run, err := s.runs.RequestRun(ctx, workflowID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled run not started", "workflow_id", workflowID, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Scheduled run started", "workflow_id", workflowID, "run_id", run.ID)
	}
}

// Entries maps workflow ids to their registered cron expression.
func (s *Scheduler) Entries() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]string, len(s.entries))
	for workflowID, e := range s.entries {
		result[workflowID] = e.schedule
	}

	return result
}

// Next returns the next activation of the workflow's schedule.
func (s *Scheduler) Next(workflowID string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[workflowID]
	s.mu.Unlock()

	if !ok {
		return time.Time{}, false
	}

	next := s.cron.Entry(e.id).Next

	return next, !next.IsZero()
}

// Start syncs the entries and starts the cron loop. ctx is handed to scheduled run requests.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}

	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.resync), func() {
		if err := s.Sync(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Schedule resync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add resync job: %w", err)
	}

	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "schedules", len(s.Entries()))

	return nil
}

// Stop halts the cron loop and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping scheduler")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe resyncs whenever a workflow is saved or deleted.
func (s *Scheduler) Subscribe(subscriber eventbus.EventSubscriber) error {
	resync := func(ctx context.Context, _ any) error {
		return s.Sync(ctx)
	}

	for _, eventType := range []events.EventType{events.WorkflowSavedEvent, events.WorkflowDeletedEvent} {
		if err := subscriber.Handle(eventType, resync); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
