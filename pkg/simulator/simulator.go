package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/graph"
	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMinDelay    = 2 * time.Second
	DefaultMaxDelay    = 5 * time.Second
	DefaultMinCredits  = 5
	DefaultMaxCredits  = 14
	DefaultSuccessRate = 0.8
)

type Option func(*Simulator)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Simulator) {
		s.clock = clock
	}
}

// WithSeed makes the delays, outcomes and credits reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) {
		s.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithDelay sets the range the completion delay is drawn from. max is exclusive.
func WithDelay(minDelay, maxDelay time.Duration) Option {
	return func(s *Simulator) {
		s.minDelay = minDelay
		s.maxDelay = maxDelay
	}
}

// WithCredits sets the inclusive range of credits a run consumes.
func WithCredits(minCredits, maxCredits int) Option {
	return func(s *Simulator) {
		s.minCredits = minCredits
		s.maxCredits = maxCredits
	}
}

func WithSuccessRate(rate float64) Option {
	return func(s *Simulator) {
		s.successRate = rate
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Simulator) {
		s.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Simulator) {
		s.tracer = tracer
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Simulator) {
		s.newID = newID
	}
}

// Simulator is the Executor used when no backend is attached.
type Simulator struct {
	history   history.History
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	newID     func() string

	minDelay    time.Duration
	maxDelay    time.Duration
	minCredits  int
	maxCredits  int
	successRate float64

	randMu sync.Mutex
	rand   *rand.Rand

	mu          sync.Mutex
	inFlight    map[string]*models.WorkflowRun
	subscribers map[string]map[int]StatusFunc
	nextSubID   int
	wg          sync.WaitGroup
}

func New(h history.History, logger *slog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		history:     h,
		publisher:   eventbus.Nop{},
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("module", "simulator"),
		newID:       uuid.NewString,
		minDelay:    DefaultMinDelay,
		maxDelay:    DefaultMaxDelay,
		minCredits:  DefaultMinCredits,
		maxCredits:  DefaultMaxCredits,
		successRate: DefaultSuccessRate,
		inFlight:    make(map[string]*models.WorkflowRun),
		subscribers: make(map[string]map[int]StatusFunc),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rand == nil {
		WithSeed(rand.Uint64())(s)
	}

	s.tracer = otelhelper.Tracer(s.tracer, "crmflow/simulator")

	return s
}

// RequestRun accepts a run of an enabled workflow. The run is recorded as executing right away
// and reaches its terminal state after a random delay. Disabled workflows return ErrRunRejected.
func (s *Simulator) RequestRun(ctx context.Context, workflow *models.Workflow) (*RunHandle, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "simulator.request_run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
	)
	defer span.End()

	if !workflow.IsEnabled {
		err := fmt.Errorf("%w: workflow %s is disabled", ErrRunRejected, workflow.ID)
		otelhelper.SetError(span, err)
		s.logger.InfoContext(ctx, "Run rejected", "workflow_id", workflow.ID)

		return nil, err
	}

	run := &models.WorkflowRun{
		ID:              s.newID(),
		WorkflowID:      workflow.ID,
		WorkflowName:    workflow.Name,
		Status:          models.RunStatusExecuting,
		StartedAt:       s.clock.Now().UTC(),
		CreditsConsumed: s.drawCredits(),
		NodeStatuses:    initialStatuses(workflow),
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	if err := s.history.Prepend(ctx, run); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}

	delay := s.drawDelay()

	s.mu.Lock()
	s.inFlight[run.ID] = run.Clone()
	s.mu.Unlock()

	s.wg.Add(1)

	completionCtx := context.WithoutCancel(ctx)
	s.clock.AfterFunc(delay, func() {
		defer s.wg.Done()

		s.complete(completionCtx, run.ID)
	})

	s.publish(ctx, run)

	s.logger.InfoContext(ctx, "Run started",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"credits", run.CreditsConsumed,
		"delay", delay,
	)

	return &RunHandle{ID: run.ID, WorkflowID: run.WorkflowID, Run: run.Clone()}, nil
}

// Subscribe calls fn when the run reaches its terminal state. Runs that are already terminal are
// reported immediately.
func (s *Simulator) Subscribe(runID string, fn StatusFunc) (func(), error) {
	s.mu.Lock()

	if _, ok := s.inFlight[runID]; ok {
		id := s.nextSubID
		s.nextSubID++

		if s.subscribers[runID] == nil {
			s.subscribers[runID] = make(map[int]StatusFunc)
		}

		s.subscribers[runID][id] = fn
		s.mu.Unlock()

		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subscribers[runID], id)
		}, nil
	}

	s.mu.Unlock()

	run, err := s.history.Get(context.Background(), runID)
	if err != nil {
		return nil, err
	}

	fn(run)

	return func() {}, nil
}

// Wait blocks until every accepted run is terminal.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func (s *Simulator) complete(ctx context.Context, runID string) {
	s.mu.Lock()
	run, ok := s.inFlight[runID]
	s.mu.Unlock()

	if !ok {
		return
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "simulator.complete_run",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
	)
	defer span.End()

	completedAt := s.clock.Now().UTC()
	if completedAt.Before(run.StartedAt) {
		completedAt = run.StartedAt
	}

	run.CompletedAt = &completedAt
	run.Status = models.RunStatusFailed

	failAt := -1
	if s.drawSuccess() {
		run.Status = models.RunStatusCompleted
	} else {
		failAt = s.drawFailingNode(len(run.NodeStatuses))
	}

	finalizeStatuses(run.NodeStatuses, failAt, completedAt)

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	if err := s.history.Update(ctx, run); err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			s.logger.DebugContext(ctx, "Run left the history before completing", "run_id", run.ID)
		} else {
			otelhelper.SetError(span, err)
			s.logger.ErrorContext(ctx, "Failed to record run completion", "run_id", run.ID, "error", err)
		}
	}

	s.mu.Lock()
	delete(s.inFlight, run.ID)
	subscribers := s.subscribers[run.ID]
	delete(s.subscribers, run.ID)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(run.Clone())
	}

	s.publish(ctx, run)

	s.logger.InfoContext(ctx, "Run finished",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"status", run.Status,
	)
}

func (s *Simulator) publish(ctx context.Context, run *models.WorkflowRun) {
	if err := s.publisher.Publish(ctx, run.WorkflowID, events.NewRunEvent(run)); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish run event", "run_id", run.ID, "error", err)
	}
}

// initialStatuses marks the entry trigger as triggered and every node reachable from it as
// pending. Workflows without an entry trigger run with no node statuses.
func initialStatuses(workflow *models.Workflow) []models.NodeRunStatus {
	order, err := graph.FromWorkflow(workflow).ExecutionOrder()
	if err != nil {
		return nil
	}

	statuses := make([]models.NodeRunStatus, 0, len(order))

	for i, id := range order {
		status := models.NodeStatusPending
		if i == 0 {
			status = models.NodeStatusTriggered
		}

		statuses = append(statuses, models.NodeRunStatus{NodeID: id, Status: status})
	}

	return statuses
}

// finalizeStatuses completes the nodes before failAt, fails the node at failAt and leaves the
// rest pending. A negative failAt completes every node.
func finalizeStatuses(statuses []models.NodeRunStatus, failAt int, at time.Time) {
	for i := range statuses {
		switch {
		case failAt < 0 || i < failAt:
			statuses[i].Status = models.NodeStatusCompleted
			statuses[i].CompletedAt = &at
		case i == failAt:
			statuses[i].Status = models.NodeStatusFailed
			statuses[i].CompletedAt = &at
		}
	}
}

func (s *Simulator) drawCredits() int {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	if s.maxCredits <= s.minCredits {
		return s.minCredits
	}

	return s.minCredits + s.rand.IntN(s.maxCredits-s.minCredits+1)
}

func (s *Simulator) drawDelay() time.Duration {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}

	return s.minDelay + time.Duration(s.rand.Int64N(int64(s.maxDelay-s.minDelay)))
}

func (s *Simulator) drawSuccess() bool {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	return s.rand.Float64() < s.successRate
}

// drawFailingNode picks the node a failed run stops at. The entry trigger has already fired so
// it only fails when it is the only node.
func (s *Simulator) drawFailingNode(count int) int {
	if count <= 1 {
		return count - 1
	}

	s.randMu.Lock()
	defer s.randMu.Unlock()

	return 1 + s.rand.IntN(count-1)
}
