package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Session limits used unless overridden.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxSessions = 1000
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionOptions is applied to every session the manager opens.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

// WithIdleTimeout sets how long a session may go unused before Sweep closes it. Zero keeps
// sessions until they are closed.
func WithIdleTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.idleTimeout = timeout
	}
}

// WithMaxSessions caps the open sessions. Opening one more closes the least recently used.
// Zero removes the cap.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) {
		m.maxSessions = n
	}
}

func WithManagerClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

type managedSession struct {
	session  *Session
	lastUsed time.Time
}

// Manager keeps the open editing sessions by id and closes the ones left idle.
type Manager struct {
	store       Store
	logger      *slog.Logger
	baseLogger  *slog.Logger
	sessionOpts []Option
	clock       clockwork.Clock
	idleTimeout time.Duration
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*managedSession
	onClose  []func(id string)
}

// NewManager returns a manager with DefaultIdleTimeout and DefaultMaxSessions.
func NewManager(store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		baseLogger:  logger,
		clock:       clockwork.NewRealClock(),
		idleTimeout: DefaultIdleTimeout,
		maxSessions: DefaultMaxSessions,
		sessions:    make(map[string]*managedSession),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = logger.With("module", "canvas_manager")

	return m
}

// OnClose registers fn to run after a session is closed, swept or evicted. fn runs without the
// manager lock held.
func (m *Manager) OnClose(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onClose = append(m.onClose, fn)
}

// Open starts a session on the stored workflow.
func (m *Manager) Open(ctx context.Context, workflowID string) (*Session, error) {
	workflow, err := m.store.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow %s: %w", workflowID, err)
	}

	session := NewSession(uuid.NewString(), m.store, m.baseLogger, m.sessionOpts...)
	session.Load(workflow)

	m.mu.Lock()

	var evicted []string
	for m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		id := m.leastRecentlyUsed()
		delete(m.sessions, id)
		evicted = append(evicted, id)
	}

	m.sessions[session.ID()] = &managedSession{session: session, lastUsed: m.clock.Now()}
	m.mu.Unlock()

	if len(evicted) > 0 {
		m.logger.Info("Evicted editing sessions", "session_ids", evicted, "max_sessions", m.maxSessions)
		m.closed(evicted...)
	}

	return session, nil
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	entry.lastUsed = m.clock.Now()

	return entry.session, nil
}

// Contains reports whether the session is open without marking it as used.
func (m *Manager) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]

	return ok
}

// Close drops the session and any unsaved edits.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()

	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()

		return false
	}

	delete(m.sessions, id)
	m.mu.Unlock()

	m.closed(id)

	return true
}

// Sweep closes the sessions unused for the idle timeout and returns their ids.
func (m *Manager) Sweep() []string {
	if m.idleTimeout <= 0 {
		return nil
	}

	now := m.clock.Now()

	m.mu.Lock()

	var swept []string
	for id, entry := range m.sessions {
		if now.Sub(entry.lastUsed) >= m.idleTimeout {
			delete(m.sessions, id)
			swept = append(swept, id)
		}
	}

	m.mu.Unlock()

	if len(swept) > 0 {
		m.logger.Info("Closed idle editing sessions", "session_ids", swept, "idle_timeout", m.idleTimeout)
		m.closed(swept...)
	}

	return swept
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if m.idleTimeout <= 0 || interval <= 0 {
		<-ctx.Done()

		return nil
	}

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

func (m *Manager) leastRecentlyUsed() string {
	var (
		oldestID string
		oldest   time.Time
	)

	for id, entry := range m.sessions {
		if oldestID == "" || entry.lastUsed.Before(oldest) {
			oldestID, oldest = id, entry.lastUsed
		}
	}

	return oldestID
}

func (m *Manager) closed(ids ...string) {
	m.mu.Lock()
	callbacks := append([]func(string){}, m.onClose...)
	m.mu.Unlock()

	for _, id := range ids {
		for _, fn := range callbacks {
			fn(id)
		}
	}
}
