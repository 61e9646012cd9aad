package services

import "sync"

// workflowLocks serializes the read-modify-write cycles of one workflow. Entries are dropped
// once nobody holds or waits for them.
type workflowLocks struct {
	mu    sync.Mutex
	locks map[string]*workflowLock
}

type workflowLock struct {
	mu   sync.Mutex
	refs int
}

func newWorkflowLocks() *workflowLocks {
	return &workflowLocks{locks: make(map[string]*workflowLock)}
}

// lock blocks until the workflow is free and returns the matching unlock.
func (l *workflowLocks) lock(workflowID string) func() {
	l.mu.Lock()

	entry, ok := l.locks[workflowID]
	if !ok {
		entry = &workflowLock{}
		l.locks[workflowID] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()

		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, workflowID)
		}
	}
}

func (l *workflowLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
