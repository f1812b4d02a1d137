package execution

import "sync"

// executionLocks provides a mutex per execution ID so state transitions for
// one execution serialize while distinct executions proceed concurrently.
// Locks are never released back to the map; the set is bounded by the number
// of executions a single process touches.
type executionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newExecutionLocks() *executionLocks {
	return &executionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *executionLocks) get(executionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[executionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[executionID] = lock
	}

	return lock
}
