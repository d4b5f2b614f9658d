package tokens

import "sync"

// userLocks hands out one mutex per user id so refresh critical sections are
// serialized per user without blocking unrelated users. In-memory locking is
// sufficient for a single-instance deployment; a multi-instance deployment
// needs a conditional update or advisory lock in the database instead.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, exists := l.locks[userID]
	if !exists {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}
