package agent

import (
	"strings"
	"sync"
)

// sessionLock is a per-session mutex with a reference count, so the
// backing entry can be reclaimed once nobody holds it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// SessionLocks serializes concurrent Run calls for the same session key,
// so a caller that mistakenly drives two turns for one session at once
// never interleaves their tool executions. It does not order turns across
// different sessions.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewSessionLocks returns an empty SessionLocks.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until sessionID's lock is free, then returns a function that
// releases it. An empty sessionID is a no-op (returns an unlock that does
// nothing), since an unkeyed caller has no session to serialize against.
func (s *SessionLocks) Lock(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}

	s.mu.Lock()
	lock := s.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
