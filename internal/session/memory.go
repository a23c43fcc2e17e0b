package session

import (
	"context"
	"sync"
	"time"
)

// entry pairs a session with its own lock so mutations of one call id
// never serialize against unrelated calls.
type entry struct {
	mu   sync.Mutex
	sess *Session
}

// MemoryStore is the in-process Store used by single-instance
// deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// GetOrCreate returns a copy of the session for callID, creating it on
// first touch.
func (m *MemoryStore) GetOrCreate(ctx context.Context, callID string) (*Session, bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, false, ErrStoreClosed
	}
	if e, ok := m.sessions[callID]; ok {
		m.mu.RUnlock()
		return m.snapshot(e), false, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrStoreClosed
	}
	// Re-check: another request may have created it between locks.
	if e, ok := m.sessions[callID]; ok {
		return m.snapshot(e), false, nil
	}

	e := &entry{sess: &Session{
		CallID:    callID,
		StartedAt: m.now().UTC(),
		Status:    StatusActive,
	}}
	m.sessions[callID] = e
	return m.snapshot(e), true, nil
}

// Get returns a copy of an existing session.
func (m *MemoryStore) Get(ctx context.Context, callID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	e, ok := m.sessions[callID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m.snapshot(e), nil
}

// Update applies fn under the session's own lock.
func (m *MemoryStore) Update(ctx context.Context, callID string, fn func(*Session) error) (*Session, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	e, ok := m.sessions[callID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.Terminated() {
		return e.sess.clone(), ErrSessionTerminated
	}

	// Mutate a copy so an error from fn leaves the session untouched.
	next := e.sess.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.sess = next
	return next.clone(), nil
}

// Delete removes a session; unknown call ids are a no-op.
func (m *MemoryStore) Delete(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.sessions, callID)
	return nil
}

// Reap removes terminated sessions and active sessions older than
// idleTTL.
func (m *MemoryStore) Reap(ctx context.Context, idleTTL time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	cutoff := m.now().UTC().Add(-idleTTL)
	reaped := 0
	for id, e := range m.sessions {
		e.mu.Lock()
		dead := e.sess.Terminated() || e.sess.StartedAt.Before(cutoff)
		e.mu.Unlock()
		if dead {
			delete(m.sessions, id)
			reaped++
		}
	}
	return reaped, nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.sessions), nil
}

// Close marks the store closed; subsequent operations fail with
// ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]*entry)
	return nil
}

func (m *MemoryStore) snapshot(e *entry) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.clone()
}
