package session

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrSessionNotFound is returned when a call id has no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminated is returned by Update when the session has
	// already ended; the mutation is not applied.
	ErrSessionTerminated = errors.New("session already terminated")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)

// Store maps call ids to session state. Implementations must be safe
// for concurrent use by many simultaneous webhook requests: different
// call ids proceed without global serialization, while mutations of
// the same call id are serialized.
type Store interface {
	// GetOrCreate returns a copy of the session for callID, creating
	// it atomically on first touch. Concurrent first-touch for the
	// same unseen call id yields exactly one session. The second
	// return value reports whether the session was created by this
	// call.
	GetOrCreate(ctx context.Context, callID string) (*Session, bool, error)

	// Get returns a copy of an existing session, or
	// ErrSessionNotFound.
	Get(ctx context.Context, callID string) (*Session, error)

	// Update applies fn to the session under per-session exclusivity
	// and returns a copy of the updated state. When the session is
	// already terminated, fn is not invoked and ErrSessionTerminated
	// is returned alongside the unchanged state. An error from fn
	// aborts the mutation.
	Update(ctx context.Context, callID string, fn func(*Session) error) (*Session, error)

	// Delete removes a session. Deleting an unknown call id is a
	// no-op.
	Delete(ctx context.Context, callID string) error

	// Reap removes sessions older than idleTTL (abandoned calls) and
	// all terminated sessions, returning how many were removed.
	Reap(ctx context.Context, idleTTL time.Duration) (int, error)

	// Len reports the number of live sessions.
	Len(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}
