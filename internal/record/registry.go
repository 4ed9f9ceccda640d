// Package record tracks in-flight sample recording sessions. A client
// starts a session for a term, records locally, then submits the audio
// together with the session id; the registry makes sure each session is
// consumed exactly once and only for the term it was opened for.
package record

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown or was
	// already claimed.
	ErrSessionNotFound = errors.New("record: session not found")

	// ErrTermMismatch is returned when a submission names a different
	// term than the session was opened for.
	ErrTermMismatch = errors.New("record: session term mismatch")
)

// Session is one pending recording.
type Session struct {
	ID        string
	Term      string
	StartedAt time.Time
}

// Registry is an in-memory session table safe for concurrent use.
// Sessions do not survive a restart, matching the client flow: a
// recording in progress when the service dies is simply restarted.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Start opens a session for term and returns it with a fresh id.
func (r *Registry) Start(term string) Session {
	s := Session{
		ID:        uuid.NewString(),
		Term:      term,
		StartedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Claim consumes the session with the given id. The session is removed
// whether or not the term matches, so a mismatched submission cannot be
// retried against a stale session.
func (r *Registry) Claim(id, term string) (Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.Term != term {
		return Session{}, ErrTermMismatch
	}
	return s, nil
}

// Cancel discards a session without consuming it and reports whether it
// existed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	return ok
}

// Len reports how many sessions are pending.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
