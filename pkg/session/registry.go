// Package session holds the in-memory registry of live agent sessions: the
// authoritative answer to "is this session still live", consulted by the
// transcript watcher and the reaper.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup or mutation targets an unregistered
// session.
var ErrNotFound = errors.New("session: not registered")

// Session is one registered agent process.
type Session struct {
	SessionUUID     uuid.UUID
	ProjectPath     string
	WorkingDirectory string
	PaneID          *string
	JSONLPath       *string
	ByteOffset      int64
	RegisteredAt    time.Time
	LastActivityAt  time.Time
}

// clone returns a value copy, safe to hand to callers outside the lock.
func (s Session) clone() Session {
	return s
}

// Registry is the thread-safe session_uuid -> Session mapping. Every
// mutation acquires the single registry lock; reads take the read half.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Register adds a newly started session. A session_uuid already present is
// overwritten — callers are expected to have already ended any prior
// registration under that id.
func (r *Registry) Register(sessionUUID uuid.UUID, projectPath, workingDirectory string) *Session {
	now := time.Now()
	s := &Session{
		SessionUUID:      sessionUUID,
		ProjectPath:      projectPath,
		WorkingDirectory: workingDirectory,
		RegisteredAt:     now,
		LastActivityAt:   now,
	}

	r.mu.Lock()
	r.sessions[sessionUUID] = s
	r.mu.Unlock()
	return s
}

// Get returns a copy of the session record, or ErrNotFound.
func (r *Registry) Get(sessionUUID uuid.UUID) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionUUID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.clone(), nil
}

// SetJSONLPath records the discovered transcript path and resets the byte
// offset the watcher reads from.
func (r *Registry) SetJSONLPath(sessionUUID uuid.UUID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionUUID]
	if !ok {
		return ErrNotFound
	}
	s.JSONLPath = &path
	s.ByteOffset = 0
	return nil
}

// AdvanceOffset records how far the watcher has read into the transcript.
func (r *Registry) AdvanceOffset(sessionUUID uuid.UUID, offset int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionUUID]
	if !ok {
		return ErrNotFound
	}
	s.ByteOffset = offset
	return nil
}

// SetPaneID records the tmux pane hosting the agent's terminal.
func (r *Registry) SetPaneID(sessionUUID uuid.UUID, paneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionUUID]
	if !ok {
		return ErrNotFound
	}
	s.PaneID = &paneID
	return nil
}

// Touch bumps last_activity_at to now — called on every parsed turn and
// every hook delivery.
func (r *Registry) Touch(sessionUUID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionUUID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now()
	return nil
}

// Unregister removes a session, typically once it has ended.
func (r *Registry) Unregister(sessionUUID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionUUID)
}

// All returns a snapshot of every registered session, safe to range over
// without holding the registry lock.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	return out
}

// Stale returns every session whose last_activity_at exceeds threshold,
// consumed by the reaper's inactivity sweep.
func (r *Registry) Stale(threshold time.Duration, now time.Time) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Session
	for _, s := range r.sessions {
		if now.Sub(s.LastActivityAt) > threshold {
			out = append(out, s.clone())
		}
	}
	return out
}

// WithoutJSONLPath returns every session still waiting for the watcher to
// discover its transcript file.
func (r *Registry) WithoutJSONLPath() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Session
	for _, s := range r.sessions {
		if s.JSONLPath == nil {
			out = append(out, s.clone())
		}
	}
	return out
}
