package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
)

// Status of a session's transport.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

// Session is a connected identity, independent of the socket carrying it.
type Session struct {
	ID             string
	DisplayName    string
	Status         Status
	ConnectedAt    time.Time
	LastLivenessAt time.Time
}

// Registry owns every Session. It never touches transports.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	newID    func() string
}

type Option func(*Registry)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(f func() string) Option { return func(r *Registry) { r.newID = f } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open creates a connected session and returns its id.
func (r *Registry) Open(displayName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for r.sessions[id] != nil {
		id = r.newID()
	}
	now := r.now()
	r.sessions[id] = &Session{
		ID:             id,
		DisplayName:    displayName,
		Status:         StatusConnected,
		ConnectedAt:    now,
		LastLivenessAt: now,
	}
	obslog.L().Info("session_open", zap.String("session_id", id), zap.String("name", displayName))
	return id
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// SetStatus reports whether the session exists.
func (r *Registry) SetStatus(id string, st Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if s.Status != st {
		obslog.L().Debug("session_status", zap.String("session_id", id), zap.String("from", string(s.Status)), zap.String("to", string(st)))
	}
	s.Status = st
	return true
}

// TouchLiveness moves LastLivenessAt forward to now; it never moves it back.
func (r *Registry) TouchLiveness(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if now := r.now(); now.After(s.LastLivenessAt) {
		s.LastLivenessAt = now
	}
	return true
}

// Resume completes a reconnection: liveness is refreshed and the session
// becomes connected in one step. It fails unless the session is reconnecting.
func (r *Registry) Resume(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusReconnecting {
		return false
	}
	if now := r.now(); now.After(s.LastLivenessAt) {
		s.LastLivenessAt = now
	}
	s.Status = StatusConnected
	return true
}

// ExpireIfStale marks a connected session disconnected if its liveness is
// still older than threshold when checked under the lock.
func (r *Registry) ExpireIfStale(id string, threshold time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusConnected || r.now().Sub(s.LastLivenessAt) <= threshold {
		return false
	}
	s.Status = StatusDisconnected
	return true
}

// Remove is a no-op for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		obslog.L().Info("session_remove", zap.String("session_id", id))
	}
}

// ListTimedOut returns sessions whose liveness is older than threshold.
func (r *Registry) ListTimedOut(threshold time.Duration) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var out []Session
	for _, s := range r.sessions {
		if now.Sub(s.LastLivenessAt) > threshold {
			out = append(out, *s)
		}
	}
	return out
}

// ListByStatus returns copies of every session in st.
func (r *Registry) ListByStatus(st Status) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, s := range r.sessions {
		if s.Status == st {
			out = append(out, *s)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
