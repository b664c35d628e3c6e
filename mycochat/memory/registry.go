package memory

import (
	"errors"
	"sync"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry tracks live sessions by id. The default session stands in for the
// single shared conversation of the single-user mode.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	def      *Session
}

func NewRegistry() *Registry {
	def := NewSession()
	return &Registry{
		sessions: map[string]*Session{def.ID(): def},
		def:      def,
	}
}

// Default returns the shared session.
func (r *Registry) Default() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// Create registers and returns a new session.
func (r *Registry) Create() *Session {
	s := NewSession()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	return s
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete forgets a session. Deleting the default session replaces it with a fresh one.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	if id == r.def.ID() {
		r.def = NewSession()
		r.sessions[r.def.ID()] = r.def
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
