package coach

import (
	"sync"
	"time"
)

// Registry is the only shared mutable structure across sessions: a
// mutex-guarded map from session id to its state, with explicit
// create-on-first-use and delete lifecycle.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
	now      func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*SessionState), now: time.Now}
}

// CreateOrFetch returns the state for id, creating it on first use. The
// session clock starts at creation.
func (r *Registry) CreateOrFetch(id string) *SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	if !ok {
		st = newSessionState(r.now)
		r.sessions[id] = st
	}
	return st
}

// Fetch returns the state for id if it exists.
func (r *Registry) Fetch(id string) (*SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	return st, ok
}

// Delete drops the session. The state is marked closed so that classifier
// results still in flight are discarded rather than written to it.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	st, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		st.close()
	}
	return ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
