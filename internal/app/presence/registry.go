package presence

import "sync"

// Registry tracks live sessions and which identity each one is bound to.
// At most one session holds an identity; a session binds to at most one identity.
type Registry struct {
	mu sync.RWMutex

	// sessions maps a live session to its bound identity, "" while anonymous.
	sessions map[string]string

	// holders maps an identity to the session currently addressable for it.
	holders map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]string),
		holders:  make(map[string]string),
	}
}

// Add records a new anonymous session.
func (r *Registry) Add(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = ""
	}
}

// Bind associates sessionID with identity. Last bind wins: a different session that
// held identity becomes anonymous and is returned as superseded. If sessionID was
// bound to another identity, that identity is released and returned as released.
// ok is false when sessionID is not a live session.
func (r *Registry) Bind(sessionID, identity string) (superseded, released string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, live := r.sessions[sessionID]
	if !live {
		return "", "", false
	}

	if current != "" && current != identity {
		if r.holders[current] == sessionID {
			delete(r.holders, current)
		}
		released = current
	}

	if holder, held := r.holders[identity]; held && holder != sessionID {
		r.sessions[holder] = ""
		superseded = holder
	}

	r.sessions[sessionID] = identity
	r.holders[identity] = sessionID

	return superseded, released, true
}

// Unbind removes the session and returns the identity it held, if any.
func (r *Registry) Unbind(sessionID string) (identity string, held bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, live := r.sessions[sessionID]
	if !live {
		return "", false
	}
	delete(r.sessions, sessionID)

	if identity == "" || r.holders[identity] != sessionID {
		return "", false
	}
	delete(r.holders, identity)
	return identity, true
}

// Forget drops the binding of identity. Its holding session, if any, stays live
// but anonymous and is returned.
func (r *Registry) Forget(identity string) (sessionID string, held bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, held = r.holders[identity]
	if !held {
		return "", false
	}
	delete(r.holders, identity)
	if r.sessions[sessionID] == identity {
		r.sessions[sessionID] = ""
	}
	return sessionID, true
}

// Resolve returns the session addressable for identity.
func (r *Registry) Resolve(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.holders[identity]
	return sessionID, ok
}

// ResolveIdentity returns the identity bound to sessionID.
func (r *Registry) ResolveIdentity(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity := r.sessions[sessionID]
	return identity, identity != ""
}

// Len returns the number of live sessions, bound or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Bound returns the number of identities with a live session.
func (r *Registry) Bound() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.holders)
}
