package service

import (
	"sync"
)

// ConnectionRegistry maps an application identifier to the live relay
// sessions opened under it. A key never maps to an empty slice.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[string][]*RelaySession
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{sessions: make(map[string][]*RelaySession)}
}

// Add appends s to the sessions registered under appID.
func (r *ConnectionRegistry) Add(appID string, s *RelaySession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[appID] = append(r.sessions[appID], s)
}

// Remove drops s from appID and reports whether it was present. Removing the
// last session of an identifier deletes the identifier.
func (r *ConnectionRegistry) Remove(appID string, s *RelaySession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.sessions[appID]
	if !ok {
		return false
	}
	for i, cur := range list {
		if cur != s {
			continue
		}
		if len(list) == 1 {
			delete(r.sessions, appID)
			return true
		}
		// copy so Sessions() snapshots handed out earlier stay intact
		updated := make([]*RelaySession, 0, len(list)-1)
		updated = append(updated, list[:i]...)
		updated = append(updated, list[i+1:]...)
		r.sessions[appID] = updated
		return true
	}
	return false
}

// Count returns the number of distinct application identifiers.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionCount returns the number of sessions across all identifiers.
func (r *ConnectionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.sessions {
		n += len(list)
	}
	return n
}

// Sessions returns the sessions registered under appID in insertion order.
func (r *ConnectionRegistry) Sessions(appID string) []*RelaySession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.sessions[appID]
	out := make([]*RelaySession, len(list))
	copy(out, list)
	return out
}

// All returns every registered session.
func (r *ConnectionRegistry) All() []*RelaySession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*RelaySession
	for _, list := range r.sessions {
		out = append(out, list...)
	}
	return out
}
