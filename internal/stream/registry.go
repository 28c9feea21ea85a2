package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrRegistryClosed is returned by Add after CloseAll has started.
var ErrRegistryClosed = errors.New("session registry closed")

// Registry tracks sessions that have a running broadcast loop.
// It holds lookup references only; sessions are owned by their loops.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Add inserts a session. Adding a session already present is a no-op.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.sessions[s.ID()]; ok {
		return nil
	}
	r.sessions[s.ID()] = s
	r.wg.Add(1)
	return nil
}

// Remove deletes a session and reports whether it was present.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; !ok {
		return false
	}
	delete(r.sessions, s.ID())
	r.wg.Done()
	return true
}

// Get looks up a session by id.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every session in a point-in-time copy of the set.
// fn runs without the registry lock held, so it may call Add or Remove.
func (r *Registry) ForEach(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// CountBySymbol returns how many sessions are bound to each symbol.
func (r *Registry) CountBySymbol() map[string]int {
	counts := make(map[string]int)
	r.ForEach(func(s *Session) {
		counts[s.Symbol()]++
	})
	return counts
}

// CloseAll refuses new sessions, closes every registered one and waits for their
// loops to deregister or for ctx to end.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.ForEach(func(s *Session) {
		s.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	})

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
