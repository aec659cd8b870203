package progress

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Sessions is a concurrency-safe registry of session states. Every
// returned State is a copy.
type Sessions struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewSessions() *Sessions {
	return &Sessions{states: make(map[string]State)}
}

// Create stores s under a fresh ID and returns the ID.
func (r *Sessions) Create(s State) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.states[id] = DeriveAggregates(s)
	r.mu.Unlock()
	return id
}

func (r *Sessions) Get(id string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id]
	if !ok {
		return State{}, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Apply reduces actions in order against the session and stores the result.
func (r *Sessions) Apply(id string, actions ...Action) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	if !ok {
		return State{}, ErrSessionNotFound
	}
	for _, a := range actions {
		s = Reduce(s, a)
	}
	if len(actions) == 0 {
		s = DeriveAggregates(s)
	}
	r.states[id] = s
	return s.Clone(), nil
}

func (r *Sessions) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.states, id)
	return nil
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
