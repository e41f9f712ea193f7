package statestore

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is safe for concurrent use and
// suited to tests and single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*ConversationState)}
}

// Load returns a deep copy of the stored conversation.
func (s *MemoryStore) Load(_ context.Context, id string) (*ConversationState, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Save stores a deep copy of state and stamps UpdatedAt.
func (s *MemoryStore) Save(_ context.Context, state *ConversationState) error {
	if state == nil {
		return ErrInvalidState
	}
	if state.ID == "" {
		return ErrInvalidID
	}

	stored := state.Clone()
	stored.UpdatedAt = time.Now()

	s.mu.Lock()
	s.states[state.ID] = stored
	s.mu.Unlock()
	return nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[id]; !ok {
		return ErrNotFound
	}
	delete(s.states, id)
	return nil
}

// List returns every stored conversation ID, sorted.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
