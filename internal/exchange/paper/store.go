package paper

import (
	"context"
	"sync"
)

// Store persists paper venue state between runs
type Store interface {
	SaveState(ctx context.Context, state *State) error
	LoadState(ctx context.Context, exchange string) (*State, error)
	Close() error
}

// MemoryStore implements Store in memory
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (s *MemoryStore) SaveState(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Exchange] = state.clone()
	return nil
}

func (s *MemoryStore) LoadState(ctx context.Context, exchange string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[exchange]
	if !ok {
		return nil, nil
	}
	return st.clone(), nil
}

func (s *MemoryStore) Close() error { return nil }
