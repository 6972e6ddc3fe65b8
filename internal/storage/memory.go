package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/teemow/oxd/internal/rp"
)

// MemoryStore keeps RPs in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu  sync.RWMutex
	rps map[string]rp.RP
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rps: make(map[string]rp.RP)}
}

func (s *MemoryStore) Create(_ context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rps[r.OxdID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, r.OxdID)
	}
	s.rps[r.OxdID] = r.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, r rp.RP) error {
	if err := validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rps[r.OxdID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.OxdID)
	}
	s.rps[r.OxdID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, oxdID string) (rp.RP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rps[oxdID]
	if !ok {
		return rp.RP{}, fmt.Errorf("%w: %s", ErrNotFound, oxdID)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) RemoveAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rps = make(map[string]rp.RP)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rps), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
