// Package memory holds the in-process merchant store.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gns/internal/merchant"
	"gns/internal/storage"
)

// Store is a mutex-guarded in-memory merchant store.
type Store struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]*merchant.Merchant
}

// New builds an empty store.
func New() *Store {
	return &Store{merchants: make(map[uuid.UUID]*merchant.Merchant)}
}

// CreateMerchant implements merchant.Store.
func (s *Store) CreateMerchant(_ context.Context, m *merchant.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.merchants[m.ID]; ok {
		return storage.ErrDuplicate
	}
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

// GetMerchant implements merchant.Store.
func (s *Store) GetMerchant(_ context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}
