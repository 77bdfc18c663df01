// Package memory holds the in-process settlement store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gns/internal/settlement"
	"gns/internal/storage"
)

// Store is a mutex-guarded in-memory settlement and batch store.
type Store struct {
	mu          sync.Mutex
	settlements map[uuid.UUID]*settlement.Settlement
	batches     map[uuid.UUID]*settlement.Batch
}

// New builds an empty store.
func New() *Store {
	return &Store{
		settlements: make(map[uuid.UUID]*settlement.Settlement),
		batches:     make(map[uuid.UUID]*settlement.Batch),
	}
}

// RecordSettlement implements settlement.Store and geoauth.SettlementRecorder.
func (s *Store) RecordSettlement(_ context.Context, settled settlement.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[settled.ID]; ok {
		return storage.ErrDuplicate
	}
	cp := settled
	s.settlements[settled.ID] = &cp
	return nil
}

// OpenBatch implements settlement.Store. The batch row, the claim and the
// fee stamping all happen under one lock, mirroring the transaction the SQL
// store uses; with nothing to claim the batch row is not written.
func (s *Store) OpenBatch(_ context.Context, b *settlement.Batch, feePercent decimal.Decimal) ([]settlement.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return nil, storage.ErrDuplicate
	}
	var out []settlement.Settlement
	for _, settled := range s.settlements {
		if settled.MerchantID != b.MerchantID || settled.Currency != b.Currency {
			continue
		}
		if settled.Status != settlement.SettlementCompleted || settled.BatchID != nil {
			continue
		}
		id := b.ID
		settled.BatchID = &id
		settled.FeeAmount = settlement.FeeFor(settled.Amount, feePercent)
		settled.FeePercent = feePercent
		out = append(out, *settled)
	}
	if len(out) == 0 {
		return nil, nil
	}
	cp := *b
	s.batches[b.ID] = &cp
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ReleaseBatch implements settlement.Store.
func (s *Store) ReleaseBatch(_ context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, settled := range s.settlements {
		if settled.BatchID != nil && *settled.BatchID == batchID && settled.Status == settlement.SettlementCompleted {
			settled.BatchID = nil
		}
	}
	return nil
}

// MarkSettled implements settlement.Store.
func (s *Store) MarkSettled(_ context.Context, batchID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, settled := range s.settlements {
		if settled.BatchID != nil && *settled.BatchID == batchID {
			settled.Status = settlement.SettlementSettled
			t := at
			settled.SettledAt = &t
		}
	}
	return nil
}

// FinishBatch implements settlement.Store.
func (s *Store) FinishBatch(_ context.Context, b *settlement.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

// GetBatch implements settlement.Store.
func (s *Store) GetBatch(_ context.Context, batchID uuid.UUID) (*settlement.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// Settlements returns every stored settlement, for tests.
func (s *Store) Settlements() []settlement.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]settlement.Settlement, 0, len(s.settlements))
	for _, settled := range s.settlements {
		out = append(out, *settled)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
