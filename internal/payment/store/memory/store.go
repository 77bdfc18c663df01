// Package memory holds the in-process payment intent store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gns/internal/payment"
	"gns/internal/storage"
)

// Store is a mutex-guarded in-memory intent store.
type Store struct {
	mu      sync.Mutex
	intents map[string]*payment.Intent
	acks    map[string]payment.Ack
}

// New builds an empty store.
func New() *Store {
	return &Store{
		intents: make(map[string]*payment.Intent),
		acks:    make(map[string]payment.Ack),
	}
}

// CreateIntent implements payment.Store.
func (s *Store) CreateIntent(_ context.Context, intent *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.PaymentID]; ok {
		return storage.ErrDuplicate
	}
	cp := *intent
	s.intents[intent.PaymentID] = &cp
	return nil
}

// GetIntent implements payment.Store.
func (s *Store) GetIntent(_ context.Context, paymentID string) (*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[paymentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *intent
	return &cp, nil
}

// MarkDelivered implements payment.Store.
func (s *Store) MarkDelivered(_ context.Context, paymentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[paymentID]
	if !ok || intent.Status != payment.StatusPending {
		return false, nil
	}
	intent.Status = payment.StatusDelivered
	t := at
	intent.DeliveredAt = &t
	return true, nil
}

// ListForRecipient implements payment.Store.
func (s *Store) ListForRecipient(_ context.Context, to string, since time.Time, limit int) ([]payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Intent
	for _, intent := range s.intents {
		if intent.To != to || intent.Status.Terminal() {
			continue
		}
		if !since.IsZero() && !intent.CreatedAt.After(since) {
			continue
		}
		out = append(out, *intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Acknowledge implements payment.Store.
func (s *Store) Acknowledge(_ context.Context, ack payment.Ack) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[ack.PaymentID]
	if !ok || intent.Status.Terminal() {
		return false, nil
	}
	intent.Status = payment.Status(ack.Verdict)
	s.acks[ack.PaymentID] = ack
	return true, nil
}

// ExpireOverdue implements payment.Store.
func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, intent := range s.intents {
		switch intent.Status {
		case payment.StatusPending, payment.StatusDelivered:
			if now.After(intent.ExpiresAt) {
				intent.Status = payment.StatusExpired
				n++
			}
		}
	}
	return n, nil
}

// AckFor returns the recorded ack for a payment id, for tests.
func (s *Store) AckFor(paymentID string) (payment.Ack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ack, ok := s.acks[paymentID]
	return ack, ok
}
