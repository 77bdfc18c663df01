// Package memory holds the in-process geoauth session store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gns/internal/geoauth"
	"gns/internal/storage"
)

// Store is a mutex-guarded in-memory session store.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*geoauth.Session
}

// New builds an empty store.
func New() *Store {
	return &Store{sessions: make(map[uuid.UUID]*geoauth.Session)}
}

// CreateSession implements geoauth.Store.
func (s *Store) CreateSession(_ context.Context, session *geoauth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.AuthID]; ok {
		return storage.ErrDuplicate
	}
	cp := *session
	s.sessions[session.AuthID] = &cp
	return nil
}

// GetSession implements geoauth.Store.
func (s *Store) GetSession(_ context.Context, authID uuid.UUID) (*geoauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[authID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

// Authorize implements geoauth.Store.
func (s *Store) Authorize(_ context.Context, authID uuid.UUID, identity, cell, envelope string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[authID]
	if !ok || session.Status != geoauth.StatusPending {
		return false, nil
	}
	session.Status = geoauth.StatusAuthorized
	session.Identity = identity
	session.AuthorizedCell = cell
	session.Envelope = envelope
	t := at
	session.AuthorizedAt = &t
	return true, nil
}

// MarkUsed implements geoauth.Store.
func (s *Store) MarkUsed(_ context.Context, authID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[authID]
	if !ok || session.Status != geoauth.StatusAuthorized {
		return false, nil
	}
	session.Status = geoauth.StatusUsed
	t := at
	session.UsedAt = &t
	return true, nil
}

// ExpireOverdue implements geoauth.Store.
func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		switch session.Status {
		case geoauth.StatusPending, geoauth.StatusAuthorized:
			if now.After(session.ExpiresAt) {
				session.Status = geoauth.StatusExpired
				n++
			}
		}
	}
	return n, nil
}
