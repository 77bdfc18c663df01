// Package postgres implements the merchant store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gns/internal/merchant"
	"gns/internal/storage"
)

// Store is the SQL-backed merchant store.
type Store struct {
	db *sql.DB
}

// New builds a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateMerchant implements merchant.Store.
func (s *Store) CreateMerchant(ctx context.Context, m *merchant.Merchant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, settlement_address, secret_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Name, m.SettlementAddress, m.SecretHash, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

// GetMerchant implements merchant.Store.
func (s *Store) GetMerchant(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	var m merchant.Merchant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, settlement_address, secret_hash, created_at
		FROM merchants WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.SettlementAddress, &m.SecretHash, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan merchant: %w", err)
	}
	return &m, nil
}
