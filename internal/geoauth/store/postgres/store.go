// Package postgres implements the geoauth session store. The authorize and
// use transitions are conditional updates on the current status.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"gns/internal/geoauth"
	"gns/internal/storage"
)

// Store is the SQL-backed session store.
type Store struct {
	db *sql.DB
}

// New builds a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession implements geoauth.Store.
func (s *Store) CreateSession(ctx context.Context, session *geoauth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geoauth_sessions (auth_id, merchant_id, allowed_cells,
			payment_hash, amount, currency, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.AuthID, session.MerchantID, pq.Array(session.AllowedCells),
		session.PaymentHash, session.Amount.String(), session.Currency,
		session.Status, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession implements geoauth.Store.
func (s *Store) GetSession(ctx context.Context, authID uuid.UUID) (*geoauth.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT auth_id, merchant_id, identity, allowed_cells, payment_hash, amount, currency,
		       status, created_at, expires_at, authorized_cell, envelope, authorized_at, used_at
		FROM geoauth_sessions WHERE auth_id = $1`, authID)

	var (
		session          geoauth.Session
		cells            pq.StringArray
		amount           string
		authCell, env    sql.NullString
		authorized, used sql.NullTime
	)
	err := row.Scan(&session.AuthID, &session.MerchantID, &session.Identity, &cells,
		&session.PaymentHash, &amount, &session.Currency, &session.Status,
		&session.CreatedAt, &session.ExpiresAt, &authCell, &env, &authorized, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.AllowedCells = cells
	session.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	session.AuthorizedCell = authCell.String
	session.Envelope = env.String
	if authorized.Valid {
		t := authorized.Time
		session.AuthorizedAt = &t
	}
	if used.Valid {
		t := used.Time
		session.UsedAt = &t
	}
	return &session, nil
}

// Authorize implements geoauth.Store.
func (s *Store) Authorize(ctx context.Context, authID uuid.UUID, identity, cell, envelope string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE geoauth_sessions
		SET status = $2, identity = $3, authorized_cell = $4, envelope = $5, authorized_at = $6
		WHERE auth_id = $1 AND status = $7`,
		authID, geoauth.StatusAuthorized, identity, cell, envelope, at, geoauth.StatusPending)
	if err != nil {
		return false, fmt.Errorf("authorize session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("authorize session rows: %w", err)
	}
	return n == 1, nil
}

// MarkUsed implements geoauth.Store.
func (s *Store) MarkUsed(ctx context.Context, authID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE geoauth_sessions SET status = $2, used_at = $3
		WHERE auth_id = $1 AND status = $4`,
		authID, geoauth.StatusUsed, at, geoauth.StatusAuthorized)
	if err != nil {
		return false, fmt.Errorf("mark session used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark session used rows: %w", err)
	}
	return n == 1, nil
}

// ExpireOverdue implements geoauth.Store.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE geoauth_sessions SET status = $1
		WHERE status IN ($2, $3) AND expires_at < $4`,
		geoauth.StatusExpired, geoauth.StatusPending, geoauth.StatusAuthorized, now)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sessions rows: %w", err)
	}
	return int(n), nil
}
