// Package postgres implements the payment intent store. Status transitions
// are conditional updates on the current status; acknowledgements pair the
// status flip with the ack insert in one transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gns/internal/payment"
	"gns/internal/storage"
)

const pqUniqueViolation = "23505"

// Store is the SQL-backed intent store.
type Store struct {
	db *sql.DB
}

// New builds a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateIntent implements payment.Store.
func (s *Store) CreateIntent(ctx context.Context, intent *payment.Intent) error {
	envelope, err := json.Marshal(intent.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (payment_id, from_key, to_key, envelope, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		intent.PaymentID, intent.From, intent.To, envelope, intent.Status, intent.CreatedAt, intent.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

// GetIntent implements payment.Store.
func (s *Store) GetIntent(ctx context.Context, paymentID string) (*payment.Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payment_id, from_key, to_key, envelope, status, created_at, expires_at, delivered_at
		FROM payment_intents WHERE payment_id = $1`, paymentID)
	return scanIntent(row.Scan)
}

func scanIntent(scan func(dest ...any) error) (*payment.Intent, error) {
	var (
		intent    payment.Intent
		envelope  []byte
		delivered sql.NullTime
	)
	err := scan(&intent.PaymentID, &intent.From, &intent.To, &envelope,
		&intent.Status, &intent.CreatedAt, &intent.ExpiresAt, &delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intent: %w", err)
	}
	if err := json.Unmarshal(envelope, &intent.Envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if delivered.Valid {
		t := delivered.Time
		intent.DeliveredAt = &t
	}
	return &intent, nil
}

// MarkDelivered implements payment.Store.
func (s *Store) MarkDelivered(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $3, delivered_at = $2
		WHERE payment_id = $1 AND status = $4`,
		paymentID, at, payment.StatusDelivered, payment.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark delivered rows: %w", err)
	}
	return n == 1, nil
}

// ListForRecipient implements payment.Store.
func (s *Store) ListForRecipient(ctx context.Context, to string, since time.Time, limit int) ([]payment.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_id, from_key, to_key, envelope, status, created_at, expires_at, delivered_at
		FROM payment_intents
		WHERE to_key = $1 AND status IN ($2, $3) AND created_at > $4
		ORDER BY created_at ASC LIMIT $5`,
		to, payment.StatusPending, payment.StatusDelivered, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var out []payment.Intent
	for rows.Next() {
		intent, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *intent)
	}
	return out, rows.Err()
}

// Acknowledge implements payment.Store.
func (s *Store) Acknowledge(ctx context.Context, ack payment.Ack) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ack: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_intents SET status = $2
		WHERE payment_id = $1 AND status IN ($3, $4)`,
		ack.PaymentID, payment.Status(ack.Verdict), payment.StatusPending, payment.StatusDelivered)
	if err != nil {
		return false, fmt.Errorf("ack transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ack transition rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_acks (id, payment_id, responder, verdict, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ack.ID, ack.PaymentID, ack.Responder, ack.Verdict, ack.Reason, ack.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ack: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ack: %w", err)
	}
	return true, nil
}

// ExpireOverdue implements payment.Store.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $3
		WHERE status IN ($1, $2) AND expires_at < $4`,
		payment.StatusPending, payment.StatusDelivered, payment.StatusExpired, now)
	if err != nil {
		return 0, fmt.Errorf("expire intents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire intents rows: %w", err)
	}
	return int(n), nil
}
