// Package postgres implements the settlement store. Batch membership is
// claimed with a conditional UPDATE on batch_id IS NULL, so concurrent batch
// runs partition the settlements instead of double-counting them.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gns/internal/settlement"
	"gns/internal/storage"
)

// Store is the SQL-backed settlement store.
type Store struct {
	db *sql.DB
}

// New builds a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordSettlement implements settlement.Store and geoauth.SettlementRecorder.
func (s *Store) RecordSettlement(ctx context.Context, settled settlement.Settlement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (id, merchant_id, identity, auth_id, payment_hash, geocell,
			source_address, destination_address, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		settled.ID, settled.MerchantID, settled.Identity, settled.AuthID, settled.PaymentHash,
		settled.Geocell, settled.SourceAddress, settled.DestinationAddress,
		settled.Amount.String(), settled.Currency, settled.Status, settled.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// OpenBatch implements settlement.Store. The pending batch row and the claim
// land in one transaction, so a claimed settlement always points at an
// existing batch; with nothing to claim the transaction rolls back and no
// batch row is written.
func (s *Store) OpenBatch(ctx context.Context, b *settlement.Batch, feePercent decimal.Decimal) ([]settlement.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_settlements (id, merchant_id, currency, transaction_count,
			total_gross, total_fees, total_net, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.MerchantID, b.Currency, b.TransactionCount,
		b.TotalGross.String(), b.TotalFees.String(), b.TotalNet.String(), b.Status, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE settlements
		SET batch_id = $3, fee_amount = ROUND(amount * $4::numeric / 100, 7), fee_percent = $4
		WHERE merchant_id = $1 AND currency = $2 AND status = $5 AND batch_id IS NULL
		RETURNING id, merchant_id, identity, auth_id, payment_hash, geocell,
		          source_address, destination_address, amount, currency,
		          fee_amount, fee_percent, status, batch_id, created_at, settled_at`,
		b.MerchantID, b.Currency, b.ID, feePercent.String(), settlement.SettlementCompleted)
	if err != nil {
		return nil, fmt.Errorf("claim settlements: %w", err)
	}

	var out []settlement.Settlement
	for rows.Next() {
		settled, err := scanSettlement(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *settled)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim settlements rows: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return out, nil
}

func scanSettlement(scan func(dest ...any) error) (*settlement.Settlement, error) {
	var (
		settled               settlement.Settlement
		amount                string
		feeAmount, feePercent sql.NullString
		batchID               uuid.NullUUID
		settledAt             sql.NullTime
	)
	err := scan(&settled.ID, &settled.MerchantID, &settled.Identity, &settled.AuthID,
		&settled.PaymentHash, &settled.Geocell, &settled.SourceAddress, &settled.DestinationAddress,
		&amount, &settled.Currency, &feeAmount, &feePercent, &settled.Status, &batchID,
		&settled.CreatedAt, &settledAt)
	if err != nil {
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	settled.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse settlement amount: %w", err)
	}
	if feeAmount.Valid {
		if settled.FeeAmount, err = decimal.NewFromString(feeAmount.String); err != nil {
			return nil, fmt.Errorf("parse settlement fee: %w", err)
		}
	}
	if feePercent.Valid {
		if settled.FeePercent, err = decimal.NewFromString(feePercent.String); err != nil {
			return nil, fmt.Errorf("parse settlement fee percent: %w", err)
		}
	}
	if batchID.Valid {
		id := batchID.UUID
		settled.BatchID = &id
	}
	if settledAt.Valid {
		t := settledAt.Time
		settled.SettledAt = &t
	}
	return &settled, nil
}

// ReleaseBatch implements settlement.Store.
func (s *Store) ReleaseBatch(ctx context.Context, batchID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlements SET batch_id = NULL
		WHERE batch_id = $1 AND status = $2`,
		batchID, settlement.SettlementCompleted)
	if err != nil {
		return fmt.Errorf("release settlements: %w", err)
	}
	return nil
}

// MarkSettled implements settlement.Store.
func (s *Store) MarkSettled(ctx context.Context, batchID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlements SET status = $2, settled_at = $3 WHERE batch_id = $1`,
		batchID, settlement.SettlementSettled, at)
	if err != nil {
		return fmt.Errorf("mark settlements settled: %w", err)
	}
	return nil
}

// FinishBatch implements settlement.Store.
func (s *Store) FinishBatch(ctx context.Context, b *settlement.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batch_settlements
		SET status = $2, transaction_count = $3, total_gross = $4, total_fees = $5,
		    total_net = $6, period_start = $7, period_end = $8,
		    network_tx_ref = $9, failure_reason = $10, executed_at = $11
		WHERE id = $1`,
		b.ID, b.Status, b.TransactionCount, b.TotalGross.String(), b.TotalFees.String(),
		b.TotalNet.String(), b.PeriodStart, b.PeriodEnd, b.NetworkTxRef, b.FailureReason, b.ExecutedAt)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// GetBatch implements settlement.Store.
func (s *Store) GetBatch(ctx context.Context, batchID uuid.UUID) (*settlement.Batch, error) {
	var (
		b                settlement.Batch
		gross, fees, net string
		txRef, reason    sql.NullString
		start, end       sql.NullTime
		executed         sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, currency, transaction_count, total_gross, total_fees, total_net,
		       period_start, period_end, status, network_tx_ref, failure_reason, created_at, executed_at
		FROM batch_settlements WHERE id = $1`, batchID).
		Scan(&b.ID, &b.MerchantID, &b.Currency, &b.TransactionCount, &gross, &fees, &net,
			&start, &end, &b.Status, &txRef, &reason, &b.CreatedAt, &executed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	if b.TotalGross, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("parse gross: %w", err)
	}
	if b.TotalFees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("parse fees: %w", err)
	}
	if b.TotalNet, err = decimal.NewFromString(net); err != nil {
		return nil, fmt.Errorf("parse net: %w", err)
	}
	b.NetworkTxRef = txRef.String
	b.FailureReason = reason.String
	if start.Valid {
		t := start.Time
		b.PeriodStart = &t
	}
	if end.Valid {
		t := end.Time
		b.PeriodEnd = &t
	}
	if executed.Valid {
		t := executed.Time
		b.ExecutedAt = &t
	}
	return &b, nil
}
