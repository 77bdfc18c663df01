// Package postgres implements the ledger store on PostgreSQL. Chain appends
// rely on a conditional UPDATE of the identity's chain tip: whoever moves the
// tip wins, every other writer of the same tip sees zero rows and backs off.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gns/internal/attestation"
	"gns/internal/epoch"
	"gns/internal/identity"
	"gns/internal/storage"
)

const pqUniqueViolation = "23505"

// Ledger is the SQL-backed ledger store.
type Ledger struct {
	db *sql.DB
}

// NewLedger builds a ledger store over an open database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// GetIdentity implements identity.Store.
func (l *Ledger) GetIdentity(ctx context.Context, publicKey string) (*identity.Identity, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT public_key, handle, trust_score, attestation_count, epoch_count,
		       unique_cells, chain_tip, first_attestation_at, last_attestation_at, created_at
		FROM identities WHERE public_key = $1`, publicKey)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*identity.Identity, error) {
	var (
		id          identity.Identity
		handle, tip sql.NullString
		first, last sql.NullTime
	)
	err := row.Scan(&id.PublicKey, &handle, &id.TrustScore, &id.AttestationCount,
		&id.EpochCount, &id.UniqueCells, &tip, &first, &last, &id.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	id.Handle = handle.String
	id.ChainTip = tip.String
	if first.Valid {
		t := first.Time
		id.FirstAttestationAt = &t
	}
	if last.Valid {
		t := last.Time
		id.LastAttestationAt = &t
	}
	return &id, nil
}

// ClaimHandle implements identity.Store. The partial unique index on handle
// turns races into unique violations.
func (l *Ledger) ClaimHandle(ctx context.Context, publicKey, handle string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE identities SET handle = $2 WHERE public_key = $1 AND handle IS NULL`,
		publicKey, handle)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return storage.ErrHandleTaken
		}
		return fmt.Errorf("claim handle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim handle rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var existing sql.NullString
	err = l.db.QueryRowContext(ctx, `SELECT handle FROM identities WHERE public_key = $1`, publicKey).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("claim handle recheck: %w", err)
	}
	return storage.ErrHandleSet
}

// EnsureIdentity implements attestation.Store.
func (l *Ledger) EnsureIdentity(ctx context.Context, publicKey string, now time.Time) (*identity.Identity, error) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO identities (public_key, created_at) VALUES ($1, $2)
		ON CONFLICT (public_key) DO NOTHING`, publicKey, now)
	if err != nil {
		return nil, fmt.Errorf("ensure identity: %w", err)
	}
	return l.GetIdentity(ctx, publicKey)
}

// LatestAttestation implements attestation.Store.
func (l *Ledger) LatestAttestation(ctx context.Context, publicKey string) (*attestation.Attestation, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, identity, geocell, ts, prev_hash, hash, signature, created_at
		FROM attestations WHERE identity = $1 ORDER BY ts DESC LIMIT 1`, publicKey)
	var att attestation.Attestation
	err := row.Scan(&att.ID, &att.Identity, &att.Geocell, &att.Timestamp,
		&att.PrevHash, &att.Hash, &att.Signature, &att.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attestation: %w", err)
	}
	return &att, nil
}

// CellSeen implements attestation.Store.
func (l *Ledger) CellSeen(ctx context.Context, publicKey, cell string) (bool, error) {
	var seen bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attestations WHERE identity = $1 AND geocell = $2)`,
		publicKey, cell).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("cell seen: %w", err)
	}
	return seen, nil
}

// AppendAttestation implements attestation.Store. The tip CAS and the insert
// share one transaction so a lost race leaves no partial state.
func (l *Ledger) AppendAttestation(ctx context.Context, att *attestation.Attestation, newScore float64, cellIsNew bool) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE identities SET
			chain_tip = $3,
			attestation_count = attestation_count + 1,
			unique_cells = unique_cells + CASE WHEN $4 THEN 1 ELSE 0 END,
			trust_score = GREATEST(trust_score, $5),
			first_attestation_at = COALESCE(first_attestation_at, $6),
			last_attestation_at = $6
		WHERE public_key = $1 AND COALESCE(chain_tip, '') = $2`,
		att.Identity, att.PrevHash, att.Hash, cellIsNew, newScore, att.Timestamp)
	if err != nil {
		return fmt.Errorf("advance chain tip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance chain tip rows: %w", err)
	}
	if n == 0 {
		return storage.ErrChainConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attestations (id, identity, geocell, ts, prev_hash, hash, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		att.ID, att.Identity, att.Geocell, att.Timestamp, att.PrevHash, att.Hash, att.Signature, att.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return storage.ErrChainConflict
		}
		return fmt.Errorf("insert attestation: %w", err)
	}
	return tx.Commit()
}

// RecordVelocityCheck implements attestation.Store.
func (l *Ledger) RecordVelocityCheck(ctx context.Context, check attestation.VelocityCheck) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO velocity_checks (id, identity, from_cell, to_cell, from_time, to_time,
			distance_km, elapsed_seconds, speed_kmh, valid, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		check.ID, check.Identity, check.FromCell, check.ToCell, check.FromTime, check.ToTime,
		check.DistanceKm, check.ElapsedSeconds, check.SpeedKmh, check.Valid, check.Reason, check.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert velocity check: %w", err)
	}
	return nil
}

// RecordFraudEvent implements attestation.Store.
func (l *Ledger) RecordFraudEvent(ctx context.Context, event attestation.FraudEvent) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO fraud_events (id, identity, event_type, severity, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Identity, event.Type, event.Severity, event.Details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fraud event: %w", err)
	}
	return nil
}

// ListAttestations implements attestation.Store, newest first.
func (l *Ledger) ListAttestations(ctx context.Context, publicKey string, limit int) ([]attestation.Attestation, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, identity, geocell, ts, prev_hash, hash, signature, created_at
		FROM attestations WHERE identity = $1 ORDER BY ts DESC LIMIT $2`, publicKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list attestations: %w", err)
	}
	defer rows.Close()

	var out []attestation.Attestation
	for rows.Next() {
		var att attestation.Attestation
		if err := rows.Scan(&att.ID, &att.Identity, &att.Geocell, &att.Timestamp,
			&att.PrevHash, &att.Hash, &att.Signature, &att.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

// ActiveIdentities implements epoch.Store: identities whose newest
// attestation postdates their latest sealed epoch.
func (l *Ledger) ActiveIdentities(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT i.public_key FROM identities i
		WHERE i.last_attestation_at IS NOT NULL
		  AND i.last_attestation_at > COALESCE(
			(SELECT e.period_end FROM epochs e
			 WHERE e.identity = i.public_key
			 ORDER BY e.sequence DESC LIMIT 1),
			'-infinity'::timestamptz)`)
	if err != nil {
		return nil, fmt.Errorf("active identities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("scan identity key: %w", err)
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

// LatestEpoch implements epoch.Store.
func (l *Ledger) LatestEpoch(ctx context.Context, publicKey string) (*epoch.Epoch, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, identity, sequence, period_start, period_end, merkle_root,
		       prev_epoch_hash, hash, attestation_count, signature, created_at
		FROM epochs WHERE identity = $1 ORDER BY sequence DESC LIMIT 1`, publicKey)
	return scanEpoch(row)
}

func scanEpoch(row *sql.Row) (*epoch.Epoch, error) {
	var e epoch.Epoch
	err := row.Scan(&e.ID, &e.Identity, &e.Sequence, &e.PeriodStart, &e.PeriodEnd,
		&e.MerkleRoot, &e.PrevEpochHash, &e.Hash, &e.AttestationCount, &e.Signature, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan epoch: %w", err)
	}
	return &e, nil
}

// AttestationHashes implements epoch.Store: claimed timestamps in
// (after, until], chronological.
func (l *Ledger) AttestationHashes(ctx context.Context, publicKey string, after, until time.Time) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT hash FROM attestations
		WHERE identity = $1 AND ts > $2 AND ts <= $3 ORDER BY ts ASC`,
		publicKey, after, until)
	if err != nil {
		return nil, fmt.Errorf("attestation hashes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// InsertEpoch implements epoch.Store. The unique index on
// (identity, sequence) makes concurrent sealers race safely.
func (l *Ledger) InsertEpoch(ctx context.Context, e *epoch.Epoch) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin epoch insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO epochs (id, identity, sequence, period_start, period_end, merkle_root,
			prev_epoch_hash, hash, attestation_count, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Identity, e.Sequence, e.PeriodStart, e.PeriodEnd, e.MerkleRoot,
		e.PrevEpochHash, e.Hash, e.AttestationCount, e.Signature, e.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return storage.ErrChainConflict
		}
		return fmt.Errorf("insert epoch: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE identities SET epoch_count = epoch_count + 1 WHERE public_key = $1`, e.Identity)
	if err != nil {
		return fmt.Errorf("bump epoch count: %w", err)
	}
	return tx.Commit()
}

// ListEpochs implements epoch.Store, newest first.
func (l *Ledger) ListEpochs(ctx context.Context, publicKey string, limit int) ([]epoch.Epoch, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, identity, sequence, period_start, period_end, merkle_root,
		       prev_epoch_hash, hash, attestation_count, signature, created_at
		FROM epochs WHERE identity = $1 ORDER BY sequence DESC LIMIT $2`, publicKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer rows.Close()

	var out []epoch.Epoch
	for rows.Next() {
		var e epoch.Epoch
		if err := rows.Scan(&e.ID, &e.Identity, &e.Sequence, &e.PeriodStart, &e.PeriodEnd,
			&e.MerkleRoot, &e.PrevEpochHash, &e.Hash, &e.AttestationCount, &e.Signature, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEpoch implements epoch.Store.
func (l *Ledger) GetEpoch(ctx context.Context, id uuid.UUID) (*epoch.Epoch, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, identity, sequence, period_start, period_end, merkle_root,
		       prev_epoch_hash, hash, attestation_count, signature, created_at
		FROM epochs WHERE id = $1`, id)
	return scanEpoch(row)
}
