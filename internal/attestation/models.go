// Package attestation implements the hash-chained location breadcrumb ledger:
// signature verification, rate limiting, the velocity guard and the atomic
// chain append.
package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Attestation is one link in an identity's location chain.
type Attestation struct {
	ID        uuid.UUID `json:"id"`
	Identity  string    `json:"identity"`
	Geocell   string    `json:"geocell"`
	Timestamp time.Time `json:"timestamp"`
	// PrevHash is the hash of the preceding attestation, "" for the first.
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

// ChainHash derives the attestation hash binding the cell, the claimed time
// and the previous link. Timestamps are canonicalized to UTC RFC 3339 with
// nanoseconds so every node derives the same bytes.
func ChainHash(geocell string, ts time.Time, prevHash string) string {
	h := sha256.New()
	h.Write([]byte(geocell))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// SigningBytes is the payload the submitting identity signs. It commits to
// the previous hash so a signature cannot be replayed onto another fork.
func SigningBytes(prevHash, geocell string, ts time.Time) []byte {
	return []byte(prevHash + ":" + geocell + ":" + ts.UTC().Format(time.RFC3339Nano))
}

// VelocityCheck records the outcome of one consecutive-pair speed evaluation.
// Every evaluated pair is recorded, valid or not.
type VelocityCheck struct {
	ID             uuid.UUID `json:"id"`
	Identity       string    `json:"identity"`
	FromCell       string    `json:"from_cell"`
	ToCell         string    `json:"to_cell"`
	FromTime       time.Time `json:"from_time"`
	ToTime         time.Time `json:"to_time"`
	DistanceKm     float64   `json:"distance_km"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	SpeedKmh       float64   `json:"speed_kmh"`
	Valid          bool      `json:"valid"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Fraud severities.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Fraud event types.
const (
	FraudVelocity        = "velocity_violation"
	FraudTeleportation   = "teleportation"
	FraudClockRegression = "clock_regression"
)

// FraudEvent is an immutable record of a rejected signal.
type FraudEvent struct {
	ID        uuid.UUID `json:"id"`
	Identity  string    `json:"identity"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
