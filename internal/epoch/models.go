// Package epoch periodically seals each identity's recent attestations into a
// signed, hash-chained Merkle commitment.
package epoch

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Epoch is one sealed commitment for an identity. Epochs are sparse: a period
// with no attestations produces no epoch, and the chain links skip over it.
type Epoch struct {
	ID       uuid.UUID `json:"id"`
	Identity string    `json:"identity"`
	// Sequence numbers epochs per identity, starting at 1.
	Sequence    int       `json:"sequence"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	MerkleRoot  string    `json:"merkle_root"`
	// PrevEpochHash chains epochs; the genesis value is the empty Merkle
	// root (64 zeros).
	PrevEpochHash    string    `json:"prev_epoch_hash"`
	Hash             string    `json:"hash"`
	AttestationCount int       `json:"attestation_count"`
	Signature        string    `json:"signature"`
	CreatedAt        time.Time `json:"created_at"`
}

// SealHash derives the epoch hash binding the identity, sequence, Merkle root
// and the previous epoch.
func SealHash(identity string, sequence int, merkleRoot, prevEpochHash string, periodEnd time.Time) string {
	h := sha256.New()
	h.Write([]byte(identity))
	h.Write([]byte(strconv.Itoa(sequence)))
	h.Write([]byte(merkleRoot))
	h.Write([]byte(prevEpochHash))
	h.Write([]byte(periodEnd.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
