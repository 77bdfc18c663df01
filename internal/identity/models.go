// Package identity holds the Identity aggregate: a public key, its derived
// trust projection, and the tier/requirement policy applied on top of it.
package identity

import (
	"time"
)

// Identity is keyed by its Ed25519 public key (lowercase hex). All mutable
// fields are projections maintained by the attestation chain and the epoch
// aggregator; nothing else writes them.
type Identity struct {
	PublicKey        string     `json:"public_key"`
	Handle           string     `json:"handle,omitempty"`
	TrustScore       float64    `json:"trust_score"`
	AttestationCount int        `json:"attestation_count"`
	EpochCount       int        `json:"epoch_count"`
	UniqueCells      int        `json:"unique_cells"`
	// ChainTip is the hash of the newest attestation, "" before the first.
	ChainTip           string     `json:"-"`
	FirstAttestationAt *time.Time `json:"first_attestation_at,omitempty"`
	LastAttestationAt  *time.Time `json:"last_attestation_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// TrustState is the read-model served to callers.
type TrustState struct {
	PublicKey         string     `json:"public_key"`
	Handle            string     `json:"handle,omitempty"`
	TrustScore        float64    `json:"trust_score"`
	Tier              TrustTier  `json:"tier"`
	AttestationCount  int        `json:"attestation_count"`
	EpochCount        int        `json:"epoch_count"`
	LastAttestationAt *time.Time `json:"last_attestation_at,omitempty"`
}

// TrustTier buckets scores into named levels.
type TrustTier string

const (
	TierSeedling    TrustTier = "seedling"    // 0-19: new identity, minimal trajectory
	TierRooted      TrustTier = "rooted"      // 20-39: building trajectory
	TierEstablished TrustTier = "established" // 40-59: established presence
	TierTrusted     TrustTier = "trusted"     // 60-79: trusted identity
	TierVerified    TrustTier = "verified"    // 80-100: verified through extensive trajectory
)

// TierFromScore maps a score to its tier.
func TierFromScore(score float64) TrustTier {
	switch {
	case score < 20:
		return TierSeedling
	case score < 40:
		return TierRooted
	case score < 60:
		return TierEstablished
	case score < 80:
		return TierTrusted
	default:
		return TierVerified
	}
}

// MinScore returns the lower bound of the tier.
func (t TrustTier) MinScore() float64 {
	switch t {
	case TierRooted:
		return 20
	case TierEstablished:
		return 40
	case TierTrusted:
		return 60
	case TierVerified:
		return 80
	default:
		return 0
	}
}

// Requirements gate operations on accumulated trajectory.
type Requirements struct {
	MinTrustScore     float64
	MinAttestations   int
	MinAccountAgeDays int
	MinUniqueCells    int
	RequiredTier      TrustTier
}

// ForHandleClaim returns the gate for claiming a handle.
func ForHandleClaim() Requirements {
	return Requirements{
		MinTrustScore:     20,
		MinAttestations:   100,
		MinAccountAgeDays: 7,
		MinUniqueCells:    10,
		RequiredTier:      TierRooted,
	}
}

// ForPayment returns the gate for originating payment intents.
func ForPayment() Requirements {
	return Requirements{
		MinTrustScore:     40,
		MinAttestations:   200,
		MinAccountAgeDays: 14,
		MinUniqueCells:    20,
		RequiredTier:      TierEstablished,
	}
}

// Check reports the first unmet requirement, or "" when all pass.
func (r Requirements) Check(id *Identity, now time.Time) string {
	if id.TrustScore < r.MinTrustScore {
		return "trust score below minimum"
	}
	if id.AttestationCount < r.MinAttestations {
		return "attestation count below minimum"
	}
	if r.MinAccountAgeDays > 0 {
		age := now.Sub(id.CreatedAt)
		if age < time.Duration(r.MinAccountAgeDays)*24*time.Hour {
			return "account too young"
		}
	}
	if id.UniqueCells < r.MinUniqueCells {
		return "not enough unique locations"
	}
	if r.RequiredTier != "" && TierFromScore(id.TrustScore).MinScore() < r.RequiredTier.MinScore() {
		return "trust tier below required"
	}
	return ""
}
