package identity

import (
	"math"
	"time"
)

// Snapshot is the projection slice a scorer sees. It is built by the caller
// from the identity row plus the attestation about to be appended, so the
// stored score already reflects the new chain tip.
type Snapshot struct {
	AttestationCount   int
	UniqueCells        int
	EpochCount         int
	FirstAttestationAt *time.Time
	LastAttestationAt  *time.Time
	Now                time.Time
}

// Scorer derives a trust score in [0,100] from a trajectory snapshot.
// Implementations must be non-decreasing in attestation count and in
// recency of the last attestation, holding the other inputs fixed.
type Scorer interface {
	Score(s Snapshot) float64
}

// DefaultScorer weighs accumulation, recency, geographic diversity and epoch
// participation. Each component saturates so no single input dominates.
type DefaultScorer struct {
	// RecencyWindow is how stale the last attestation may be before the
	// recency component reaches zero.
	RecencyWindow time.Duration
}

// NewDefaultScorer returns the scorer used when none is injected.
func NewDefaultScorer() *DefaultScorer {
	return &DefaultScorer{RecencyWindow: 30 * 24 * time.Hour}
}

const (
	weightCount     = 0.35
	weightRecency   = 0.25
	weightDiversity = 0.20
	weightEpochs    = 0.20
)

// Score implements Scorer.
func (d *DefaultScorer) Score(s Snapshot) float64 {
	count := saturate(float64(s.AttestationCount), 400)
	diversity := saturate(float64(s.UniqueCells), 50)
	epochs := saturate(float64(s.EpochCount), 24)

	recency := 0.0
	if s.LastAttestationAt != nil {
		age := s.Now.Sub(*s.LastAttestationAt)
		switch {
		case age <= 0:
			recency = 1
		case age >= d.RecencyWindow:
			recency = 0
		default:
			recency = 1 - age.Seconds()/d.RecencyWindow.Seconds()
		}
	}

	score := 100 * (weightCount*count +
		weightRecency*recency +
		weightDiversity*diversity +
		weightEpochs*epochs)
	return math.Round(score*100) / 100
}

// saturate maps v monotonically into [0,1) with half saturation at `half`.
func saturate(v, half float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (v + half)
}
