package attestation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gns/pkg/geocell"
)

// Guard evaluates whether the movement implied by two consecutive
// attestations is physically plausible.
type Guard struct {
	// MaxSpeedKmh is the hard ceiling on implied speed.
	MaxSpeedKmh float64
	// HighSeverityMultiple marks violations at this multiple of the
	// ceiling as high severity.
	HighSeverityMultiple float64
}

// NewGuard builds a velocity guard with the given ceiling.
func NewGuard(maxSpeedKmh, highSeverityMultiple float64) *Guard {
	return &Guard{MaxSpeedKmh: maxSpeedKmh, HighSeverityMultiple: highSeverityMultiple}
}

// Evaluate compares the chain tip against the incoming attestation and
// returns the check record plus, for invalid pairs, the fraud severity.
func (g *Guard) Evaluate(prev *Attestation, nextCell geocell.Cell, nextTime time.Time, now time.Time) (VelocityCheck, Severity) {
	check := VelocityCheck{
		ID:        uuid.New(),
		Identity:  prev.Identity,
		FromCell:  prev.Geocell,
		ToCell:    nextCell.String(),
		FromTime:  prev.Timestamp,
		ToTime:    nextTime,
		CreatedAt: now,
	}

	elapsed := nextTime.Sub(prev.Timestamp)
	check.ElapsedSeconds = elapsed.Seconds()

	prevCell, err := geocell.Parse(prev.Geocell)
	if err != nil {
		// A malformed stored cell should never happen; treat as invalid
		// rather than admitting an unverifiable hop.
		check.Reason = FraudTeleportation
		return check, SeverityHigh
	}
	check.DistanceKm = geocell.DistanceKm(prevCell, nextCell)

	if elapsed <= 0 {
		if elapsed == 0 && prevCell != nextCell {
			check.Reason = FraudTeleportation
		} else {
			check.Reason = FraudClockRegression
		}
		return check, SeverityHigh
	}

	check.SpeedKmh = check.DistanceKm / elapsed.Hours()
	if check.SpeedKmh > g.MaxSpeedKmh {
		check.Reason = FraudVelocity
		if check.SpeedKmh >= g.MaxSpeedKmh*g.HighSeverityMultiple {
			return check, SeverityHigh
		}
		return check, SeverityMedium
	}

	check.Valid = true
	return check, ""
}

// Describe renders a short human-readable account of an invalid check.
func Describe(check VelocityCheck) string {
	switch check.Reason {
	case FraudClockRegression:
		return fmt.Sprintf("timestamp does not advance (elapsed %.0fs)", check.ElapsedSeconds)
	case FraudTeleportation:
		return fmt.Sprintf("%.1f km traveled in no elapsed time", check.DistanceKm)
	default:
		return fmt.Sprintf("implied speed %.0f km/h exceeds %.1f km in %.0fs", check.SpeedKmh, check.DistanceKm, check.ElapsedSeconds)
	}
}
