// Package geocell implements the hierarchical spatial grid used to bucket
// locations without storing raw coordinates. A cell identifier packs a
// resolution and quantized latitude/longitude indices into a uint64, rendered
// as a 16-character hex string on the wire.
//
// At resolution r the grid step is 90/2^r degrees, so each increment of the
// resolution quarters the cell area. Cells nest: every cell at resolution r+1
// has exactly one ancestor at resolution r.
package geocell

import (
	"math"
	"strconv"

	dErrors "gns/pkg/domain-errors"
)

const (
	// MinResolution and MaxResolution bound the packable resolution range.
	MinResolution = 0
	MaxResolution = 15

	// EarthRadiusKm is the mean earth radius used for great-circle distance.
	EarthRadiusKm = 6371.0

	idxBits    = 30
	idxMask    = (1 << idxBits) - 1
	cellHexLen = 16
)

// Cell is a packed grid cell identifier.
type Cell uint64

// FromLatLng buckets a coordinate into the cell containing it at the given
// resolution.
func FromLatLng(lat, lng float64, resolution int) (Cell, error) {
	if resolution < MinResolution || resolution > MaxResolution {
		return 0, dErrors.Newf(dErrors.CodeValidation, "geocell resolution %d out of range [%d,%d]", resolution, MinResolution, MaxResolution)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, dErrors.New(dErrors.CodeValidation, "coordinate out of range")
	}
	step := stepDegrees(resolution)
	latIdx := uint64(math.Floor((lat + 90) / step))
	lngIdx := uint64(math.Floor((lng + 180) / step))
	// The north pole and antimeridian land exactly on the upper bound.
	if maxIdx := uint64(math.Ceil(180/step)) - 1; latIdx > maxIdx {
		latIdx = maxIdx
	}
	if maxIdx := uint64(math.Ceil(360/step)) - 1; lngIdx > maxIdx {
		lngIdx = maxIdx
	}
	packed := uint64(resolution)<<(2*idxBits) | latIdx<<idxBits | lngIdx
	return Cell(packed), nil
}

// Parse validates and decodes a hex cell identifier.
func Parse(s string) (Cell, error) {
	if len(s) != cellHexLen {
		return 0, dErrors.Newf(dErrors.CodeValidation, "malformed geocell %q: want %d hex chars", s, cellHexLen)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodeValidation, "malformed geocell %q: not hexadecimal", s)
	}
	c := Cell(v)
	if r := c.Resolution(); r > MaxResolution {
		return 0, dErrors.Newf(dErrors.CodeValidation, "malformed geocell %q: resolution %d out of range", s, r)
	}
	step := stepDegrees(c.Resolution())
	if float64(c.latIndex())*step > 180 || float64(c.lngIndex())*step > 360 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "malformed geocell %q: index out of range", s)
	}
	return c, nil
}

// String renders the cell as a fixed-width hex identifier.
func (c Cell) String() string {
	s := strconv.FormatUint(uint64(c), 16)
	for len(s) < cellHexLen {
		s = "0" + s
	}
	return s
}

// Resolution extracts the cell's resolution.
func (c Cell) Resolution() int {
	return int(uint64(c) >> (2 * idxBits))
}

func (c Cell) latIndex() uint64 {
	return (uint64(c) >> idxBits) & idxMask
}

func (c Cell) lngIndex() uint64 {
	return uint64(c) & idxMask
}

// Center returns the coordinate at the middle of the cell.
func (c Cell) Center() (lat, lng float64) {
	step := stepDegrees(c.Resolution())
	lat = float64(c.latIndex())*step - 90 + step/2
	lng = float64(c.lngIndex())*step - 180 + step/2
	return lat, lng
}

// Parent returns the ancestor cell at a coarser resolution. Requesting a finer
// resolution than the cell's own is an error.
func (c Cell) Parent(resolution int) (Cell, error) {
	if resolution < MinResolution || resolution > c.Resolution() {
		return 0, dErrors.Newf(dErrors.CodeValidation, "parent resolution %d invalid for cell at resolution %d", resolution, c.Resolution())
	}
	shift := uint(c.Resolution() - resolution)
	packed := uint64(resolution)<<(2*idxBits) | (c.latIndex()>>shift)<<idxBits | c.lngIndex()>>shift
	return Cell(packed), nil
}

// Contains reports whether other equals c or nests inside it.
func (c Cell) Contains(other Cell) bool {
	if other.Resolution() < c.Resolution() {
		return false
	}
	parent, err := other.Parent(c.Resolution())
	if err != nil {
		return false
	}
	return parent == c
}

// DistanceKm is the great-circle distance between two cell centers.
func DistanceKm(a, b Cell) float64 {
	latA, lngA := a.Center()
	latB, lngB := b.Center()
	return haversineKm(latA, lngA, latB, lngB)
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*sinLng*sinLng
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func stepDegrees(resolution int) float64 {
	return 90 / math.Pow(2, float64(resolution))
}
