package geocell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cell, err := FromLatLng(52.5200, 13.4050, 12)
	require.NoError(t, err)

	parsed, err := Parse(cell.String())
	require.NoError(t, err)
	assert.Equal(t, cell, parsed)
	assert.Equal(t, 12, parsed.Resolution())

	lat, lng := parsed.Center()
	// Center must be inside the same cell.
	again, err := FromLatLng(lat, lng, 12)
	require.NoError(t, err)
	assert.Equal(t, cell, again)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"xyz",
		"8a2830828767fffzz",
		"zzzzzzzzzzzzzzzz",
		"ffffffffffffffff", // resolution 15 but indices out of range
	}
	for _, in := range cases {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestNesting(t *testing.T) {
	fine, err := FromLatLng(48.8566, 2.3522, 14)
	require.NoError(t, err)
	coarse, err := FromLatLng(48.8566, 2.3522, 9)
	require.NoError(t, err)

	parent, err := fine.Parent(9)
	require.NoError(t, err)
	assert.Equal(t, coarse, parent)
	assert.True(t, coarse.Contains(fine))
	assert.True(t, coarse.Contains(coarse))
	assert.False(t, fine.Contains(coarse))
}

func TestDistanceBerlinParis(t *testing.T) {
	berlin, err := FromLatLng(52.5200, 13.4050, 12)
	require.NoError(t, err)
	paris, err := FromLatLng(48.8566, 2.3522, 12)
	require.NoError(t, err)

	d := DistanceKm(berlin, paris)
	// Great-circle Berlin-Paris is roughly 878 km.
	assert.InDelta(t, 878, d, 15)
}

func TestDistanceZeroForSameCell(t *testing.T) {
	cell, err := FromLatLng(0, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, DistanceKm(cell, cell))
}

func TestPolesAndAntimeridian(t *testing.T) {
	for _, tc := range []struct{ lat, lng float64 }{
		{90, 0}, {-90, 0}, {0, 180}, {0, -180},
	} {
		cell, err := FromLatLng(tc.lat, tc.lng, 8)
		require.NoError(t, err)
		_, err = Parse(cell.String())
		require.NoError(t, err)
	}
}
