package geometry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/corrspec/corr"
)

const tol = 1e-6

// lonDiff returns a-b wrapped to [-180, 180).
func lonDiff(a, b float64) float64 {
	d := math.Mod(a-b+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

func TestGalacticCenter(t *testing.T) {
	eq := GalToEq(GalacticCoord{L: 0, B: 0})
	assert.InDelta(t, 266.405, eq.RA, 0.01)
	assert.InDelta(t, -28.936, eq.Dec, 0.01)
}

func TestNorthGalacticPole(t *testing.T) {
	g := EqToGal(EquatorialCoord{RA: 192.8595, Dec: 27.1283})
	assert.InDelta(t, 90.0, g.B, 0.001)
}

func TestRoundTrip(t *testing.T) {
	svc := J2000{}
	for _, c := range []Coord{{120, 45}, {0, 0}, {359.5, -60}, {200, 89}} {
		g, eq, err := svc.Convert(c, Galactic)
		require.NoError(t, err)
		assert.InDelta(t, 0, lonDiff(c[0], g.L), tol)
		back := EqToGal(eq)
		assert.InDelta(t, 0, lonDiff(g.L, back.L), tol, "l for %v", c)
		assert.True(t, back.L >= 0 && back.L < 360, "l %v out of range for %v", back.L, c)
		assert.True(t, eq.RA >= 0 && eq.RA < 360, "ra %v out of range for %v", eq.RA, c)
		assert.InDelta(t, g.B, back.B, tol, "b for %v", c)
	}
}

func TestFromCartesianWrapsToZero(t *testing.T) {
	// Just below the +x axis: atan2 is a tiny negative angle.
	lon, lat := fromCartesian([3]float64{1, -1e-18, 0})
	assert.True(t, lon >= 0 && lon < 360, "lon %v", lon)
	assert.InDelta(t, 0, lonDiff(lon, 0), tol)
	assert.Equal(t, 0.0, lat)
}

func TestConvertEquatorial(t *testing.T) {
	g, eq, err := J2000{}.Convert(Coord{83.633, 22.0145}, Equatorial)
	require.NoError(t, err)
	assert.Equal(t, 83.633, eq.RA)
	// Crab nebula.
	assert.InDelta(t, 184.557, g.L, 0.01)
	assert.InDelta(t, -5.784, g.B, 0.01)
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame("GA")
	require.NoError(t, err)
	assert.Equal(t, Galactic, f)

	_, err = ParseFrame("xx")
	var bad *corr.InvalidFrameError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "xx", bad.Frame)
}

func TestJulianDate(t *testing.T) {
	assert.InDelta(t, 2451545.0, JulianDate(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)), 1e-9)
	assert.InDelta(t, unixEpochJD, JulianDate(time.Unix(0, 0)), 1e-12)
}
