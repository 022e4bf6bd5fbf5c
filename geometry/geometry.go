package geometry

import (
	"math"
	"strings"
	"time"

	"github.com/hb9tf/corrspec/corr"
)

// Frame is a sky coordinate reference system.
type Frame string

const (
	Galactic   Frame = "ga"
	Equatorial Frame = "eq"
)

// ParseFrame accepts the two recognized frame tags.
func ParseFrame(tag string) (Frame, error) {
	switch f := Frame(strings.ToLower(strings.TrimSpace(tag))); f {
	case Galactic, Equatorial:
		return f, nil
	}
	return "", &corr.InvalidFrameError{Frame: tag}
}

// Coord is a coordinate pair in degrees: (l, b) or (ra, dec) depending on the frame.
type Coord [2]float64

type GalacticCoord struct {
	L, B float64
}

type EquatorialCoord struct {
	RA, Dec float64
}

// Location is an observatory site.
type Location struct {
	Lat float64 // degrees, north positive
	Lon float64 // degrees, east positive
	Alt float64 // meters
}

// Leuschner is the UC Berkeley Leuschner Observatory.
var Leuschner = Location{Lat: 37.9183, Lon: -122.1067, Alt: 304.0}

// Service converts a target into both frames.
type Service interface {
	Convert(c Coord, f Frame) (GalacticCoord, EquatorialCoord, error)
}

// J2000 converts between galactic and FK5 J2000 equatorial coordinates.
type J2000 struct{}

func (J2000) Convert(c Coord, f Frame) (GalacticCoord, EquatorialCoord, error) {
	switch f {
	case Galactic:
		g := GalacticCoord{L: c[0], B: c[1]}
		return g, GalToEq(g), nil
	case Equatorial:
		eq := EquatorialCoord{RA: c[0], Dec: c[1]}
		return EqToGal(eq), eq, nil
	}
	return GalacticCoord{}, EquatorialCoord{}, &corr.InvalidFrameError{Frame: string(f)}
}

// eqToGal is the rotation from J2000 equatorial to galactic cartesian vectors.
var eqToGal = [3][3]float64{
	{-0.0548755604162154, -0.8734370902348850, -0.4838350155487132},
	{+0.4941094278755837, -0.4448296299600112, +0.7469822444972189},
	{-0.8676661490190047, -0.1980763734312015, +0.4559837761750669},
}

func EqToGal(eq EquatorialCoord) GalacticCoord {
	v := toCartesian(eq.RA, eq.Dec)
	var g [3]float64
	for i := 0; i < 3; i++ {
		g[i] = eqToGal[i][0]*v[0] + eqToGal[i][1]*v[1] + eqToGal[i][2]*v[2]
	}
	l, b := fromCartesian(g)
	return GalacticCoord{L: l, B: b}
}

func GalToEq(g GalacticCoord) EquatorialCoord {
	v := toCartesian(g.L, g.B)
	// The rotation is orthonormal, its inverse is the transpose.
	var e [3]float64
	for i := 0; i < 3; i++ {
		e[i] = eqToGal[0][i]*v[0] + eqToGal[1][i]*v[1] + eqToGal[2][i]*v[2]
	}
	ra, dec := fromCartesian(e)
	return EquatorialCoord{RA: ra, Dec: dec}
}

func toCartesian(lon, lat float64) [3]float64 {
	lonR, latR := lon*math.Pi/180, lat*math.Pi/180
	return [3]float64{
		math.Cos(latR) * math.Cos(lonR),
		math.Cos(latR) * math.Sin(lonR),
		math.Sin(latR),
	}
}

func fromCartesian(v [3]float64) (lon, lat float64) {
	lon = math.Mod(math.Atan2(v[1], v[0])*180/math.Pi, 360)
	if lon < 0 {
		lon += 360
	}
	// A tiny negative angle plus 360 rounds up to 360.
	if lon >= 360 {
		lon = 0
	}
	z := math.Max(-1, math.Min(1, v[2]))
	lat = math.Asin(z) * 180 / math.Pi
	return lon, lat
}

const (
	unixEpochJD   = 2440587.5
	secondsPerDay = 86400.0
)

// JulianDate returns the (UTC) Julian date of t.
func JulianDate(t time.Time) float64 {
	return unixEpochJD + float64(t.UnixNano())/1e9/secondsPerDay
}

// UnixSeconds returns t as fractional seconds since the Unix epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
