package moc

import (
	"fmt"
	"math"
	"strings"

	"github.com/soniakeys/coord"
	"github.com/soniakeys/unit"
)

// Frame is the celestial reference frame a coverage set or point is
// expressed in.
type Frame string

const (
	FrameICRS     Frame = "ICRS"
	FrameGalactic Frame = "GALACTIC"
)

func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "icrs", "equatorial", "j2000", "c":
		return FrameICRS, nil
	case "galactic", "gal", "g":
		return FrameGalactic, nil
	default:
		return "", fmt.Errorf("unsupported frame %q (want icrs or galactic)", s)
	}
}

func (f Frame) normalized() Frame {
	if f == "" {
		return FrameICRS
	}
	return f
}

// SkyPoint is a position in degrees. An empty Frame means ICRS.
type SkyPoint struct {
	Lon   float64
	Lat   float64
	Frame Frame
}

// Point returns an ICRS point from right ascension and declination in degrees.
func Point(ra, dec float64) SkyPoint {
	return SkyPoint{Lon: ra, Lat: dec, Frame: FrameICRS}
}

func PointFromAngles(lon, lat unit.Angle, f Frame) SkyPoint {
	return SkyPoint{Lon: lon.Deg(), Lat: lat.Deg(), Frame: f}
}

func PointFromRadians(lon, lat float64, f Frame) SkyPoint {
	return SkyPoint{Lon: lon * 180 / math.Pi, Lat: lat * 180 / math.Pi, Frame: f}
}

func (p SkyPoint) Angles() (lon, lat unit.Angle) {
	return unit.AngleFromDeg(p.Lon), unit.AngleFromDeg(p.Lat)
}

// Validate checks finiteness, lat in [-90,90] and lon in [-180,360].
func (p SkyPoint) Validate() error {
	if r := p.invalidReason(); r != "" {
		return fmt.Errorf("%w: %s", ErrInvalidCoordinate, r)
	}
	return nil
}

func (p SkyPoint) invalidReason() string {
	switch {
	case math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0):
		return "non-finite coordinate"
	case p.Lat < -90 || p.Lat > 90:
		return "latitude outside [-90,90]"
	case p.Lon < -180 || p.Lon > 360:
		return "longitude outside [-180,360]"
	}
	switch p.Frame.normalized() {
	case FrameICRS, FrameGalactic:
		return ""
	default:
		return fmt.Sprintf("unknown frame %q", p.Frame)
	}
}

// in converts p into frame f and returns (lon, lat) in radians.
func (p SkyPoint) in(f Frame) (lon, lat float64) {
	l, b := p.Angles()
	lon, lat = l.Rad(), b.Rad()
	from, to := p.Frame.normalized(), f.normalized()
	if from == to {
		return lon, lat
	}
	v := toCart(lon, lat)
	switch to {
	case FrameGalactic:
		v = rotate(&icrsToGal, v)
	default:
		v = rotate(&galToICRS, v)
	}
	return fromCart(v)
}

// ICRS -> galactic rotation (Hipparcos convention).
var icrsToGal = [3]coord.Cart{
	{X: -0.0548755604162154, Y: -0.8734370902348850, Z: -0.4838350155487132},
	{X: 0.4941094278755837, Y: -0.4448296299600112, Z: 0.7469822444972189},
	{X: -0.8676661490190047, Y: -0.1980763734312015, Z: 0.4559837761750669},
}

var galToICRS = transpose(icrsToGal)

func transpose(m [3]coord.Cart) [3]coord.Cart {
	return [3]coord.Cart{
		{X: m[0].X, Y: m[1].X, Z: m[2].X},
		{X: m[0].Y, Y: m[1].Y, Z: m[2].Y},
		{X: m[0].Z, Y: m[1].Z, Z: m[2].Z},
	}
}

func rotate(m *[3]coord.Cart, v coord.Cart) coord.Cart {
	return coord.Cart{X: m[0].Dot(&v), Y: m[1].Dot(&v), Z: m[2].Dot(&v)}
}

func toCart(lon, lat float64) coord.Cart {
	sl, cl := math.Sincos(lon)
	sb, cb := math.Sincos(lat)
	return coord.Cart{X: cb * cl, Y: cb * sl, Z: sb}
}

func fromCart(v coord.Cart) (lon, lat float64) {
	lon = math.Atan2(v.Y, v.X)
	if lon < 0 {
		lon += 2 * math.Pi
	}
	lat = math.Atan2(v.Z, math.Hypot(v.X, v.Y))
	return lon, lat
}
