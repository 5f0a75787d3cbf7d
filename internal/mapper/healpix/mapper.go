// Package healpix maps sky positions to HEALPix NESTED pixels and walks the
// pixel hierarchy.
package healpix

import (
	"fmt"
	"math"
	"sort"
)

const (
	// MaxOrder is the deepest order addressable with 64-bit nested indices
	// (the IVOA MOC limit).
	MaxOrder = 29
	// NBase is the number of order-0 pixels.
	NBase = 12
)

const halfPi = math.Pi / 2

// ring and in-ring offsets of the 12 base pixels
var (
	jrll = [NBase]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [NBase]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// NPix returns the number of pixels covering the sphere at order.
func NPix(order int) uint64 {
	return uint64(NBase) << (2 * uint(order))
}

func ValidateOrder(order int) error {
	if order < 0 || order > MaxOrder {
		return fmt.Errorf("invalid HEALPix order %d (must be 0..%d)", order, MaxOrder)
	}
	return nil
}

func ValidatePix(order int, pix uint64) error {
	if err := ValidateOrder(order); err != nil {
		return err
	}
	if pix >= NPix(order) {
		return fmt.Errorf("pixel %d out of range at order %d (npix=%d)", pix, order, NPix(order))
	}
	return nil
}

// CellForPoint returns the nested pixel holding (lon, lat), both in degrees.
func (m *Mapper) CellForPoint(lon, lat float64, order int) (uint64, error) {
	if err := ValidateOrder(order); err != nil {
		return 0, err
	}
	if err := validateLonLat(lon, lat); err != nil {
		return 0, err
	}
	return LonLatToPix(order, lon*math.Pi/180, lat*math.Pi/180), nil
}

// CellsForPoints returns the sorted, de-duplicated pixels holding the given
// [lon, lat] pairs (degrees).
func (m *Mapper) CellsForPoints(points [][2]float64, order int) ([]uint64, error) {
	if err := ValidateOrder(order); err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{}, len(points))
	out := make([]uint64, 0, len(points))
	for i, p := range points {
		if err := validateLonLat(p[0], p[1]); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		pix := LonLatToPix(order, p[0]*math.Pi/180, p[1]*math.Pi/180)
		if _, ok := seen[pix]; ok {
			continue
		}
		seen[pix] = struct{}{}
		out = append(out, pix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Center returns the centre of a pixel in degrees, lon in [0,360).
func (m *Mapper) Center(order int, pix uint64) (lon, lat float64, err error) {
	if err := ValidatePix(order, pix); err != nil {
		return 0, 0, err
	}
	lonRad, latRad := PixToLonLat(order, pix)
	return lonRad * 180 / math.Pi, latRad * 180 / math.Pi, nil
}

func validateLonLat(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return fmt.Errorf("non-finite coordinate (%v, %v)", lon, lat)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v outside [-90,90]", lat)
	}
	return nil
}

// LonLatToPix is ang2pix in the NESTED scheme. lon and lat are radians;
// inputs are not validated.
func LonLatToPix(order int, lon, lat float64) uint64 {
	nside := int64(1) << uint(order)
	z := math.Sin(lat)
	za := math.Abs(z)
	tt := math.Mod(lon/halfPi, 4)
	if tt < 0 {
		tt += 4
	}

	var face, ix, iy int64
	if za <= 2.0/3.0 {
		// equatorial region
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * z * 0.75
		jp := int64(temp1 - temp2) // ascending edge line
		jm := int64(temp1 + temp2) // descending edge line
		ifp := jp >> uint(order)
		ifm := jm >> uint(order)
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
		ix = jm & (nside - 1)
		iy = nside - (jp & (nside - 1)) - 1
	} else {
		// polar caps
		ntt := int64(tt)
		if ntt > 3 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(nside) * math.Sqrt(3*(1-za))
		jp := min(int64(tp*tmp), nside-1)
		jm := min(int64((1-tp)*tmp), nside-1)
		if z >= 0 {
			face = ntt
			ix = nside - jm - 1
			iy = nside - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}
	return uint64(face)<<(2*uint(order)) + spread(uint64(ix)) + spread(uint64(iy))<<1
}

// PixToLonLat is pix2ang in the NESTED scheme, returning the pixel centre in
// radians with lon in [0,2π).
func PixToLonLat(order int, pix uint64) (lon, lat float64) {
	nside := int64(1) << uint(order)
	npface := uint64(1) << (2 * uint(order))
	face := int64(pix >> (2 * uint(order)))
	p := pix & (npface - 1)
	ix := int64(compress(p))
	iy := int64(compress(p >> 1))

	fact2 := 4.0 / float64(NPix(order))
	fact1 := float64(nside<<1) * fact2
	nl4 := 4 * nside

	jr := (jrll[face] << uint(order)) - ix - iy - 1
	var nr int64
	var z float64
	switch {
	case jr < nside:
		nr = jr
		z = 1 - float64(nr)*float64(nr)*fact2
	case jr > 3*nside:
		nr = nl4 - jr
		z = float64(nr)*float64(nr)*fact2 - 1
	default:
		nr = nside
		z = float64(2*nside-jr) * fact1
	}

	tmp := jpll[face]*nr + ix - iy
	if tmp < 0 {
		tmp += 8 * nr
	}
	if nr == nside {
		lon = 0.75 * halfPi * float64(tmp) * fact1
	} else {
		lon = 0.5 * halfPi * float64(tmp) / float64(nr)
	}
	lon = math.Mod(lon, 2*math.Pi)
	return lon, math.Asin(z)
}

// spread interleaves the low 32 bits of v with zeros.
func spread(v uint64) uint64 {
	v &= 0xffffffff
	v = (v | v<<16) & 0x0000ffff0000ffff
	v = (v | v<<8) & 0x00ff00ff00ff00ff
	v = (v | v<<4) & 0x0f0f0f0f0f0f0f0f
	v = (v | v<<2) & 0x3333333333333333
	v = (v | v<<1) & 0x5555555555555555
	return v
}

func compress(v uint64) uint64 {
	v &= 0x5555555555555555
	v = (v | v>>1) & 0x3333333333333333
	v = (v | v>>2) & 0x0f0f0f0f0f0f0f0f
	v = (v | v>>4) & 0x00ff00ff00ff00ff
	v = (v | v>>8) & 0x0000ffff0000ffff
	v = (v | v>>16) & 0x00000000ffffffff
	return v
}
