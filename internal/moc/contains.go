package moc

import (
	"errors"

	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
)

// Contains tests each point for membership and returns one entry per point
// in input order. Invalid points are reported as *CoordinateError values
// joined into the returned error; their entry is false and the rest of the
// batch is still evaluated.
func (m *MOC) Contains(points []SkyPoint) ([]bool, error) {
	out := make([]bool, len(points))
	var errs []error
	for i, p := range points {
		if r := p.invalidReason(); r != "" {
			errs = append(errs, &CoordinateError{Index: i, Point: p, Reason: r})
			continue
		}
		if m.IsEmpty() {
			continue
		}
		out[i] = m.containsValid(p)
	}
	return out, errors.Join(errs...)
}

// ContainsPoint is the single-point form of Contains.
func (m *MOC) ContainsPoint(p SkyPoint) (bool, error) {
	res, err := m.Contains([]SkyPoint{p})
	if err != nil {
		return false, err
	}
	return res[0], nil
}

func (m *MOC) containsValid(p SkyPoint) bool {
	lon, lat := p.in(m.frame)
	pix := healpix.LonLatToPix(m.deepest, lon, lat)
	return m.hasAncestor(Cell{Order: m.deepest, Index: pix})
}
