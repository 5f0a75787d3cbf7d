package moc

import (
	"errors"
	"fmt"

	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
)

// maxScanOrder bounds FromCenters, which visits every pixel of the sphere.
const maxScanOrder = 10

// FromPoints returns the cells at order holding each point. Points in another
// frame are rotated into frame first. Invalid points are reported together.
func FromPoints(frame Frame, order int, points []SkyPoint) (*MOC, error) {
	f, err := ParseFrame(string(frame))
	if err != nil {
		return nil, err
	}
	if err := healpix.ValidateOrder(order); err != nil {
		return nil, err
	}
	var errs []error
	cells := make([]Cell, 0, len(points))
	for i, p := range points {
		if r := p.invalidReason(); r != "" {
			errs = append(errs, &CoordinateError{Index: i, Point: p, Reason: r})
			continue
		}
		lon, lat := p.in(f)
		cells = append(cells, Cell{Order: order, Index: healpix.LonLatToPix(order, lon, lat)})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return New(f, order, cells...)
}

// FromCenters keeps every cell at order whose centre (degrees, in frame)
// satisfies keep.
func FromCenters(frame Frame, order int, keep func(lon, lat float64) bool) (*MOC, error) {
	f, err := ParseFrame(string(frame))
	if err != nil {
		return nil, err
	}
	if err := healpix.ValidateOrder(order); err != nil {
		return nil, err
	}
	if order > maxScanOrder {
		return nil, fmt.Errorf("order %d too deep for a full-sky scan (max %d)", order, maxScanOrder)
	}
	mapr := healpix.New()
	var cells []Cell
	for pix := range healpix.NPix(order) {
		lon, lat, err := mapr.Center(order, pix)
		if err != nil {
			return nil, err
		}
		if keep(lon, lat) {
			cells = append(cells, Cell{Order: order, Index: pix})
		}
	}
	return New(f, order, cells...)
}

// FromBand covers the cells whose centre latitude lies in [latMin, latMax).
// latMax = 90 includes the pole.
func FromBand(frame Frame, order int, latMin, latMax float64) (*MOC, error) {
	if latMin < -90 || latMax > 90 || latMin >= latMax {
		return nil, fmt.Errorf("%w: band [%v,%v)", ErrInvalidCoordinate, latMin, latMax)
	}
	return FromCenters(frame, order, func(_, lat float64) bool {
		return lat >= latMin && (lat < latMax || latMax == 90)
	})
}
