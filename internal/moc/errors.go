package moc

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleScheme is returned when combining coverage sets built in
	// different reference frames.
	ErrIncompatibleScheme = errors.New("incompatible coverage scheme")
	// ErrInvalidCoordinate is returned for points outside the valid
	// longitude/latitude ranges.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrMalformedPayload is returned when a serialized coverage set cannot be
	// decoded or is not normalized.
	ErrMalformedPayload = errors.New("malformed coverage payload")
)

// CoordinateError flags one point of a batch.
type CoordinateError struct {
	Index  int
	Point  SkyPoint
	Reason string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("point %d (%v, %v %s): %s", e.Index, e.Point.Lon, e.Point.Lat, e.Point.Frame, e.Reason)
}

func (e *CoordinateError) Unwrap() error { return ErrInvalidCoordinate }

type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string { return "malformed coverage payload: " + e.Reason }

func (e *PayloadError) Unwrap() error { return ErrMalformedPayload }

func malformed(format string, args ...any) error {
	return &PayloadError{Reason: fmt.Sprintf(format, args...)}
}

func incompatible(a, b *MOC) error {
	return fmt.Errorf("%w: frame %s vs %s", ErrIncompatibleScheme, a.frame, b.frame)
}
