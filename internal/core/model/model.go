// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

// Style is how a sky viewer should draw a coverage layer.
type Style struct {
	Color   string  `json:"color" toml:"color"`
	Opacity float64 `json:"opacity" toml:"opacity"`
}

var DefaultStyle = Style{Color: "#1f77b4", Opacity: 0.5}

var ErrInvalidStyle = errors.New("invalid style")

func (s Style) Validate() error {
	if strings.TrimSpace(s.Color) == "" {
		return fmt.Errorf("%w: empty colour", ErrInvalidStyle)
	}
	if math.IsNaN(s.Opacity) || s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("%w: opacity %v outside [0,1]", ErrInvalidStyle, s.Opacity)
	}
	return nil
}

// Dataset is one entry of the dataset registry.
type Dataset struct {
	Name  string
	ID    string // upstream identifier, e.g. CDS/P/2MASS/H
	Order int    // < 0 keeps the upstream resolution
	Frame moc.Frame
	Style Style
}

// Summary is the body of GET /coverage/{dataset}/summary.
type Summary struct {
	Dataset     string      `json:"dataset"`
	Frame       moc.Frame   `json:"frame"`
	MaxOrder    int         `json:"max_order"`
	Cells       int         `json:"cells"`
	CellsByOrd  map[int]int `json:"cells_by_order"`
	SkyFraction float64     `json:"sky_fraction"`
	Style       Style       `json:"style"`
}

// ContainsRequest is the body of POST /contains/{dataset}. Points are
// [lon, lat] pairs in degrees; the inner slices are checked for length by
// the handler.
type ContainsRequest struct {
	Frame  string      `json:"frame"`
	Points [][]float64 `json:"points"`
}

type PointError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ContainsResponse struct {
	Inside []bool       `json:"inside"`
	Errors []PointError `json:"errors,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
