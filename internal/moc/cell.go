package moc

import (
	"cmp"
	"fmt"

	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
)

// Cell is one HEALPix NESTED pixel.
type Cell struct {
	Order int
	Index uint64
}

func (c Cell) String() string { return fmt.Sprintf("%d/%d", c.Order, c.Index) }

func (c Cell) Validate() error {
	return healpix.ValidatePix(c.Order, c.Index)
}

// Parent of an order-0 cell is the cell itself.
func (c Cell) Parent() Cell {
	if c.Order == 0 {
		return c
	}
	return Cell{Order: c.Order - 1, Index: c.Index >> 2}
}

func (c Cell) Children() [4]Cell {
	first := c.Index << 2
	o := c.Order + 1
	return [4]Cell{{o, first}, {o, first + 1}, {o, first + 2}, {o, first + 3}}
}

// Ancestor returns the cell at a coarser order containing c.
func (c Cell) Ancestor(order int) Cell {
	if order >= c.Order {
		return c
	}
	return Cell{Order: order, Index: c.Index >> (2 * uint(c.Order-order))}
}

// Contains reports whether o lies inside c (or is c).
func (c Cell) Contains(o Cell) bool {
	return o.Order >= c.Order && o.Ancestor(c.Order) == c
}

// Uniq is the NUNIQ encoding 4*4^order + index.
func (c Cell) Uniq() uint64 {
	return uint64(4)<<(2*uint(c.Order)) + c.Index
}

// CellFromUniq decodes a NUNIQ value.
func CellFromUniq(u uint64) (Cell, error) {
	if u < 4 {
		return Cell{}, fmt.Errorf("uniq %d below 4", u)
	}
	order := 0
	for (u >> (2 * uint(order+1))) >= 4 {
		order++
	}
	c := Cell{Order: order, Index: u - uint64(4)<<(2*uint(order))}
	if err := c.Validate(); err != nil {
		return Cell{}, fmt.Errorf("uniq %d: %w", u, err)
	}
	return c, nil
}

// span is the range of order-29 indices covered by c.
func (c Cell) span() Range {
	shift := 2 * uint(healpix.MaxOrder-c.Order)
	return Range{Start: c.Index << shift, End: (c.Index + 1) << shift}
}

func compareCells(a, b Cell) int {
	if a.Order != b.Order {
		return cmp.Compare(a.Order, b.Order)
	}
	return cmp.Compare(a.Index, b.Index)
}
