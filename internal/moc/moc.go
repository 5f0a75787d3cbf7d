// Package moc implements Multi-Order Coverage maps: immutable, normalized
// sets of HEALPix NESTED cells describing where a dataset has observations.
//
// All operations are pure and return new values, so a *MOC may be shared
// between goroutines without locking.
package moc

import (
	"fmt"
	"slices"

	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
)

type MOC struct {
	frame    Frame
	maxOrder int
	ranges   rangeSet
	cells    []Cell
	deepest  int
	lookup   map[uint64]struct{} // keyed by Cell.Uniq
}

// New builds a normalized coverage set from arbitrary cells. Duplicates,
// cells covered by a listed ancestor and complete sibling quadruples are
// folded. maxOrder is raised to the deepest cell order if needed.
func New(frame Frame, maxOrder int, cells ...Cell) (*MOC, error) {
	f, err := ParseFrame(string(frame))
	if err != nil {
		return nil, err
	}
	if err := healpix.ValidateOrder(maxOrder); err != nil {
		return nil, err
	}
	spans := make([]Range, 0, len(cells))
	for _, c := range cells {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("cell %s: %w", c, err)
		}
		maxOrder = max(maxOrder, c.Order)
		spans = append(spans, c.span())
	}
	return fromRanges(f, maxOrder, normalizeRanges(spans)), nil
}

// Empty returns a coverage set with no cells.
func Empty(frame Frame, maxOrder int) *MOC {
	return fromRanges(frame.normalized(), maxOrder, nil)
}

// AllSky returns the 12 base pixels, merged.
func AllSky(frame Frame, maxOrder int) *MOC {
	return fromRanges(frame.normalized(), maxOrder, rangeSet{{Start: 0, End: skyEnd}})
}

func fromRanges(f Frame, maxOrder int, rs rangeSet) *MOC {
	m := &MOC{
		frame:    f,
		maxOrder: maxOrder,
		ranges:   rs,
		cells:    rs.cells(),
	}
	m.lookup = make(map[uint64]struct{}, len(m.cells))
	for _, c := range m.cells {
		m.lookup[c.Uniq()] = struct{}{}
		m.deepest = max(m.deepest, c.Order)
	}
	return m
}

func (m *MOC) Frame() Frame { return m.frame }

// MaxOrder is the declared resolution of the set; cells never exceed it.
func (m *MOC) MaxOrder() int { return m.maxOrder }

func (m *MOC) IsEmpty() bool { return len(m.cells) == 0 }

// Len is the number of normalized cells.
func (m *MOC) Len() int { return len(m.cells) }

// Cells returns the normalized cells sorted by order then index.
func (m *MOC) Cells() []Cell { return slices.Clone(m.cells) }

// Orders groups cell indices by order, ascending.
func (m *MOC) Orders() map[int][]uint64 {
	out := make(map[int][]uint64)
	for _, c := range m.cells {
		out[c.Order] = append(out[c.Order], c.Index)
	}
	return out
}

// Ranges returns the order-29 index intervals covered by the set.
func (m *MOC) Ranges() []Range { return slices.Clone(m.ranges) }

// Equal reports whether both sets cover the same area in the same frame.
func (m *MOC) Equal(o *MOC) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.frame == o.frame && m.ranges.equal(o.ranges)
}

// SkyFraction is the covered share of the sphere in [0,1].
func (m *MOC) SkyFraction() float64 {
	// A cell at order o spans 4^(29-o) order-29 pixels, i.e. 1/(12*4^o) of
	// the sphere. Summing integer spans keeps the whole sky exactly 1.
	var n uint64
	for _, r := range m.ranges {
		n += r.End - r.Start
	}
	return float64(n) / float64(skyEnd)
}

// Intersect returns the area present in both sets. The finer max order of
// the two operands is kept.
func (m *MOC) Intersect(o *MOC) (*MOC, error) {
	if m.frame != o.frame {
		return nil, incompatible(m, o)
	}
	return fromRanges(m.frame, max(m.maxOrder, o.maxOrder), m.ranges.intersect(o.ranges)), nil
}

func (m *MOC) Union(o *MOC) (*MOC, error) {
	if m.frame != o.frame {
		return nil, incompatible(m, o)
	}
	return fromRanges(m.frame, max(m.maxOrder, o.maxOrder), m.ranges.union(o.ranges)), nil
}

// Difference returns the area of m not covered by o.
func (m *MOC) Difference(o *MOC) (*MOC, error) {
	if m.frame != o.frame {
		return nil, incompatible(m, o)
	}
	return fromRanges(m.frame, max(m.maxOrder, o.maxOrder), m.ranges.difference(o.ranges)), nil
}

func (m *MOC) Complement() *MOC {
	return fromRanges(m.frame, m.maxOrder, m.ranges.complement())
}

// Degrade coarsens the set to order: every cell finer than order is
// replaced by its ancestor, so the result covers at least the same area.
func (m *MOC) Degrade(order int) (*MOC, error) {
	if err := healpix.ValidateOrder(order); err != nil {
		return nil, err
	}
	if order >= m.maxOrder {
		return m, nil
	}
	return fromRanges(m.frame, order, m.ranges.degrade(order)), nil
}

// ContainsCell reports whether c lies entirely inside the set.
func (m *MOC) ContainsCell(c Cell) bool {
	if c.Validate() != nil {
		return false
	}
	return m.hasAncestor(c)
}

// hasAncestor walks from c up to order 0 looking for a listed cell.
func (m *MOC) hasAncestor(c Cell) bool {
	if c.Order > m.deepest {
		c = c.Ancestor(m.deepest)
	}
	for {
		if _, ok := m.lookup[c.Uniq()]; ok {
			return true
		}
		if c.Order == 0 {
			return false
		}
		c = c.Parent()
	}
}

func (m *MOC) String() string {
	b, _ := m.Serialize(FormatASCII)
	return string(b)
}
