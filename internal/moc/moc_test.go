package moc

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func mustNew(t *testing.T, frame Frame, maxOrder int, cells ...Cell) *MOC {
	t.Helper()
	m, err := New(frame, maxOrder, cells...)
	assert.NoError(t, err)
	return m
}

func randomMOC(t *testing.T, r *rand.Rand) *MOC {
	t.Helper()
	n := r.IntN(40)
	cells := make([]Cell, 0, n)
	for range n {
		o := r.IntN(7)
		cells = append(cells, Cell{Order: o, Index: r.Uint64N(12 << (2 * uint(o)))})
	}
	return mustNew(t, FrameICRS, 6, cells...)
}

func TestNew_NormalizesInput(t *testing.T) {
	// four siblings merge into their parent, a child of a listed cell is
	// dropped, duplicates collapse
	m := mustNew(t, FrameICRS, 3,
		Cell{1, 20}, Cell{1, 21}, Cell{1, 22}, Cell{1, 23},
		Cell{0, 7}, Cell{2, 7*16 + 3}, Cell{0, 7},
		Cell{3, 1},
	)
	assert.Equal(t, []Cell{{0, 5}, {0, 7}, {3, 1}}, m.Cells())
	assert.Equal(t, 3, m.MaxOrder())
}

func TestNew_RejectsInvalidCells(t *testing.T) {
	_, err := New(FrameICRS, 3, Cell{0, 12})
	assert.Error(t, err)
	_, err = New(FrameICRS, 30)
	assert.Error(t, err)
	_, err = New("ecliptic", 3)
	assert.Error(t, err)
}

func TestIntersect_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := range 200 {
		a := randomMOC(t, r)
		b := randomMOC(t, r)
		c := randomMOC(t, r)

		ab, err := a.Intersect(b)
		assert.NoError(t, err)
		ba, err := b.Intersect(a)
		assert.NoError(t, err)
		assert.True(t, ab.Equal(ba), "commutativity failed on iteration %d", i)

		aa, err := a.Intersect(a)
		assert.NoError(t, err)
		assert.True(t, aa.Equal(a), "idempotence failed on iteration %d", i)

		abc1, err := ab.Intersect(c)
		assert.NoError(t, err)
		bc, err := b.Intersect(c)
		assert.NoError(t, err)
		abc2, err := a.Intersect(bc)
		assert.NoError(t, err)
		assert.True(t, abc1.Equal(abc2), "associativity failed on iteration %d", i)

		const eps = 1e-12
		bound := math.Min(a.SkyFraction(), b.SkyFraction()) + eps
		assert.True(t, ab.SkyFraction() <= bound, "fraction %v exceeds %v", ab.SkyFraction(), bound)

		for _, cell := range ab.Cells() {
			assert.True(t, a.ContainsCell(cell) && b.ContainsCell(cell), "cell %s not in both operands", cell)
		}
	}
}

func TestIntersect_AlignsMixedOrders(t *testing.T) {
	a := mustNew(t, FrameICRS, 0, Cell{0, 5})
	b := mustNew(t, FrameICRS, 2, Cell{2, 5*16 + 1}, Cell{1, 5*4 + 3}, Cell{1, 0})

	got, err := a.Intersect(b)
	assert.NoError(t, err)
	assert.Equal(t, []Cell{{1, 23}, {2, 81}}, got.Cells())
	assert.Equal(t, 2, got.MaxOrder())
}

func TestIntersect_WholeSkyWithEmpty(t *testing.T) {
	all := mustNew(t, FrameICRS, 0, Cell{0, 0}, Cell{0, 1}, Cell{0, 2}, Cell{0, 3},
		Cell{0, 4}, Cell{0, 5}, Cell{0, 6}, Cell{0, 7}, Cell{0, 8}, Cell{0, 9}, Cell{0, 10}, Cell{0, 11})
	assert.Equal(t, 1.0, all.SkyFraction())
	assert.True(t, all.Equal(AllSky(FrameICRS, 0)))

	got, err := all.Intersect(Empty(FrameICRS, 0))
	assert.NoError(t, err)
	assert.True(t, got.IsEmpty())
	assert.Equal(t, 0.0, got.SkyFraction())
}

func TestIntersect_SinglePixelWithEmpty(t *testing.T) {
	a := mustNew(t, FrameICRS, 0, Cell{0, 5})
	got, err := a.Intersect(Empty(FrameICRS, 0))
	assert.NoError(t, err)
	assert.True(t, got.IsEmpty())
	assert.Equal(t, 0.0, got.SkyFraction())
}

func TestHemispheres_DisjointAndCoverSphere(t *testing.T) {
	north, err := FromCenters(FrameICRS, 4, func(_, lat float64) bool { return lat >= 0 })
	assert.NoError(t, err)
	south, err := FromCenters(FrameICRS, 4, func(_, lat float64) bool { return lat < 0 })
	assert.NoError(t, err)

	inter, err := north.Intersect(south)
	assert.NoError(t, err)
	assert.True(t, inter.IsEmpty())

	union, err := north.Union(south)
	assert.NoError(t, err)
	assert.True(t, math.Abs(union.SkyFraction()-1) < 1e-12)
	assert.True(t, union.Equal(AllSky(FrameICRS, 4)))

	assert.True(t, math.Abs(north.SkyFraction()-0.5) < 0.05, "north fraction %v", north.SkyFraction())
}

func TestIntersect_IncompatibleFrames(t *testing.T) {
	a := mustNew(t, FrameICRS, 0, Cell{0, 5})
	b := mustNew(t, FrameGalactic, 0, Cell{0, 5})
	_, err := a.Intersect(b)
	assert.IsError(t, err, ErrIncompatibleScheme)
	_, err = a.Union(b)
	assert.IsError(t, err, ErrIncompatibleScheme)
	_, err = a.Difference(b)
	assert.IsError(t, err, ErrIncompatibleScheme)
}

func TestDifferenceAndComplement(t *testing.T) {
	a := mustNew(t, FrameICRS, 1, Cell{0, 5})
	b := mustNew(t, FrameICRS, 1, Cell{1, 20})

	d, err := a.Difference(b)
	assert.NoError(t, err)
	assert.Equal(t, []Cell{{1, 21}, {1, 22}, {1, 23}}, d.Cells())

	c := a.Complement()
	assert.True(t, math.Abs(c.SkyFraction()-11.0/12.0) < 1e-15)
	back := c.Complement()
	assert.True(t, back.Equal(a))
}

func TestSkyFraction_PerOrder(t *testing.T) {
	m := mustNew(t, FrameICRS, 2, Cell{0, 0}, Cell{1, 4}, Cell{2, 32})
	want := 1.0/12 + 1.0/48 + 1.0/192
	assert.True(t, math.Abs(m.SkyFraction()-want) < 1e-15)
}

func TestDegrade_CoversOriginal(t *testing.T) {
	m := mustNew(t, FrameICRS, 5, Cell{5, 1234}, Cell{3, 9})
	d, err := m.Degrade(2)
	assert.NoError(t, err)
	assert.Equal(t, 2, d.MaxOrder())
	for _, c := range m.Cells() {
		assert.True(t, d.ContainsCell(c), "degraded set lost %s", c)
	}
	for _, c := range d.Cells() {
		assert.True(t, c.Order <= 2)
	}
}

func TestCell_UniqRoundTrip(t *testing.T) {
	for _, c := range []Cell{{0, 0}, {0, 11}, {3, 700}, {29, 12<<58 - 1}} {
		got, err := CellFromUniq(c.Uniq())
		assert.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := CellFromUniq(3)
	assert.Error(t, err)
}

func TestCell_Hierarchy(t *testing.T) {
	c := Cell{Order: 3, Index: 301}
	assert.Equal(t, Cell{2, 75}, c.Parent())
	assert.Equal(t, Cell{0, 4}, c.Ancestor(0))
	assert.True(t, Cell{1, 18}.Contains(c))
	assert.False(t, Cell{1, 19}.Contains(c))
	for _, k := range c.Children() {
		assert.Equal(t, c, k.Parent())
	}
}

func TestConcurrentReads(t *testing.T) {
	m := mustNew(t, FrameICRS, 6, Cell{0, 5}, Cell{6, 1})
	done := make(chan error, 8)
	for range 8 {
		go func() {
			_, err := m.Contains([]SkyPoint{Point(90, 0), Point(270, 0)})
			if err == nil {
				_, err = m.Intersect(m)
			}
			done <- err
		}()
	}
	for range 8 {
		if err := <-done; err != nil && !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("concurrent op: %v", err)
		}
	}
}
