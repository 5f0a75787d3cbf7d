package moc

import (
	"slices"
	"sort"

	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
)

// Range is a half-open interval of order-29 nested indices. Every cell maps
// to one contiguous Range, so set algebra on aligned cells reduces to
// interval algebra.
type Range struct {
	Start, End uint64
}

type rangeSet []Range

var skyEnd = healpix.NPix(healpix.MaxOrder)

// normalizeRanges sorts and merges overlapping or touching ranges.
func normalizeRanges(rs []Range) rangeSet {
	if len(rs) == 0 {
		return nil
	}
	rs = slices.Clone(rs)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	out := rs[:1]
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (a rangeSet) union(b rangeSet) rangeSet {
	all := make([]Range, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return normalizeRanges(all)
}

func (a rangeSet) intersect(b rangeSet) rangeSet {
	var out rangeSet
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		s := max(a[i].Start, b[j].Start)
		e := min(a[i].End, b[j].End)
		if s < e {
			out = append(out, Range{Start: s, End: e})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

func (a rangeSet) complement() rangeSet {
	var out rangeSet
	var cur uint64
	for _, r := range a {
		if r.Start > cur {
			out = append(out, Range{Start: cur, End: r.Start})
		}
		cur = r.End
	}
	if cur < skyEnd {
		out = append(out, Range{Start: cur, End: skyEnd})
	}
	return out
}

func (a rangeSet) difference(b rangeSet) rangeSet {
	return a.intersect(b.complement())
}

// degrade widens every range outwards to cell boundaries at order.
func (a rangeSet) degrade(order int) rangeSet {
	shift := 2 * uint(healpix.MaxOrder-order)
	mask := uint64(1)<<shift - 1
	out := make([]Range, len(a))
	for i, r := range a {
		out[i] = Range{Start: r.Start &^ mask, End: (r.End + mask) &^ mask}
	}
	return normalizeRanges(out)
}

func (a rangeSet) contains(v uint64) bool {
	i := sort.Search(len(a), func(i int) bool { return a[i].End > v })
	return i < len(a) && a[i].Start <= v
}

func (a rangeSet) equal(b rangeSet) bool {
	return slices.Equal(a, b)
}

// cells decomposes the ranges into the coarsest aligned cells, which is the
// normalized form: no four siblings listed, no cell listed with its parent.
func (a rangeSet) cells() []Cell {
	var out []Cell
	for _, r := range a {
		s := r.Start
		for s < r.End {
			for o := 0; o <= healpix.MaxOrder; o++ {
				size := uint64(1) << (2 * uint(healpix.MaxOrder-o))
				if s%size == 0 && r.End-s >= size {
					out = append(out, Cell{Order: o, Index: s / size})
					s += size
					break
				}
			}
		}
	}
	slices.SortFunc(out, compareCells)
	return out
}
