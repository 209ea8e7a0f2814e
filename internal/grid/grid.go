// Package grid implements the multi-dimensional index math shared by the
// local tree builder and the AMR components engine: shapes, strides,
// vertex<->linear index conversion, bounds and boundary predicates, and
// the value comparator used everywhere a merge direction matters.
package grid

import "fmt"

// Value is the scalar field type. The source expresses this as a
// template parameter (Real); we resolve it to float64 (see DESIGN.md).
type Value = float64

// Shape is a runtime-dimensional extent, one entry per axis. The source
// carries the dimension D as a second template parameter; Go has no
// ergonomic value-generic over array length, so Shape (and Box below) are
// plain slices and every function derives D from len(shape) (see
// DESIGN.md's Open Question resolution).
type Shape []int

// Dim returns the number of axes.
func (s Shape) Dim() int { return len(s) }

// Size returns the total number of cells described by s.
func (s Shape) Size() int64 {
	n := int64(1)
	for _, d := range s {
		n *= int64(d)
	}
	return n
}

// Strides returns row-major (C order) strides for s.
func (s Shape) Strides() []int64 {
	st := make([]int64, len(s))
	acc := int64(1)
	for i := len(s) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= int64(s[i])
	}
	return st
}

// Linear converts a multi-index into a linear offset within s.
func (s Shape) Linear(idx []int) int64 {
	st := s.Strides()
	var off int64
	for i, v := range idx {
		off += int64(v) * st[i]
	}
	return off
}

// Vertex converts a linear offset back into a multi-index within s.
func (s Shape) Vertex(linear int64) []int {
	idx := make([]int, len(s))
	st := s.Strides()
	rem := linear
	for i := 0; i < len(s); i++ {
		idx[i] = int(rem / st[i])
		rem %= st[i]
	}
	return idx
}

// Box is an axis-aligned inclusive index range [Min, Max] in each
// dimension. It underlies both a block's core and its ghosted bounds.
type Box struct {
	Min []int
	Max []int
}

// NewBox builds a Box from parallel min/max slices, panicking (an
// internal invariant, never a user-input error) if they disagree in
// dimension.
func NewBox(min, max []int) Box {
	if len(min) != len(max) {
		panic(fmt.Sprintf("grid: box dimension mismatch: %d vs %d", len(min), len(max)))
	}
	return Box{Min: append([]int(nil), min...), Max: append([]int(nil), max...)}
}

// Dim returns the number of axes of b.
func (b Box) Dim() int { return len(b.Min) }

// Shape returns the per-axis extent (Max-Min+1) of b.
func (b Box) Shape() Shape {
	sh := make(Shape, b.Dim())
	for i := range sh {
		sh[i] = b.Max[i] - b.Min[i] + 1
	}
	return sh
}

// Contains reports whether idx lies within b (inclusive).
func (b Box) Contains(idx []int) bool {
	for i, v := range idx {
		if v < b.Min[i] || v > b.Max[i] {
			return false
		}
	}
	return true
}

// OnBoundary reports whether idx lies on the surface of b.
func (b Box) OnBoundary(idx []int) bool {
	for i, v := range idx {
		if v == b.Min[i] || v == b.Max[i] {
			return true
		}
	}
	return false
}

// Grow returns a copy of b expanded by n cells in every direction on
// every axis (used to build a block's ghosted bounds from its core).
func (b Box) Grow(n int) Box {
	min := make([]int, b.Dim())
	max := make([]int, b.Dim())
	for i := range min {
		min[i] = b.Min[i] - n
		max[i] = b.Max[i] + n
	}
	return Box{Min: min, Max: max}
}

// Union returns the smallest Box containing both b and o, the operation
// spec.md §4.3(b) uses to grow a block's global bounding box every round.
func (b Box) Union(o Box) Box {
	min := make([]int, b.Dim())
	max := make([]int, b.Dim())
	for i := range min {
		min[i] = b.Min[i]
		if o.Min[i] < min[i] {
			min[i] = o.Min[i]
		}
		max[i] = b.Max[i]
		if o.Max[i] > max[i] {
			max[i] = o.Max[i]
		}
	}
	return Box{Min: min, Max: max}
}

// Wrap folds idx into [0, domain) on every axis, implementing the
// unconditional toroidal domain of spec.md's `-w` flag (exposed as
// Domain.Wrap below so a caller can disable it per DESIGN.md's Open
// Question resolution).
func Wrap(idx []int, domain Shape) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		d := domain[i]
		m := v % d
		if m < 0 {
			m += d
		}
		out[i] = m
	}
	return out
}

// Domain describes the global grid: its overall shape, per-axis cell
// size, and whether coordinates wrap (toroidal) at the boundary.
type Domain struct {
	Shape    Shape
	CellSize []float64
	Wrap     bool
}

// Fold applies Domain.Wrap when the domain wraps, otherwise clamps.
func (d Domain) Fold(idx []int) []int {
	if d.Wrap {
		return Wrap(idx, d.Shape)
	}
	out := make([]int, len(idx))
	for i, v := range idx {
		switch {
		case v < 0:
			out[i] = 0
		case v >= d.Shape[i]:
			out[i] = d.Shape[i] - 1
		default:
			out[i] = v
		}
	}
	return out
}

// CellVolume returns the volume (area in 2D, length in 1D) of one cell.
func (d Domain) CellVolume() float64 {
	v := 1.0
	for _, c := range d.CellSize {
		v *= c
	}
	return v
}

// GlobalCoord maps a per-axis integer index to physical coordinates.
func (d Domain) GlobalCoord(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, v := range idx {
		out[i] = float64(v) * d.CellSize[i]
	}
	return out
}

// Cmp implements spec.md's comparator: a<b when not negated, a>b when
// negated. It never itself breaks vertex ties; callers needing a total
// order combine Cmp with a vertex-id tiebreak (see tree.Less).
func Cmp(a, b Value, negate bool) bool {
	if negate {
		return a > b
	}
	return a < b
}

// MoreExtreme reports whether a is strictly more extreme than b under
// Cmp, or equal in value with the smaller vertex id winning — the single
// tie-break rule spec.md §4.4 requires be identical on every process.
func MoreExtreme[V comparable](aVal, bVal Value, aID, bID V, negate bool, less func(V, V) bool) bool {
	if aVal != bVal {
		return Cmp(aVal, bVal, negate)
	}
	return less(aID, bID)
}

// Neighbors3D... — Offsets returns the 3^D-1 relative offsets to the
// immediate neighborhood of a cell, excluding the zero offset, matching
// spec.md §4.2's "3^D-1 immediate neighbors".
func Offsets(dim int) [][]int {
	total := 1
	for i := 0; i < dim; i++ {
		total *= 3
	}
	offs := make([][]int, 0, total-1)
	cur := make([]int, dim)
	var rec func(axis int)
	rec = func(axis int) {
		if axis == dim {
			allZero := true
			for _, v := range cur {
				if v != 0 {
					allZero = false
					break
				}
			}
			if !allZero {
				offs = append(offs, append([]int(nil), cur...))
			}
			return
		}
		for d := -1; d <= 1; d++ {
			cur[axis] = d
			rec(axis + 1)
		}
	}
	rec(0)
	return offs
}
