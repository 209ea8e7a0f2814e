// Package integral implements spec.md §4.5's persistent-integral reduce
// (C7): a tracing pass that isolates significant subtrees of a completed
// merge tree and integrates field values over them, and a combine pass
// that merges partial integrals sharing the same minimum vertex.
package integral

import (
	"fmt"
	"strings"

	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/tree"
)

// MinIntegral is spec.md's per-component tracing result.
type MinIntegral struct {
	MinVertex tree.VertexID
	MinValue  tree.Value
	Integral  float64
	NCells    int64
	AddSums   []float64
	Traced    []tree.VertexID
}

// Sampler supplies everything the tracing pass needs to evaluate fields
// at a vertex's physical position: the position lookup, the domain's
// per-cell volume, any additional field readers, and an optional density
// reader for density-weighted mode.
type Sampler struct {
	Position        func(tree.VertexID) []int
	CellVolume      float64
	Fields          []func(pos []int) float64
	Density         func(pos []int) float64
	DensityWeighted bool
	KeepTraced      bool
}

func childrenOf(t *tree.TripletMergeTree) map[tree.VertexID][]tree.VertexID {
	children := make(map[tree.VertexID][]tree.VertexID)
	t.Nodes(func(n *tree.Node) {
		if !n.IsRoot() {
			children[n.Parent] = append(children[n.Parent], n.Vertex)
		}
	})
	return children
}

// gates returns, per root, the topmost nodes along every downward path
// where the value first crosses (under cmp) the isofind threshold t —
// spec.md's "when a child node first crosses below the isofind
// threshold t, integrate that subtree". A root is never itself a gate:
// only its children (and their descendants) are tested, since a root is
// by construction the tree's single most extreme vertex and would
// otherwise trivially satisfy any realistic threshold.
func gates(t *tree.TripletMergeTree, children map[tree.VertexID][]tree.VertexID, negate bool, isofindT float64) []tree.VertexID {
	var out []tree.VertexID
	var walk func(v tree.VertexID)
	walk = func(v tree.VertexID) {
		for _, c := range children[v] {
			cn := t.Get(c)
			if grid.Cmp(cn.Value, isofindT, negate) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	t.Nodes(func(n *tree.Node) {
		if n.IsRoot() {
			walk(n.Vertex)
		}
	})
	return out
}

func collectSubtree(t *tree.TripletMergeTree, children map[tree.VertexID][]tree.VertexID, gate tree.VertexID) []tree.ValuedVertex {
	var out []tree.ValuedVertex
	var walk func(v tree.VertexID)
	walk = func(v tree.VertexID) {
		n := t.Get(v)
		out = append(out, tree.ValuedVertex{Vertex: n.Vertex, Value: n.Value})
		out = append(out, n.Vertices...)
		for _, c := range children[v] {
			walk(c)
		}
	}
	walk(gate)
	return out
}

func extremum(vv []tree.ValuedVertex, negate bool) tree.ValuedVertex {
	best := vv[0]
	for _, v := range vv[1:] {
		if tree.Less(v.Value, best.Value, v.Vertex, best.Vertex, negate) {
			best = v
		}
	}
	return best
}

// Trace runs spec.md §4.5's tracing pass over a completed tree: one
// MinIntegral per gate subtree, restricted to vertices inCore reports
// true for (a block only integrates the portion of a shared subtree that
// falls inside its own core, per spec.md's data-locality rule).
// Components whose min_value is more extreme than maxM, or whose
// integral is zero, are skipped.
func Trace(t *tree.TripletMergeTree, negate bool, isofindT, maxM float64, inCore func(tree.VertexID) bool, s Sampler) []MinIntegral {
	children := childrenOf(t)
	var out []MinIntegral
	for _, g := range gates(t, children, negate, isofindT) {
		vv := collectSubtree(t, children, g)
		ext := extremum(vv, negate)

		if grid.Cmp(ext.Value, maxM, negate) {
			continue
		}

		mi := MinIntegral{MinVertex: ext.Vertex, MinValue: ext.Value, AddSums: make([]float64, len(s.Fields))}
		for _, v := range vv {
			if !inCore(v.Vertex) {
				continue
			}
			mi.NCells++
			mi.Integral += v.Value * s.CellVolume
			pos := s.Position(v.Vertex)
			for i, f := range s.Fields {
				fv := f(pos)
				switch {
				case s.DensityWeighted:
					fv = fv * v.Value * s.CellVolume
					if s.Density != nil {
						if d := s.Density(pos); d != 0 {
							fv /= d
						}
					}
				case s.Density != nil:
					if d := s.Density(pos); d != 0 {
						fv /= d
					}
				}
				mi.AddSums[i] += fv
			}
			if s.KeepTraced {
				mi.Traced = append(mi.Traced, v.Vertex)
			}
		}
		if mi.Integral == 0 {
			continue
		}
		out = append(out, mi)
	}
	return out
}

// MergeShared implements spec.md's combine step: MinIntegrals sharing
// the same min_vertex are summed (integral, add_sums, n_cells) and their
// traced-vertex lists concatenated, in first-seen order.
func MergeShared(items []MinIntegral) []MinIntegral {
	byVertex := make(map[tree.VertexID]*MinIntegral, len(items))
	var order []tree.VertexID
	for _, it := range items {
		if ex, ok := byVertex[it.MinVertex]; ok {
			ex.Integral += it.Integral
			ex.NCells += it.NCells
			for i := range ex.AddSums {
				if i < len(it.AddSums) {
					ex.AddSums[i] += it.AddSums[i]
				}
			}
			ex.Traced = append(ex.Traced, it.Traced...)
			continue
		}
		cp := it
		cp.AddSums = append([]float64(nil), it.AddSums...)
		byVertex[it.MinVertex] = &cp
		order = append(order, it.MinVertex)
	}
	out := make([]MinIntegral, 0, len(order))
	for _, v := range order {
		out = append(out, *byVertex[v])
	}
	return out
}

// FormatLine renders spec.md's output line for a surviving MinIntegral:
// "<global_x> <global_y> <global_z> <integral> [<avg_field_1> ...]",
// averaging by integral in density-weighted mode, otherwise by n_cells.
func FormatLine(coord []float64, m MinIntegral, densityWeighted bool) string {
	var b strings.Builder
	for _, c := range coord {
		fmt.Fprintf(&b, "%g ", c)
	}
	fmt.Fprintf(&b, "%g", m.Integral)
	denom := float64(m.NCells)
	if densityWeighted {
		denom = m.Integral
	}
	for _, s := range m.AddSums {
		avg := 0.0
		if denom != 0 {
			avg = s / denom
		}
		fmt.Fprintf(&b, " %g", avg)
	}
	return b.String()
}
