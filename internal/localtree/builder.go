// Package localtree implements spec.md §4.2's local tree builder (C4):
// it sweeps a block's ACTIVE cells in value order, builds a merge tree
// via the running-root union pattern, and emits outgoing cross-boundary
// edges toward GHOST-owning neighbors.
package localtree

import (
	"fmt"
	"sort"

	"github.com/rskv-p/toposcan/internal/amrbox"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/tree"
)

// Edge is spec.md's AmrEdge: an ordered pair of AmrVertexIds with
// a.gid < b.gid, or equal gid and a.index < b.index.
type Edge struct {
	A, B tree.VertexID
}

// Canonical returns e with endpoints ordered per spec.md §3.
func (e Edge) Canonical() Edge {
	if e.B.Less(e.A) {
		return Edge{A: e.B, B: e.A}
	}
	return e
}

// Result is everything the local sweep produces for one block.
type Result struct {
	Tree                   *tree.TripletMergeTree
	InitialEdges           []Edge
	OriginalVertexToDeepest map[tree.VertexID]tree.VertexID
}

func vidOf(box *amrbox.MaskedBox, global []int) tree.VertexID {
	return tree.VertexID{GID: box.GID, Index: box.Index(global)}
}

// ghostVertexID addresses a GHOST-owned cell using the neighbor's own
// Bounds (core+1 ghost ring) exactly as that neighbor would address it
// for its own ACTIVE cells — see DESIGN.md for why this makes remote
// vertex ids independently computable without consulting the remote
// block.
func ghostVertexID(nb amrbox.NeighborBox, foldedGlobal []int) tree.VertexID {
	rel := make([]int, len(foldedGlobal))
	for i, v := range foldedGlobal {
		rel[i] = v - nb.Bounds.Min[i]
	}
	return tree.VertexID{GID: nb.GID, Index: nb.Bounds.Shape().Linear(rel)}
}

type activeCell struct {
	global []int
	vid    tree.VertexID
	value  grid.Value
}

// Build runs the local sweep of spec.md §4.2 over box's ACTIVE cells,
// using link to resolve GHOST neighbors into cross-block edges.
func Build(box *amrbox.MaskedBox, link amrbox.Link, negate bool) Result {
	var actives []activeCell
	box.Cells(func(global []int, c *amrbox.Cell) {
		if c.State == amrbox.Active {
			actives = append(actives, activeCell{
				global: append([]int(nil), global...),
				vid:    vidOf(box, global),
				value:  box.ValueAt(global),
			})
		}
	})
	sort.Slice(actives, func(i, j int) bool {
		return tree.Less(actives[i].value, actives[j].value, actives[i].vid, actives[j].vid, negate)
	})

	t := tree.New(negate)
	processed := make(map[tree.VertexID]bool, len(actives))
	var edges []Edge

	dim := box.Core.Dim()
	offsets := grid.Offsets(dim)

	for _, ce := range actives {
		t.Add(ce.vid, ce.value)

		roots := make(map[tree.VertexID]bool)
		for _, off := range offsets {
			ngIdx := make([]int, dim)
			for d := range ngIdx {
				ngIdx[d] = ce.global[d] + off[d]
			}
			cell := box.At(ngIdx)

			switch cell.State {
			case amrbox.Active:
				nvid := vidOf(box, ngIdx)
				if processed[nvid] {
					roots[t.Root(nvid)] = true
				}
			case amrbox.Ghost:
				nb, ok := link.ByGID(cell.Owner)
				if !ok && cell.Owner == box.GID {
					// self-wrapped rim cell: addressed in this block's own Bounds
					nb, ok = amrbox.NeighborBox{GID: box.GID, Refinement: box.Refinement, Level: box.Level, Bounds: box.Bounds}, true
				}
				if !ok {
					panic(fmt.Sprintf("localtree: ghost cell owner gid %d absent from link for gid %d", cell.Owner, box.GID))
				}
				folded := box.Domain.Fold(ngIdx)
				edges = append(edges, Edge{A: ce.vid, B: ghostVertexID(nb, folded)}.Canonical())
			}
		}

		if len(roots) > 0 {
			winner := pickWinner(t, roots, negate)
			for r := range roots {
				if r != winner {
					t.Link(r, ce.vid, winner)
				}
			}
			t.Link(ce.vid, ce.vid, winner)
		}

		processed[ce.vid] = true
	}

	deepest := make(map[tree.VertexID]tree.VertexID, len(actives))
	for _, ce := range actives {
		deepest[ce.vid] = t.Root(ce.vid)
	}

	return Result{Tree: t, InitialEdges: edges, OriginalVertexToDeepest: deepest}
}

// pickWinner returns the most-extreme (under cmp, tie-broken by vertex
// id) root among a set of candidate roots.
func pickWinner(t *tree.TripletMergeTree, roots map[tree.VertexID]bool, negate bool) tree.VertexID {
	var winner tree.VertexID
	first := true
	for r := range roots {
		if first {
			winner = r
			first = false
			continue
		}
		wv, rv := t.Get(winner).Value, t.Get(r).Value
		if grid.MoreExtreme(rv, wv, r, winner, negate, tree.VertexID.Less) {
			winner = r
		}
	}
	return winner
}
