// Package swapreduce implements spec.md §4.3's uniform-grid swap-reduce
// (C5): a distance-doubling fan-in that repeatedly merges neighbor trees
// and sparsifies with respect to a growing global bounding box, until
// every block holds a tree spanning the global skeleton above its own
// essential core vertices.
package swapreduce

import (
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/tree"
)

// Position resolves a vertex (possibly owned by a different block, after
// merging) to its index in the shared domain grid, the only information
// swap-reduce needs to decide boundary membership. The caller builds this
// from the bounds of every block in the shared partition (cmd/toposcan
// recomputes them from the grid shape and block count), not from any
// single block's own addressing.
type Position func(tree.VertexID) []int

// Rounds returns the number of recursive-doubling rounds needed to fan in
// nranks blocks (spec.md's "log N rounds"). Block counts that are not a
// power of two still terminate: the schedule below simply leaves a block
// without a partner idle for that round (see DESIGN.md's simplification
// note on "k-ary contiguous" vs. plain binary hypercube exchange).
func Rounds(nranks int) int {
	if nranks <= 1 {
		return 0
	}
	r := 0
	for (1 << uint(r)) < nranks {
		r++
	}
	return r
}

// Partner returns rank's exchange partner for the given round, under a
// binary hypercube (XOR) schedule over contiguous rank ids. ok is false
// when nranks is not a power of two and rank has no partner this round.
func Partner(rank, nranks, round int) (partner int, ok bool) {
	dist := 1 << uint(round)
	if dist >= nranks {
		return 0, false
	}
	p := rank ^ dist
	if p >= nranks {
		return 0, false
	}
	return p, true
}

// IsTerminal reports whether round is the terminal round of the reduce:
// round Rounds(nranks), one past the last exchanging round. No rank has a
// partner in it, so nothing is sent or received; each block only applies
// the terminal sparsification to the tree it already holds.
func IsTerminal(round, nranks int) bool {
	return round == Rounds(nranks)
}

// Outgoing is the message spec.md §4.3(a)/(d) ships to an out-partner.
type Outgoing struct {
	Tree      *tree.TripletMergeTree
	GlobalBox grid.Box
}

// Incoming is what a block receives from one in-partner in a round.
type Incoming struct {
	Tree      *tree.TripletMergeTree
	GlobalBox grid.Box
}

// State is one block's swap-reduce participant: its own tree, its local
// (core) boundary box, and the bounding box it has accumulated so far.
type State struct {
	Negate    bool
	LocalBox  grid.Box
	GlobalBox grid.Box
	Tree      *tree.TripletMergeTree
	Position  Position
}

// NewState starts a block's participation with its own local tree and
// boundary box; GlobalBox begins equal to LocalBox per spec.md §4.3.
func NewState(negate bool, localBox grid.Box, t *tree.TripletMergeTree, pos Position) *State {
	return &State{Negate: negate, LocalBox: localBox, GlobalBox: localBox, Tree: t, Position: pos}
}

func (s *State) onLocalBoundary() tree.Predicate {
	return func(v tree.VertexID) bool { return s.LocalBox.OnBoundary(s.Position(v)) }
}

func (s *State) onBoundaryOf(box grid.Box) tree.Predicate {
	return func(v tree.VertexID) bool { return box.OnBoundary(s.Position(v)) }
}

func (s *State) insideCore() tree.Predicate {
	return func(v tree.VertexID) bool { return s.LocalBox.Contains(s.Position(v)) }
}

func never(tree.VertexID) bool { return false }

func or(a, b tree.Predicate) tree.Predicate {
	return func(v tree.VertexID) bool { return a(v) || b(v) }
}

// PrepareOutgoing builds spec.md §4.3(a)'s send for the current round:
// a copy of s.Tree sparsified to s's own current global boundary, with
// absorbed vertex lists stripped (the receiver never needs the sender's
// interior mass, only its own does).
func (s *State) PrepareOutgoing() Outgoing {
	out := s.Tree.Clone()
	out.Sparsify(s.onBoundaryOf(s.GlobalBox))
	out.StripVertices()
	return Outgoing{Tree: out, GlobalBox: s.GlobalBox}
}

// Round folds incoming partner trees into s per spec.md §4.3(b)/(c): the
// global box grows to the union of every participant's box, the merged
// tree is sparsified to "local boundary OR new global boundary", and
// degree-2 chains outside the core (and not on the new global boundary)
// are spliced out. Call PrepareOutgoing before Round if this round must
// also send to out-partners (every non-terminal round).
func (s *State) Round(incoming []Incoming, terminal bool) {
	trees := make([]*tree.TripletMergeTree, 0, len(incoming)+1)
	trees = append(trees, s.Tree)
	box := s.GlobalBox
	for _, in := range incoming {
		trees = append(trees, in.Tree)
		box = box.Union(in.GlobalBox)
	}
	merged := tree.Merge(s.Negate, trees...)
	s.GlobalBox = box

	if terminal {
		// spec.md §4.3's terminal round: sparsify to local-boundary-only,
		// remove non-core degree-2 nodes, and let Sparsify's absorption
		// (redistribute_vertices) fold every dropped node's vertex list
		// into the nearest retained ancestor.
		merged.Sparsify(s.onLocalBoundary())
		merged.RemoveDegree2(s.insideCore(), never)
	} else {
		gb := s.onBoundaryOf(box)
		merged.Sparsify(or(s.onLocalBoundary(), gb))
		merged.RemoveDegree2(s.insideCore(), gb)
	}
	s.Tree = merged
}
