// Package components implements spec.md §4.4's AMR connected-components
// fixed point (C6): edge symmetrization across block boundaries followed
// by a distributed round protocol that exchanges component descriptors
// until every component's current and processed neighbor sets agree.
package components

import (
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/localtree"
	"github.com/rskv-p/toposcan/internal/tree"
)

// Component is spec.md's per-block AMR component: a local tree root, its
// growing neighbor sets, and the outgoing edges that reach them.
type Component struct {
	Root               tree.VertexID
	CurrentNeighbors   map[int64]bool
	ProcessedNeighbors map[int64]bool
	OutgoingEdges      []localtree.Edge

	edgeSet map[localtree.Edge]bool
}

func newComponent(root tree.VertexID) *Component {
	return &Component{
		Root:               root,
		CurrentNeighbors:   map[int64]bool{},
		ProcessedNeighbors: map[int64]bool{},
		edgeSet:            map[localtree.Edge]bool{},
	}
}

// Done reports whether every gid in CurrentNeighbors has been processed.
func (c *Component) Done() bool {
	for g := range c.CurrentNeighbors {
		if !c.ProcessedNeighbors[g] {
			return false
		}
	}
	return true
}

func (c *Component) addEdge(e localtree.Edge, remoteGID, selfGID int64) bool {
	ce := e.Canonical()
	if c.edgeSet[ce] {
		return false
	}
	c.edgeSet[ce] = true
	c.OutgoingEdges = append(c.OutgoingEdges, ce)
	if remoteGID != selfGID {
		c.CurrentNeighbors[remoteGID] = true
	}
	return true
}

func (c *Component) absorb(o *Component) {
	for _, e := range o.OutgoingEdges {
		if !c.edgeSet[e] {
			c.edgeSet[e] = true
			c.OutgoingEdges = append(c.OutgoingEdges, e)
		}
	}
	for g := range o.CurrentNeighbors {
		c.CurrentNeighbors[g] = true
	}
	for g := range o.ProcessedNeighbors {
		c.ProcessedNeighbors[g] = true
	}
}

// Quad is one (vertex, value, through, parent) entry of a tree fragment
// shipped between blocks, spec.md §4.4 step 1's "compact representation
// of c's share of the local merge tree".
type Quad struct {
	Vertex  tree.VertexID
	Value   tree.Value
	Through tree.VertexID
	Parent  tree.VertexID
}

// Descriptor is the message one component sends to one not-yet-processed
// neighbor: its root, its outgoing edges, and the tree fragment touching
// those edges' near endpoints.
type Descriptor struct {
	Root     tree.VertexID
	Edges    []localtree.Edge
	Fragment []Quad
}

// Block is one block's participant state in the fixed-point iteration.
type Block struct {
	GID        int64
	Negate     bool
	Tree       *tree.TripletMergeTree
	Components map[tree.VertexID]*Component

	// VertexToDeepest tracks, for every vertex this block knows a root
	// for, the root of its component as of the most recent repair —
	// spec.md's current_vertex_to_deepest.
	VertexToDeepest map[tree.VertexID]tree.VertexID
}

// NewBlock builds the component-engine state for a block from its local
// tree builder result (spec.md §4.4's "component creation").
func NewBlock(gid int64, negate bool, res localtree.Result) *Block {
	b := &Block{
		GID:             gid,
		Negate:          negate,
		Tree:            res.Tree,
		Components:      make(map[tree.VertexID]*Component),
		VertexToDeepest: make(map[tree.VertexID]tree.VertexID, len(res.OriginalVertexToDeepest)),
	}
	for v, root := range res.OriginalVertexToDeepest {
		b.VertexToDeepest[v] = root
		if _, ok := b.Components[root]; !ok {
			b.Components[root] = newComponent(root)
		}
	}
	for _, e := range res.InitialEdges {
		own, other, ok := splitEdge(e, gid)
		if !ok {
			continue
		}
		root, ok := b.VertexToDeepest[own]
		if !ok {
			continue
		}
		b.Components[root].addEdge(e, other.GID, gid)
	}
	return b
}

// Rehydrate reconstructs a Block from previously-decoded state (persist's
// restore path), bypassing NewBlock's localtree.Result-driven component
// discovery since that work was already done before the snapshot.
func Rehydrate(gid int64, negate bool, t *tree.TripletMergeTree, vertexToDeepest map[tree.VertexID]tree.VertexID) *Block {
	return &Block{
		GID:             gid,
		Negate:          negate,
		Tree:            t,
		Components:      make(map[tree.VertexID]*Component),
		VertexToDeepest: vertexToDeepest,
	}
}

// RehydrateComponent restores one component's neighbor sets and outgoing
// edges into b, keyed by root exactly as NewBlock would have left it.
func (b *Block) RehydrateComponent(root tree.VertexID, current, processed []int64, edges []localtree.Edge) {
	c := newComponent(root)
	for _, g := range current {
		c.CurrentNeighbors[g] = true
	}
	for _, g := range processed {
		c.ProcessedNeighbors[g] = true
	}
	for _, e := range edges {
		ce := e.Canonical()
		c.edgeSet[ce] = true
		c.OutgoingEdges = append(c.OutgoingEdges, ce)
	}
	b.Components[root] = c
}

func splitEdge(e localtree.Edge, gid int64) (own, other tree.VertexID, ok bool) {
	switch {
	case e.A.GID == gid:
		return e.A, e.B, true
	case e.B.GID == gid:
		return e.B, e.A, true
	default:
		return tree.VertexID{}, tree.VertexID{}, false
	}
}

// Symmetrize ingests a neighbor's initial (pre-round) outgoing edges per
// spec.md §4.4's edge symmetrization pass: edges whose local endpoint
// isn't one of this block's known (Active) vertices are discarded (they
// are LOW on this side), and surviving edges are added to the owning
// component's set, deduplicated.
func (b *Block) Symmetrize(edges []localtree.Edge) {
	for _, e := range edges {
		ce := e.Canonical()
		own, other, ok := splitEdge(ce, b.GID)
		if !ok {
			continue
		}
		root, ok := b.VertexToDeepest[own]
		if !ok {
			continue
		}
		b.Components[root].addEdge(ce, other.GID, b.GID)
	}
}

// Send builds, for every not-done component with unprocessed neighbors,
// one Descriptor per unprocessed gid and marks that gid processed for
// the component immediately (spec.md §4.4 step 1) — independent of
// whether the message is ever delivered, since convergence only depends
// on processed ⊆ current eventually matching on both sides.
func (b *Block) Send() map[int64][]Descriptor {
	out := make(map[int64][]Descriptor)
	for root, c := range b.Components {
		if c.Done() {
			continue
		}
		for g := range c.CurrentNeighbors {
			if c.ProcessedNeighbors[g] {
				continue
			}
			out[g] = append(out[g], Descriptor{
				Root:     root,
				Edges:    append([]localtree.Edge(nil), c.OutgoingEdges...),
				Fragment: b.fragment(c.OutgoingEdges),
			})
			c.ProcessedNeighbors[g] = true
		}
	}
	return out
}

// fragment collects the (vertex, value, through, parent) quadruples on
// the path from each edge's near endpoint (the one owned by this block)
// up to its current root, deduplicated — the minimal subtree a receiver
// needs to link the edge in without seeing the whole local tree.
func (b *Block) fragment(edges []localtree.Edge) []Quad {
	seen := make(map[tree.VertexID]bool)
	var out []Quad
	// add walks v's ancestor chain to the root, and at every node also
	// pulls in its Through target: after Repair, Through may point at a
	// vertex on a different branch than the direct ancestor chain, and a
	// receiver needs that node resolvable too (see FinalDiagrams).
	var add func(v tree.VertexID)
	add = func(v tree.VertexID) {
		if seen[v] {
			return
		}
		n := b.Tree.Get(v)
		if n == nil {
			return
		}
		seen[v] = true
		out = append(out, Quad{Vertex: n.Vertex, Value: n.Value, Through: n.Through, Parent: n.Parent})
		add(n.Through)
		if !n.IsRoot() {
			add(n.Parent)
		}
	}
	for _, e := range edges {
		own, _, ok := splitEdge(e, b.GID)
		if ok {
			add(own)
		}
	}
	return out
}

// Receive ingests the descriptors delivered to this block in the current
// round (spec.md §4.4 step 3): it links every fragment's edges into its
// own tree, repairs, recomputes VertexToDeepest, forwards absorbed
// components into their winners, and grows CurrentNeighbors wherever the
// new edges reach further.
func (b *Block) Receive(descs []Descriptor) {
	for _, d := range descs {
		for _, q := range d.Fragment {
			n := b.Tree.Add(q.Vertex, q.Value)
			if n.Parent == n.Vertex && q.Parent != q.Vertex {
				// only adopt a foreign link if we don't already have our
				// own opinion about this vertex's parent.
				b.Tree.Link(q.Vertex, q.Through, q.Parent)
			}
		}
		for _, e := range d.Edges {
			own, other, ok := splitEdge(e, b.GID)
			if !ok {
				continue
			}
			if !b.Tree.Has(own) || !b.Tree.Has(other) {
				continue
			}
			b.linkEdge(own, other)
		}
	}

	b.Tree.Repair()
	b.recomputeDeepest()

	for _, d := range descs {
		for _, e := range d.Edges {
			own, other, ok := splitEdge(e, b.GID)
			if !ok {
				continue
			}
			root, ok := b.VertexToDeepest[own]
			if !ok {
				continue
			}
			b.Components[root].addEdge(e, other.GID, b.GID)
		}
	}
}

// linkEdge joins the components owning u and v (both already present in
// the tree) via a triplet link, per spec.md §4.4 step 3(i): the more
// extreme of the two endpoints under cmp serves as the saddle, and the
// more extreme of the two current roots becomes the surviving root.
func (b *Block) linkEdge(u, v tree.VertexID) {
	ru, rv := b.Tree.Root(u), b.Tree.Root(v)
	if ru == rv {
		return
	}
	var saddle tree.VertexID
	uv, vv := b.Tree.Get(u).Value, b.Tree.Get(v).Value
	if grid.MoreExtreme(uv, vv, u, v, b.Negate, tree.VertexID.Less) {
		saddle = u
	} else {
		saddle = v
	}
	ruv, rvv := b.Tree.Get(ru).Value, b.Tree.Get(rv).Value
	var winner, loser tree.VertexID
	if grid.MoreExtreme(ruv, rvv, ru, rv, b.Negate, tree.VertexID.Less) {
		winner, loser = ru, rv
	} else {
		winner, loser = rv, ru
	}
	b.Tree.Link(loser, saddle, winner)
}

func (b *Block) recomputeDeepest() {
	newDeepest := make(map[tree.VertexID]tree.VertexID, len(b.VertexToDeepest))
	for v := range b.VertexToDeepest {
		newDeepest[v] = b.Tree.Root(v)
	}
	b.Tree.Nodes(func(n *tree.Node) {
		if _, ok := newDeepest[n.Vertex]; !ok {
			newDeepest[n.Vertex] = b.Tree.Root(n.Vertex)
		}
	})

	merged := make(map[tree.VertexID]*Component, len(b.Components))
	for oldRoot, c := range b.Components {
		newRoot := b.Tree.Root(oldRoot)
		if existing, ok := merged[newRoot]; ok && existing != c {
			existing.absorb(c)
		} else {
			c.Root = newRoot
			merged[newRoot] = c
		}
	}
	b.Components = merged
	b.VertexToDeepest = newDeepest
}

// NotDoneCount returns the number of components not yet Done, the value
// spec.md §4.4 step 4's all-reduce sums to decide global convergence.
func (b *Block) NotDoneCount() int {
	n := 0
	for _, c := range b.Components {
		if !c.Done() {
			n++
		}
	}
	return n
}

// Pair is a (birth, death) persistence pair.
type Pair struct {
	Birth, Death tree.Value
}

// FinalDiagrams computes spec.md §4.4's final pass: local_diagrams_ keyed
// by (final) component root, skipping zero-persistence points and pairs
// whose birth is below rho.
func (b *Block) FinalDiagrams(rho float64) map[tree.VertexID][]Pair {
	b.Tree.Repair()
	b.recomputeDeepest()

	out := make(map[tree.VertexID][]Pair)
	b.Tree.Nodes(func(n *tree.Node) {
		if n.IsRoot() {
			return
		}
		if n.Value < rho {
			return
		}
		death := b.Tree.Get(n.Through).Value
		if n.Value == death {
			return
		}
		root := b.Tree.Root(n.Vertex)
		out[root] = append(out[root], Pair{Birth: n.Value, Death: death})
	})
	return out
}
