package tree

// Node is spec.md's MergeTreeNode. Parent and Through are always valid
// vertex ids within the owning tree; a root is identified by
// Parent == Vertex. A root also has Through == Vertex, but so does a node
// linked through itself (Link(u, u, v)), so Through alone does not mark
// a root.
type Node struct {
	Vertex   VertexID
	Value    Value
	Parent   VertexID
	Through  VertexID
	Vertices []ValuedVertex // absorbed interior vertices, pruned but kept for integrals
}

// IsRoot reports whether n has not yet been linked under another node.
func (n *Node) IsRoot() bool { return n.Parent == n.Vertex }

// TripletMergeTree is spec.md's TripletMergeTree: a vertex->node map plus
// the sweep orientation.
type TripletMergeTree struct {
	Negate bool
	nodes  map[VertexID]*Node
}

// New creates an empty tree with the given orientation.
func New(negate bool) *TripletMergeTree {
	return &TripletMergeTree{Negate: negate, nodes: make(map[VertexID]*Node)}
}

// Len returns the number of nodes currently in the tree.
func (t *TripletMergeTree) Len() int { return len(t.nodes) }

// Get returns the node for v, or nil if v is not in the tree.
func (t *TripletMergeTree) Get(v VertexID) *Node { return t.nodes[v] }

// Has reports whether v has a node in the tree.
func (t *TripletMergeTree) Has(v VertexID) bool { _, ok := t.nodes[v]; return ok }

// Nodes calls f for every node in the tree. Iteration order is
// unspecified (map order), matching spec.md's "insertion order
// irrelevant" invariant.
func (t *TripletMergeTree) Nodes(f func(*Node)) {
	for _, n := range t.nodes {
		f(n)
	}
}

// Add inserts a leaf for v with the given value if v is not already
// present; returns the (possibly pre-existing) node.
func (t *TripletMergeTree) Add(v VertexID, value Value) *Node {
	if n, ok := t.nodes[v]; ok {
		return n
	}
	n := &Node{Vertex: v, Value: value, Parent: v, Through: v}
	t.nodes[v] = n
	return n
}

// Link sets u's parent to v through saddle s, i.e. "u merges into v
// through saddle s". u, s and v must already have nodes (s is usually u
// or the currently swept vertex; v is the current, more-extreme root).
func (t *TripletMergeTree) Link(u, s, v VertexID) {
	n := t.nodes[u]
	n.Parent = v
	n.Through = s
}

// later reports whether a occurs later than b in the sweep order that
// built this tree (i.e. a is a "higher"/less extreme saddle than b),
// breaking ties on vertex id exactly as spec.md §4.4 requires.
func (t *TripletMergeTree) later(a, b VertexID) bool {
	if a == b {
		return false
	}
	va, vb := t.nodes[a].Value, t.nodes[b].Value
	if va != vb {
		// a is later iff b would be swept first, i.e. b is more extreme.
		return Less(vb, va, b, a, t.Negate)
	}
	return b.Less(a)
}

// Merge folds the nodes of every input tree (plus t itself, if non-empty)
// into a single new tree. Because triplet links are commutative and
// associative (spec.md §4.1), the result does not depend on merge order:
// every vertex's leaf value is copied once, and its own (non-root)
// parent/through link, if any, is replayed verbatim.
func Merge(negate bool, trees ...*TripletMergeTree) *TripletMergeTree {
	out := New(negate)
	for _, src := range trees {
		if src == nil {
			continue
		}
		src.Nodes(func(n *Node) {
			on := out.Add(n.Vertex, n.Value)
			on.Vertices = append(on.Vertices, n.Vertices...)
		})
	}
	for _, src := range trees {
		if src == nil {
			continue
		}
		src.Nodes(func(n *Node) {
			if !n.IsRoot() {
				out.Link(n.Vertex, n.Through, n.Parent)
			}
		})
	}
	return out
}

// Clone returns a deep copy of t, including every node's absorbed
// Vertices list.
func (t *TripletMergeTree) Clone() *TripletMergeTree {
	return Merge(t.Negate, t)
}

// StripVertices drops every node's absorbed-vertex list in place. Used
// before a tree is handed to the exchange fabric: spec.md §4.3(d) sends
// the sparsified tree "without vertex lists", since only the sender
// needs them for its own later integral pass.
func (t *TripletMergeTree) StripVertices() {
	for _, n := range t.nodes {
		n.Vertices = nil
	}
}

// Root walks v's parent chain to its current root, compressing the path
// and carrying the highest saddle exactly as Repair does for a single
// node. This is the operation spec.md §4.2 calls "walk to the current
// root of its merge-tree component" during the local sweep, before a
// full Repair pass is warranted.
func (t *TripletMergeTree) Root(v VertexID) VertexID {
	return t.find(v)
}

// Repair walks every node's parent chain, compresses it directly to the
// root, and sets Through to the highest (least extreme) saddle crossed
// along the way — spec.md §4.1's "navigation is path-compressed" and §3's
// "after repair, through(v) is the highest saddle on v's path to root".
func (t *TripletMergeTree) Repair() {
	for v := range t.nodes {
		t.find(v)
	}
}

// find returns the root of v's chain, compressing the path and updating
// Through on every node visited. It is the tree analogue of union-find's
// Find with path compression (see other_examples/TrevorS-hdbscan
// unionfind.go for the same pattern over plain ints).
func (t *TripletMergeTree) find(v VertexID) VertexID {
	var path []VertexID
	cur := v
	for {
		n := t.nodes[cur]
		if n.IsRoot() {
			break
		}
		path = append(path, cur)
		cur = n.Parent
	}
	root := cur
	if len(path) == 0 {
		return root
	}
	best := t.nodes[path[len(path)-1]].Through
	for _, p := range path {
		if t.later(t.nodes[p].Through, best) {
			best = t.nodes[p].Through
		}
	}
	for _, p := range path {
		n := t.nodes[p]
		n.Parent = root
		n.Through = best
	}
	return root
}

// Predicate decides whether a vertex is retained by Sparsify.
type Predicate func(VertexID) bool

// Sparsify retains only nodes whose vertex satisfies keep, plus every
// ancestor of a retained node (an ancestor of a kept node can never be
// dropped, since dropping it would disconnect the kept node from the
// root). Every removed node's own (value, vertex) pair and its own
// absorbed-vertex list are appended to the Vertices list of the nearest
// retained ancestor still standing after the pass, so integrals computed
// later never lose mass (spec.md §4.1, §4.3's "regular-vertex lists
// absorbed into retained ancestors").
func (t *TripletMergeTree) Sparsify(keep Predicate) {
	t.Repair()

	retained := make(map[VertexID]bool, len(t.nodes))
	t.Nodes(func(n *Node) {
		if keep(n.Vertex) {
			cur := n.Vertex
			for {
				retained[cur] = true
				nn := t.nodes[cur]
				if nn.IsRoot() {
					break
				}
				cur = nn.Parent
			}
		}
	})

	// nearestRetainedAncestor walks up from v (v itself excluded from the
	// search unless v is retained) to the first retained ancestor.
	nearestRetainedAncestor := func(v VertexID) VertexID {
		cur := t.nodes[v].Parent
		for !retained[cur] {
			next := t.nodes[cur].Parent
			if next == cur {
				break
			}
			cur = next
		}
		return cur
	}

	for v, n := range t.nodes {
		if retained[v] {
			continue
		}
		target := nearestRetainedAncestor(v)
		if target == v {
			// v is its own root and nothing else was retained: keep it,
			// there is nowhere to absorb it into.
			continue
		}
		tn := t.nodes[target]
		tn.Vertices = append(tn.Vertices, ValuedVertex{Vertex: n.Vertex, Value: n.Value})
		tn.Vertices = append(tn.Vertices, n.Vertices...)
		delete(t.nodes, v)
	}
}

// RemoveDegree2 splices out nodes with exactly one child that satisfy
// neither inner nor retain, folding their own value and absorbed
// vertices into the surviving child (spec.md §4.1). It iterates to a
// fixed point so chains of removable nodes collapse in one call.
func (t *TripletMergeTree) RemoveDegree2(inner, retain Predicate) {
	for {
		children := make(map[VertexID][]VertexID)
		for v, n := range t.nodes {
			if !n.IsRoot() {
				children[n.Parent] = append(children[n.Parent], v)
			}
		}

		removedAny := false
		for v, n := range t.nodes {
			if n.IsRoot() {
				continue
			}
			kids := children[v]
			if len(kids) != 1 {
				continue
			}
			if inner(v) || retain(v) {
				continue
			}
			c := t.nodes[kids[0]]
			c.Vertices = append(c.Vertices, ValuedVertex{Vertex: n.Vertex, Value: n.Value})
			c.Vertices = append(c.Vertices, n.Vertices...)
			c.Parent = n.Parent
			if t.later(n.Through, c.Through) {
				c.Through = n.Through
			}
			delete(t.nodes, v)
			removedAny = true
		}
		if !removedAny {
			return
		}
	}
}
