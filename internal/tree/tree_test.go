package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(gid, idx int64) VertexID { return VertexID{GID: gid, Index: idx} }

// buildChain builds a small sublevel-set tree:
//
//	leaf a(0) --\
//	             > through b(1) -> root c(2)
//	leaf d(0.5) /
func buildChain(t *testing.T) (*TripletMergeTree, VertexID, VertexID, VertexID) {
	tr := New(false)
	a, b, c := v(0, 0), v(0, 1), v(0, 2)
	tr.Add(a, 0.0)
	tr.Add(b, 1.0)
	tr.Add(c, 2.0)
	tr.Link(a, b, b) // a merges into b through b itself (b is the saddle)
	tr.Link(b, c, c) // b merges into c through c
	return tr, a, b, c
}

func TestAddIdempotent(t *testing.T) {
	tr := New(false)
	n1 := tr.Add(v(0, 0), 5.0)
	n2 := tr.Add(v(0, 0), 99.0)
	assert.Same(t, n1, n2)
	assert.Equal(t, 5.0, tr.Get(v(0, 0)).Value)
}

func TestRepairPathCompressionAndHighestSaddle(t *testing.T) {
	tr, a, b, c := buildChain(t)
	tr.Repair()

	na := tr.Get(a)
	assert.Equal(t, c, na.Parent, "repair must compress parent directly to root")
	assert.Equal(t, c, na.Through, "repair must carry the highest saddle on the path")

	nb := tr.Get(b)
	assert.Equal(t, c, nb.Parent)
	assert.Equal(t, c, nb.Through)

	nc := tr.Get(c)
	assert.True(t, nc.IsRoot())
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a, b, c := v(0, 0), v(0, 1), v(0, 2)

	t1 := New(false)
	t1.Add(a, 0.0)
	t1.Add(b, 1.0)
	t1.Link(a, b, b)

	t2 := New(false)
	t2.Add(b, 1.0)
	t2.Add(c, 2.0)
	t2.Link(b, c, c)

	m1 := Merge(false, t1, t2)
	m2 := Merge(false, t2, t1)

	m1.Repair()
	m2.Repair()

	require.Equal(t, m1.Len(), m2.Len())
	assert.Equal(t, m1.Get(a).Parent, m2.Get(a).Parent)
	assert.Equal(t, m1.Get(a).Through, m2.Get(a).Through)
}

func TestSparsifyRetainsAncestorsAndAbsorbsInterior(t *testing.T) {
	tr, a, b, c := buildChain(t)
	tr.Repair()

	// keep only the leaf and the root; b is interior and must be absorbed.
	tr.Sparsify(func(id VertexID) bool { return id == a || id == c })

	assert.True(t, tr.Has(a))
	assert.True(t, tr.Has(c))
	assert.False(t, tr.Has(b), "interior node not satisfying predicate must be removed")

	na := tr.Get(a)
	assert.Equal(t, c, na.Parent, "a's only surviving ancestor is the root")

	// after Repair b's parent is c, so c is b's nearest retained ancestor.
	var found bool
	for _, vv := range tr.Get(c).Vertices {
		if vv.Vertex == b {
			found = true
		}
	}
	assert.True(t, found, "b's mass must be absorbed into the nearest retained ancestor")
}

func TestSparsifyKeepsTopologyForRetainedPredicate(t *testing.T) {
	tr, a, _, c := buildChain(t)
	tr.Repair()
	tr.Sparsify(func(id VertexID) bool { return id == a || id == c })

	// restricting further to just the root must be a no-op on the root.
	tr.Sparsify(func(id VertexID) bool { return id == c })
	assert.True(t, tr.Has(c))
	assert.False(t, tr.Has(a))
}

func TestRemoveDegree2SplicesChain(t *testing.T) {
	tr, a, b, c := buildChain(t)
	tr.Repair()

	inner := func(VertexID) bool { return false }
	retain := func(id VertexID) bool { return id == a || id == c }
	tr.RemoveDegree2(inner, retain)

	assert.False(t, tr.Has(b), "degree-2 node not retained/inner must be spliced out")
	na := tr.Get(a)
	assert.Equal(t, c, na.Parent)

	var found bool
	for _, vv := range na.Vertices {
		if vv.Vertex == b {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNegateOrientationReversesLaterComparison(t *testing.T) {
	tr := New(true)
	a, b := v(0, 0), v(0, 1)
	tr.Add(a, 10.0)
	tr.Add(b, 1.0)
	tr.Link(a, b, b)
	tr.Repair()
	assert.Equal(t, b, tr.Get(a).Parent)
	assert.True(t, tr.Get(b).IsRoot())
	assert.True(t, tr.later(b, a), "under negate the smaller value b is swept after a")
}
