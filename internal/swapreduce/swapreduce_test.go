package swapreduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/tree"
)

// fourBlockLine builds 4 blocks, each a 1x4 strip of a 4x4 global uniform
// grid, with a single minimum at the far end so the fan-in must cross
// every block before the global root settles.
func fourBlockLine(t *testing.T) ([]*State, map[int]grid.Box) {
	t.Helper()
	nblocks := 4
	bounds := make(map[int]grid.Box, nblocks)
	states := make([]*State, nblocks)

	values := map[[2]int]float64{}
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			values[[2]int{x, y}] = 10.0
		}
	}
	values[[2]int{3, 3}] = 0.0 // single global minimum, owned by block 3

	for b := 0; b < nblocks; b++ {
		local := grid.NewBox([]int{b, 0}, []int{b, 3})
		bounds[b] = local

		tr := tree.New(false)
		var prev *tree.VertexID
		for y := 0; y < 4; y++ {
			vid := tree.VertexID{GID: int64(b), Index: int64(y)}
			tr.Add(vid, values[[2]int{b, y}])
			if prev != nil {
				// Chain within the block in sweep order isn't guaranteed
				// sorted here; Repair's path compression doesn't require
				// insertion order, only a valid existing link structure,
				// so link each new leaf under whichever of the two is
				// more extreme.
				a, bb := *prev, vid
				av, bv := tr.Get(a).Value, tr.Get(bb).Value
				if grid.Cmp(bv, av, false) || (bv == av && bb.Less(a)) {
					tr.Link(a, a, bb)
				} else {
					tr.Link(bb, bb, a)
				}
			}
			prev = &vid
		}
		tr.Repair()
		states[b] = NewState(false, local, tr, nil)
	}

	pos := func(v tree.VertexID) []int {
		b := int(v.GID)
		return []int{b, int(v.Index)}
	}
	for _, s := range states {
		s.Position = pos
	}
	return states, bounds
}

func runFanIn(t *testing.T, states []*State) {
	t.Helper()
	n := len(states)
	rounds := Rounds(n)
	for r := 0; r <= rounds; r++ {
		terminal := IsTerminal(r, n)
		outgoing := make([]Outgoing, n)
		for rank, s := range states {
			if _, ok := Partner(rank, n, r); ok && !terminal {
				outgoing[rank] = s.PrepareOutgoing()
			}
		}
		for rank, s := range states {
			partner, ok := Partner(rank, n, r)
			if !ok {
				continue
			}
			s.Round([]Incoming{{Tree: outgoing[partner].Tree, GlobalBox: outgoing[partner].GlobalBox}}, terminal)
		}
		if terminal {
			break
		}
	}
}

func TestRoundsAndPartnerHypercubeSchedule(t *testing.T) {
	require.Equal(t, 2, Rounds(4))
	p, ok := Partner(0, 4, 0)
	require.True(t, ok)
	assert.Equal(t, 1, p)
	p, ok = Partner(0, 4, 1)
	require.True(t, ok)
	assert.Equal(t, 2, p)
	_, ok = Partner(1, 3, 1)
	assert.False(t, ok, "non-power-of-two leaves a rank without a partner in some round")
}

func TestFanInConvergesToGlobalMinimum(t *testing.T) {
	states, bounds := fourBlockLine(t)
	runFanIn(t, states)

	want := grid.NewBox([]int{0, 0}, []int{3, 3})
	for rank, s := range states {
		assert.Equal(t, want, s.GlobalBox, "rank %d global box", rank)
		assert.True(t, s.Tree.Has(tree.VertexID{GID: 3, Index: 3}), "rank %d should retain the global minimum on its boundary/core skeleton", rank)
		assert.Equal(t, bounds[rank], s.LocalBox)
	}
}

func TestPrepareOutgoingStripsVertexLists(t *testing.T) {
	states, _ := fourBlockLine(t)
	out := states[0].PrepareOutgoing()
	out.Tree.Nodes(func(n *tree.Node) {
		assert.Nil(t, n.Vertices)
	})
}
