package amrbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/toposcan/internal/grid"
)

func domain8() grid.Domain {
	return grid.Domain{Shape: grid.Shape{8, 8}, CellSize: []float64{1, 1}, Wrap: true}
}

func TestInitMaskSingleBlockAllGhostWraps(t *testing.T) {
	// A single block covering the whole 8x8 periodic domain: its own
	// ghost rim wraps back onto its own core, so it is its own neighbor.
	core := grid.NewBox([]int{0, 0}, []int{7, 7})
	box := New(1, 0, 1, core, domain8())

	link := Link{GID: 1, Neighbors: []NeighborBox{{GID: 1, Refinement: 1, Level: 0, Bounds: box.Bounds}}}
	lookup := func(folded []int) (int64, int, bool, bool) {
		if core.Contains(folded) {
			return 0, 0, false, false // resolved as Active by InitMask itself
		}
		return 1, 0, false, true
	}
	box.InitMask(link, lookup)

	activeCount := 0
	ghostCount := 0
	box.Cells(func(global []int, c *Cell) {
		switch c.State {
		case Active:
			activeCount++
		case Ghost:
			ghostCount++
			assert.Equal(t, int64(1), c.Owner)
		}
	})
	assert.Equal(t, 64, activeCount)
	assert.True(t, ghostCount > 0)
}

func TestInitMaskPanicsOnUnknownGID(t *testing.T) {
	// core leaves room in the domain, so its rim folds outside it and is
	// attributed by lookup to gid 2.
	core := grid.NewBox([]int{0, 0}, []int{3, 3})
	box := New(1, 0, 1, core, domain8())
	link := Link{GID: 1} // neighbor 2 not registered

	lookup := func(folded []int) (int64, int, bool, bool) {
		if core.Contains(folded) {
			return 0, 0, false, false
		}
		return 2, 0, false, true
	}
	assert.Panics(t, func() { box.InitMask(link, lookup) })
}

func TestApplyThresholdMarksLowOnlyInCore(t *testing.T) {
	core := grid.NewBox([]int{0, 0}, []int{3, 3})
	box := New(1, 0, 1, core, grid.Domain{Shape: grid.Shape{6, 6}, CellSize: []float64{1, 1}, Wrap: true})
	box.Cells(func(global []int, c *Cell) {
		if core.Contains(global) {
			c.State = Active
		} else {
			c.State = Ghost
		}
		box.SetValue(global, 0.2)
	})

	box.ApplyThreshold(0.5, false)

	lowInCore := 0
	box.Cells(func(global []int, c *Cell) {
		if core.Contains(global) {
			assert.Equal(t, Low, c.State)
			lowInCore++
		} else {
			assert.Equal(t, Ghost, c.State)
		}
	})
	assert.Equal(t, 16, lowInCore)
}

func TestSumCountOnlyCountsActiveCore(t *testing.T) {
	core := grid.NewBox([]int{0, 0}, []int{1, 1})
	box := New(1, 0, 1, core, grid.Domain{Shape: grid.Shape{4, 4}, CellSize: []float64{1, 1}, Wrap: true})
	box.Cells(func(global []int, c *Cell) {
		if core.Contains(global) {
			c.State = Active
			box.SetValue(global, 2.0)
		} else {
			c.State = Ghost
			box.SetValue(global, 100.0)
		}
	})
	sum, count := box.SumCount()
	require.Equal(t, int64(4), count)
	assert.Equal(t, 8.0, sum)
}
