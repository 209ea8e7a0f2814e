package main

import (
	"github.com/rskv-p/toposcan/internal/grid"
)

// splitShape cuts shape into nblocks contiguous inclusive-range slabs
// along axis 0, the uniform-grid partition (one slab per rank; AMR boxes
// are assigned by ownerOfAMRBox below instead): simple enough that every rank can
// recompute any other rank's core box from (shape, nblocks) alone,
// without a block-bounds broadcast round.
func splitShape(shape grid.Shape, nblocks int) []grid.Box {
	if nblocks < 1 {
		nblocks = 1
	}
	total := shape[0]
	base := total / nblocks
	rem := total % nblocks
	boxes := make([]grid.Box, nblocks)
	start := 0
	for i := 0; i < nblocks; i++ {
		size := base
		if i < rem {
			size++
		}
		min := make([]int, len(shape))
		max := make([]int, len(shape))
		min[0] = start
		max[0] = start + size - 1
		for d := 1; d < len(shape); d++ {
			min[d] = 0
			max[d] = shape[d] - 1
		}
		boxes[i] = grid.NewBox(min, max)
		start += size
	}
	return boxes
}

// sliceNeighbors returns the (at most two) slab indices adjacent to
// slab i under splitShape's axis-0 partition, wrapping when wrap is set.
func sliceNeighbors(i, nblocks int, wrap bool) []int {
	if nblocks <= 1 {
		return nil
	}
	var out []int
	lo, hi := i-1, i+1
	if lo < 0 {
		if wrap {
			lo = nblocks - 1
		} else {
			lo = -1
		}
	}
	if hi >= nblocks {
		if wrap {
			hi = 0
		} else {
			hi = -1
		}
	}
	if lo >= 0 && lo != i {
		out = append(out, lo)
	}
	if hi >= 0 && hi != i && hi != lo {
		out = append(out, hi)
	}
	return out
}

// ownerOfAMRBox assigns an AMR box to a rank by simple round robin over
// box index order (spec.md leaves load-balanced AMR box assignment
// implementation-defined; see DESIGN.md).
func ownerOfAMRBox(boxIndex, nranks int) int {
	return boxIndex % nranks
}
