// Package amrbox implements spec.md §3/§4.2's MaskedBox (C3): a
// block-local grid with a mask marking each cell LOW, ACTIVE, MASKED (by
// a finer neighbor) or GHOST (owned by a coarser/equal neighbor).
package amrbox

import (
	"fmt"

	"github.com/rskv-p/toposcan/internal/grid"
)

// State is one of spec.md's four mask values.
type State uint8

const (
	// Active cells carry topology.
	Active State = iota
	// Low cells are below threshold (or below relative-to-mean threshold)
	// and never carry topology.
	Low
	// Masked cells are refined away by a finer block.
	Masked
	// Ghost cells are owned by a named neighbor at this or a coarser level.
	Ghost
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Low:
		return "LOW"
	case Masked:
		return "MASKED"
	case Ghost:
		return "GHOST"
	default:
		return "UNKNOWN"
	}
}

// Cell is one entry of the mask.
type Cell struct {
	State State
	// Owner is the neighbor gid for Masked/Ghost cells, undefined otherwise.
	Owner int64
	// OwnerLevel is that neighbor's AMR refinement level.
	OwnerLevel int
}

// NeighborBox is one entry of spec.md's AMRLink: an adjacent AMR box
// description used both for addressing edges and for mask resolution.
type NeighborBox struct {
	GID        int64
	Refinement int
	Level      int
	Bounds     grid.Box
}

// Link is spec.md's AMRLink: a block's ordered set of adjacent boxes.
type Link struct {
	GID       int64
	Neighbors []NeighborBox
}

// ByGID returns the neighbor entry for gid, or false if absent.
func (l Link) ByGID(gid int64) (NeighborBox, bool) {
	for _, n := range l.Neighbors {
		if n.GID == gid {
			return n, true
		}
	}
	return NeighborBox{}, false
}

// MaskedBox is spec.md's MaskedBox (C3).
type MaskedBox struct {
	GID        int64
	Level      int
	Refinement int
	Core       grid.Box
	Bounds     grid.Box
	Domain     grid.Domain

	cells  []Cell
	Values []grid.Value // parallel to cells, indexed the same way
}

// New builds a MaskedBox whose Bounds is Core grown by one ghost cell on
// every axis, kept in unfolded global coordinates; rim indices are folded
// through the domain (which wraps unless Domain.Wrap is false — see
// DESIGN.md's Open Question on `-w`) only when they are resolved.
func New(gid int64, level, refinement int, core grid.Box, domain grid.Domain) *MaskedBox {
	bounds := core.Grow(1)
	n := bounds.Shape().Size()
	return &MaskedBox{
		GID:        gid,
		Level:      level,
		Refinement: refinement,
		Core:       core,
		Bounds:     bounds,
		Domain:     domain,
		cells:      make([]Cell, n),
		Values:     make([]grid.Value, n),
	}
}

// localIndex converts a global (pre-fold) index into the linear offset
// of cells/Values, relative to Bounds.Min.
func (b *MaskedBox) localIndex(global []int) int64 {
	rel := make([]int, len(global))
	for i, v := range global {
		rel[i] = v - b.Bounds.Min[i]
	}
	return b.Bounds.Shape().Linear(rel)
}

// Index returns the linear offset (VertexID.Index) of a global (pre-fold)
// index within Bounds, the addressing scheme spec.md §3 requires every
// block use for its own vertices.
func (b *MaskedBox) Index(global []int) int64 {
	return b.localIndex(global)
}

// At returns the cell at a global (pre-fold) index.
func (b *MaskedBox) At(global []int) *Cell {
	return &b.cells[b.localIndex(global)]
}

// ValueAt returns the field value at a global (pre-fold) index.
func (b *MaskedBox) ValueAt(global []int) grid.Value {
	return b.Values[b.localIndex(global)]
}

// SetValue stores the field value at a global (pre-fold) index.
func (b *MaskedBox) SetValue(global []int, v grid.Value) {
	b.Values[b.localIndex(global)] = v
}

// Cells calls f for every (global index, cell) pair in Bounds.
func (b *MaskedBox) Cells(f func(global []int, c *Cell)) {
	sh := b.Bounds.Shape()
	n := sh.Size()
	for lin := int64(0); lin < n; lin++ {
		rel := sh.Vertex(lin)
		global := make([]int, len(rel))
		for i := range rel {
			global[i] = rel[i] + b.Bounds.Min[i]
		}
		f(global, &b.cells[lin])
	}
}

// NeighborLookup resolves, for a global cell index, whether it is owned
// by a finer neighbor (gid, ok=true, finer=true) or a coarser/equal one
// (ok=true, finer=false). It abstracts the out-of-scope AMR hierarchy
// reader: InitMask only needs "who owns this cell", never the reader
// itself (spec.md §1's external-collaborator boundary).
type NeighborLookup func(global []int) (gid int64, level int, finer bool, ok bool)

// InitMask assigns Active/Masked/Ghost to every cell of Bounds per
// spec.md §4.2: cells inside Core default Active unless a finer neighbor
// claims them (Masked); cells in the ghost rim (Bounds minus Core) are
// resolved to their owning neighbor (Ghost), or to this block itself when
// the folded index lands back in its own Core. A referenced gid absent from
// link is a mask-validity failure (spec.md §7.iii): a fatal assertion,
// never a user-input error.
func (b *MaskedBox) InitMask(link Link, lookup NeighborLookup) {
	b.Cells(func(global []int, c *Cell) {
		folded := b.Domain.Fold(global)
		inCore := b.Core.Contains(global)

		gid, level, finer, ok := lookup(folded)
		switch {
		case ok && finer:
			assertKnownNeighbor(link, gid)
			c.State = Masked
			c.Owner = gid
			c.OwnerLevel = level
		case inCore:
			c.State = Active
		case ok:
			assertKnownNeighbor(link, gid)
			c.State = Ghost
			c.Owner = gid
			c.OwnerLevel = level
		case b.Core.Contains(folded):
			// A rim cell that wraps back onto this block's own core (the
			// block spans a periodic axis) is a ghost of the block itself.
			c.State = Ghost
			c.Owner = b.GID
			c.OwnerLevel = b.Level
		default:
			// Outside core, outside any known neighbor: leave Active only
			// if somehow still inside Core (impossible here) — otherwise
			// this is an unaddressed rim cell, a link construction bug.
			panic(fmt.Sprintf("amrbox: rim cell %v for gid %d has no owning neighbor in link", global, b.GID))
		}
	})
}

func assertKnownNeighbor(link Link, gid int64) {
	if gid == link.GID {
		return
	}
	if _, ok := link.ByGID(gid); !ok {
		panic(fmt.Sprintf("amrbox: mask references gid %d not present in link for gid %d", gid, link.GID))
	}
}

// SumCount accumulates the sum and count of unmasked (Active) Core cell
// values, for the global mean used to scale relative thresholds
// (spec.md §4.2).
func (b *MaskedBox) SumCount() (sum float64, count int64) {
	b.Cells(func(global []int, c *Cell) {
		if c.State == Active && b.Core.Contains(global) {
			sum += b.ValueAt(global)
			count++
		}
	})
	return sum, count
}

// ApplyThreshold marks Core Active cells Low when cmp(value, rho, negate)
// holds (spec.md §4.2's second pass, after rho has possibly been scaled
// by the global mean by the caller).
func (b *MaskedBox) ApplyThreshold(rho float64, negate bool) {
	b.Cells(func(global []int, c *Cell) {
		if c.State == Active && b.Core.Contains(global) && grid.Cmp(b.ValueAt(global), rho, negate) {
			c.State = Low
		}
	})
}
