// Package reader implements spec.md §6's abstract input readers: a dense
// ScalarReader over uniform grids (backed by .npy) and a hierarchical
// AMRReader (backed by an implementation-defined binary box format),
// unified behind one interface so C4's local tree builder never needs to
// know which kind of input produced its values.
package reader

import "github.com/rskv-p/toposcan/internal/grid"

// ScalarReader exposes a dense scalar field over a fixed shape, read a
// box at a time. Callers request only the sub-box they need (their
// block's ghosted bounds), matching spec.md §5's "the compute-block
// copies the values it needs ... and releases the reader-block."
type ScalarReader interface {
	Shape() grid.Shape
	ReadBox(box grid.Box) ([]grid.Value, error)
	Close() error
}

// BoxMeta is one AMR box's static description, independent of field
// values: its identity, level, refinement and core footprint. Its links to
// adjacent boxes (spec.md's AMRLink, see internal/amrbox.Link) are served
// separately by AMRReader.Neighbors.
type BoxMeta struct {
	GID        int64
	Level      int
	Refinement int
	Core       grid.Box
}

// AMRReader additionally exposes the box hierarchy and per-box adjacency
// an AMR run needs to build each block's MaskedBox and initial edge set.
type AMRReader interface {
	Domain() grid.Domain
	Boxes() []BoxMeta
	Neighbors(gid int64) []NeighborRecord
	ReadBoxValues(gid int64, bounds grid.Box) ([]grid.Value, error)
	Close() error
}

// NeighborRecord mirrors amrbox.NeighborBox in the reader's own type, so
// this package does not need to import amrbox just to describe adjacency;
// the caller wiring readers into amrbox.Link does that conversion.
type NeighborRecord struct {
	GID        int64
	Refinement int
	Level      int
	Bounds     grid.Box
}
