// Package persist implements spec.md §7's on-disk block store format:
// a JSON encoding of a components.Block (the masked box's bounds,
// merge-tree nodes with their absorbed-vertex payloads, per-component
// neighbor sets, and convergence state; the box's core, level, refinement
// and cell-state mask are not stored) wrapped in a blake2b-256 checksum,
// adapted from
// codec/codec.go's Message envelope — a typed header plus a body blob —
// retargeted at a block snapshot instead of a bus message.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/rskv-p/toposcan/internal/components"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/localtree"
	"github.com/rskv-p/toposcan/internal/tree"
)

// FormatVersion guards against reading a block file written by an
// incompatible future layout.
const FormatVersion = 1

// NodeRecord is the wire form of a tree.Node.
type NodeRecord struct {
	Vertex   tree.VertexID       `json:"vertex"`
	Value    tree.Value          `json:"value"`
	Through  tree.VertexID       `json:"through"`
	Parent   tree.VertexID       `json:"parent"`
	Vertices []tree.ValuedVertex `json:"vertices,omitempty"`
}

// ComponentRecord is the wire form of a components.Component.
type ComponentRecord struct {
	Root               tree.VertexID    `json:"root"`
	CurrentNeighbors   []int64          `json:"current_neighbors,omitempty"`
	ProcessedNeighbors []int64          `json:"processed_neighbors,omitempty"`
	OutgoingEdges      []localtree.Edge `json:"outgoing_edges,omitempty"`
}

// BlockRecord is the full on-disk snapshot of one block's component-engine
// state, sufficient to resume the fixed-point iteration or run the final
// diagram/integral passes after a restart.
type BlockRecord struct {
	Version int `json:"version"`

	GID    int64    `json:"gid"`
	Negate bool     `json:"negate"`
	Box    grid.Box `json:"box"`

	Nodes      []NodeRecord      `json:"nodes"`
	Components []ComponentRecord `json:"components"`

	// VertexToDeepest is persisted as parallel slices rather than a map:
	// encoding/json requires string-able map keys, and a parallel-slice
	// pair round-trips without relying on VertexID's MarshalText being
	// wired into every consumer of this package.
	DeepestVertices []tree.VertexID `json:"deepest_vertices,omitempty"`
	DeepestRoots    []tree.VertexID `json:"deepest_roots,omitempty"`

	Converged bool `json:"converged"`

	Checksum string `json:"checksum"`
}

// EncodeBlock captures b's current state into a BlockRecord. box is the
// block's masked-box bounds (not tracked by components.Block itself),
// passed in by the caller that owns the amrbox.MaskedBox.
func EncodeBlock(b *components.Block, box grid.Box) *BlockRecord {
	rec := &BlockRecord{
		Version: FormatVersion,
		GID:     b.GID,
		Negate:  b.Negate,
		Box:     box,
	}

	b.Tree.Nodes(func(n *tree.Node) {
		rec.Nodes = append(rec.Nodes, NodeRecord{
			Vertex:   n.Vertex,
			Value:    n.Value,
			Through:  n.Through,
			Parent:   n.Parent,
			Vertices: n.Vertices,
		})
	})

	for _, c := range b.Components {
		cr := ComponentRecord{Root: c.Root, OutgoingEdges: c.OutgoingEdges}
		for g := range c.CurrentNeighbors {
			cr.CurrentNeighbors = append(cr.CurrentNeighbors, g)
		}
		for g := range c.ProcessedNeighbors {
			cr.ProcessedNeighbors = append(cr.ProcessedNeighbors, g)
		}
		rec.Components = append(rec.Components, cr)
	}
	rec.Converged = b.NotDoneCount() == 0

	for v, root := range b.VertexToDeepest {
		rec.DeepestVertices = append(rec.DeepestVertices, v)
		rec.DeepestRoots = append(rec.DeepestRoots, root)
	}

	return rec
}

// DecodeBlock rebuilds a components.Block from rec. The resulting block's
// Tree and Components are fully populated, but it bypasses NewBlock's
// localtree.Result-driven construction entirely — this is a restore path,
// not a rebuild from raw field data.
func DecodeBlock(rec *BlockRecord) (*components.Block, error) {
	if rec.Version != FormatVersion {
		return nil, fmt.Errorf("persist: block record version %d unsupported (want %d)", rec.Version, FormatVersion)
	}

	t := tree.New(rec.Negate)
	for _, nr := range rec.Nodes {
		n := t.Add(nr.Vertex, nr.Value)
		n.Through = nr.Through
		n.Parent = nr.Parent
		n.Vertices = nr.Vertices
	}

	vertexToDeepest := make(map[tree.VertexID]tree.VertexID, len(rec.DeepestVertices))
	for i, v := range rec.DeepestVertices {
		if i >= len(rec.DeepestRoots) {
			return nil, fmt.Errorf("persist: block %d: mismatched deepest-vertex/root slice lengths", rec.GID)
		}
		vertexToDeepest[v] = rec.DeepestRoots[i]
	}

	b := components.Rehydrate(rec.GID, rec.Negate, t, vertexToDeepest)
	for _, cr := range rec.Components {
		b.RehydrateComponent(cr.Root, cr.CurrentNeighbors, cr.ProcessedNeighbors, cr.OutgoingEdges)
	}
	return b, nil
}

// Marshal computes rec's checksum over its checksum-less encoding and
// returns the final JSON bytes, checksum included.
func Marshal(rec *BlockRecord) ([]byte, error) {
	rec.Checksum = ""
	unchecked, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal block %d: %w", rec.GID, err)
	}
	sum := blake2b.Sum256(unchecked)
	rec.Checksum = fmt.Sprintf("%x", sum)
	return json.Marshal(rec)
}

// Unmarshal parses data into a BlockRecord and verifies its checksum
// against the payload, catching truncated writes and disk corruption
// before a resumed run acts on bad state.
func Unmarshal(data []byte) (*BlockRecord, error) {
	var rec BlockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("persist: unmarshal block record: %w", err)
	}

	want := rec.Checksum
	rec.Checksum = ""
	unchecked, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("persist: re-marshal block %d for checksum check: %w", rec.GID, err)
	}
	sum := blake2b.Sum256(unchecked)
	got := fmt.Sprintf("%x", sum)
	rec.Checksum = want
	if !bytes.Equal([]byte(got), []byte(want)) {
		return nil, fmt.Errorf("persist: block %d: checksum mismatch (want %s, got %s)", rec.GID, want, got)
	}
	return &rec, nil
}
