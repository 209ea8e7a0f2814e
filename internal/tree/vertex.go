// Package tree implements the triplet merge tree (spec.md §3, §4.1): an
// in-memory representation of a merge tree keyed by (vertex, through,
// root) triplets, with primitive merge, repair, sparsify and degree-2
// removal operations.
package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// VertexID is spec.md's AmrVertexId: a (gid, local_index) pair. Vertices
// from different blocks are totally ordered lexicographically by
// (gid, local_index); equality is structural.
type VertexID struct {
	GID   int64
	Index int64
}

// Less implements the total order spec.md §3 requires.
func (v VertexID) Less(o VertexID) bool {
	if v.GID != o.GID {
		return v.GID < o.GID
	}
	return v.Index < o.Index
}

func (v VertexID) String() string { return fmt.Sprintf("(%d,%d)", v.GID, v.Index) }

// MarshalText renders v as "gid:index", so encoding/json writes a
// VertexID as that string, both as a value (persist's node and component
// records) and as a map key.
func (v VertexID) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(v.GID, 10) + ":" + strconv.FormatInt(v.Index, 10)), nil
}

// UnmarshalText parses the "gid:index" form MarshalText produces.
func (v *VertexID) UnmarshalText(data []byte) error {
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid vertex id %q", data)
	}
	gid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid vertex id %q: %w", data, err)
	}
	idx, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid vertex id %q: %w", data, err)
	}
	v.GID, v.Index = gid, idx
	return nil
}

// Value is the scalar field value at a vertex.
type Value = float64

// ValuedVertex pairs a vertex with its field value; used for the
// "absorbed" vertices list carried by MergeTreeNode.
type ValuedVertex struct {
	Vertex VertexID
	Value  Value
}

// Less orders two (value, vertex) pairs under the given orientation,
// using VertexID as the deterministic tie-break spec.md requires
// throughout: equal values are broken by the smaller vertex id.
func Less(aVal, bVal Value, aID, bID VertexID, negate bool) bool {
	if aVal != bVal {
		if negate {
			return aVal > bVal
		}
		return aVal < bVal
	}
	return aID.Less(bID)
}
