package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/toposcan/internal/components"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/localtree"
	"github.com/rskv-p/toposcan/internal/tree"
)

func oneBlock(t *testing.T) *components.Block {
	t.Helper()
	A := tree.VertexID{GID: 1, Index: 0}
	B := tree.VertexID{GID: 1, Index: 1}

	tr := tree.New(false)
	tr.Add(A, 5.0)
	tr.Add(B, 1.0)
	tr.Link(A, A, B)

	edge := localtree.Edge{A: B, B: tree.VertexID{GID: 2, Index: 0}}.Canonical()
	res := localtree.Result{
		Tree:                    tr,
		InitialEdges:            []localtree.Edge{edge},
		OriginalVertexToDeepest: map[tree.VertexID]tree.VertexID{A: B, B: B},
	}
	return components.NewBlock(1, false, res)
}

func TestMarshalUnmarshalRoundTripsChecksum(t *testing.T) {
	b := oneBlock(t)
	box := grid.Box{Min: []int{0, 0}, Max: []int{4, 4}}

	rec := EncodeBlock(b, box)
	data, err := Marshal(rec)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Checksum)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Checksum, back.Checksum)
	assert.Equal(t, rec.GID, back.GID)
	assert.Equal(t, box, back.Box)
	assert.Len(t, back.Nodes, len(rec.Nodes))
}

func TestUnmarshalRejectsTamperedPayload(t *testing.T) {
	b := oneBlock(t)
	data, err := Marshal(EncodeBlock(b, grid.Box{Min: []int{0}, Max: []int{1}}))
	require.NoError(t, err)

	tampered := append([]byte(nil), data...)
	for i, c := range tampered {
		if c == '5' {
			tampered[i] = '9'
			break
		}
	}

	_, err = Unmarshal(tampered)
	assert.Error(t, err)
}

func TestDecodeBlockRebuildsTreeAndComponents(t *testing.T) {
	b := oneBlock(t)
	rec := EncodeBlock(b, grid.Box{Min: []int{0}, Max: []int{1}})

	back, err := DecodeBlock(rec)
	require.NoError(t, err)
	assert.Equal(t, b.GID, back.GID)
	assert.Equal(t, b.Tree.Len(), back.Tree.Len())
	assert.Len(t, back.Components, len(b.Components))
	assert.Equal(t, b.NotDoneCount(), back.NotDoneCount())
}

func TestDecodeBlockRejectsUnknownVersion(t *testing.T) {
	rec := &BlockRecord{Version: 99}
	_, err := DecodeBlock(rec)
	assert.Error(t, err)
}
