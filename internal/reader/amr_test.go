package reader

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/toposcan/internal/grid"
)

type fakeNeighbor struct {
	gid, refinement, level int
	min, max               []int
}

type fakeBox struct {
	gid, level, refinement int
	coreMin, coreMax       []int
	neighbors              []fakeNeighbor
	values                 []float64
}

func writeU32(buf *bytes.Buffer, v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); buf.Write(b[:]) }
func writeI32(buf *bytes.Buffer, v int32)  { writeU32(buf, uint32(v)) }
func writeU64(buf *bytes.Buffer, v uint64) { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); buf.Write(b[:]) }
func writeI64(buf *bytes.Buffer, v int64)  { writeU64(buf, uint64(v)) }
func writeIntSlice(buf *bytes.Buffer, s []int) {
	for _, v := range s {
		writeI32(buf, int32(v))
	}
}

func writeAMR(t *testing.T, path string, ndim int, domainMin, domainMax []int, wrap bool, boxes []fakeBox) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(amrMagic[:])
	writeU32(&buf, uint32(ndim))
	if wrap {
		writeU32(&buf, 1)
	} else {
		writeU32(&buf, 0)
	}
	writeIntSlice(&buf, domainMin)
	writeIntSlice(&buf, domainMax)
	writeU32(&buf, uint32(len(boxes)))

	for _, b := range boxes {
		writeI64(&buf, int64(b.gid))
		writeI32(&buf, int32(b.level))
		writeI32(&buf, int32(b.refinement))
		writeIntSlice(&buf, b.coreMin)
		writeIntSlice(&buf, b.coreMax)
		writeU32(&buf, uint32(len(b.neighbors)))
		for _, n := range b.neighbors {
			writeI64(&buf, int64(n.gid))
			writeI32(&buf, int32(n.refinement))
			writeI32(&buf, int32(n.level))
			writeIntSlice(&buf, n.min)
			writeIntSlice(&buf, n.max)
		}
		writeU64(&buf, uint64(len(b.values)))
		for _, v := range b.values {
			var vb [8]byte
			binary.LittleEndian.PutUint64(vb[:], math.Float64bits(v))
			buf.Write(vb[:])
		}
	}

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestOpenAMRParsesDomainAndBoxes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.amr")
	writeAMR(t, path, 2, []int{0, 0}, []int{7, 7}, true, []fakeBox{
		{
			gid: 1, level: 0, refinement: 1,
			coreMin: []int{0, 0}, coreMax: []int{3, 3},
			neighbors: []fakeNeighbor{
				{gid: 2, refinement: 1, level: 0, min: []int{4, 0}, max: []int{7, 3}},
			},
			values: make([]float64, 6*6), // core.Grow(1) shape
		},
		{
			gid: 2, level: 0, refinement: 1,
			coreMin: []int{4, 0}, coreMax: []int{7, 3},
			neighbors: []fakeNeighbor{
				{gid: 1, refinement: 1, level: 0, min: []int{0, 0}, max: []int{3, 3}},
			},
			values: make([]float64, 6*6),
		},
	})

	r, err := OpenAMR(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, grid.Shape{8, 8}, r.Domain().Shape)
	assert.True(t, r.Domain().Wrap)
	require.Len(t, r.Boxes(), 2)

	neighbors := r.Neighbors(1)
	require.Len(t, neighbors, 1)
	assert.Equal(t, int64(2), neighbors[0].GID)
}

func TestReadBoxValuesReturnsStoredPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.amr")
	values := make([]float64, 4)
	for i := range values {
		values[i] = float64(i) * 1.5
	}
	writeAMR(t, path, 1, []int{0}, []int{3}, false, []fakeBox{
		{gid: 5, level: 0, refinement: 1, coreMin: []int{0}, coreMax: []int{1}, values: values},
	})

	r, err := OpenAMR(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadBoxValues(5, grid.Box{Min: []int{0}, Max: []int{3}})
	require.NoError(t, err)
	assert.Equal(t, []grid.Value{0, 1.5, 3.0, 4.5}, got)
}

func TestReadBoxValuesRejectsUnknownGID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.amr")
	writeAMR(t, path, 1, []int{0}, []int{1}, false, []fakeBox{
		{gid: 1, level: 0, refinement: 1, coreMin: []int{0}, coreMax: []int{0}, values: []float64{1, 2}},
	})
	r, err := OpenAMR(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadBoxValues(99, grid.Box{Min: []int{0}, Max: []int{1}})
	assert.Error(t, err)
}

func TestOpenAMRRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.amr")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err := OpenAMR(path)
	assert.Error(t, err)
}
