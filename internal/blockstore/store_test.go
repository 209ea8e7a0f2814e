package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/toposcan/internal/components"
	"github.com/rskv-p/toposcan/internal/grid"
	"github.com/rskv-p/toposcan/internal/localtree"
	"github.com/rskv-p/toposcan/internal/tree"
)

func testBlock(t *testing.T, gid int64) *components.Block {
	t.Helper()
	leaf := tree.VertexID{GID: gid, Index: 0}
	root := tree.VertexID{GID: gid, Index: 1}
	tr := tree.New(false)
	tr.Add(leaf, 5.0)
	tr.Add(root, 1.0)
	tr.Link(leaf, leaf, root)

	res := localtree.Result{
		Tree:                    tr,
		OriginalVertexToDeepest: map[tree.VertexID]tree.VertexID{leaf: root, root: root},
	}
	return components.NewBlock(gid, false, res)
}

func TestPutGetResidentRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := New(dir, 2, zerolog.Nop())

	box := grid.Box{Min: []int{0}, Max: []int{1}}
	require.NoError(t, s.Put(1, box, testBlock(t, 1)))

	got, gotBox, ok, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, box, gotBox)
	assert.Equal(t, int64(1), got.GID)
	assert.Equal(t, 1, s.Resident())
}

func TestPutEvictsLeastRecentlyUsedOverCap(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := New(dir, 2, zerolog.Nop())
	box := grid.Box{Min: []int{0}, Max: []int{1}}

	require.NoError(t, s.Put(1, box, testBlock(t, 1)))
	require.NoError(t, s.Put(2, box, testBlock(t, 2)))
	require.NoError(t, s.Put(3, box, testBlock(t, 3)))

	assert.Equal(t, 2, s.Resident())
	evictions, _ := s.Stats()
	assert.Equal(t, int64(1), evictions)

	// block 1 was least-recently-used and should have been paged to disk,
	// but remains fetchable transparently.
	got, _, ok, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.GID)
	_, loads := s.Stats()
	assert.Equal(t, int64(1), loads)
}

func TestGetUnknownBlockReturnsNotOK(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := New(dir, -1, zerolog.Nop())
	_, _, ok, err := s.Get(99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlushPersistsWithoutEvicting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := New(dir, -1, zerolog.Nop())
	box := grid.Box{Min: []int{0}, Max: []int{1}}
	require.NoError(t, s.Put(1, box, testBlock(t, 1)))

	require.NoError(t, s.Flush())
	assert.Equal(t, 1, s.Resident(), "flush pages to disk but keeps entries resident")

	_, err := filepathGlobMustHaveOneMatch(t, dir)
	require.NoError(t, err)
}

func filepathGlobMustHaveOneMatch(t *testing.T, dir string) (string, error) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "block-*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one page file, got %v", matches)
	}
	return matches[0], nil
}

func TestEvictOneNoopWhenEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s := New(dir, -1, zerolog.Nop())
	assert.NoError(t, s.EvictOne())
}
