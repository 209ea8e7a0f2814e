package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeLinearRoundtrip(t *testing.T) {
	sh := Shape{4, 3, 2}
	require.Equal(t, int64(24), sh.Size())

	for lin := int64(0); lin < sh.Size(); lin++ {
		idx := sh.Vertex(lin)
		require.Equal(t, lin, sh.Linear(idx), "idx=%v", idx)
	}
}

func TestBoxContainsAndBoundary(t *testing.T) {
	b := NewBox([]int{0, 0}, []int{3, 3})
	assert.True(t, b.Contains([]int{0, 0}))
	assert.True(t, b.Contains([]int{3, 3}))
	assert.False(t, b.Contains([]int{4, 0}))
	assert.True(t, b.OnBoundary([]int{0, 2}))
	assert.False(t, b.OnBoundary([]int{1, 1}))
}

func TestBoxGrow(t *testing.T) {
	core := NewBox([]int{2, 2}, []int{4, 4})
	bounds := core.Grow(1)
	assert.Equal(t, []int{1, 1}, bounds.Min)
	assert.Equal(t, []int{5, 5}, bounds.Max)
}

func TestWrap(t *testing.T) {
	domain := Shape{8, 8}
	assert.Equal(t, []int{7, 7}, Wrap([]int{-1, -1}, domain))
	assert.Equal(t, []int{0, 0}, Wrap([]int{8, 8}, domain))
	assert.Equal(t, []int{3, 5}, Wrap([]int{3, 5}, domain))
}

func TestDomainFoldClampVsWrap(t *testing.T) {
	wrapped := Domain{Shape: Shape{4, 4}, Wrap: true}
	clamped := Domain{Shape: Shape{4, 4}, Wrap: false}

	assert.Equal(t, []int{3, 0}, wrapped.Fold([]int{-1, 4}))
	assert.Equal(t, []int{0, 3}, clamped.Fold([]int{-1, 4}))
}

func TestCmpOrientation(t *testing.T) {
	assert.True(t, Cmp(1.0, 2.0, false))
	assert.False(t, Cmp(1.0, 2.0, true))
	assert.True(t, Cmp(2.0, 1.0, true))
}

func TestMoreExtremeTieBreak(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	assert.True(t, MoreExtreme(1.0, 1.0, 2, 5, false, less))
	assert.False(t, MoreExtreme(1.0, 1.0, 5, 2, false, less))
	assert.True(t, MoreExtreme(1.0, 2.0, 9, 1, false, less))
}

func TestOffsetsCount(t *testing.T) {
	assert.Len(t, Offsets(2), 8)
	assert.Len(t, Offsets(3), 26)
	for _, o := range Offsets(2) {
		require.Len(t, o, 2)
	}
}
