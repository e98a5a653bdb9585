package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3mp/internal/xerrors"
)

const mb = 1024 * 1024

func TestPlan_InvalidInputs(t *testing.T) {
	tests := []struct {
		name       string
		totalSize  uint64
		targetSize uint64
		minSize    uint64
	}{
		{name: "zero object size", totalSize: 0, targetSize: 5 * mb, minSize: 5 * mb},
		{name: "target below minimum", totalSize: 100 * mb, targetSize: mb, minSize: 5 * mb},
		{name: "zero part size with zero minimum", totalSize: 100 * mb, targetSize: 0, minSize: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.totalSize, tt.targetSize, tt.minSize)
			require.Error(t, err)
			assert.True(t, errors.Is(err, xerrors.ErrInvalidSize))
		})
	}
}

func TestPlan_PartLimit(t *testing.T) {
	// 10001 parts of the minimum size must be rejected, one fewer accepted.
	minSize := uint64(5 * mb)
	_, err := Plan(minSize*(MaxParts+1), minSize, minSize)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrInvalidSize))

	plan, err := Plan(minSize*MaxParts, minSize, minSize)
	require.NoError(t, err)
	assert.Len(t, plan.Parts, MaxParts)
}

// Ranges must be contiguous, non-overlapping, and cover [0, totalSize)
// exactly once for a spread of sizes around part boundaries.
func TestPlan_FullCoverage(t *testing.T) {
	minSize := uint64(5 * mb)
	sizes := []uint64{
		1,
		minSize - 1,
		minSize,
		minSize + 1,
		2*minSize - 1,
		2 * minSize,
		50 * mb,
		50*mb + 1,
		512*mb + 12345,
	}

	for _, total := range sizes {
		plan, err := Plan(total, 50*mb, minSize)
		require.NoError(t, err, "size %d", total)

		var next uint64
		for i, p := range plan.Parts {
			assert.Equal(t, int32(i+1), p.Index, "size %d: part indexes must be 1-based and contiguous", total)
			assert.Equal(t, next, p.Start, "size %d: ranges must be contiguous", total)
			assert.GreaterOrEqual(t, p.End, p.Start, "size %d", total)
			next = p.End + 1
		}
		assert.Equal(t, total, next, "size %d: union of ranges must be [0, totalSize)", total)
	}
}

func TestPlan_FoldsUndersizedTail(t *testing.T) {
	// The documented 12 MB / 5 MB scenario: a naive plan has three parts with
	// a 2.58 MB tail, which folds into the second part.
	total := uint64(12 * mb)   // 12582912
	partSize := uint64(5000000)

	plan, err := Plan(total, partSize, partSize)
	require.NoError(t, err)
	require.Len(t, plan.Parts, 2)
	assert.True(t, plan.Folded)

	assert.Equal(t, ByteRange{Index: 1, Start: 0, End: 4999999}, plan.Parts[0])
	assert.Equal(t, ByteRange{Index: 2, Start: 5000000, End: 12582911}, plan.Parts[1])

	// Folding must keep the final part at or above the minimum.
	assert.GreaterOrEqual(t, plan.Parts[1].Len(), partSize)
}

func TestPlan_FoldPreservesCountMinusOne(t *testing.T) {
	minSize := uint64(5 * mb)
	total := 4*minSize + minSize/2 // naive plan: 5 parts, short tail

	plan, err := Plan(total, minSize, minSize)
	require.NoError(t, err)
	assert.True(t, plan.Folded)
	assert.Len(t, plan.Parts, 4)
	assert.Equal(t, total-1, plan.Parts[len(plan.Parts)-1].End)
}

func TestPlan_TwoRangeFoldDegeneratesToOne(t *testing.T) {
	minSize := uint64(5 * mb)
	total := minSize + 1 // second range is a single byte

	plan, err := Plan(total, minSize, minSize)
	require.NoError(t, err)
	assert.True(t, plan.Folded)
	require.Len(t, plan.Parts, 1)
	assert.Equal(t, ByteRange{Index: 1, Start: 0, End: total - 1}, plan.Parts[0])
}

func TestPlan_NoFoldWhenTailExact(t *testing.T) {
	minSize := uint64(5 * mb)
	plan, err := Plan(3*minSize, minSize, minSize)
	require.NoError(t, err)
	assert.False(t, plan.Folded)
	assert.Len(t, plan.Parts, 3)
}

func TestPlan_DirectThreshold(t *testing.T) {
	minSize := uint64(5 * mb)

	plan, err := Plan(100*mb, 50*mb, minSize, WithDirectThreshold(5*1024*mb))
	require.NoError(t, err)
	assert.True(t, plan.Direct)
	require.Len(t, plan.Parts, 1)
	assert.Equal(t, ByteRange{Index: 1, Start: 0, End: 100*mb - 1}, plan.Parts[0])

	// Above the threshold the multipart plan applies.
	plan, err = Plan(100*mb, 50*mb, minSize, WithDirectThreshold(50*mb))
	require.NoError(t, err)
	assert.False(t, plan.Direct)
	assert.Len(t, plan.Parts, 2)
}

func TestRangeHeader(t *testing.T) {
	r := ByteRange{Index: 2, Start: 5000000, End: 12582911}
	assert.Equal(t, "bytes=5000000-12582911", r.RangeHeader())
	assert.Equal(t, uint64(7582912), r.Len())
}
