package chunk

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

func TestNewPlan_Totals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{"empty file", 0, 5 * mib, 0},
		{"smaller than one chunk", 10, 5 * mib, 1},
		{"exact multiple", 10 * mib, 5 * mib, 2},
		{"one byte over", 10*mib + 1, 5 * mib, 3},
		{"23 MiB in 5 MiB chunks", 23 * mib, 5 * mib, 5},
		{"chunk size one", 7, 1, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewPlan(tt.fileSize, tt.chunkSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Total())
		})
	}
}

func TestNewPlan_RejectsBadSizes(t *testing.T) {
	t.Parallel()

	_, err := NewPlan(100, 0)
	require.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = NewPlan(100, -5)
	require.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = NewPlan(-1, 10)
	require.ErrorIs(t, err, ErrInvalidFileSize)
}

// Ranges must tile [0, fileSize) exactly: contiguous, no overlap, no gap.
// Large plans are checked at both ends only.
func TestPlan_RangesCoverFile(t *testing.T) {
	t.Parallel()

	const edge = 64

	sizes := []int64{1, 2, 3, 999, 1000, 1001, 4096, 23 * mib}
	chunkSizes := []int64{1, 3, 7, 1000, 4096, 5 * mib}

	for _, fs := range sizes {
		for _, cs := range chunkSizes {
			p, err := NewPlan(fs, cs)
			require.NoError(t, err)

			wantTotal := int((fs + cs - 1) / cs)
			require.Equal(t, wantTotal, p.Total(), "fileSize=%d chunkSize=%d", fs, cs)

			indices := make([]int, 0, 2*edge)
			if p.Total() <= 2*edge {
				for i := range p.Total() {
					indices = append(indices, i)
				}
			} else {
				for i := range edge {
					indices = append(indices, i, p.Total()-edge+i)
				}

				sort.Ints(indices)
			}

			next := p.Chunk(indices[0]).Start
			assert.Zero(t, next)

			for n, i := range indices {
				c := p.Chunk(i)
				if n > 0 && i == indices[n-1]+1 {
					require.Equal(t, next, c.Start, "gap or overlap at chunk %d", i)
				}

				require.Equal(t, int64(i)*cs, c.Start)
				require.Positive(t, c.Len())
				require.LessOrEqual(t, c.Len(), cs)
				next = c.End
			}

			assert.Equal(t, fs, next, "fileSize=%d chunkSize=%d", fs, cs)
		}
	}
}

func TestPlan_FinalChunkClamped(t *testing.T) {
	t.Parallel()

	p, err := NewPlan(23*mib, 5*mib)
	require.NoError(t, err)

	start, end := p.RangeOf(4)
	assert.Equal(t, int64(20*mib), start)
	assert.Equal(t, int64(23*mib), end)
}

func TestPlan_RemainingAndCovers(t *testing.T) {
	t.Parallel()

	p, err := NewPlan(5*mib, mib)
	require.NoError(t, err)

	uploaded := map[int]struct{}{0: {}, 1: {}, 2: {}, 42: {}}
	assert.Equal(t, []int{3, 4}, p.Remaining(uploaded))
	assert.False(t, p.Covers(uploaded))

	uploaded[3] = struct{}{}
	uploaded[4] = struct{}{}
	assert.Empty(t, p.Remaining(uploaded))
	assert.True(t, p.Covers(uploaded))
}

func TestBatches(t *testing.T) {
	t.Parallel()

	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}}, Batches([]int{0, 1, 2, 3, 4}, 3))
	assert.Equal(t, [][]int{{3, 4}}, Batches([]int{3, 4}, 3))
	assert.Equal(t, [][]int{{1}, {2}}, Batches([]int{1, 2}, 0))
	assert.Empty(t, Batches(nil, 3))
}

func TestBatches_AppendDoesNotClobber(t *testing.T) {
	t.Parallel()

	in := []int{0, 1, 2, 3}
	b := Batches(in, 2)
	_ = append(b[0], 99)

	assert.Equal(t, []int{0, 1, 2, 3}, in)
}

func TestSortedIndices(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{0, 2, 9}, SortedIndices(map[int]struct{}{9: {}, 0: {}, 2: {}}))
}
