// Package chunk computes chunk boundaries for chunked uploads. Everything here
// is pure: no I/O, no clocks, no shared state.
package chunk

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultSize is the chunk size used when none is configured (5 MiB).
const DefaultSize = 5 * 1024 * 1024

var (
	// ErrInvalidChunkSize is returned for a chunk size of zero or less.
	ErrInvalidChunkSize = errors.New("chunk: chunk size must be positive")
	// ErrInvalidFileSize is returned for a negative file size.
	ErrInvalidFileSize = errors.New("chunk: file size must not be negative")
)

// Chunk is one contiguous byte range of the source file. End is exclusive.
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// Plan describes how a file of FileSize bytes splits into ChunkSize pieces.
// The final chunk is clamped to FileSize.
type Plan struct {
	FileSize  int64
	ChunkSize int64
	total     int
}

// NewPlan validates the sizes and computes the chunk count,
// ceil(fileSize/chunkSize).
func NewPlan(fileSize, chunkSize int64) (Plan, error) {
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}

	if fileSize < 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidFileSize, fileSize)
	}

	total := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		total++
	}

	return Plan{FileSize: fileSize, ChunkSize: chunkSize, total: int(total)}, nil
}

// Total returns the number of chunks in the plan.
func (p Plan) Total() int {
	return p.total
}

// RangeOf returns the half-open byte range [start, end) of chunk index.
// Callers must pass an index in [0, Total()).
func (p Plan) RangeOf(index int) (start, end int64) {
	start = int64(index) * p.ChunkSize
	end = start + p.ChunkSize

	if end > p.FileSize {
		end = p.FileSize
	}

	return start, end
}

// Chunk returns the chunk at index.
func (p Plan) Chunk(index int) Chunk {
	start, end := p.RangeOf(index)
	return Chunk{Index: index, Start: start, End: end}
}

// Valid reports whether index addresses a chunk of this plan.
func (p Plan) Valid(index int) bool {
	return index >= 0 && index < p.total
}

// Remaining returns, in ascending order, every chunk index not present in
// uploaded. Indices in uploaded that fall outside the plan are ignored.
func (p Plan) Remaining(uploaded map[int]struct{}) []int {
	out := make([]int, 0, p.total-min(len(uploaded), p.total))

	for i := range p.total {
		if _, ok := uploaded[i]; !ok {
			out = append(out, i)
		}
	}

	return out
}

// Covers reports whether uploaded contains every index of the plan.
func (p Plan) Covers(uploaded map[int]struct{}) bool {
	for i := range p.total {
		if _, ok := uploaded[i]; !ok {
			return false
		}
	}

	return true
}

// Batches partitions indices into consecutive groups of at most size
// elements, preserving order. A size below 1 is treated as 1.
func Batches(indices []int, size int) [][]int {
	if size < 1 {
		size = 1
	}

	batches := make([][]int, 0, (len(indices)+size-1)/size)

	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		batches = append(batches, indices[start:end:end])
	}

	return batches
}

// SortedIndices returns the members of set in ascending order.
func SortedIndices(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}

	sort.Ints(out)

	return out
}
