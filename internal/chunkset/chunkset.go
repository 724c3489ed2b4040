// Package chunkset implements the immutable candidate-input representation
// the ddmin search operates over: an ordered list of disjoint byte ranges
// over a fixed original file.
package chunkset

import (
	"fmt"
	"io"
	"strconv"
)

// Chunk is a half-open byte range [Start, End) over the original input.
type Chunk struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the chunk spans.
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// ChunkSet is an ordered, disjoint, sorted sequence of chunks.
//
// All operations on a ChunkSet return a new value; the receiver is never
// mutated.
type ChunkSet []Chunk

// Size returns the sum of all chunk lengths.
func (cs ChunkSet) Size() int64 {
	var total int64
	for _, c := range cs {
		total += c.Len()
	}

	return total
}

// Normalize merges adjacent chunks where one's End equals the next's Start.
// Two ChunkSets are equivalent iff they normalize to the same sequence.
func (cs ChunkSet) Normalize() ChunkSet {
	if len(cs) == 0 {
		return ChunkSet{}
	}

	out := make(ChunkSet, 0, len(cs))
	cur := cs[0]

	for _, c := range cs[1:] {
		if cur.End == c.Start {
			cur.End = c.End
			continue
		}

		out = append(out, cur)
		cur = c
	}

	return append(out, cur)
}

// Key returns a canonical string encoding of the normalized ChunkSet,
// suitable for use as a cache key.
func (cs ChunkSet) Key() string {
	norm := cs.Normalize()

	buf := make([]byte, 0, len(norm)*24)
	for i, c := range norm {
		if i > 0 {
			buf = append(buf, ',')
		}

		buf = strconv.AppendInt(buf, c.Start, 10)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, c.End, 10)
	}

	return string(buf)
}

// RemoveIndex returns a new ChunkSet with the chunk at index i removed.
func (cs ChunkSet) RemoveIndex(i int) ChunkSet {
	out := make(ChunkSet, 0, len(cs)-1)
	out = append(out, cs[:i]...)
	out = append(out, cs[i+1:]...)

	return out
}

// Singleton returns a new ChunkSet containing only the chunk at index i.
func (cs ChunkSet) Singleton(i int) ChunkSet {
	return ChunkSet{cs[i]}
}

// Complement returns cs with the chunk at index i removed (T \ c_i).
func (cs ChunkSet) Complement(i int) ChunkSet {
	return cs.RemoveIndex(i)
}

// SplitAllHalves implements the granularity-increase step: each
// chunk of size s is split into two halves of sizes floor(s/2) and
// ceil(s/2); a leading half of size zero is dropped. This is the only place
// a chunk may become empty, and it is discarded immediately. Doubling
// granularity therefore produces a ChunkSet with up to 2*len(cs) non-empty
// chunks.
func (cs ChunkSet) SplitAllHalves() ChunkSet {
	out := make(ChunkSet, 0, len(cs)*2)

	for _, c := range cs {
		s := c.Len()
		lo := s / 2
		mid := c.Start + lo

		if lo > 0 {
			out = append(out, Chunk{Start: c.Start, End: mid})
		}

		out = append(out, Chunk{Start: mid, End: c.End})
	}

	return out
}

// Materialize reads and concatenates the byte ranges cs names from r, in
// order, and returns the result.
func (cs ChunkSet) Materialize(r io.ReaderAt) ([]byte, error) {
	out := make([]byte, 0, cs.Size())

	for _, c := range cs {
		buf := make([]byte, c.Len())

		_, err := r.ReadAt(buf, c.Start)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading chunk [%d,%d): %w", c.Start, c.End, err)
		}

		out = append(out, buf...)
	}

	return out, nil
}
