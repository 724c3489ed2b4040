package chunkset_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/ddmin/internal/chunkset"
)

func TestNormalizeMergesAdjacent(t *testing.T) {
	cs := chunkset.ChunkSet{
		{Start: 0, End: 3},
		{Start: 3, End: 5},
		{Start: 7, End: 9},
	}

	got := cs.Normalize()
	want := chunkset.ChunkSet{{Start: 0, End: 5}, {Start: 7, End: 9}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	cs := chunkset.ChunkSet{{Start: 0, End: 3}, {Start: 3, End: 5}, {Start: 7, End: 9}}

	once := cs.Normalize()
	twice := once.Normalize()

	require.Equal(t, once, twice)
}

func TestSplitAllHalvesDropsEmptyLeadingHalf(t *testing.T) {
	cs := chunkset.ChunkSet{{Start: 0, End: 1}}

	got := cs.SplitAllHalves()
	want := chunkset.ChunkSet{{Start: 0, End: 1}}

	require.Equal(t, want, got)
}

func TestSplitAllHalvesDoublesNonEmptyChunks(t *testing.T) {
	cs := chunkset.ChunkSet{{Start: 0, End: 4}, {Start: 10, End: 14}}

	got := cs.SplitAllHalves()
	want := chunkset.ChunkSet{
		{Start: 0, End: 2}, {Start: 2, End: 4},
		{Start: 10, End: 12}, {Start: 12, End: 14},
	}

	require.Equal(t, want, got)
	require.LessOrEqual(t, len(got), 2*len(cs))
}

func TestSizeSumsLengths(t *testing.T) {
	cs := chunkset.ChunkSet{{Start: 0, End: 3}, {Start: 10, End: 12}}
	require.Equal(t, int64(5), cs.Size())
}

func TestRemoveIndexAndSingleton(t *testing.T) {
	cs := chunkset.ChunkSet{{Start: 0, End: 1}, {Start: 1, End: 2}, {Start: 2, End: 3}}

	require.Equal(t, chunkset.ChunkSet{{Start: 0, End: 1}, {Start: 2, End: 3}}, cs.RemoveIndex(1))
	require.Equal(t, chunkset.ChunkSet{{Start: 1, End: 2}}, cs.Singleton(1))
}

func TestMaterializeRoundTrip(t *testing.T) {
	original := []byte("hello world, delta debugging!")
	cs := chunkset.ChunkSet{{Start: 0, End: 5}, {Start: 12, End: 19}}

	got, err := cs.Materialize(bytes.NewReader(original))
	require.NoError(t, err)
	require.Equal(t, []byte("hello delta "), got)
}

func TestKeyStableAcrossEquivalentForms(t *testing.T) {
	a := chunkset.ChunkSet{{Start: 0, End: 3}, {Start: 3, End: 5}}
	b := chunkset.ChunkSet{{Start: 0, End: 5}}

	require.Equal(t, a.Key(), b.Key())
}
