package replaybuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLenTracksInsertsUpToMaxSize(t *testing.T) {
	b := New(3, 2, 1, 1)
	assert.Equal(t, 0, b.Len())
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Insert([]float32{float32(i), float32(i)}, []float32{float32(i)}))
	}
	assert.Equal(t, 3, b.Len(), "after k inserts, len == min(k, max_size)")
}

func TestInsertRejectsWrongShape(t *testing.T) {
	b := New(3, 2, 1, 1)
	assert.Error(t, b.Insert([]float32{1}, []float32{1}))
	assert.Error(t, b.Insert([]float32{1, 2}, []float32{1, 2}))
}

func TestSampleHasNoDuplicateIndicesAndRespectsSize(t *testing.T) {
	b := New(10, 1, 1, 7)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Insert([]float32{float32(i)}, []float32{float32(i)}))
	}

	features, labels, err := b.Sample(100)
	require.NoError(t, err)
	require.Equal(t, []int{4, 1}, features.Shape().Clone())
	require.Equal(t, []int{4, 1}, labels.Shape().Clone())

	seen := map[float32]bool{}
	data := features.Data().([]float32)
	for _, v := range data {
		assert.False(t, seen[v], "sample must not repeat an index")
		seen[v] = true
	}
}

func TestRingOverwriteKeepsLastMaxSizeExamples(t *testing.T) {
	b := New(3, 1, 1, 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Insert([]float32{float32(i)}, []float32{float32(i)}))
	}
	features, _, err := b.Sample(3)
	require.NoError(t, err)

	present := map[float32]bool{}
	for _, v := range features.Data().([]float32) {
		present[v] = true
	}
	for _, want := range []float32{2, 3, 4} {
		assert.True(t, present[want], "buffer must hold the most recent max_size inserts")
	}
}

func TestGobRoundTripPreservesContents(t *testing.T) {
	b := New(4, 2, 1, 5)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Insert([]float32{float32(i), float32(i) * 2}, []float32{float32(i)}))
	}

	data, err := b.GobEncode()
	require.NoError(t, err)

	b2 := &Buffer{}
	require.NoError(t, b2.GobDecode(data))

	assert.Equal(t, b.Len(), b2.Len())
	assert.Equal(t, b.features.Data(), b2.features.Data())
	assert.Equal(t, b.labels.Data(), b2.labels.Data())
}
