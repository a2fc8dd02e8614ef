package diarize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// around returns count embeddings near the given base direction, each
// nudged slightly so no two are identical.
func around(base []float64, count int) [][]float64 {
	out := make([][]float64, count)
	for i := 0; i < count; i++ {
		row := make([]float64, len(base))
		copy(row, base)
		row[0] += 0.01 * float64(i)
		out[i] = row
	}
	return out
}

func TestClusterSeparatesDistinctSpeakers(t *testing.T) {
	var embeddings [][]float64
	embeddings = append(embeddings, around([]float64{10, 0, 0}, 3)...)
	embeddings = append(embeddings, around([]float64{0, 10, 0}, 3)...)

	labels := Cluster(embeddings, 1, 10, DefaultClusterConfig())
	require.Len(t, labels, 6)

	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, labels)
}

func TestClusterLabelsFirstAppearanceOrder(t *testing.T) {
	// Speaker B talks first, then A, then B again. Labels must still
	// start at 0 for the first segment.
	var embeddings [][]float64
	embeddings = append(embeddings, around([]float64{0, 10, 0}, 2)...)
	embeddings = append(embeddings, around([]float64{10, 0, 0}, 2)...)
	embeddings = append(embeddings, around([]float64{0, 10, 0}, 2)...)

	labels := Cluster(embeddings, 1, 10, DefaultClusterConfig())
	require.Len(t, labels, 6)

	assert.Equal(t, []int{0, 0, 1, 1, 0, 0}, labels)
}

func TestClusterOneLabelPerEmbedding(t *testing.T) {
	var embeddings [][]float64
	embeddings = append(embeddings, around([]float64{10, 0, 0}, 4)...)
	embeddings = append(embeddings, around([]float64{0, 10, 0}, 3)...)
	embeddings = append(embeddings, around([]float64{0, 0, 10}, 2)...)

	labels := Cluster(embeddings, 1, 10, DefaultClusterConfig())
	require.Len(t, labels, len(embeddings))

	// Labels are dense: 0..K-1 all present.
	seen := make(map[int]bool)
	for _, l := range labels {
		seen[l] = true
	}
	for k := 0; k < len(seen); k++ {
		assert.True(t, seen[k], "label %d missing", k)
	}
}

func TestClusterMaxSpeakersCap(t *testing.T) {
	var embeddings [][]float64
	embeddings = append(embeddings, around([]float64{10, 0, 0}, 2)...)
	embeddings = append(embeddings, around([]float64{0, 10, 0}, 2)...)
	embeddings = append(embeddings, around([]float64{0, 0, 10}, 2)...)

	labels := Cluster(embeddings, 1, 2, DefaultClusterConfig())
	require.Len(t, labels, 6)

	distinct := make(map[int]bool)
	for _, l := range labels {
		distinct[l] = true
	}
	assert.LessOrEqual(t, len(distinct), 2)
}

func TestClusterMinSpeakersFloor(t *testing.T) {
	// All embeddings point the same way; without the floor this is one
	// cluster.
	embeddings := around([]float64{10, 0, 0}, 6)

	labels := Cluster(embeddings, 2, 5, DefaultClusterConfig())
	require.Len(t, labels, 6)

	distinct := make(map[int]bool)
	for _, l := range labels {
		distinct[l] = true
	}
	assert.GreaterOrEqual(t, len(distinct), 2)
}

func TestClusterSingleEmbedding(t *testing.T) {
	labels := Cluster([][]float64{{1, 2, 3}}, 1, 5, DefaultClusterConfig())
	assert.Equal(t, []int{0}, labels)
}

func TestClusterEmpty(t *testing.T) {
	assert.Nil(t, Cluster(nil, 1, 5, DefaultClusterConfig()))
}

func TestClusterZeroEmbeddingsSafe(t *testing.T) {
	// Zero vectors (from empty audio spans) must not panic or poison the
	// result.
	embeddings := [][]float64{
		{10, 0, 0},
		{0, 0, 0},
		{10.01, 0, 0},
	}
	labels := Cluster(embeddings, 1, 3, DefaultClusterConfig())
	require.Len(t, labels, 3)
	assert.Equal(t, labels[0], labels[2])
}

func TestNormalizeRows(t *testing.T) {
	rows := normalizeRows([][]float64{{3, 4}, {0, 0}})
	assert.InDelta(t, 0.6, rows[0][0], 1e-9)
	assert.InDelta(t, 0.8, rows[0][1], 1e-9)
	assert.Equal(t, []float64{0, 0}, rows[1])
}

func TestRelabelFirstAppearance(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 2, 1}, relabelFirstAppearance([]int{7, 2, 7, 5, 2}))
}
