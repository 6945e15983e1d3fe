package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactSetIsTimeAware(t *testing.T) {
	fs := NewFactSet([]Triple{{Head: 0, Relation: 1, Tail: 2, Time: []int64{2, 0, 1, 4}}})
	assert.True(t, fs.Contains(0, 1, 2, []int64{2, 0, 1, 4}))
	assert.False(t, fs.Contains(0, 1, 2, []int64{2, 0, 1, 5}))
	assert.False(t, fs.Contains(2, 1, 0, []int64{2, 0, 1, 4}))
}

func TestBuildEvalBatchesFilterBias(t *testing.T) {
	ts := []int64{2, 0, 1, 4}
	train := []Triple{
		{Head: 0, Relation: 0, Tail: 2, Time: ts},
		{Head: 3, Relation: 0, Tail: 1, Time: ts},
	}
	test := []Triple{{Head: 0, Relation: 0, Tail: 1, Time: ts}}
	known := NewFactSet(train, test)

	tail, err := BuildEvalBatches(test, known, 4, ModeTailBatch, 8)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.NoError(t, tail[0].Validate(true))
	// tail 2 is another known fact: replaced by the positive and biased
	assert.Equal(t, []int64{0, 1, 1, 3}, tail[0].Negative[0])
	assert.Equal(t, []float64{0, 0, FilteredBias, 0}, tail[0].FilterBias[0])

	head, err := BuildEvalBatches(test, known, 4, ModeHeadBatch, 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 0}, head[0].Negative[0])
	assert.Equal(t, []float64{0, 0, 0, FilteredBias}, head[0].FilterBias[0])
}

func TestBuildEvalBatchesSplitsRows(t *testing.T) {
	test := make([]Triple, 5)
	for i := range test {
		test[i] = Triple{Head: int64(i % 3), Relation: 0, Tail: int64((i + 1) % 3)}
	}
	batches, err := BuildEvalBatches(test, NewFactSet(test), 3, ModeTailBatch, 2)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2].Positive, 1)
	for _, b := range batches {
		require.NoError(t, b.Validate(false))
		for _, row := range b.Negative {
			assert.Len(t, row, 3)
		}
	}
}

func TestBuildEvalBatchesErrors(t *testing.T) {
	test := []Triple{{Head: 0, Relation: 0, Tail: 5}}
	_, err := BuildEvalBatches(test, NewFactSet(), 3, ModeTailBatch, 2)
	var shapeErr *ShapeError
	assert.ErrorAs(t, err, &shapeErr)

	_, err = BuildEvalBatches(test, NewFactSet(), 6, ModeSingle, 2)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
