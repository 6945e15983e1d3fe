package kge

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnclabs/tkge/pkg/knowledge"
)

func TestRankOf(t *testing.T) {
	tests := []struct {
		name       string
		scores     []float64
		candidates []int64
		bias       []float64
		positive   int64
		expected   int
	}{
		{
			name:       "highest score ranks first",
			scores:     []float64{0.1, 5, 0.3},
			candidates: []int64{0, 1, 2},
			bias:       []float64{0, 0, 0},
			positive:   1,
			expected:   1,
		},
		{
			name:       "strictly decreasing scores",
			scores:     []float64{4, 3, 2, 1},
			candidates: []int64{0, 1, 2, 3},
			bias:       []float64{0, 0, 0, 0},
			positive:   2,
			expected:   3,
		},
		{
			name:       "ties break by entity id",
			scores:     []float64{1, 1, 1},
			candidates: []int64{0, 1, 2},
			bias:       []float64{0, 0, 0},
			positive:   1,
			expected:   2,
		},
		{
			name:       "filtered copy of the positive is skipped",
			scores:     []float64{2, 1, 0},
			candidates: []int64{0, 1, 1},
			bias:       []float64{0, 0, knowledge.FilteredBias},
			positive:   1,
			expected:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank, err := rankOf(tt.scores, tt.candidates, tt.bias, tt.positive)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rank)
		})
	}
}

func TestRankOfEveryPosition(t *testing.T) {
	scores := []float64{9, 7, 5, 3, 1}
	candidates := []int64{0, 1, 2, 3, 4}
	bias := make([]float64, len(scores))
	for i, c := range candidates {
		rank, err := rankOf(scores, candidates, bias, c)
		require.NoError(t, err)
		assert.Equal(t, i+1, rank)
	}
}

func TestRankOfAmbiguity(t *testing.T) {
	tests := []struct {
		name       string
		scores     []float64
		candidates []int64
		bias       []float64
		matches    int
	}{
		{"duplicate unfiltered positive", []float64{1, 2, 3}, []int64{1, 1, 2}, []float64{0, 0, 0}, 2},
		{"positive missing", []float64{1, 2}, []int64{0, 2}, []float64{0, 0}, 0},
		{"positive only filtered", []float64{1, 2}, []int64{1, 2}, []float64{knowledge.FilteredBias, 0}, 0},
		{"nan score", []float64{1, math.NaN()}, []int64{1, 2}, []float64{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rankOf(tt.scores, tt.candidates, tt.bias, 1)
			var amb *RankingAmbiguityError
			require.ErrorAs(t, err, &amb)
			assert.Equal(t, int64(1), amb.Entity)
			assert.Equal(t, tt.matches, amb.Matches)
		})
	}
}

func TestEvalStepReportsAmbiguousRow(t *testing.T) {
	m := newTestModel(t, testConfig(TransE))
	_, err := m.EvalStep(&knowledge.EvalBatch{
		Positive:   []knowledge.Triple{triple(0, 0, 1), triple(0, 0, 2)},
		Negative:   [][]int64{{0, 1, 2}, {2, 2, 3}},
		FilterBias: [][]float64{{0, 0, 0}, {0, 0, 0}},
		Mode:       knowledge.ModeTailBatch,
	})
	var amb *RankingAmbiguityError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "tail-batch", amb.Mode)
	assert.Equal(t, 1, amb.Row)
	assert.Equal(t, 2, amb.Matches)
	assert.Contains(t, err.Error(), "tail-batch row 1")
}

// A known fact that outscores the positive must leave the rank exactly where
// dropping it from the candidates would.
func TestFilteringEqualsRemoval(t *testing.T) {
	all := []int64{0, 1, 2, 3, 4}
	for _, name := range allModels {
		for _, mode := range []knowledge.Mode{knowledge.ModeHeadBatch, knowledge.ModeTailBatch} {
			t.Run(name.String()+"/"+mode.String(), func(t *testing.T) {
				m := newTestModel(t, testConfig(name))
				query := triple(0, 0, 1)
				raw, err := m.Score([]knowledge.Triple{query}, [][]int64{all}, mode)
				require.NoError(t, err)

				// the weakest candidate is the positive, the strongest a known alternative
				positive, alternative := int64(0), int64(0)
				for e, s := range raw[0] {
					if s < raw[0][positive] {
						positive = int64(e)
					}
					if s > raw[0][alternative] {
						alternative = int64(e)
					}
				}
				require.Greater(t, raw[0][alternative], raw[0][positive])

				test, alt := query, query
				if mode == knowledge.ModeHeadBatch {
					test.Head, alt.Head = positive, alternative
				} else {
					test.Tail, alt.Tail = positive, alternative
				}
				known := knowledge.NewFactSet([]knowledge.Triple{test, alt})

				batches, err := knowledge.BuildEvalBatches([]knowledge.Triple{test}, known, 5, mode, 1)
				require.NoError(t, err)
				filtered, err := m.EvalStep(batches[0])
				require.NoError(t, err)

				var kept []int64
				for _, e := range all {
					if e != alternative {
						kept = append(kept, e)
					}
				}
				scores, err := m.Score([]knowledge.Triple{test}, [][]int64{kept}, mode)
				require.NoError(t, err)
				removed, err := rankOf(scores[0], kept, make([]float64, len(kept)), positive)
				require.NoError(t, err)

				unfiltered, err := rankOf(raw[0], all, make([]float64, len(all)), positive)
				require.NoError(t, err)

				assert.Equal(t, removed, filtered[0])
				assert.Equal(t, removed+1, unfiltered)
			})
		}
	}
}

func TestMetricsFromRanks(t *testing.T) {
	m := MetricsFromRanks([]int{1, 2, 4, 20})
	assert.Equal(t, 4, m.Count)
	assert.InDelta(t, (1+0.5+0.25+0.05)/4, m.MRR, 1e-12)
	assert.InDelta(t, 6.75, m.MR, 1e-12)
	assert.InDelta(t, 0.25, m.Hits1, 1e-12)
	assert.InDelta(t, 0.5, m.Hits3, 1e-12)
	assert.InDelta(t, 0.75, m.Hits10, 1e-12)

	assert.Equal(t, Metrics{}, MetricsFromRanks(nil))
}

func evalFixture() ([]knowledge.Triple, knowledge.FactSet) {
	train := []knowledge.Triple{triple(0, 0, 1), triple(1, 1, 2), triple(2, 2, 3)}
	test := []knowledge.Triple{triple(0, 0, 2), triple(3, 1, 4), triple(4, 2, 0)}
	return test, knowledge.NewFactSet(train, test)
}

func TestEvaluateIsIndependentOfWorkers(t *testing.T) {
	for _, name := range []ModelName{TATransE, ComplEx, PRotatE} {
		t.Run(name.String(), func(t *testing.T) {
			m := newTestModel(t, testConfig(name))
			test, known := evalFixture()

			serial, err := m.Evaluate(context.Background(), test, known, EvalOptions{BatchSize: 1, Workers: 1})
			require.NoError(t, err)
			parallel, err := m.Evaluate(context.Background(), test, known, EvalOptions{BatchSize: 2, Workers: 4, LogSteps: 1})
			require.NoError(t, err)

			assert.Equal(t, serial, parallel)
			assert.Equal(t, 2*len(test), serial.Count)
			assert.Greater(t, serial.MRR, 0.0)
			assert.LessOrEqual(t, serial.MRR, 1.0)
			assert.GreaterOrEqual(t, serial.MR, 1.0)
			assert.LessOrEqual(t, serial.Hits1, serial.Hits3)
			assert.LessOrEqual(t, serial.Hits3, serial.Hits10)
		})
	}
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	m := newTestModel(t, testConfig(TransE))
	test, known := evalFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Evaluate(ctx, test, known, EvalOptions{Workers: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateFailsOnUnknownEntity(t *testing.T) {
	m := newTestModel(t, testConfig(TransE))
	test := []knowledge.Triple{triple(0, 0, 7)}
	_, err := m.Evaluate(context.Background(), test, knowledge.NewFactSet(test), EvalOptions{})
	var shapeErr *knowledge.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}
