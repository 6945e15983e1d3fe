package kge

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnclabs/tkge/pkg/knowledge"
)

var allModels = []ModelName{TATransE, TransE, TADistMult, DistMult, ComplEx, RotatE, PRotatE}

var testTime = []int64{2, 0, 1, 4, 14, 23, 25}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a small valid configuration for name.
func testConfig(name ModelName) Config {
	cfg := Config{
		ModelName:              name.String(),
		NumEntities:            5,
		NumRelations:           3,
		HiddenDim:              4,
		Gamma:                  6,
		AdversarialTemperature: 1,
		LearningRate:           0.01,
		Seed:                   7,
	}
	switch name {
	case RotatE:
		cfg.DoubleEntityEmbedding = true
	case ComplEx:
		cfg.DoubleEntityEmbedding = true
		cfg.DoubleRelationEmbedding = true
	}
	return cfg
}

func newTestModel(t *testing.T, cfg Config, opts ...Option) *Model {
	t.Helper()
	m, err := New(cfg, append([]Option{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, err)
	return m
}

func triple(h, r, tail int64) knowledge.Triple {
	return knowledge.Triple{Head: h, Relation: r, Tail: tail, Time: testTime}
}

type countingDevice struct {
	train, eval int
}

func (d *countingDevice) Name() string { return "counting" }

func (d *countingDevice) TransferBatch(*knowledge.Batch) error {
	d.train++
	return nil
}

func (d *countingDevice) TransferEval(*knowledge.EvalBatch) error {
	d.eval++
	return nil
}

func TestNewAllocatesTables(t *testing.T) {
	for _, name := range allModels {
		t.Run(name.String(), func(t *testing.T) {
			cfg := testConfig(name)
			m := newTestModel(t, cfg)
			assert.Equal(t, name, m.Name())
			assert.Equal(t, cfg, m.Config())

			store := m.Store()
			assert.Equal(t, int64(5), store.Size(EntityTable))
			assert.Equal(t, int64(3), store.Size(RelationTable))
			assert.Equal(t, int64(knowledge.NumTimeTokens), store.Size(TimeTable))

			rng := store.Scale.EmbeddingRange
			assert.InDelta(t, (6.0+2.0)/4, rng, 1e-12)
			for tbl := EntityTable; tbl <= TimeTable; tbl++ {
				for _, v := range store.param(tbl).Value {
					assert.LessOrEqual(t, v, rng)
					assert.GreaterOrEqual(t, v, -rng)
				}
			}

			if name.Temporal() {
				assert.NotNil(t, m.encoder)
			} else {
				assert.Nil(t, m.encoder)
			}
			if name == PRotatE {
				assert.InDelta(t, 0.5*rng, m.modulus.Value[0], 1e-12)
			}
		})
	}
}

func TestNewIsDeterministicPerSeed(t *testing.T) {
	a := newTestModel(t, testConfig(TATransE))
	b := newTestModel(t, testConfig(TATransE))
	assert.Equal(t, a.Store().param(EntityTable).Value, b.Store().param(EntityTable).Value)
	assert.Equal(t, a.encoder.Wx.Value, b.encoder.Wx.Value)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown model", func(c *Config) { c.ModelName = "TransH" }, "model_name"},
		{"no entities", func(c *Config) { c.NumEntities = 0 }, "nentity"},
		{"no relations", func(c *Config) { c.NumRelations = -1 }, "nrelation"},
		{"zero width", func(c *Config) { c.HiddenDim = 0 }, "hidden_dim"},
		{"negative gamma", func(c *Config) { c.Gamma = -1 }, "gamma"},
		{"negative regularization", func(c *Config) { c.Regularization = -0.1 }, "regularization"},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }, "learning_rate"},
		{"rotate single entity", func(c *Config) { c.ModelName = "RotatE"; c.DoubleEntityEmbedding = false }, "model_name"},
		{"rotate double relation", func(c *Config) {
			c.ModelName = "RotatE"
			c.DoubleEntityEmbedding = true
			c.DoubleRelationEmbedding = true
		}, "model_name"},
		{"complex single relation", func(c *Config) { c.ModelName = "ComplEx"; c.DoubleEntityEmbedding = true }, "model_name"},
		{"transe mismatched widths", func(c *Config) { c.DoubleEntityEmbedding = true }, "model_name"},
		{"tatranse mismatched time width", func(c *Config) {
			c.ModelName = "TATransE"
			c.DoubleRelationEmbedding = true
		}, "model_name"},
		{"cuda without device", func(c *Config) { c.Cuda = true }, "cuda"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(TransE)
			tt.mutate(&cfg)
			_, err := New(cfg, WithLogger(discardLogger()))
			var cfgErr *knowledge.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestParseModelName(t *testing.T) {
	for _, name := range allModels {
		parsed, err := ParseModelName(name.String())
		require.NoError(t, err)
		assert.Equal(t, name, parsed)
	}
	_, err := ParseModelName("protate")
	assert.Error(t, err)
	assert.Equal(t, "ModelName(42)", ModelName(42).String())
}

func TestCudaUsesRegisteredDevice(t *testing.T) {
	cfg := testConfig(TransE)
	cfg.Cuda = true
	dev := &countingDevice{}
	m := newTestModel(t, cfg, WithDevice(dev))

	_, err := m.TrainStep(&knowledge.Batch{
		Positive:          []knowledge.Triple{triple(0, 0, 1)},
		Negative:          [][]int64{{2, 3}},
		SubsamplingWeight: []float64{1},
		Mode:              knowledge.ModeTailBatch,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dev.train)

	_, err = m.EvalStep(&knowledge.EvalBatch{
		Positive:   []knowledge.Triple{triple(0, 0, 1)},
		Negative:   [][]int64{{0, 1, 2, 3, 4}},
		FilterBias: [][]float64{{0, 0, 0, 0, 0}},
		Mode:       knowledge.ModeTailBatch,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dev.eval)
}

func TestLookupOutOfRange(t *testing.T) {
	m := newTestModel(t, testConfig(TransE))
	var shapeErr *knowledge.ShapeError

	_, err := m.Predict(triple(5, 0, 1))
	assert.ErrorAs(t, err, &shapeErr)
	_, err = m.Predict(triple(0, 3, 1))
	assert.ErrorAs(t, err, &shapeErr)
	_, err = m.Score([]knowledge.Triple{triple(0, 0, 1)}, [][]int64{{0, -1}}, knowledge.ModeTailBatch)
	assert.ErrorAs(t, err, &shapeErr)

	ta := newTestModel(t, testConfig(TATransE))
	bad := triple(0, 0, 1)
	bad.Time = []int64{2, 0, 1, knowledge.NumTimeTokens}
	_, err = ta.Predict(bad)
	assert.ErrorAs(t, err, &shapeErr)
}

func TestScoreRejectsBadShapes(t *testing.T) {
	m := newTestModel(t, testConfig(TATransE))
	var shapeErr *knowledge.ShapeError

	_, err := m.Score(nil, nil, knowledge.ModeSingle)
	assert.ErrorAs(t, err, &shapeErr)

	_, err = m.Score([]knowledge.Triple{triple(0, 0, 1), triple(1, 0, 2)}, [][]int64{{1, 2}}, knowledge.ModeTailBatch)
	assert.ErrorAs(t, err, &shapeErr)

	_, err = m.Score([]knowledge.Triple{triple(0, 0, 1), triple(1, 0, 2)}, [][]int64{{1, 2}, {1}}, knowledge.ModeTailBatch)
	assert.ErrorAs(t, err, &shapeErr)

	short := triple(1, 0, 2)
	short.Time = []int64{1, 9}
	_, err = m.Score([]knowledge.Triple{triple(0, 0, 1), short}, nil, knowledge.ModeSingle)
	assert.ErrorAs(t, err, &shapeErr)

	var cfgErr *knowledge.ConfigurationError
	_, err = m.Score([]knowledge.Triple{triple(0, 0, 1)}, nil, knowledge.Mode(7))
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEncodeRelation(t *testing.T) {
	cfg := testConfig(TADistMult)
	cfg.DoubleEntityEmbedding = true
	m := newTestModel(t, cfg)

	for _, tokens := range [][]int64{{1, 5, 9}, testTime} {
		rel, err := m.EncodeRelation(1, tokens)
		require.NoError(t, err)
		assert.Len(t, rel, m.Store().Dim(EntityTable))
		assert.Len(t, rel, 8)
	}

	_, err := m.EncodeRelation(1, nil)
	var shapeErr *knowledge.ShapeError
	assert.ErrorAs(t, err, &shapeErr)

	_, err = newTestModel(t, testConfig(DistMult)).EncodeRelation(1, testTime)
	var cfgErr *knowledge.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestZeroTimeContextIsDeterministic(t *testing.T) {
	m := newTestModel(t, testConfig(TADistMult))
	clear(m.Store().param(TimeTable).Value)
	p := knowledge.Triple{Head: 0, Relation: 1, Tail: 2, Time: []int64{2, 0, 1}}

	first, err := m.Predict(p)
	require.NoError(t, err)
	second, err := m.Predict(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	again := newTestModel(t, testConfig(TADistMult))
	clear(again.Store().param(TimeTable).Value)
	fresh, err := again.Predict(p)
	require.NoError(t, err)
	assert.Equal(t, first, fresh)

	// all-zero tokens make every date encode alike
	other := p
	other.Time = []int64{9, 9, 9}
	third, err := m.Predict(other)
	require.NoError(t, err)
	assert.InDelta(t, first, third, 1e-12)
}
