// Package kge implements knowledge graph embedding models for temporal link
// prediction: the scoring functions, the training step with self-adversarial
// negative sampling and the filtered ranking evaluation.
package kge

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/tkge/pkg/knowledge"
	"github.com/cnclabs/tkge/pkg/optim"
	"github.com/cnclabs/tkge/pkg/rnn"
)

// Model owns the embedding tables, the sequence encoder and the optimizer.
// TrainStep takes exclusive access; scoring and evaluation share read access.
type Model struct {
	mu sync.RWMutex

	cfg     Config
	name    ModelName
	store   *EmbeddingStore
	encoder *rnn.LSTM    // temporal models only
	modulus *optim.Param // pRotatE only
	scorer  scorer

	optimizer optim.Optimizer
	params    []*optim.Param
	device    Device
	logger    *slog.Logger
}

// Option customizes a Model.
type Option func(*Model)

// WithDevice sets the device batches are transferred to before scoring.
func WithDevice(d Device) Option {
	return func(m *Model) { m.device = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithOptimizer replaces the default Adam optimizer.
func WithOptimizer(o optim.Optimizer) Option {
	return func(m *Model) { m.optimizer = o }
}

// New validates cfg and allocates a model. Invalid model names and width
// combinations fail here, never at the first forward pass.
func New(cfg Config, opts ...Option) (*Model, error) {
	name, d, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	scale := Scale{
		Gamma:          cfg.Gamma,
		EmbeddingRange: (cfg.Gamma + epsilon) / float64(cfg.HiddenDim),
	}

	m := &Model{
		cfg:    cfg,
		name:   name,
		store:  newEmbeddingStore(cfg.NumEntities, cfg.NumRelations, d, scale, rng),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.Cuda && m.device == nil {
		return nil, configErr("cuda", true, "no accelerated device registered")
	}
	if m.device == nil {
		m.device = HostDevice{}
	}

	m.params = []*optim.Param{m.store.param(EntityTable), m.store.param(RelationTable)}
	if name.Temporal() {
		m.encoder = rnn.NewLSTM(d.relation, d.entity, rng)
		m.params = append(m.params, m.store.param(TimeTable))
		m.params = append(m.params, m.encoder.Params()...)
	}
	if name == PRotatE {
		m.modulus = optim.NewParam("modulus", []float64{0.5 * scale.EmbeddingRange})
		m.params = append(m.params, m.modulus)
	}

	if m.scorer, err = newScorer(name, scale, m.modulus); err != nil {
		return nil, err
	}
	if m.optimizer == nil {
		m.optimizer = optim.NewAdam(cfg.LearningRate)
	}

	m.logger.Debug("model initialized",
		"model", name.String(),
		"entities", cfg.NumEntities,
		"relations", cfg.NumRelations,
		"entity_dim", d.entity,
		"relation_dim", d.relation,
		"time_dim", d.time,
		"gamma", scale.Gamma,
		"embedding_range", scale.EmbeddingRange,
		"device", m.device.Name())
	return m, nil
}

// Name returns the scoring function in use.
func (m *Model) Name() ModelName {
	return m.name
}

// Config returns the configuration the model was built from.
func (m *Model) Config() Config {
	return m.cfg
}

// Store returns the embedding tables. Values must only be read while no
// training step is in flight.
func (m *Model) Store() *EmbeddingStore {
	return m.store
}

// Score computes scores of shape [batch][candidates]. In single mode negative
// is ignored and every row has one score.
func (m *Model) Score(positive []knowledge.Triple, negative [][]int64, mode knowledge.Mode) ([][]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores, _, err := m.forward(positive, negative, mode)
	return scores, err
}

// Predict returns the single-mode score of one triple.
func (m *Model) Predict(t knowledge.Triple) (float64, error) {
	scores, err := m.Score([]knowledge.Triple{t}, nil, knowledge.ModeSingle)
	if err != nil {
		return 0, err
	}
	return scores[0][0], nil
}

// EncodeRelation returns the time-conditioned relation vector of a temporal
// model: the final hidden state of the encoder over the relation embedding
// followed by the time-token embeddings.
func (m *Model) EncodeRelation(relation int64, time []int64) ([]float64, error) {
	if !m.name.Temporal() {
		return nil, configErr("model_name", m.name, "has no sequence encoder")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out, _, err := m.encodeRelation(relation, time)
	return out, err
}

type rowTrace struct {
	heads    []int64
	tails    []int64
	relation int64
	time     []int64
	rel      []float64
	seq      *rnn.Trace
}

type forwardTrace struct {
	mode knowledge.Mode
	rows []rowTrace
}

func (m *Model) encodeRelation(relation int64, time []int64) ([]float64, *rnn.Trace, error) {
	rel, err := m.store.Row(RelationTable, relation)
	if err != nil {
		return nil, nil, err
	}
	if len(time) == 0 {
		return nil, nil, &knowledge.ShapeError{Op: "encode relation", Reason: "empty time context"}
	}
	tokens, err := m.store.Lookup(TimeTable, time)
	if err != nil {
		return nil, nil, err
	}

	seq := make([][]float64, 0, len(tokens)+1)
	seq = append(seq, rel)
	seq = append(seq, tokens...)
	out, tr, err := m.encoder.Encode(seq)
	if err != nil {
		return nil, nil, &knowledge.ShapeError{Op: "encode relation", Reason: err.Error()}
	}
	return out, tr, nil
}

func (m *Model) checkShapes(positive []knowledge.Triple, negative [][]int64, mode knowledge.Mode) error {
	if !mode.Valid() {
		return configErr("mode", mode, "")
	}
	if len(positive) == 0 {
		return &knowledge.ShapeError{Op: "score", Reason: "empty batch"}
	}
	if mode.Corrupting() {
		if len(negative) != len(positive) {
			return &knowledge.ShapeError{Op: "score", Reason: fmt.Sprintf("%d negative rows for %d positives", len(negative), len(positive))}
		}
		for i, row := range negative {
			if len(row) == 0 || len(row) != len(negative[0]) {
				return &knowledge.ShapeError{Op: "score", Reason: fmt.Sprintf("negative row %d has %d candidates, want %d", i, len(row), len(negative[0]))}
			}
		}
	}
	if m.name.Temporal() {
		if _, err := knowledge.TimeWidth(positive); err != nil {
			return err
		}
	}
	return nil
}

// forward scores a batch and records what backward needs.
func (m *Model) forward(positive []knowledge.Triple, negative [][]int64, mode knowledge.Mode) ([][]float64, *forwardTrace, error) {
	if err := m.checkShapes(positive, negative, mode); err != nil {
		return nil, nil, err
	}

	tr := &forwardTrace{mode: mode, rows: make([]rowTrace, len(positive))}
	scores := make([][]float64, len(positive))
	for b, p := range positive {
		row := rowTrace{
			heads:    []int64{p.Head},
			tails:    []int64{p.Tail},
			relation: p.Relation,
			time:     p.Time,
		}
		switch mode {
		case knowledge.ModeHeadBatch:
			row.heads = negative[b]
		case knowledge.ModeTailBatch:
			row.tails = negative[b]
		}

		heads, err := m.store.Lookup(EntityTable, row.heads)
		if err != nil {
			return nil, nil, err
		}
		tails, err := m.store.Lookup(EntityTable, row.tails)
		if err != nil {
			return nil, nil, err
		}

		if m.name.Temporal() {
			row.rel, row.seq, err = m.encodeRelation(p.Relation, p.Time)
		} else {
			row.rel, err = m.store.Row(RelationTable, p.Relation)
		}
		if err != nil {
			return nil, nil, err
		}

		n := max(len(heads), len(tails))
		scores[b] = make([]float64, n)
		for j := 0; j < n; j++ {
			h := heads[min(j, len(heads)-1)]
			t := tails[min(j, len(tails)-1)]
			scores[b][j] = m.scorer.score(h, row.rel, t, mode)
		}
		tr.rows[b] = row
	}
	return scores, tr, nil
}

// backward accumulates dLoss/dParam given dLoss/dScore for every score of a
// traced forward pass.
func (m *Model) backward(tr *forwardTrace, dScores [][]float64) {
	for b, row := range tr.rows {
		dRel := make([]float64, len(row.rel))
		var dModulus float64

		for j, g := range dScores[b] {
			if g == 0 {
				continue
			}
			hid := row.heads[min(j, len(row.heads)-1)]
			tid := row.tails[min(j, len(row.tails)-1)]
			h, _ := m.store.Row(EntityTable, hid)
			t, _ := m.store.Row(EntityTable, tid)
			dModulus += m.scorer.backward(h, row.rel, t, tr.mode, g,
				m.store.gradRow(EntityTable, hid), dRel, m.store.gradRow(EntityTable, tid))
		}

		if m.modulus != nil {
			m.modulus.Grad[0] += dModulus
		}

		if row.seq == nil {
			floats.Add(m.store.gradRow(RelationTable, row.relation), dRel)
			continue
		}
		dxs := m.encoder.Backward(row.seq, dRel)
		floats.Add(m.store.gradRow(RelationTable, row.relation), dxs[0])
		for k, tok := range row.time {
			floats.Add(m.store.gradRow(TimeTable, tok), dxs[k+1])
		}
	}
}
