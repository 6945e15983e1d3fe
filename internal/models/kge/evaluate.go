package kge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cnclabs/tkge/pkg/knowledge"
)

// Metrics are filtered link-prediction metrics averaged over every ranked
// example of both corruption directions.
type Metrics struct {
	MRR    float64 `yaml:"mrr"`
	MR     float64 `yaml:"mr"`
	Hits1  float64 `yaml:"hits@1"`
	Hits3  float64 `yaml:"hits@3"`
	Hits10 float64 `yaml:"hits@10"`
	Count  int     `yaml:"count"`
}

// MetricsFromRanks averages reciprocal rank, rank and hit indicators.
func MetricsFromRanks(ranks []int) Metrics {
	m := Metrics{Count: len(ranks)}
	if len(ranks) == 0 {
		return m
	}
	for _, r := range ranks {
		rank := float64(r)
		m.MRR += 1 / rank
		m.MR += rank
		if r <= 1 {
			m.Hits1++
		}
		if r <= 3 {
			m.Hits3++
		}
		if r <= 10 {
			m.Hits10++
		}
	}
	n := float64(len(ranks))
	m.MRR /= n
	m.MR /= n
	m.Hits1 /= n
	m.Hits3 /= n
	m.Hits10 /= n
	return m
}

// EvalOptions controls Evaluate.
type EvalOptions struct {
	BatchSize int
	Workers   int
	LogSteps  int
}

// Evaluate ranks every test triple against all entities, first corrupting
// heads and then tails, filtering candidates that form known facts.
func (m *Model) Evaluate(ctx context.Context, test []knowledge.Triple, known knowledge.FactSet, opts EvalOptions) (Metrics, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}

	var batches []*knowledge.EvalBatch
	for _, mode := range []knowledge.Mode{knowledge.ModeHeadBatch, knowledge.ModeTailBatch} {
		bs, err := knowledge.BuildEvalBatches(test, known, m.cfg.NumEntities, mode, opts.BatchSize)
		if err != nil {
			return Metrics{}, err
		}
		batches = append(batches, bs...)
	}
	return m.EvaluateBatches(ctx, batches, opts)
}

// EvaluateBatches ranks prepared batches concurrently. The model is held
// read-only for the whole evaluation, so no training step can interleave.
func (m *Model) EvaluateBatches(ctx context.Context, batches []*knowledge.EvalBatch, opts EvalOptions) (Metrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([][]int, len(batches))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ranks, err := m.evalStep(batch)
			if err != nil {
				return fmt.Errorf("eval batch %d: %w", i, err)
			}
			results[i] = ranks

			if n := done.Add(1); opts.LogSteps > 0 && n%int64(opts.LogSteps) == 0 {
				m.logger.Info("evaluating the model", "done", n, "total", len(batches))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Metrics{}, err
	}

	var ranks []int
	for _, r := range results {
		ranks = append(ranks, r...)
	}
	return MetricsFromRanks(ranks), nil
}

// EvalStep returns the 1-based filtered rank of every positive in the batch.
func (m *Model) EvalStep(batch *knowledge.EvalBatch) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evalStep(batch)
}

func (m *Model) evalStep(batch *knowledge.EvalBatch) ([]int, error) {
	if err := batch.Validate(m.name.Temporal()); err != nil {
		return nil, err
	}
	if err := m.device.TransferEval(batch); err != nil {
		return nil, fmt.Errorf("transfer eval batch to %s: %w", m.device.Name(), err)
	}

	scores, _, err := m.forward(batch.Positive, batch.Negative, batch.Mode)
	if err != nil {
		return nil, err
	}

	ranks := make([]int, len(batch.Positive))
	for b, p := range batch.Positive {
		positive := p.Tail
		if batch.Mode == knowledge.ModeHeadBatch {
			positive = p.Head
		}
		for j, bias := range batch.FilterBias[b] {
			scores[b][j] += bias
		}
		rank, err := rankOf(scores[b], batch.Negative[b], batch.FilterBias[b], positive)
		if err != nil {
			var amb *RankingAmbiguityError
			if errors.As(err, &amb) {
				amb.Mode = batch.Mode.String()
				amb.Row = b
			}
			return nil, err
		}
		ranks[b] = rank
	}
	return ranks, nil
}

// rankOf sorts candidates by descending score, breaking ties by entity id and
// then by position, and returns the 1-based position of the one unfiltered
// slot holding the positive entity.
func rankOf(scores []float64, candidates []int64, bias []float64, positive int64) (int, error) {
	for _, s := range scores {
		if math.IsNaN(s) {
			return 0, &RankingAmbiguityError{Entity: positive, Reason: "NaN score has no order"}
		}
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		if c := cmp.Compare(candidates[a], candidates[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	rank, matches := 0, 0
	for pos, idx := range order {
		if candidates[idx] == positive && bias[idx] == 0 {
			matches++
			rank = pos + 1
		}
	}
	if matches != 1 {
		return 0, &RankingAmbiguityError{Entity: positive, Matches: matches}
	}
	return rank, nil
}
