package kge

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/tkge/pkg/knowledge"
)

// TrainLog is the outcome of one training step as plain numbers.
type TrainLog struct {
	PositiveSampleLoss float64 `yaml:"positive_sample_loss"`
	NegativeSampleLoss float64 `yaml:"negative_sample_loss"`
	Loss               float64 `yaml:"loss"`
	Regularization     float64 `yaml:"regularization,omitempty"`
	Regularized        bool    `yaml:"-"`
}

// TrainStep scores the positives and their negatives, assembles the
// self-adversarial loss, backpropagates and applies one optimizer step.
// Only one step may run on a model at a time; TrainStep serializes itself
// against every other call on the model.
func (m *Model) TrainStep(batch *knowledge.Batch) (TrainLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := batch.Validate(m.name.Temporal()); err != nil {
		return TrainLog{}, err
	}
	if err := m.device.TransferBatch(batch); err != nil {
		return TrainLog{}, fmt.Errorf("transfer batch to %s: %w", m.device.Name(), err)
	}
	weights, err := m.exampleWeights(batch.SubsamplingWeight)
	if err != nil {
		return TrainLog{}, err
	}

	negScores, negTrace, err := m.forward(batch.Positive, batch.Negative, batch.Mode)
	if err != nil {
		return TrainLog{}, err
	}
	posScores, posTrace, err := m.forward(batch.Positive, nil, knowledge.ModeSingle)
	if err != nil {
		return TrainLog{}, err
	}

	for _, p := range m.params {
		p.ZeroGrad()
	}

	var log TrainLog
	dNeg := make([][]float64, len(batch.Positive))
	dPos := make([][]float64, len(batch.Positive))
	for b, w := range weights {
		negTerm, dTerm := m.negativeTerm(negScores[b])
		posTerm := logSigmoid(posScores[b][0])

		log.PositiveSampleLoss -= w * posTerm
		log.NegativeSampleLoss -= w * negTerm

		// loss = (positive + negative) / 2, each term a weighted negative mean.
		floats.Scale(-0.5*w, dTerm)
		dNeg[b] = dTerm
		dPos[b] = []float64{-0.5 * w * sigmoid(-posScores[b][0])}
	}
	log.Loss = (log.PositiveSampleLoss + log.NegativeSampleLoss) / 2

	if c := m.cfg.Regularization; c != 0 {
		entity := m.store.param(EntityTable)
		relation := m.store.param(RelationTable)
		log.Regularization = c * (cubicNorm(entity.Value) + relationRegularizer(relation.Value))
		log.Regularized = true
		log.Loss += log.Regularization
		addCubicGrad(entity.Grad, entity.Value, c)
		addCubicGrad(relation.Grad, relation.Value, c)
	}

	m.backward(negTrace, dNeg)
	m.backward(posTrace, dPos)
	m.optimizer.Step(m.params)
	return log, nil
}

// exampleWeights returns the weight of every example in the batch mean:
// uniform, or proportional to the subsampling weight.
func (m *Model) exampleWeights(subsampling []float64) ([]float64, error) {
	weights := make([]float64, len(subsampling))
	if m.cfg.UniWeight {
		for i := range weights {
			weights[i] = 1 / float64(len(weights))
		}
		return weights, nil
	}

	total := floats.Sum(subsampling)
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, &knowledge.ShapeError{Op: "train batch", Reason: fmt.Sprintf("subsampling weights sum to %v", total)}
	}
	copy(weights, subsampling)
	floats.Scale(1/total, weights)
	return weights, nil
}

// negativeTerm reduces the negative scores of one example to a scalar and
// returns its gradient with respect to each score. With self-adversarial
// sampling the softmax weights are treated as constants.
func (m *Model) negativeTerm(scores []float64) (float64, []float64) {
	grad := make([]float64, len(scores))
	term := 0.0

	if m.cfg.NegativeAdversarialSampling {
		weights := softmax(scores, m.cfg.AdversarialTemperature)
		for j, s := range scores {
			term += weights[j] * logSigmoid(-s)
			grad[j] = -weights[j] * sigmoid(s)
		}
		return term, grad
	}

	n := float64(len(scores))
	for j, s := range scores {
		term += logSigmoid(-s)
		grad[j] = -sigmoid(s) / n
	}
	return term / n, grad
}

// cubicNorm is ||x||_3^3.
func cubicNorm(x []float64) float64 {
	n := floats.Norm(x, 3)
	return n * n * n
}

// relationRegularizer is ||(||x||_3)||_3^3: the norm is applied twice to the
// relation table. The outer norm of a non-negative scalar is the scalar
// itself, so the value equals cubicNorm.
func relationRegularizer(x []float64) float64 {
	inner := floats.Norm(x, 3)
	outer := floats.Norm([]float64{inner}, 3)
	return outer * outer * outer
}

// addCubicGrad adds c * d/dx sum |x|^3 = 3c x|x|, which is zero at zero.
func addCubicGrad(grad, x []float64, c float64) {
	for i, v := range x {
		grad[i] += 3 * c * v * math.Abs(v)
	}
}

// logSigmoid computes log(1/(1+e^-x)) without overflow.
func logSigmoid(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softmax(scores []float64, temperature float64) []float64 {
	out := make([]float64, len(scores))
	maxLogit := math.Inf(-1)
	for i, s := range scores {
		out[i] = s * temperature
		maxLogit = math.Max(maxLogit, out[i])
	}
	sum := 0.0
	for i := range out {
		out[i] = math.Exp(out[i] - maxLogit)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}

// BatchSource supplies training batches, such as a knowledge.BidirectionalIterator.
type BatchSource interface {
	Next() *knowledge.Batch
}

// TrainOptions controls the training loop.
type TrainOptions struct {
	MaxSteps   int
	LogSteps   int
	ValidSteps int

	// Validate runs every ValidSteps steps and after the last step.
	Validate func(ctx context.Context, step int) error
}

// Train runs TrainStep MaxSteps times, logging averaged losses every LogSteps
// steps. The context is checked between steps; a step is never interrupted.
func (m *Model) Train(ctx context.Context, source BatchSource, opts TrainOptions) (TrainLog, error) {
	if opts.MaxSteps <= 0 {
		return TrainLog{}, configErr("max_steps", opts.MaxSteps, "must be positive")
	}

	m.logger.Info("start training",
		"model", m.name.String(),
		"max_steps", opts.MaxSteps,
		"learning_rate", m.cfg.LearningRate,
		"adversarial", m.cfg.NegativeAdversarialSampling,
		"regularization", m.cfg.Regularization)

	var sum, last TrainLog
	window := 0
	for step := 1; step <= opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		log, err := m.TrainStep(source.Next())
		if err != nil {
			return last, fmt.Errorf("train step %d: %w", step, err)
		}
		last = log
		sum.PositiveSampleLoss += log.PositiveSampleLoss
		sum.NegativeSampleLoss += log.NegativeSampleLoss
		sum.Loss += log.Loss
		sum.Regularization += log.Regularization
		window++

		if opts.LogSteps > 0 && (step%opts.LogSteps == 0 || step == opts.MaxSteps) {
			n := float64(window)
			m.logger.Info("training average",
				"step", step,
				"positive_sample_loss", sum.PositiveSampleLoss/n,
				"negative_sample_loss", sum.NegativeSampleLoss/n,
				"regularization", sum.Regularization/n,
				"loss", sum.Loss/n)
			sum, window = TrainLog{}, 0
		}

		if opts.Validate != nil && ((opts.ValidSteps > 0 && step%opts.ValidSteps == 0) || step == opts.MaxSteps) {
			if err := opts.Validate(ctx, step); err != nil {
				return last, fmt.Errorf("validate at step %d: %w", step, err)
			}
		}
	}
	return last, nil
}
