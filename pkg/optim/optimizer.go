package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Param is a flat block of trainable values with its accumulated gradient.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64

	m []float64
	v []float64
}

// NewParam wraps value as a trainable parameter. value is shared, not copied.
func NewParam(name string, value []float64) *Param {
	return &Param{
		Name:  name,
		Value: value,
		Grad:  make([]float64, len(value)),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// Optimizer applies one update to every parameter from its accumulated gradient.
type Optimizer interface {
	Step(params []*Param)
}

// SGD is plain gradient descent.
type SGD struct {
	LearningRate float64
}

// Step moves every value against its gradient.
func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		floats.AddScaled(p.Value, -o.LearningRate, p.Grad)
	}
}

// Adam implements the Adam update rule with bias correction.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
}

// NewAdam creates an Adam optimizer with the usual moment decay rates.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Step performs one Adam update. Every call counts as one step for the bias
// correction, so callers pass the full parameter set each time.
func (o *Adam) Step(params []*Param) {
	o.step++
	correction1 := 1 - math.Pow(o.Beta1, float64(o.step))
	correction2 := 1 - math.Pow(o.Beta2, float64(o.step))
	stepSize := o.LearningRate / correction1

	for _, p := range params {
		if p.m == nil {
			p.m = make([]float64, len(p.Value))
			p.v = make([]float64, len(p.Value))
		}
		for i, g := range p.Grad {
			p.m[i] = o.Beta1*p.m[i] + (1-o.Beta1)*g
			p.v[i] = o.Beta2*p.v[i] + (1-o.Beta2)*g*g
			denom := math.Sqrt(p.v[i]/correction2) + o.Epsilon
			p.Value[i] -= stepSize * p.m[i] / denom
		}
	}
}
