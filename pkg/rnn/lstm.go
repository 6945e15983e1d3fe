package rnn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/tkge/pkg/optim"
)

// LSTM is a single-layer long short-term memory network used to encode a
// short sequence into its final hidden state.
//
// Gate rows are stacked in the order input, forget, cell, output.
type LSTM struct {
	InputDim  int
	HiddenDim int

	Wx *optim.Param // input-to-hidden weights [4*hiddenDim x inputDim]
	Wh *optim.Param // hidden-to-hidden weights [4*hiddenDim x hiddenDim]
	B  *optim.Param // bias [4*hiddenDim]

	wx, wh   *mat.Dense
	gwx, gwh *mat.Dense
}

// NewLSTM creates an LSTM with weights drawn uniformly from
// [-1/sqrt(hiddenDim), 1/sqrt(hiddenDim)].
func NewLSTM(inputDim, hiddenDim int, rng *rand.Rand) *LSTM {
	scale := 1.0 / math.Sqrt(float64(hiddenDim))
	uniform := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = (rng.Float64()*2 - 1) * scale
		}
		return v
	}

	gates := 4 * hiddenDim
	l := &LSTM{
		InputDim:  inputDim,
		HiddenDim: hiddenDim,
		Wx:        optim.NewParam("lstm.wx", uniform(gates*inputDim)),
		Wh:        optim.NewParam("lstm.wh", uniform(gates*hiddenDim)),
		B:         optim.NewParam("lstm.b", uniform(gates)),
	}
	l.wx = mat.NewDense(gates, inputDim, l.Wx.Value)
	l.wh = mat.NewDense(gates, hiddenDim, l.Wh.Value)
	l.gwx = mat.NewDense(gates, inputDim, l.Wx.Grad)
	l.gwh = mat.NewDense(gates, hiddenDim, l.Wh.Grad)
	return l
}

// Params returns the trainable weights.
func (l *LSTM) Params() []*optim.Param {
	return []*optim.Param{l.Wx, l.Wh, l.B}
}

// Trace keeps the activations of one Encode call for Backward.
type Trace struct {
	xs    [][]float64
	hs    [][]float64 // hs[0] is the zero initial state
	cs    [][]float64
	gates [][]float64 // activated gates of step t at gates[t]
}

// Len returns the number of encoded steps.
func (tr *Trace) Len() int {
	return len(tr.xs)
}

// Encode runs the sequence through the network from a zero state and returns
// the hidden state after the last step. The inputs are retained by the trace
// and must not change before Backward.
func (l *LSTM) Encode(seq [][]float64) ([]float64, *Trace, error) {
	if len(seq) == 0 {
		return nil, nil, fmt.Errorf("lstm: empty sequence")
	}
	for i, x := range seq {
		if len(x) != l.InputDim {
			return nil, nil, fmt.Errorf("lstm: step %d has width %d, want %d", i, len(x), l.InputDim)
		}
	}

	H := l.HiddenDim
	tr := &Trace{
		xs:    seq,
		hs:    make([][]float64, len(seq)+1),
		cs:    make([][]float64, len(seq)+1),
		gates: make([][]float64, len(seq)),
	}
	tr.hs[0] = make([]float64, H)
	tr.cs[0] = make([]float64, H)

	recurrent := make([]float64, 4*H)
	for t, x := range seq {
		z := make([]float64, 4*H)
		mat.NewVecDense(4*H, z).MulVec(l.wx, mat.NewVecDense(l.InputDim, x))
		mat.NewVecDense(4*H, recurrent).MulVec(l.wh, mat.NewVecDense(H, tr.hs[t]))
		floats.Add(z, recurrent)
		floats.Add(z, l.B.Value)

		for k := 0; k < H; k++ {
			z[k] = sigmoid(z[k])
			z[H+k] = sigmoid(z[H+k])
			z[2*H+k] = math.Tanh(z[2*H+k])
			z[3*H+k] = sigmoid(z[3*H+k])
		}

		c := make([]float64, H)
		h := make([]float64, H)
		prev := tr.cs[t]
		for k := 0; k < H; k++ {
			c[k] = z[H+k]*prev[k] + z[k]*z[2*H+k]
			h[k] = z[3*H+k] * math.Tanh(c[k])
		}
		tr.gates[t] = z
		tr.cs[t+1] = c
		tr.hs[t+1] = h
	}
	return tr.hs[len(seq)], tr, nil
}

// Backward propagates the gradient of the final hidden state through time.
// It accumulates weight gradients and returns the gradient of every input step.
func (l *LSTM) Backward(tr *Trace, dOut []float64) [][]float64 {
	H := l.HiddenDim
	dxs := make([][]float64, len(tr.xs))

	dh := make([]float64, H)
	copy(dh, dOut)
	dc := make([]float64, H)
	dz := make([]float64, 4*H)
	dzVec := mat.NewVecDense(4*H, dz)

	for t := len(tr.xs) - 1; t >= 0; t-- {
		gate := tr.gates[t]
		c := tr.cs[t+1]
		prev := tr.cs[t]

		for k := 0; k < H; k++ {
			i, f, g, o := gate[k], gate[H+k], gate[2*H+k], gate[3*H+k]
			tc := math.Tanh(c[k])

			dc[k] += dh[k] * o * (1 - tc*tc)
			dz[k] = dc[k] * g * i * (1 - i)
			dz[H+k] = dc[k] * prev[k] * f * (1 - f)
			dz[2*H+k] = dc[k] * i * (1 - g*g)
			dz[3*H+k] = dh[k] * tc * o * (1 - o)
			dc[k] *= f
		}

		xVec := mat.NewVecDense(l.InputDim, tr.xs[t])
		hVec := mat.NewVecDense(H, tr.hs[t])
		l.gwx.RankOne(l.gwx, 1, dzVec, xVec)
		l.gwh.RankOne(l.gwh, 1, dzVec, hVec)
		floats.Add(l.B.Grad, dz)

		dx := make([]float64, l.InputDim)
		mat.NewVecDense(l.InputDim, dx).MulVec(l.wx.T(), dzVec)
		dxs[t] = dx

		mat.NewVecDense(H, dh).MulVec(l.wh.T(), dzVec)
	}
	return dxs
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
