package kge

import (
	"math"

	"github.com/cnclabs/tkge/pkg/knowledge"
	"github.com/cnclabs/tkge/pkg/optim"
)

// scorer maps one (head, relation, tail) vector triple to a plausibility
// score. The temporal models reuse the TransE and DistMult scorers with the
// encoded relation in place of the raw one.
//
// backward adds g times the score gradient into dh, dr and dt, which may
// alias each other, and returns the gradient for the modulus.
type scorer interface {
	score(h, r, t []float64, mode knowledge.Mode) float64
	backward(h, r, t []float64, mode knowledge.Mode, g float64, dh, dr, dt []float64) float64
}

func newScorer(name ModelName, scale Scale, modulus *optim.Param) (scorer, error) {
	switch name {
	case TransE, TATransE:
		return transE{gamma: scale.Gamma}, nil
	case DistMult, TADistMult:
		return distMult{}, nil
	case ComplEx:
		return complEx{}, nil
	case RotatE:
		return rotatE{gamma: scale.Gamma, phaseScale: scale.EmbeddingRange / math.Pi}, nil
	case PRotatE:
		return pRotatE{gamma: scale.Gamma, phaseScale: scale.EmbeddingRange / math.Pi, modulus: modulus}, nil
	}
	return nil, configErr("model_name", name, "no scoring function")
}

// transE scores gamma - ||h + r - t||_1.
type transE struct {
	gamma float64
}

func (s transE) translate(h, r, t []float64, mode knowledge.Mode, i int) float64 {
	if mode == knowledge.ModeHeadBatch {
		return h[i] + (r[i] - t[i])
	}
	return (h[i] + r[i]) - t[i]
}

func (s transE) score(h, r, t []float64, mode knowledge.Mode) float64 {
	dist := 0.0
	for i := range h {
		dist += math.Abs(s.translate(h, r, t, mode, i))
	}
	return s.gamma - dist
}

func (s transE) backward(h, r, t []float64, mode knowledge.Mode, g float64, dh, dr, dt []float64) float64 {
	for i := range h {
		d := -g * sign(s.translate(h, r, t, mode, i))
		dh[i] += d
		dr[i] += d
		dt[i] -= d
	}
	return 0
}

// distMult scores sum(h * r * t).
type distMult struct{}

func (distMult) score(h, r, t []float64, mode knowledge.Mode) float64 {
	sum := 0.0
	for i := range h {
		if mode == knowledge.ModeHeadBatch {
			sum += h[i] * (r[i] * t[i])
		} else {
			sum += (h[i] * r[i]) * t[i]
		}
	}
	return sum
}

func (distMult) backward(h, r, t []float64, _ knowledge.Mode, g float64, dh, dr, dt []float64) float64 {
	for i := range h {
		hi, ri, ti := h[i], r[i], t[i]
		dh[i] += g * ri * ti
		dr[i] += g * hi * ti
		dt[i] += g * hi * ri
	}
	return 0
}

// complEx scores Re(<h, r, conj(t)>) with vectors split into real and
// imaginary halves.
type complEx struct{}

func (complEx) score(h, r, t []float64, mode knowledge.Mode) float64 {
	k := len(h) / 2
	reH, imH := h[:k], h[k:]
	reR, imR := r[:k], r[k:]
	reT, imT := t[:k], t[k:]

	sum := 0.0
	for i := 0; i < k; i++ {
		if mode == knowledge.ModeHeadBatch {
			re := reR[i]*reT[i] + imR[i]*imT[i]
			im := reR[i]*imT[i] - imR[i]*reT[i]
			sum += reH[i]*re + imH[i]*im
		} else {
			re := reH[i]*reR[i] - imH[i]*imR[i]
			im := reH[i]*imR[i] + imH[i]*reR[i]
			sum += re*reT[i] + im*imT[i]
		}
	}
	return sum
}

func (complEx) backward(h, r, t []float64, _ knowledge.Mode, g float64, dh, dr, dt []float64) float64 {
	k := len(h) / 2
	for i := 0; i < k; i++ {
		rh, ih := h[i], h[k+i]
		rr, ir := r[i], r[k+i]
		rt, it := t[i], t[k+i]

		dh[i] += g * (rr*rt + ir*it)
		dh[k+i] += g * (rr*it - ir*rt)
		dr[i] += g * (rh*rt + ih*it)
		dr[k+i] += g * (rh*it - ih*rt)
		dt[i] += g * (rh*rr - ih*ir)
		dt[k+i] += g * (rh*ir + ih*rr)
	}
	return 0
}

// rotatE rotates the head by the relation phase in the complex plane and
// scores gamma - sum |h o r - t|.
type rotatE struct {
	gamma      float64
	phaseScale float64
}

// residual returns the real and imaginary part of the rotation error in
// dimension i.
func (s rotatE) residual(h, r, t []float64, mode knowledge.Mode, i int) (float64, float64) {
	k := len(h) / 2
	reH, imH := h[i], h[k+i]
	reT, imT := t[i], t[k+i]
	phase := r[i] / s.phaseScale
	reR, imR := math.Cos(phase), math.Sin(phase)

	if mode == knowledge.ModeHeadBatch {
		re := reR*reT + imR*imT
		im := reR*imT - imR*reT
		return re - reH, im - imH
	}
	re := reH*reR - imH*imR
	im := reH*imR + imH*reR
	return re - reT, im - imT
}

func (s rotatE) score(h, r, t []float64, mode knowledge.Mode) float64 {
	dist := 0.0
	for i := 0; i < len(h)/2; i++ {
		re, im := s.residual(h, r, t, mode, i)
		dist += math.Hypot(re, im)
	}
	return s.gamma - dist
}

func (s rotatE) backward(h, r, t []float64, mode knowledge.Mode, g float64, dh, dr, dt []float64) float64 {
	k := len(h) / 2
	for i := 0; i < k; i++ {
		re, im := s.residual(h, r, t, mode, i)
		norm := math.Hypot(re, im)
		if norm == 0 {
			continue
		}
		gRe := -g * re / norm
		gIm := -g * im / norm

		reH, imH := h[i], h[k+i]
		reT, imT := t[i], t[k+i]
		phase := r[i] / s.phaseScale
		cos, sin := math.Cos(phase), math.Sin(phase)

		var dPhase float64
		if mode == knowledge.ModeHeadBatch {
			dh[i] -= gRe
			dh[k+i] -= gIm
			dt[i] += gRe*cos - gIm*sin
			dt[k+i] += gRe*sin + gIm*cos
			dPhase = gRe*(-sin*reT+cos*imT) + gIm*(-sin*imT-cos*reT)
		} else {
			dh[i] += gRe*cos + gIm*sin
			dh[k+i] += -gRe*sin + gIm*cos
			dt[i] -= gRe
			dt[k+i] -= gIm
			dPhase = gRe*(-reH*sin-imH*cos) + gIm*(reH*cos-imH*sin)
		}
		dr[i] += dPhase / s.phaseScale
	}
	return 0
}

// pRotatE compares phases only and scores gamma - modulus * sum |sin(dphase)|.
type pRotatE struct {
	gamma      float64
	phaseScale float64
	modulus    *optim.Param
}

func (s pRotatE) delta(h, r, t []float64, mode knowledge.Mode, i int) float64 {
	pH, pR, pT := h[i]/s.phaseScale, r[i]/s.phaseScale, t[i]/s.phaseScale
	if mode == knowledge.ModeHeadBatch {
		return pH + (pR - pT)
	}
	return (pH + pR) - pT
}

func (s pRotatE) score(h, r, t []float64, mode knowledge.Mode) float64 {
	sum := 0.0
	for i := range h {
		sum += math.Abs(math.Sin(s.delta(h, r, t, mode, i)))
	}
	return s.gamma - sum*s.modulus.Value[0]
}

func (s pRotatE) backward(h, r, t []float64, mode knowledge.Mode, g float64, dh, dr, dt []float64) float64 {
	modulus := s.modulus.Value[0]
	sum := 0.0
	for i := range h {
		x := s.delta(h, r, t, mode, i)
		sx := math.Sin(x)
		sum += math.Abs(sx)

		d := -g * modulus * sign(sx) * math.Cos(x) / s.phaseScale
		dh[i] += d
		dr[i] += d
		dt[i] -= d
	}
	return -g * sum
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
