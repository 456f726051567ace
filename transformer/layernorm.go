package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/optimizations"
	"github.com/manningwu07/mockingjay/utils"
)

// LayerNorm normalizes every row (time step) of a (T x H) input, then
// applies a per-feature affine transform.
type LayerNorm struct {
	H     int
	Eps   float64
	Gamma *optimizations.Param // (1 x H)
	Beta  *optimizations.Param // (1 x H)
}

// lnCache holds what Backward needs from one Forward call.
type lnCache struct {
	xhat   *mat.Dense // (T x H)
	invStd []float64  // per row
}

func NewLayerNorm(prefix string, h int, eps float64) *LayerNorm {
	return &LayerNorm{
		H:     h,
		Eps:   eps,
		Gamma: optimizations.NewParam(prefix+"LayerNorm.weight", utils.OnesLike(mat.NewDense(1, h, nil))),
		Beta:  optimizations.NewParam(prefix+"LayerNorm.bias", mat.NewDense(1, h, nil)),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) (*mat.Dense, *lnCache) {
	T, h := X.Dims()
	out := mat.NewDense(T, h, nil)
	c := &lnCache{xhat: mat.NewDense(T, h, nil), invStd: make([]float64, T)}
	gamma, beta := ln.Gamma.Value.RawRowView(0), ln.Beta.Value.RawRowView(0)
	for t := 0; t < T; t++ {
		row := X.RawRowView(t)
		mu := 0.0
		for _, v := range row {
			mu += v
		}
		mu /= float64(h)
		var variance float64
		for _, v := range row {
			diff := v - mu
			variance += diff * diff
		}
		variance /= float64(h)
		istd := 1.0 / math.Sqrt(variance+ln.Eps)
		c.invStd[t] = istd
		xh, o := c.xhat.RawRowView(t), out.RawRowView(t)
		for i, v := range row {
			xh[i] = (v - mu) * istd
			o[i] = gamma[i]*xh[i] + beta[i]
		}
	}
	return out, c
}

// Backward adds dGamma and dBeta into the params' grads and returns dX.
func (ln *LayerNorm) Backward(dY *mat.Dense, c *lnCache) *mat.Dense {
	T, h := dY.Dims()
	gamma := ln.Gamma.Value.RawRowView(0)
	dGamma, dBeta := ln.Gamma.Grad.RawRowView(0), ln.Beta.Grad.RawRowView(0)
	dX := mat.NewDense(T, h, nil)
	for t := 0; t < T; t++ {
		dy, xh := dY.RawRowView(t), c.xhat.RawRowView(t)
		sum1, sum2 := 0.0, 0.0
		for i := 0; i < h; i++ {
			dGamma[i] += dy[i] * xh[i]
			dBeta[i] += dy[i]
			gy := dy[i] * gamma[i]
			sum1 += gy
			sum2 += gy * xh[i]
		}
		dx := dX.RawRowView(t)
		for i := 0; i < h; i++ {
			gy := dy[i] * gamma[i]
			dx[i] = (float64(h)*gy - sum1 - xh[i]*sum2) * (c.invStd[t] / float64(h))
		}
	}
	return dX
}
