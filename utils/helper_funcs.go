package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Debug gates Debugf output.
var Debug = false

func Debugf(format string, args ...any) {
	if !Debug {
		return
	}
	fmt.Printf("[debug] "+format+"\n", args...)
}

// RandomArray returns 'size' samples from U(-1/sqrt(v), 1/sqrt(v)).
func RandomArray(size int, v float64) []float64 {
	dist := distuv.Uniform{
		Min: -1 / math.Sqrt(v+1e-12),
		Max: 1 / math.Sqrt(v+1e-12),
	}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func OnesLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 1)
		}
	}
	return out
}

// MatrixNorm is the Frobenius norm; NaN entries give NaN.
func MatrixNorm(m *mat.Dense) float64 {
	r, _ := m.Dims()
	sq := 0.0
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		sq += floats.Dot(row, row)
	}
	return math.Sqrt(sq)
}

// RowSums returns per-row sums.
func RowSums(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(m.RawRowView(i))
	}
	return out
}

// ColSums returns per-column sums as a (1 x c) row vector.
func ColSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	acc := out.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(acc, m.RawRowView(i))
	}
	return out
}

// AddRowBias adds a (1 x c) bias to every row of m, in place.
func AddRowBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if br, bc := bias.Dims(); br != 1 || bc != c {
		panic("AddRowBias: bias must be (1 x c)")
	}
	b := bias.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), b)
	}
	return m
}

// ClipGradNorm rescales grads so their combined L2 norm is at most maxNorm and
// returns the norm measured before clipping. A NaN norm leaves grads untouched
// so the caller can decide to skip the update.
func ClipGradNorm(maxNorm float64, grads ...*mat.Dense) float64 {
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := MatrixNorm(g)
		sum += n * n
	}
	total := math.Sqrt(sum)
	if maxNorm <= 0 || math.IsNaN(total) {
		return total
	}
	coef := maxNorm / (total + 1e-6)
	if coef < 1 {
		for _, g := range grads {
			if g != nil {
				g.Scale(coef, g)
			}
		}
	}
	return total
}

// -------- GELU activation (GPT-style) --------
// gelu(x) = 0.5 * x * (1 + tanh( sqrt(2/pi) * (x + 0.044715*x^3) ))

func GeluApply(i, j int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

func GeluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	const k = 0.7978845608028654 // sqrt(2/pi)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			t := k * (x + 0.044715*x*x*x)
			th := math.Tanh(t)
			cosh := math.Cosh(t)
			sech2 := 1.0 / (cosh * cosh)
			dt := k * (1.0 + 3.0*0.044715*x*x)
			out.Set(i, j, 0.5*(1.0+th)+0.5*x*sech2*dt)
		}
	}
	return out
}
