package transformer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/mam"
	"github.com/manningwu07/mockingjay/optimizations"
	"github.com/manningwu07/mockingjay/utils"
)

// Model is what the training loop drives: Forward returns the scalar loss
// of a batch, Backward adds d(scale*loss)/dθ into every Param.Grad.
type Model interface {
	Forward(b *mam.Batch) (float64, error)
	Backward(scale float64) error
	Parameters() []*optimizations.Param
}

var errNoForward = errors.New("backward called before forward")

const layerNormEps = 1e-12

// AcousticModel reconstructs frames from the masked input: a per-frame
// projection to HiddenSize plus the positional table, LayerNorm, GELU, and a
// projection back. The loss is the mean absolute error over label-masked entries.
type AcousticModel struct {
	InputDim, HiddenSize int

	InWeight, InBias   *optimizations.Param // (D x H), (1 x H)
	Norm               *LayerNorm
	OutWeight, OutBias *optimizations.Param // (H x D), (1 x D)

	// cache for backprop
	batch   *mam.Batch
	norms   []*lnCache
	preAct  []*mat.Dense
	hidden  []*mat.Dense
	outputs []*mat.Dense
	count   int
}

func NewAcousticModel(inputDim, hiddenSize int) *AcousticModel {
	return &AcousticModel{
		InputDim:   inputDim,
		HiddenSize: hiddenSize,
		InWeight: optimizations.NewParam("input.weight",
			mat.NewDense(inputDim, hiddenSize, utils.RandomArray(inputDim*hiddenSize, float64(inputDim)))),
		InBias: optimizations.NewParam("input.bias", mat.NewDense(1, hiddenSize, nil)),
		Norm:   NewLayerNorm("input.", hiddenSize, layerNormEps),
		OutWeight: optimizations.NewParam("output.weight",
			mat.NewDense(hiddenSize, inputDim, utils.RandomArray(hiddenSize*inputDim, float64(hiddenSize)))),
		OutBias: optimizations.NewParam("output.bias", mat.NewDense(1, inputDim, nil)),
	}
}

func (m *AcousticModel) Parameters() []*optimizations.Param {
	return []*optimizations.Param{m.InWeight, m.InBias, m.Norm.Gamma, m.Norm.Beta, m.OutWeight, m.OutBias}
}

func (m *AcousticModel) Forward(b *mam.Batch) (float64, error) {
	n := b.Size()
	m.batch = nil
	m.norms = make([]*lnCache, n)
	m.preAct = make([]*mat.Dense, n)
	m.hidden = make([]*mat.Dense, n)
	m.outputs = make([]*mat.Dense, n)
	m.count = 0

	sum := 0.0
	for i := 0; i < n; i++ {
		x := b.MaskedInput[i]
		if _, c := x.Dims(); c != m.InputDim {
			return 0, fmt.Errorf("%w: input width %d, model expects %d", mam.ErrShape, c, m.InputDim)
		}
		if _, c := b.PosEnc[i].Dims(); c != m.HiddenSize {
			return 0, fmt.Errorf("%w: position width %d, model expects %d", mam.ErrShape, c, m.HiddenSize)
		}

		var h mat.Dense
		h.Mul(x, m.InWeight.Value) // (T x H)
		utils.AddRowBias(&h, m.InBias.Value)
		h.Add(&h, b.PosEnc[i])
		z, cache := m.Norm.Forward(&h)
		var a mat.Dense
		a.Apply(utils.GeluApply, z)
		var out mat.Dense
		out.Mul(&a, m.OutWeight.Value) // (T x D)
		utils.AddRowBias(&out, m.OutBias.Value)

		m.norms[i], m.preAct[i], m.hidden[i], m.outputs[i] = cache, z, &a, &out

		label, target := b.MaskLabel[i], b.Target[i]
		r, c := label.Dims()
		for t := 0; t < r; t++ {
			for d := 0; d < c; d++ {
				if label.At(t, d) == 0 {
					continue
				}
				sum += math.Abs(out.At(t, d) - target.At(t, d))
				m.count++
			}
		}
	}
	m.batch = b
	if m.count == 0 {
		return 0, nil
	}
	return sum / float64(m.count), nil
}

func (m *AcousticModel) Backward(scale float64) error {
	if m.batch == nil {
		return errNoForward
	}
	if m.count == 0 {
		return nil
	}
	b := m.batch
	for i := 0; i < b.Size(); i++ {
		out, target, label := m.outputs[i], b.Target[i], b.MaskLabel[i]
		r, c := out.Dims()
		dOut := mat.NewDense(r, c, nil)
		for t := 0; t < r; t++ {
			for d := 0; d < c; d++ {
				if label.At(t, d) == 0 {
					continue
				}
				diff := out.At(t, d) - target.At(t, d)
				if diff != 0 {
					dOut.Set(t, d, scale*math.Copysign(1, diff)/float64(m.count))
				}
			}
		}

		var dWout mat.Dense
		dWout.Mul(m.hidden[i].T(), dOut)
		m.OutWeight.Grad.Add(m.OutWeight.Grad, &dWout)
		m.OutBias.Grad.Add(m.OutBias.Grad, utils.ColSums(dOut))

		var dA mat.Dense
		dA.Mul(dOut, m.OutWeight.Value.T())
		var dZ mat.Dense
		dZ.MulElem(&dA, utils.GeluPrime(m.preAct[i]))
		dH := m.Norm.Backward(&dZ, m.norms[i])

		var dWin mat.Dense
		dWin.Mul(b.MaskedInput[i].T(), dH)
		m.InWeight.Grad.Add(m.InWeight.Grad, &dWin)
		m.InBias.Grad.Add(m.InBias.Grad, utils.ColSums(dH))
	}
	return nil
}
