// Package mam builds masked-acoustic-model training batches from padded
// spectrogram buckets: frame stacking, sinusoidal positions, BERT-style
// frame masking and batch assembly.
package mam

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/utils"
)

// ErrShape reports tensors whose shape cannot be processed.
var ErrShape = errors.New("shape mismatch")

// Squeeze drops the singleton bucket dimension a bucketing loader wraps
// around every batch (1 x B x T x D -> B x T x D).
func Squeeze(bucket [][]*mat.Dense) ([]*mat.Dense, error) {
	if len(bucket) != 1 {
		return nil, fmt.Errorf("%w: bucketing should give acoustic features shape 1xBxTxD, got leading dim %d", ErrShape, len(bucket))
	}
	return bucket[0], nil
}

// DownSample stacks dr consecutive frames into one time step. Each utterance
// (T x D) becomes (T/dr x D*dr); the trailing T%dr frames are dropped.
func DownSample(spec []*mat.Dense, dr int) ([]*mat.Dense, error) {
	if dr <= 0 {
		return nil, fmt.Errorf("%w: downsample rate must be positive, got %d", ErrShape, dr)
	}
	if len(spec) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	T, D := spec[0].Dims()
	steps := T / dr
	if steps == 0 {
		return nil, fmt.Errorf("%w: %d frames cannot be stacked by %d", ErrShape, T, dr)
	}

	out := make([]*mat.Dense, len(spec))
	for b, frames := range spec {
		if r, c := frames.Dims(); r != T || c != D {
			return nil, fmt.Errorf("%w: utterance %d is %dx%d, batch is %dx%d", ErrShape, b, r, c, T, D)
		}
		// row-major: stacking dr rows is a reshape of the kept prefix
		data := make([]float64, 0, steps*dr*D)
		for t := 0; t < steps*dr; t++ {
			data = append(data, frames.RawRowView(t)...)
		}
		out[b] = mat.NewDense(steps, D*dr, data)
	}
	return out, nil
}

// ValidLengths counts the non-padding steps of each stacked utterance: a
// step is padding when its features sum to zero.
func ValidLengths(stacked []*mat.Dense) []int {
	lens := make([]int, len(stacked))
	for b, s := range stacked {
		n := 0
		for _, sum := range utils.RowSums(s) {
			if sum != 0 {
				n++
			}
		}
		lens[b] = n
	}
	return lens
}
