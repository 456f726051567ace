package mam

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Shares of the chosen steps that are zeroed and frame-swapped. The rest
// keep their original values but are still prediction targets.
const (
	zeroedShare  = 0.8
	swappedShare = 0.1
)

// MaskedUtterance is one utterance after masking.
type MaskedUtterance struct {
	Input    *mat.Dense  // (T x D) corrupted copy of the stacked frames
	Label    *ByteMatrix // (L x D) 1 on every chosen step
	ValidLen int         // L

	// Chosen is in sampling order; Zeroed and Swapped are slices of it.
	Chosen  []int
	Zeroed  []int
	Swapped []int
}

// Masker selects and corrupts frames of one utterance at a time.
type Masker struct {
	Proportion float64
	Rand       *rand.Rand
}

func NewMasker(proportion float64, rng *rand.Rand) *Masker {
	return &Masker{Proportion: proportion, Rand: rng}
}

// Mask picks floor(L*Proportion) distinct steps of frames[:validLen]. The
// first 80% are zeroed and chosen[m:r] (m, r the 80% and 10% counts) are
// replaced by an earlier frame; since r <= m that slice is empty. The
// input frames are never modified.
func (mk *Masker) Mask(frames *mat.Dense, validLen int) (*MaskedUtterance, error) {
	T, D := frames.Dims()
	if validLen < 0 || validLen > T {
		return nil, fmt.Errorf("%w: valid length %d outside [0,%d]", ErrShape, validLen, T)
	}

	k := int(float64(validLen) * mk.Proportion)
	chosen := sampleIndices(mk.Rand, validLen, k)
	m := int(float64(len(chosen)) * zeroedShare)
	r := int(float64(len(chosen)) * swappedShare)
	zeroed := chosen[:m]
	swapped := span(chosen, m, r)

	x := mat.DenseCopyOf(frames)
	swapFrames(x, swapped, validLen, mk.Rand)
	for _, i := range zeroed {
		row := x.RawRowView(i)
		for j := range row {
			row[j] = 0
		}
	}

	label := NewByteMatrix(validLen, D)
	for _, i := range chosen {
		label.SetRow(i, 1)
	}

	return &MaskedUtterance{
		Input:    x,
		Label:    label,
		ValidLen: validLen,
		Chosen:   chosen,
		Zeroed:   zeroed,
		Swapped:  swapped,
	}, nil
}

// swapFrames overwrites each row i with row i-j, j uniform in [1, validLen-1].
// A negative source row counts from the end of x.
func swapFrames(x *mat.Dense, rows []int, validLen int, rng *rand.Rand) {
	if validLen < 2 {
		return
	}
	T, _ := x.Dims()
	for _, i := range rows {
		src := i - (1 + rng.Intn(validLen-1))
		if src < 0 {
			src += T
		}
		x.SetRow(i, x.RawRowView(src))
	}
}

// sampleIndices draws k distinct values from [0,n) in random order
// (partial Fisher-Yates).
func sampleIndices(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k]
}

// span returns s[lo:hi] clamped to s, empty when hi <= lo.
func span(s []int, lo, hi int) []int {
	if hi > len(s) {
		hi = len(s)
	}
	if lo > len(s) {
		lo = len(s)
	}
	if hi <= lo {
		return []int{}
	}
	return s[lo:hi]
}
