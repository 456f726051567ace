package IO

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ExportSynthetic writes n random log-mel-like utterances with lengths in
// [minFrames, maxFrames] for smoke runs without a real corpus.
func ExportSynthetic(outPrefix string, n, melDim, minFrames, maxFrames int, seed uint64) error {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)
	dist := distuv.Normal{Mu: -4, Sigma: 2, Src: src}

	w, err := NewShardWriter(outPrefix, melDim, 0)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		T := minFrames
		if maxFrames > minFrames {
			T += rng.IntN(maxFrames - minFrames + 1)
		}
		data := make([]float64, T*melDim)
		for j := range data {
			data[j] = dist.Rand()
		}
		if err := w.Write(mat.NewDense(T, melDim, data)); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
