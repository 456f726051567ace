package transformer

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/mam"
	"github.com/manningwu07/mockingjay/optimizations"
	"github.com/manningwu07/mockingjay/utils"
)

func testBatch(t *testing.T, seed int64) *mam.Batch {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	utt := func() *mat.Dense {
		return mat.NewDense(8, 3, utils.RandomArray(24, 3))
	}
	p := &mam.Pipeline{
		DownsampleRate: 2,
		HiddenSize:     4,
		Masker:         mam.NewMasker(0.5, rng),
		Device:         mam.CPU,
	}
	b, err := p.Process([][]*mat.Dense{{utt(), utt()}})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func finiteDiffCheck(t *testing.T, p *optimizations.Param, forward func() float64, i, j int) {
	t.Helper()
	eps := 1e-6
	w0 := p.Value.At(i, j)

	p.Value.Set(i, j, w0+eps)
	lp := forward()
	p.Value.Set(i, j, w0-eps)
	lm := forward()
	p.Value.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := p.Grad.At(i, j)
	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g", p.Name, i, j, numGrad, anaGrad)
	}
}

func TestAcousticModelGradCheck(t *testing.T) {
	b := testBatch(t, 123)
	m := NewAcousticModel(6, 4)

	forward := func() float64 {
		loss, err := m.Forward(b)
		if err != nil {
			t.Fatal(err)
		}
		return loss
	}
	forward()
	if err := m.Backward(1); err != nil {
		t.Fatal(err)
	}

	finiteDiffCheck(t, m.InWeight, forward, 0, 0)
	finiteDiffCheck(t, m.InWeight, forward, 5, 3)
	finiteDiffCheck(t, m.InBias, forward, 0, 1)
	finiteDiffCheck(t, m.Norm.Gamma, forward, 0, 2)
	finiteDiffCheck(t, m.Norm.Beta, forward, 0, 3)
	finiteDiffCheck(t, m.OutWeight, forward, 2, 4)
	finiteDiffCheck(t, m.OutBias, forward, 0, 0)
}

func TestBackwardAccumulatesScaled(t *testing.T) {
	b := testBatch(t, 7)
	m := NewAcousticModel(6, 4)
	if _, err := m.Forward(b); err != nil {
		t.Fatal(err)
	}
	if err := m.Backward(1); err != nil {
		t.Fatal(err)
	}
	full := mat.DenseCopyOf(m.OutWeight.Grad)

	m.OutWeight.Grad.Zero()
	for k := 0; k < 4; k++ {
		if err := m.Backward(0.25); err != nil {
			t.Fatal(err)
		}
	}
	if !mat.EqualApprox(full, m.OutWeight.Grad, 1e-12) {
		t.Fatal("four quarter-scaled backward passes should match one full pass")
	}
}

func TestBackwardBeforeForward(t *testing.T) {
	if err := NewAcousticModel(2, 2).Backward(1); err == nil {
		t.Fatal("expected an error")
	}
}

func TestForwardRejectsWrongWidth(t *testing.T) {
	b := testBatch(t, 1)
	if _, err := NewAcousticModel(5, 4).Forward(b); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestSaveLoadModel(t *testing.T) {
	m := NewAcousticModel(3, 2)
	path := filepath.Join(t.TempDir(), "ckpt", "model.gob")
	if err := SaveModel(m, path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range m.Parameters() {
		q := got.Parameters()[i]
		if p.Name != q.Name || !mat.Equal(p.Value, q.Value) {
			t.Fatalf("param %s differs after reload", p.Name)
		}
	}
}

func TestLayerNormParamsSkipDecay(t *testing.T) {
	m := NewAcousticModel(3, 2)
	groups := optimizations.GroupParameters(m.Parameters(), 1e-3, 0.01)
	var decayed []string
	for _, p := range groups[0].Params {
		decayed = append(decayed, p.Name)
	}
	if len(decayed) != 2 || decayed[0] != "input.weight" || decayed[1] != "output.weight" {
		t.Fatalf("decayed params %v", decayed)
	}
	if len(groups[1].Params) != 4 || groups[1].WeightDecay != 0 {
		t.Fatalf("no-decay group has %d params, wd %v", len(groups[1].Params), groups[1].WeightDecay)
	}
}

func TestLayerNormRowsAreNormalized(t *testing.T) {
	ln := NewLayerNorm("", 4, 1e-12)
	x := mat.NewDense(2, 4, []float64{1, 2, 3, 4, -2, 0, 2, 4})
	out, _ := ln.Forward(x)
	for r := 0; r < 2; r++ {
		mean, sq := 0.0, 0.0
		for _, v := range out.RawRowView(r) {
			mean += v
			sq += v * v
		}
		if math.Abs(mean) > 1e-9 || math.Abs(sq/4-1) > 1e-9 {
			t.Fatalf("row %d: mean %v, var %v", r, mean/4, sq/4)
		}
	}
}
