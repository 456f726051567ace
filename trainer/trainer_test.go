package trainer

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/IO"
	"github.com/manningwu07/mockingjay/mam"
	"github.com/manningwu07/mockingjay/optimizations"
	"github.com/manningwu07/mockingjay/params"
	"github.com/manningwu07/mockingjay/transformer"
)

type sliceLoader struct {
	buckets [][][]*mat.Dense
	failAt  int // -1 never
	err     error
}

func (l *sliceLoader) Len() int { return len(l.buckets) }

func (l *sliceLoader) Iter() IO.Iterator { return &sliceIter{l: l} }

type sliceIter struct {
	l   *sliceLoader
	pos int
}

func (it *sliceIter) Next() ([][]*mat.Dense, error) {
	if it.pos == it.l.failAt {
		return nil, it.l.err
	}
	if it.pos >= len(it.l.buckets) {
		return nil, io.EOF
	}
	b := it.l.buckets[it.pos]
	it.pos++
	return b, nil
}

func newLoader(n int) *sliceLoader {
	l := &sliceLoader{failAt: -1}
	for i := 0; i < n; i++ {
		data := make([]float64, 5*2)
		for j := range data {
			data[j] = float64(j + 1)
		}
		l.buckets = append(l.buckets, [][]*mat.Dense{{mat.NewDense(5, 2, data)}})
	}
	return l
}

// fakeModel reports a constant loss and a unit gradient (NaN on the
// forward calls listed in nanAt).
type fakeModel struct {
	w        *optimizations.Param
	loss     float64
	nanAt    map[int]bool
	forwards int
	scales   []float64
	seen     []float64 // w before each forward
}

func newFakeModel() *fakeModel {
	return &fakeModel{w: optimizations.NewParam("w", mat.NewDense(1, 1, []float64{1})), loss: 1}
}

func (m *fakeModel) Forward(*mam.Batch) (float64, error) {
	m.seen = append(m.seen, m.w.Value.At(0, 0))
	m.forwards++
	return m.loss, nil
}

func (m *fakeModel) Backward(scale float64) error {
	m.scales = append(m.scales, scale)
	g := scale
	if m.nanAt[m.forwards] {
		g = math.NaN()
	}
	m.w.Grad.Set(0, 0, m.w.Grad.At(0, 0)+g)
	return nil
}

func (m *fakeModel) Parameters() []*optimizations.Param { return []*optimizations.Param{m.w} }

type scalar struct {
	step  int
	value float64
}

type memLog map[string][]scalar

func (l memLog) AddScalar(tag string, v float64, step int) error {
	l[tag] = append(l[tag], scalar{step, v})
	return nil
}

func testConfig() params.TrainingConfig {
	cfg := params.DefaultConfig()
	cfg.MelDim = 2
	cfg.HiddenSize = 4
	cfg.TotalEpochs = 1
	return cfg
}

func testPipeline() *mam.Pipeline {
	return &mam.Pipeline{
		DownsampleRate: 1,
		HiddenSize:     4,
		Masker:         mam.NewMasker(0.5, rand.New(rand.NewSource(123))),
		Device:         mam.CPU,
	}
}

func newTestTrainer(t *testing.T, cfg params.TrainingConfig, model transformer.Model, loader Loader) *Trainer {
	t.Helper()
	tr, err := New(cfg, model, testPipeline(), loader)
	if err != nil {
		t.Fatal(err)
	}
	tr.Out = io.Discard
	return tr
}

func TestGradientAccumulationGating(t *testing.T) {
	cfg := testConfig()
	cfg.GradientAccumulationSteps = 4
	model := newFakeModel()
	tr := newTestTrainer(t, cfg, model, newLoader(9))
	log := memLog{}
	tr.Log = log

	if err := tr.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if model.forwards != 9 || len(model.scales) != 9 {
		t.Fatalf("forwards=%d backwards=%d, want 9 each", model.forwards, len(model.scales))
	}
	for _, s := range model.scales {
		if s != 0.25 {
			t.Fatalf("backward scale %v, want 0.25", s)
		}
	}
	// updates on batches 0, 4 and 8
	if tr.Session.GlobalStep != 4 {
		t.Fatalf("GlobalStep=%d, want 4", tr.Session.GlobalStep)
	}
	losses := log["loss"]
	if len(losses) != 3 || len(log["lr"]) != 3 {
		t.Fatalf("logged %d losses and %d lrs", len(losses), len(log["lr"]))
	}
	for i, s := range losses {
		if s.step != i+1 || s.value != 0.25 {
			t.Fatalf("loss point %d = %+v", i, s)
		}
	}
	if tr.Session.Epoch != 1 {
		t.Fatalf("Epoch=%d", tr.Session.Epoch)
	}
}

func TestNaNGradientSkipsUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.ManualWarmup = true
	model := newFakeModel()
	model.nanAt = map[int]bool{2: true}
	tr := newTestTrainer(t, cfg, model, newLoader(4))

	if err := tr.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.Session.GlobalStep != 5 {
		t.Fatalf("GlobalStep=%d, NaN steps still count", tr.Session.GlobalStep)
	}
	if len(tr.Session.NaNSteps) != 1 || tr.Session.NaNSteps[0] != 2 {
		t.Fatalf("NaNSteps=%v, want [2]", tr.Session.NaNSteps)
	}
	// seen[i] is w before batch i
	if model.seen[1] == model.seen[0] {
		t.Fatal("first update did not move w")
	}
	if model.seen[2] != model.seen[1] {
		t.Fatalf("NaN step changed w: %v -> %v", model.seen[1], model.seen[2])
	}
	if model.seen[3] == model.seen[2] || math.IsNaN(model.seen[3]) {
		t.Fatalf("w after the NaN step = %v", model.seen[3])
	}
	if g := model.w.Grad.At(0, 0); g != 0 {
		t.Fatalf("grad not zeroed: %v", g)
	}
}

func TestManualWarmupLogsScheduledLR(t *testing.T) {
	cfg := testConfig()
	cfg.ManualWarmup = true
	cfg.LearningRate = 4e-4
	cfg.WarmupProportion = 0.07
	log := memLog{}
	tr := newTestTrainer(t, cfg, newFakeModel(), newLoader(2))
	tr.Log = log

	if err := tr.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	// t_total = 2: step 1 is past warmup at progress 0.5, step 2 reaches 0.
	want := []float64{4e-4 * (0.5 - 1) / (0.07 - 1), 0}
	lrs := log["lr"]
	if len(lrs) != 2 {
		t.Fatalf("logged %d lrs", len(lrs))
	}
	for i, s := range lrs {
		if math.Abs(s.value-want[i]) > 1e-12 {
			t.Fatalf("lr @ %d = %v, want %v", s.step, s.value, want[i])
		}
	}
	if _, ok := tr.Optimizer().(*optimizations.Adam); !ok {
		t.Fatalf("manual warmup uses %T", tr.Optimizer())
	}
}

func TestDelegatedScheduleUsesBertAdam(t *testing.T) {
	tr := newTestTrainer(t, testConfig(), newFakeModel(), newLoader(1))
	if _, ok := tr.Optimizer().(*optimizations.BertAdam); !ok {
		t.Fatalf("got %T", tr.Optimizer())
	}
}

func TestLoadIsRejected(t *testing.T) {
	model := newFakeModel()
	tr := newTestTrainer(t, testConfig(), model, newLoader(2))
	tr.Load = "ckpt/model.gob"
	if err := tr.Exec(context.Background()); !errors.Is(err, ErrLoadUnsupported) {
		t.Fatalf("err=%v", err)
	}
	if model.forwards != 0 {
		t.Fatal("training ran despite load request")
	}
}

func TestEmptyLoader(t *testing.T) {
	if _, err := New(testConfig(), newFakeModel(), testPipeline(), newLoader(0)); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("err=%v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.GradientAccumulationSteps = 0
	if _, err := New(cfg, newFakeModel(), testPipeline(), newLoader(1)); !errors.Is(err, params.ErrInvalidConfig) {
		t.Fatalf("err=%v", err)
	}
}

func TestLoaderErrorPropagates(t *testing.T) {
	boom := errors.New("disk gone")
	l := newLoader(3)
	l.failAt, l.err = 1, boom
	tr := newTestTrainer(t, testConfig(), newFakeModel(), l)
	tr.Progress = true
	if err := tr.Exec(context.Background()); err != boom {
		t.Fatalf("err=%v, want the loader's error unchanged", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := newFakeModel()
	tr := newTestTrainer(t, testConfig(), model, newLoader(2))
	if err := tr.Exec(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if model.forwards != 0 {
		t.Fatal("ran after cancel")
	}
}

func TestProgressAcrossEpochs(t *testing.T) {
	cfg := testConfig()
	cfg.TotalEpochs = 3
	model := newFakeModel()
	tr := newTestTrainer(t, cfg, model, newLoader(2))
	tr.Progress = true
	tr.Verbose = true
	if err := tr.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.Session.Epoch != 3 || model.forwards != 6 || tr.Session.GlobalStep != 7 {
		t.Fatalf("epoch=%d forwards=%d step=%d", tr.Session.Epoch, model.forwards, tr.Session.GlobalStep)
	}
}

func TestTrainsAcousticModel(t *testing.T) {
	cfg := testConfig()
	cfg.ManualWarmup = true
	cfg.TotalEpochs = 2
	model := transformer.NewAcousticModel(cfg.MelDim, cfg.HiddenSize)
	tr := newTestTrainer(t, cfg, model, newLoader(4))
	log := memLog{}
	tr.Log = log
	if err := tr.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(log["loss"]) != 8 {
		t.Fatalf("logged %d losses", len(log["loss"]))
	}
	for _, s := range log["loss"] {
		if math.IsNaN(s.value) || s.value < 0 {
			t.Fatalf("loss %v @ %d", s.value, s.step)
		}
	}
	if len(tr.Session.NaNSteps) != 0 {
		t.Fatalf("NaN steps %v", tr.Session.NaNSteps)
	}
}
