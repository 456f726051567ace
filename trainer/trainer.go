// Package trainer drives masked acoustic model pretraining: batches flow
// through the masking pipeline into the model, gradients accumulate over
// GradientAccumulationSteps batches, and every update is clipped, checked
// for NaN, and logged.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/IO"
	"github.com/manningwu07/mockingjay/mam"
	"github.com/manningwu07/mockingjay/optimizations"
	"github.com/manningwu07/mockingjay/params"
	"github.com/manningwu07/mockingjay/transformer"
	"github.com/manningwu07/mockingjay/utils"
)

var (
	ErrLoadUnsupported = errors.New("loading a pretrained model is not supported")
	ErrEmptyDataset    = errors.New("training set has no batches")
)

// Loader yields one epoch of (1 x B x T x D) buckets per Iter call.
type Loader interface {
	Len() int
	Iter() IO.Iterator
}

// ScalarLogger records a named scalar at an optimizer step.
type ScalarLogger interface {
	AddScalar(tag string, value float64, step int) error
}

// Session is the mutable state of one run.
type Session struct {
	GlobalStep int
	Epoch      int
	BestValEd  float64
	NaNSteps   []int // global steps whose update was skipped
}

type Trainer struct {
	Config   params.TrainingConfig
	Model    transformer.Model
	Pipeline *mam.Pipeline
	Loader   Loader
	Log      ScalarLogger // may be nil

	Verbose  bool
	Progress bool
	Out      io.Writer // status and progress output; defaults to stdout
	Load     string    // checkpoint to resume from; always rejected

	Session Session

	opt   optimizations.Optimizer
	sched optimizations.StepScheduler
}

// New validates the configuration and builds the optimizer for model.
func New(cfg params.TrainingConfig, model transformer.Model, pipeline *mam.Pipeline, loader Loader) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	tTotal := optimizations.TotalUpdates(loader.Len(), cfg.GradientAccumulationSteps, cfg.TotalEpochs)
	opt, sched := optimizations.NewTrainingOptimizer(cfg, model.Parameters(), tTotal)
	return &Trainer{
		Config:   cfg,
		Model:    model,
		Pipeline: pipeline,
		Loader:   loader,
		Out:      os.Stdout,
		Session:  Session{GlobalStep: 1, BestValEd: 2.0},
		opt:      opt,
		sched:    sched,
	}, nil
}

// Optimizer exposes the optimizer New selected.
func (t *Trainer) Optimizer() optimizations.Optimizer { return t.opt }

func (t *Trainer) Verbosef(format string, args ...any) {
	if t.Verbose {
		fmt.Fprintf(t.out(), "[SOLVER] "+format+"\n", args...)
	}
}

func (t *Trainer) out() io.Writer {
	if t.Out == nil {
		return os.Stdout
	}
	return t.Out
}

// Exec runs TotalEpochs epochs over the loader.
func (t *Trainer) Exec(ctx context.Context) error {
	if t.Load != "" {
		return fmt.Errorf("%s: %w", t.Load, ErrLoadUnsupported)
	}
	n := t.Loader.Len()
	if n == 0 {
		return ErrEmptyDataset
	}
	t.Verbosef("Training set total %d batches.", n)

	bars := newProgress(t.Progress, t.out(), t.Config.TotalEpochs)
	err := t.run(ctx, bars, n)
	bars.finish(err != nil)
	return err
}

func (t *Trainer) run(ctx context.Context, bars *progress, n int) error {
	for t.Session.Epoch < t.Config.TotalEpochs {
		bars.startEpoch(n)
		it := t.Loader.Iter()
		for step := 0; ; step++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			bucket, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			loss, err := t.trainBatch(bucket, step)
			if err != nil {
				return fmt.Errorf("epoch %d batch %d: %w", t.Session.Epoch, step, err)
			}
			bars.iterDone(loss)
		}
		t.Session.Epoch++
		bars.epochDone()
	}
	return nil
}

// trainBatch runs forward and backward on one bucket and performs an
// update on every GradientAccumulationSteps-th batch of the epoch.
func (t *Trainer) trainBatch(bucket [][]*mat.Dense, step int) (float64, error) {
	batch, err := t.Pipeline.Process(bucket)
	if err != nil {
		return 0, err
	}
	loss, err := t.Model.Forward(batch)
	if err != nil {
		return 0, err
	}
	gas := t.Config.GradientAccumulationSteps
	scale := 1.0
	if gas > 1 {
		loss /= float64(gas)
		scale = 1 / float64(gas)
	}
	if err := t.Model.Backward(scale); err != nil {
		return 0, err
	}
	if step%gas == 0 {
		t.update(loss)
	}
	return loss, nil
}

func (t *Trainer) update(loss float64) {
	t.sched.BeforeStep(t.opt, t.Session.GlobalStep)

	ps := t.Model.Parameters()
	grads := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		grads[i] = p.Grad
	}
	norm := utils.ClipGradNorm(t.Config.GradientClipping, grads...)
	if math.IsNaN(norm) {
		t.Verbosef("Error : grad norm is NaN @ step %d", t.Session.GlobalStep)
		t.Session.NaNSteps = append(t.Session.NaNSteps, t.Session.GlobalStep)
	} else {
		t.opt.Step()
	}
	t.opt.ZeroGrad()

	t.logScalar("lr", firstLR(t.opt.GetLR()))
	t.logScalar("loss", loss)
	utils.Debugf("step %d loss %.6f grad norm %.4f", t.Session.GlobalStep, loss, norm)
	t.Session.GlobalStep++
}

func (t *Trainer) logScalar(tag string, v float64) {
	if t.Log == nil {
		return
	}
	if err := t.Log.AddScalar(tag, v, t.Session.GlobalStep); err != nil {
		t.Verbosef("summary %s @ step %d: %v", tag, t.Session.GlobalStep, err)
	}
}

func firstLR(lrs []float64) float64 {
	if len(lrs) == 0 {
		return 0
	}
	return lrs[0]
}
