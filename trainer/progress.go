package trainer

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progress shows an epoch bar and a per-epoch iteration bar carrying the
// latest loss. A nil *progress is a no-op.
type progress struct {
	p      *mpb.Progress
	epochs *mpb.Bar
	iter   *mpb.Bar
	loss   atomic.Uint64 // math.Float64bits of the last loss
}

func newProgress(enabled bool, w io.Writer, totalEpochs int) *progress {
	if !enabled {
		return nil
	}
	pr := &progress{p: mpb.New(mpb.WithWidth(64), mpb.WithOutput(w))}
	pr.epochs = pr.p.AddBar(int64(totalEpochs),
		mpb.PrependDecorators(
			decor.Name("Epoch     "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return pr
}

func (pr *progress) startEpoch(batches int) {
	if pr == nil {
		return
	}
	pr.iter = pr.p.AddBar(int64(batches),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name("Iteration "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.AverageETA(decor.ET_STYLE_GO),
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf(" Loss %.6f", math.Float64frombits(pr.loss.Load()))
			}),
		),
	)
}

func (pr *progress) iterDone(loss float64) {
	if pr == nil {
		return
	}
	pr.loss.Store(math.Float64bits(loss))
	pr.iter.Increment()
}

func (pr *progress) epochDone() {
	if pr == nil {
		return
	}
	// a loader may yield fewer batches than it reported
	pr.iter.SetTotal(-1, true)
	pr.epochs.Increment()
}

// finish waits for the bars to flush, aborting unfinished ones first.
func (pr *progress) finish(aborted bool) {
	if pr == nil {
		return
	}
	if aborted {
		if pr.iter != nil {
			pr.iter.Abort(false)
		}
		pr.epochs.Abort(false)
	}
	pr.p.Wait()
}
