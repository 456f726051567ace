package optimizations

import (
	"github.com/manningwu07/mockingjay/utils"
)

// BertAdam is Adam without bias correction, with per-param gradient
// clipping, decoupled weight decay and a built-in warmup schedule.
type BertAdam struct {
	Groups       []*ParamGroup
	Schedule     *WarmupLinearSchedule
	Beta1, Beta2 float64
	Eps          float64
	MaxGradNorm  float64 // per param; <= 0 disables

	state map[*Param]*adamState
}

func NewBertAdam(groups []*ParamGroup, warmup float64, tTotal int) *BertAdam {
	return &BertAdam{
		Groups:      groups,
		Schedule:    NewWarmupLinearSchedule(warmup, tTotal),
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-6,
		MaxGradNorm: 1.0,
		state:       make(map[*Param]*adamState),
	}
}

func (b *BertAdam) Step() {
	for _, g := range b.Groups {
		for _, p := range g.Params {
			s := stateFor(b.state, p)
			if b.MaxGradNorm > 0 {
				utils.ClipGradNorm(b.MaxGradNorm, p.Grad)
			}
			lr := g.LR * b.Schedule.GetLR(s.step, false)
			AdamUpdateInPlace(p.Value, p.Grad, s.m, s.v, s.step,
				lr, b.Beta1, b.Beta2, b.Eps, g.WeightDecay, false)
			s.step++
		}
	}
}

func (b *BertAdam) ZeroGrad() { zeroGrads(b.Groups) }

func (b *BertAdam) ParamGroups() []*ParamGroup { return b.Groups }

// GetLR reports the scheduled LR of every param, or [0] before the first
// step.
func (b *BertAdam) GetLR() []float64 {
	var out []float64
	for _, g := range b.Groups {
		for _, p := range g.Params {
			s, ok := b.state[p]
			if !ok {
				return []float64{0}
			}
			out = append(out, g.LR*b.Schedule.GetLR(s.step, false))
		}
	}
	return out
}
