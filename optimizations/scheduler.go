package optimizations

import (
	"github.com/manningwu07/mockingjay/params"
)

// StepScheduler runs right before every optimizer update.
type StepScheduler interface {
	BeforeStep(opt Optimizer, globalStep int)
}

// ManualWarmup overwrites every group's LR with
// LearningRate * Schedule(globalStep).
type ManualWarmup struct {
	LearningRate float64
	Schedule     *WarmupLinearSchedule
}

func (m *ManualWarmup) BeforeStep(opt Optimizer, globalStep int) {
	lr := m.LearningRate * m.Schedule.GetLR(globalStep, true)
	for _, g := range opt.ParamGroups() {
		g.LR = lr
	}
}

// Delegated leaves scheduling to an optimizer with a built-in schedule.
type Delegated struct{}

func (Delegated) BeforeStep(Optimizer, int) {}

// TotalUpdates is the number of optimizer updates the schedule plans for.
func TotalUpdates(batchesPerEpoch, accumulation, epochs int) int {
	return (batchesPerEpoch / accumulation) * epochs
}

// NewTrainingOptimizer builds the optimizer/scheduler pair selected by
// cfg.ManualWarmup over the given params.
func NewTrainingOptimizer(cfg params.TrainingConfig, ps []*Param, tTotal int) (Optimizer, StepScheduler) {
	groups := GroupParameters(ps, cfg.LearningRate, cfg.WeightDecay)
	if cfg.ManualWarmup {
		opt := NewAdam(groups, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps, false)
		return opt, &ManualWarmup{
			LearningRate: cfg.LearningRate,
			Schedule:     NewWarmupLinearSchedule(cfg.WarmupProportion, tTotal),
		}
	}
	opt := NewBertAdam(groups, cfg.WarmupProportion, tTotal)
	opt.Beta1, opt.Beta2, opt.Eps = cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps
	return opt, Delegated{}
}
