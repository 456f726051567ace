package optimizations

import "fmt"

// WarmupLinearSchedule ramps the LR multiplier linearly from 0 to 1 over the
// first Warmup fraction of TTotal steps, then decays it linearly to 0 at
// TTotal.
type WarmupLinearSchedule struct {
	Warmup float64 // fraction of TTotal
	TTotal int     // <= 0 disables scheduling (multiplier 1)

	warned bool
}

func NewWarmupLinearSchedule(warmup float64, tTotal int) *WarmupLinearSchedule {
	return &WarmupLinearSchedule{Warmup: warmup, TTotal: tTotal}
}

// GetLR returns the multiplier for step. Unless nowarn is set, going past
// TTotal prints a single warning.
func (s *WarmupLinearSchedule) GetLR(step int, nowarn bool) float64 {
	if s.TTotal <= 0 {
		return 1.0
	}
	progress := float64(step) / float64(s.TTotal)
	mult := s.multiplier(progress)
	if !nowarn && progress > 1 && !s.warned {
		fmt.Printf("Warning: training beyond specified t_total (%d). LR multiplier set to %g\n", s.TTotal, mult)
		s.warned = true
	}
	return mult
}

func (s *WarmupLinearSchedule) multiplier(progress float64) float64 {
	if progress < s.Warmup {
		return progress / s.Warmup
	}
	return max((progress-1.0)/(s.Warmup-1.0), 0)
}
