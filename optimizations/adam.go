package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/mockingjay/utils"
)

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p), AdamW style. Without bias
// correction mhat = m and vhat = v.
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
	biasCorrection bool,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	c1, c2 := 1.0, 1.0
	if biasCorrection {
		c1 = 1.0 / (1.0 - math.Pow(beta1, float64(t)))
		c2 = 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	}
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			denom := math.Sqrt(vhat) + eps
			update := mhat/denom + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

type adamState struct {
	step int
	m, v *mat.Dense
}

func stateFor(states map[*Param]*adamState, p *Param) *adamState {
	s, ok := states[p]
	if !ok {
		s = &adamState{m: utils.ZerosLike(p.Value), v: utils.ZerosLike(p.Value)}
		states[p] = s
	}
	return s
}

// Adam applies group LRs as-is; pair it with ManualWarmup for a schedule.
type Adam struct {
	Groups         []*ParamGroup
	Beta1, Beta2   float64
	Eps            float64
	BiasCorrection bool

	state map[*Param]*adamState
}

func NewAdam(groups []*ParamGroup, beta1, beta2, eps float64, biasCorrection bool) *Adam {
	return &Adam{
		Groups:         groups,
		Beta1:          beta1,
		Beta2:          beta2,
		Eps:            eps,
		BiasCorrection: biasCorrection,
		state:          make(map[*Param]*adamState),
	}
}

func (a *Adam) Step() {
	for _, g := range a.Groups {
		for _, p := range g.Params {
			s := stateFor(a.state, p)
			s.step++
			AdamUpdateInPlace(p.Value, p.Grad, s.m, s.v, s.step,
				g.LR, a.Beta1, a.Beta2, a.Eps, g.WeightDecay, a.BiasCorrection)
		}
	}
}

func (a *Adam) ZeroGrad() { zeroGrads(a.Groups) }

func (a *Adam) ParamGroups() []*ParamGroup { return a.Groups }

func (a *Adam) GetLR() []float64 {
	out := make([]float64, len(a.Groups))
	for i, g := range a.Groups {
		out[i] = g.LR
	}
	return out
}
