package optimizations

import (
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Param is a trainable matrix and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func NewParam(name string, value *mat.Dense) *Param {
	r, c := value.Dims()
	return &Param{Name: name, Value: value, Grad: mat.NewDense(r, c, nil)}
}

// ParamGroup shares a learning rate and weight decay across params. LR may
// be overwritten between steps by a StepScheduler.
type ParamGroup struct {
	Params      []*Param
	LR          float64
	WeightDecay float64
}

// Optimizer updates params from their accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step()
	GetLR() []float64
	ParamGroups() []*ParamGroup
}

// Weight decay is never applied to params whose name contains one of these.
var noDecay = []string{"bias", "LayerNorm.bias", "LayerNorm.weight"}

// GroupParameters splits params into a decayed group and a no-decay group
// (biases and LayerNorm), in that order.
func GroupParameters(params []*Param, lr, weightDecay float64) []*ParamGroup {
	decay := &ParamGroup{LR: lr, WeightDecay: weightDecay}
	plain := &ParamGroup{LR: lr, WeightDecay: 0}
	for _, p := range params {
		if skipsDecay(p.Name) {
			plain.Params = append(plain.Params, p)
		} else {
			decay.Params = append(decay.Params, p)
		}
	}
	return []*ParamGroup{decay, plain}
}

func skipsDecay(name string) bool {
	for _, nd := range noDecay {
		if strings.Contains(name, nd) {
			return true
		}
	}
	return false
}

func zeroGrads(groups []*ParamGroup) {
	for _, g := range groups {
		for _, p := range g.Params {
			p.Grad.Zero()
		}
	}
}
