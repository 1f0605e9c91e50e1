/*
PURPOSE:
  Adam optimizer.

REQUIREMENTS:
  User-specified:
  - Adam with a fixed learning rate.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train (Step)

ERROR HANDLING:
  - Step fails if called with a different parameter list than NewAdam got.

IMPLEMENTATION RULES:
  - Updates run serially in parameter order.

USAGE:
  opt := nn.NewAdam(net.Parameters(), 1e-3)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/nn/layers.go

MAINTENANCE:
  - None.
*/

package nn

import (
	"fmt"
	"math"

	"github.com/daryltucker/detbench/internal/backend"
)

// Adam is the Adam optimizer with a fixed learning rate.
//
// Update rule:
//
//	m = beta1*m + (1-beta1)*g
//	v = beta2*v + (1-beta2)*g^2
//	p -= lr * (m/(1-beta1^t)) / (sqrt(v/(1-beta2^t)) + eps)
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	m, v []*backend.Tensor
	t    int
}

// NewAdam allocates moment buffers for params.
func NewAdam(params []*Param, lr float64) *Adam {
	opt := &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
	for _, p := range params {
		opt.m = append(opt.m, backend.NewTensor(p.Value.Rows, p.Value.Cols))
		opt.v = append(opt.v, backend.NewTensor(p.Value.Rows, p.Value.Cols))
	}
	return opt
}

// Step applies one update using each parameter's gradient.
func (opt *Adam) Step(params []*Param) error {
	if len(params) != len(opt.m) {
		return fmt.Errorf("nn: optimizer built for %d params, got %d", len(opt.m), len(params))
	}
	opt.t++
	bias1 := 1 - math.Pow(opt.Beta1, float64(opt.t))
	bias2 := 1 - math.Pow(opt.Beta2, float64(opt.t))

	for i, p := range params {
		m, v := opt.m[i].Data, opt.v[i].Data
		for j, g := range p.Grad.Data {
			m[j] = opt.Beta1*m[j] + (1-opt.Beta1)*g
			v[j] = opt.Beta2*v[j] + (1-opt.Beta2)*g*g
			p.Value.Data[j] -= opt.LR * (m[j] / bias1) / (math.Sqrt(v[j]/bias2) + opt.Epsilon)
		}
	}
	return nil
}

// ZeroGrad clears gradients.
func (opt *Adam) ZeroGrad(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// Steps reports how many updates have been applied.
func (opt *Adam) Steps() int { return opt.t }
