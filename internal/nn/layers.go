/*
PURPOSE:
  Dense layer, ReLU and trainable parameters.

REQUIREMENTS:
  User-specified:
  - Weights are initialized from the model generator only.

  Implementation-discovered:
  - Every matmul and column sum goes through the backend, so the
    determinism settings reach every layer.

ARCHITECTURE INTEGRATION:
  - Used by: internal/nn/resnet.go
  - Uses: internal/backend

ERROR HANDLING:
  - Backend errors are returned as they are, so errors.Is still matches.

IMPLEMENTATION RULES:
  - Gradients accumulate into Param.Grad; the optimizer clears them.

USAGE:
  l := newLinear("fc", in, out, heStd(in), rng)

SELF-HEALING INSTRUCTIONS:
  - If a gradient check fails, compare backward against a transposed matmul.

RELATED FILES:
  - internal/nn/resnet.go
  - internal/nn/optim.go

MAINTENANCE:
  - None.
*/

package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/daryltucker/detbench/internal/backend"
)

// Param is a trainable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value *backend.Tensor
	Grad  *backend.Tensor
}

func newParam(name string, rows, cols int) *Param {
	return &Param{Name: name, Value: backend.NewTensor(rows, cols), Grad: backend.NewTensor(rows, cols)}
}

// exec binds layers to a backend device.
type exec struct {
	b   *backend.Backend
	dev backend.Device
}

// linear computes y = xW + b.
type linear struct {
	w, bias *Param
	x       *backend.Tensor // cached input, training only
}

// newLinear draws W from N(0, std^2) using rng. std == 0 leaves W zeroed.
func newLinear(name string, in, out int, std float64, rng *rand.Rand) *linear {
	l := &linear{w: newParam(name+".weight", in, out), bias: newParam(name+".bias", 1, out)}
	if std > 0 {
		dist := distuv.Normal{Mu: 0, Sigma: std, Src: rng}
		for i := range l.w.Value.Data {
			l.w.Value.Data[i] = dist.Rand()
		}
	}
	return l
}

func heStd(fanIn int) float64 { return math.Sqrt(2 / float64(fanIn)) }

func (l *linear) params() []*Param { return []*Param{l.w, l.bias} }

func (l *linear) forward(e exec, x *backend.Tensor, train bool) (*backend.Tensor, error) {
	y, err := e.b.MatMul(e.dev, x, l.w.Value)
	if err != nil {
		return nil, err
	}
	bias := l.bias.Value.Data
	for i := 0; i < y.Rows; i++ {
		row := y.Row(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	if train {
		l.x = x
	}
	return y, nil
}

// backward accumulates dW = x^T dy and db = colsum(dy) and, when needInput
// is set, returns dy W^T.
func (l *linear) backward(e exec, dy *backend.Tensor, needInput bool) (*backend.Tensor, error) {
	dw, err := e.b.MatMul(e.dev, backend.Transpose(l.x), dy)
	if err != nil {
		return nil, err
	}
	backend.AddInPlace(l.w.Grad, dw)

	db, err := e.b.ColSum(e.dev, dy)
	if err != nil {
		return nil, err
	}
	for j, v := range db {
		l.bias.Grad.Data[j] += v
	}
	if !needInput {
		return nil, nil
	}
	return e.b.MatMul(e.dev, dy, backend.Transpose(l.w.Value))
}

func relu(t *backend.Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}

// reluMask zeroes grad wherever the activation was clipped.
func reluMask(grad, act *backend.Tensor) {
	for i, v := range act.Data {
		if v <= 0 {
			grad.Data[i] = 0
		}
	}
}
