package engine

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/tensor"
)

// denseLayer computes y = x·W + b with W stored as [in, out].
type denseLayer struct {
	inputSize  int
	outputSize int
	weight     *tensor.Parameter
	bias       *tensor.Parameter

	input      *tensor.Tensor
	inputShape []int
}

func newDenseLayer(spec *layers.LayerSpec, rng *rand.Rand) (*denseLayer, error) {
	in := layers.GetIntParam(spec.Parameters, "input_size", 0)
	out := layers.GetIntParam(spec.Parameters, "output_size", 0)
	if in <= 0 || out <= 0 {
		return nil, errors.Errorf("dense layer needs input_size and output_size, got %d and %d", in, out)
	}

	l := &denseLayer{inputSize: in, outputSize: out}
	l.weight = tensor.NewParameter(spec.Name+".weight", spec.Name, "weight",
		tensor.KaimingUniform([]int{in, out}, in, rng))
	if layers.GetBoolParam(spec.Parameters, "use_bias", true) {
		l.bias = tensor.NewParameter(spec.Name+".bias", spec.Name, "bias",
			tensor.KaimingUniform([]int{out}, in, rng))
	}
	return l, nil
}

func (l *denseLayer) forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	flat, err := tensor.Flatten2D(x)
	if err != nil {
		return nil, err
	}
	if flat.Shape[1] != l.inputSize {
		return nil, errors.Errorf("dense expects %d features, got %d", l.inputSize, flat.Shape[1])
	}

	out, err := tensor.MatMul(flat, l.weight.Value)
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		for n := 0; n < out.Shape[0]; n++ {
			row := out.Row(n)
			for j, b := range l.bias.Value.Data {
				row[j] += b
			}
		}
	}

	l.input = flat
	l.inputShape = x.Shape
	return out, nil
}

func (l *denseLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, errors.New("backward called before forward")
	}
	batch := l.input.Shape[0]
	if !tensor.SameShape(gradOut.Shape, []int{batch, l.outputSize}) {
		return nil, errors.Errorf("dense gradient shape %v, want [%d %d]", gradOut.Shape, batch, l.outputSize)
	}

	x := mat.NewDense(batch, l.inputSize, l.input.Data)
	dy := mat.NewDense(batch, l.outputSize, gradOut.Data)
	w := mat.NewDense(l.inputSize, l.outputSize, l.weight.Value.Data)

	// dW += xᵀ·dy
	var dw mat.Dense
	dw.Mul(x.T(), dy)
	gw := mat.NewDense(l.inputSize, l.outputSize, l.weight.Grad.Data)
	gw.Add(gw, &dw)

	if l.bias != nil {
		for n := 0; n < batch; n++ {
			row := gradOut.Row(n)
			for j := range l.bias.Grad.Data {
				l.bias.Grad.Data[j] += row[j]
			}
		}
	}

	// dx = dy·Wᵀ
	gradIn := tensor.Zeros(l.inputShape)
	dx := mat.NewDense(batch, l.inputSize, gradIn.Data)
	dx.Mul(dy, w.T())
	return gradIn, nil
}

func (l *denseLayer) parameters() []*tensor.Parameter {
	if l.bias == nil {
		return []*tensor.Parameter{l.weight}
	}
	return []*tensor.Parameter{l.weight, l.bias}
}
