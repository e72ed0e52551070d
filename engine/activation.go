package engine

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/tensor"
)

type reluLayer struct {
	mask []bool
}

func (l *reluLayer) forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	out := tensor.ZerosLike(x)
	l.mask = make([]bool, len(x.Data))
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			l.mask[i] = true
		}
	}
	return out, nil
}

func (l *reluLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if len(gradOut.Data) != len(l.mask) {
		return nil, errors.Errorf("relu gradient has %d elements, want %d", len(gradOut.Data), len(l.mask))
	}
	gradIn := tensor.ZerosLike(gradOut)
	for i, keep := range l.mask {
		if keep {
			gradIn.Data[i] = gradOut.Data[i]
		}
	}
	return gradIn, nil
}

func (l *reluLayer) parameters() []*tensor.Parameter { return nil }

type flattenLayer struct {
	inputShape []int
}

func (l *flattenLayer) forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	l.inputShape = x.Shape
	flat, err := tensor.Flatten2D(x)
	if err != nil {
		return nil, err
	}
	return flat.Clone(), nil
}

func (l *flattenLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	grad, err := gradOut.Reshape(l.inputShape)
	if err != nil {
		return nil, err
	}
	return grad.Clone(), nil
}

func (l *flattenLayer) parameters() []*tensor.Parameter { return nil }

// dropoutLayer uses inverted dropout: kept activations are scaled by
// 1/(1-rate) in training mode and the layer is the identity in eval mode.
type dropoutLayer struct {
	rate float64
	rng  *rand.Rand
	mask []float64
}

func newDropoutLayer(spec *layers.LayerSpec, rng *rand.Rand) (*dropoutLayer, error) {
	rate := layers.GetFloatParam(spec.Parameters, "rate", 0.5)
	if rate < 0 || rate >= 1 {
		return nil, errors.Errorf("dropout rate must be in [0, 1), got %g", rate)
	}
	return &dropoutLayer{rate: rate, rng: rng}, nil
}

func (l *dropoutLayer) forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	out := x.Clone()
	if !training || l.rate == 0 {
		l.mask = nil
		return out, nil
	}
	scale := 1 / (1 - l.rate)
	l.mask = make([]float64, len(x.Data))
	for i := range out.Data {
		if l.rng.Float64() >= l.rate {
			l.mask[i] = scale
		}
	}
	floats.Mul(out.Data, l.mask)
	return out, nil
}

func (l *dropoutLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	gradIn := gradOut.Clone()
	if l.mask == nil {
		return gradIn, nil
	}
	if len(l.mask) != len(gradIn.Data) {
		return nil, errors.Errorf("dropout gradient has %d elements, want %d", len(gradIn.Data), len(l.mask))
	}
	floats.Mul(gradIn.Data, l.mask)
	return gradIn, nil
}

func (l *dropoutLayer) parameters() []*tensor.Parameter { return nil }

// softmaxLayer normalizes the last axis of a [N, K] tensor.
type softmaxLayer struct {
	output *tensor.Tensor
}

func (l *softmaxLayer) forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	flat, err := tensor.Flatten2D(x)
	if err != nil {
		return nil, err
	}
	out := tensor.ZerosLike(flat)
	for n := 0; n < flat.Shape[0]; n++ {
		row := flat.Row(n)
		lse := floats.LogSumExp(row)
		dst := out.Row(n)
		for j, v := range row {
			dst[j] = math.Exp(v - lse)
		}
	}
	l.output = out
	return out.Reshape(x.Shape)
}

func (l *softmaxLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.output == nil || len(gradOut.Data) != len(l.output.Data) {
		return nil, errors.New("softmax backward does not match forward")
	}
	gradIn := tensor.ZerosLike(gradOut)
	for n := 0; n < l.output.Shape[0]; n++ {
		y := l.output.Row(n)
		dy := gradOut.Data[n*len(y) : (n+1)*len(y)]
		dot := floats.Dot(y, dy)
		dst := gradIn.Data[n*len(y) : (n+1)*len(y)]
		for j := range y {
			dst[j] = y[j] * (dy[j] - dot)
		}
	}
	return gradIn, nil
}

func (l *softmaxLayer) parameters() []*tensor.Parameter { return nil }
