// Package engine executes a compiled layers.ModelSpec on the CPU.
//
// A Network owns one executor per layer, runs the forward pass in training
// or evaluation mode, and back-propagates a gradient on the scores into the
// accumulated gradients of its parameters. Optimizers consume those
// gradients through Parameters.
package engine

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/checkpoints"
	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/tensor"
)

// layerExecutor is the runtime counterpart of a layers.LayerSpec.
type layerExecutor interface {
	forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error)
	backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	parameters() []*tensor.Parameter
}

// Network is a CPU executor for a compiled model specification.
type Network struct {
	modelSpec *layers.ModelSpec
	executors []layerExecutor
	params    []*tensor.Parameter
	training  bool
}

// NewNetwork builds a network for spec and initializes its parameters from a
// seeded generator, so equal seeds produce equal weights.
func NewNetwork(spec *layers.ModelSpec, seed int64) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, errors.New("model spec must be compiled")
	}

	rng := rand.New(rand.NewSource(seed))
	n := &Network{
		modelSpec: spec,
		executors: make([]layerExecutor, 0, len(spec.Layers)),
		training:  true,
	}

	for i := range spec.Layers {
		layer := &spec.Layers[i]
		exec, err := newExecutor(layer, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d (%s)", i, layer.Name)
		}
		n.executors = append(n.executors, exec)
		n.params = append(n.params, exec.parameters()...)
	}

	return n, nil
}

func newExecutor(layer *layers.LayerSpec, rng *rand.Rand) (layerExecutor, error) {
	switch layer.Type {
	case layers.Dense:
		return newDenseLayer(layer, rng)
	case layers.Conv2D:
		return newConv2DLayer(layer, rng)
	case layers.MaxPool2D:
		return newMaxPoolLayer(layer)
	case layers.ReLU:
		return &reluLayer{}, nil
	case layers.Flatten:
		return &flattenLayer{}, nil
	case layers.Dropout:
		return newDropoutLayer(layer, rng)
	case layers.Softmax:
		return &softmaxLayer{}, nil
	default:
		return nil, errors.Errorf("unsupported layer type %s", layer.Type)
	}
}

// Forward computes the scores for a batch. Inputs must match the compiled
// input shape in every dimension except the batch dimension.
func (n *Network) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	want := n.modelSpec.InputShape
	if len(x.Shape) != len(want) {
		return nil, errors.Errorf("input shape %v does not match model input %v", x.Shape, want)
	}
	for i := 1; i < len(want); i++ {
		if x.Shape[i] != want[i] {
			return nil, errors.Errorf("input shape %v does not match model input %v", x.Shape, want)
		}
	}
	if x.Shape[0] == 0 {
		return nil, errors.New("empty batch")
	}

	out := x
	for i, exec := range n.executors {
		var err error
		out, err = exec.forward(out, n.training)
		if err != nil {
			return nil, errors.Wrapf(err, "forward %s", n.modelSpec.Layers[i].Name)
		}
	}
	return out, nil
}

// Backward propagates the gradient of the loss with respect to the scores
// returned by the last Forward call. Parameter gradients accumulate until
// ZeroGrad is called.
func (n *Network) Backward(gradScores *tensor.Tensor) error {
	grad := gradScores
	for i := len(n.executors) - 1; i >= 0; i-- {
		var err error
		grad, err = n.executors[i].backward(grad)
		if err != nil {
			return errors.Wrapf(err, "backward %s", n.modelSpec.Layers[i].Name)
		}
	}
	return nil
}

// Parameters returns every learnable parameter in layer order.
func (n *Network) Parameters() []*tensor.Parameter {
	return n.params
}

// ZeroGrad clears all accumulated gradients.
func (n *Network) ZeroGrad() {
	for _, p := range n.params {
		p.ZeroGrad()
	}
}

// Train switches to training mode (dropout active).
func (n *Network) Train() { n.training = true }

// Eval switches to evaluation mode (dropout disabled).
func (n *Network) Eval() { n.training = false }

// IsTraining reports the current mode.
func (n *Network) IsTraining() bool { return n.training }

// Spec returns the compiled model specification.
func (n *Network) Spec() *layers.ModelSpec { return n.modelSpec }

// StateDict copies every parameter into checkpoint weight tensors.
func (n *Network) StateDict() []checkpoints.WeightTensor {
	weights := make([]checkpoints.WeightTensor, 0, len(n.params))
	for _, p := range n.params {
		data := make([]float64, len(p.Value.Data))
		copy(data, p.Value.Data)
		shape := make([]int, len(p.Value.Shape))
		copy(shape, p.Value.Shape)
		weights = append(weights, checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: shape,
			Data:  data,
			Layer: p.Layer,
			Type:  p.Kind,
		})
	}
	return weights
}

// LoadStateDict replaces parameter values with the given weights. Every
// parameter must be present with an identical shape.
func (n *Network) LoadStateDict(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]*checkpoints.WeightTensor, len(weights))
	for i := range weights {
		byName[weights[i].Name] = &weights[i]
	}
	if len(byName) != len(n.params) {
		return errors.Errorf("state dict has %d tensors, model %q has %d parameters",
			len(byName), n.modelSpec.Name, len(n.params))
	}

	// Validate everything before mutating so a failed load leaves the model intact
	for _, p := range n.params {
		w, ok := byName[p.Name]
		if !ok {
			return errors.Errorf("missing tensor %s", p.Name)
		}
		if !tensor.SameShape(w.Shape, p.Value.Shape) || len(w.Data) != len(p.Value.Data) {
			return errors.Errorf("tensor %s has shape %v, model expects %v", p.Name, w.Shape, p.Value.Shape)
		}
	}
	for _, p := range n.params {
		copy(p.Value.Data, byName[p.Name].Data)
	}
	return nil
}
