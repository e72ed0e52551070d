package tensor

// Parameter is a learnable tensor together with its accumulated gradient.
type Parameter struct {
	Name  string // e.g. "conv1.weight"
	Layer string
	Kind  string // "weight" or "bias"
	Value *Tensor
	Grad  *Tensor
}

// NewParameter allocates a zero gradient alongside value.
func NewParameter(name, layer, kind string, value *Tensor) *Parameter {
	return &Parameter{
		Name:  name,
		Layer: layer,
		Kind:  kind,
		Value: value,
		Grad:  ZerosLike(value),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad.Data {
		p.Grad.Data[i] = 0
	}
}
