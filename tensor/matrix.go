package tensor

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// AsMatrix views a 2D tensor as a gonum matrix sharing the same storage.
func AsMatrix(t *Tensor) (*mat.Dense, error) {
	if len(t.Shape) != 2 {
		return nil, errors.Errorf("tensor: matrix view needs 2D tensor, got %v", t.Shape)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data), nil
}

// MatMul returns a·b for 2D tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	am, err := AsMatrix(a)
	if err != nil {
		return nil, err
	}
	bm, err := AsMatrix(b)
	if err != nil {
		return nil, err
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, errors.Errorf("tensor: matmul shape mismatch %v x %v", a.Shape, b.Shape)
	}
	out := Zeros([]int{a.Shape[0], b.Shape[1]})
	om := mat.NewDense(out.Shape[0], out.Shape[1], out.Data)
	om.Mul(am, bm)
	return out, nil
}

// Flatten2D views a tensor of shape [n, ...] as [n, rest].
func Flatten2D(t *Tensor) (*Tensor, error) {
	if len(t.Shape) == 0 || t.Shape[0] == 0 {
		return nil, errors.Errorf("tensor: cannot flatten %v", t.Shape)
	}
	return t.Reshape([]int{t.Shape[0], len(t.Data) / t.Shape[0]})
}
