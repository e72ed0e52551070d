package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tensor is a dense, row-major float64 array on the CPU.
// Image batches use NCHW layout: [batch, channels, height, width].
type Tensor struct {
	Shape []int
	Data  []float64
}

// New wraps data in a tensor of the given shape. The data slice is not copied.
func New(data []float64, shape []int) (*Tensor, error) {
	n := Numel(shape)
	if n != len(data) {
		return nil, errors.Errorf("tensor: shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: copyShape(shape), Data: data}, nil
}

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: copyShape(t.Shape), Data: data}
}

// Reshape returns a view with a new shape over the same data.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if Numel(shape) != len(t.Data) {
		return nil, errors.Errorf("tensor: cannot reshape %v to %v", t.Shape, shape)
	}
	return &Tensor{Shape: copyShape(shape), Data: t.Data}, nil
}

// Row returns the i-th slice along the first dimension.
func (t *Tensor) Row(i int) []float64 {
	stride := len(t.Data) / t.Shape[0]
	return t.Data[i*stride : (i+1)*stride]
}

// SameShape reports whether the two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, len(t.Data))
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
