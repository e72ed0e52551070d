package tensor

import (
	"math"
	"math/rand"
)

// Zeros allocates a zero-filled tensor.
func Zeros(shape []int) *Tensor {
	return &Tensor{Shape: copyShape(shape), Data: make([]float64, Numel(shape))}
}

// ZerosLike allocates a zero-filled tensor with the shape of t.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.Shape)
}

// Full allocates a tensor filled with value.
func Full(shape []int, value float64) *Tensor {
	t := Zeros(shape)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// KaimingUniform fills a weight tensor with U(-b, b), b = 1/sqrt(fanIn).
func KaimingUniform(shape []int, fanIn int, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	if fanIn <= 0 {
		return t
	}
	bound := 1.0 / math.Sqrt(float64(fanIn))
	for i := range t.Data {
		t.Data[i] = (rng.Float64()*2 - 1) * bound
	}
	return t
}

// Uniform fills a tensor with U(lo, hi).
func Uniform(shape []int, lo, hi float64, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.Data {
		t.Data[i] = lo + rng.Float64()*(hi-lo)
	}
	return t
}
