package tensor

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestNewValidatesShape(t *testing.T) {
	if _, err := New(make([]float64, 5), []int{2, 3}); err == nil {
		t.Error("Expected error for mismatched shape")
	}

	tt, err := New([]float64{1, 2, 3, 4, 5, 6}, []int{2, 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tt.Size() != 6 || tt.Dim(1) != 3 {
		t.Errorf("Unexpected tensor %v", tt)
	}
	if got := tt.Row(1); !floats.Equal(got, []float64{4, 5, 6}) {
		t.Errorf("Row(1) = %v", got)
	}
}

func TestReshapeSharesStorage(t *testing.T) {
	a := Zeros([]int{2, 2, 2})
	b, err := a.Reshape([]int{2, 4})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	b.Data[3] = 7
	if a.Data[3] != 7 {
		t.Error("Expected reshape to share data")
	}
	if _, err := a.Reshape([]int{3, 3}); err == nil {
		t.Error("Expected error for incompatible reshape")
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := Full([]int{3}, 1)
	b := a.Clone()
	b.Data[0] = 5
	if a.Data[0] != 1 {
		t.Error("Clone shares data with original")
	}
}

func TestMatMul(t *testing.T) {
	a, _ := New([]float64{1, 2, 3, 4, 5, 6}, []int{2, 3})
	b, _ := New([]float64{7, 8, 9, 10, 11, 12}, []int{3, 2})

	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	want := []float64{58, 64, 139, 154}
	if !floats.Equal(out.Data, want) {
		t.Errorf("MatMul = %v, want %v", out.Data, want)
	}

	if _, err := MatMul(a, a); err == nil {
		t.Error("Expected shape mismatch error")
	}
}

func TestKaimingUniformBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w := KaimingUniform([]int{16, 9}, 9, rng)
	for _, v := range w.Data {
		if v < -1.0/3 || v > 1.0/3 {
			t.Fatalf("Value %f outside bound", v)
		}
	}
}

func TestParameterZeroGrad(t *testing.T) {
	p := NewParameter("fc.weight", "fc", "weight", Full([]int{2, 2}, 1))
	p.Grad.Data[0] = 3
	p.ZeroGrad()
	if floats.Sum(p.Grad.Data) != 0 {
		t.Error("Expected zero gradient")
	}
}
