package training

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/tensor"
)

func mustTensor(t *testing.T, data []float64, shape []int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	return x
}

func TestCrossEntropyLoss(t *testing.T) {
	t.Run("Uniform scores", func(t *testing.T) {
		ce := NewCrossEntropyLoss("mean")
		scores := mustTensor(t, make([]float64, 8), []int{2, 4})

		loss, _, err := ce.Forward(scores, []int{0, 3})
		if err != nil {
			t.Fatalf("Failed to compute loss: %v", err)
		}
		if math.Abs(loss-math.Log(4)) > 1e-12 {
			t.Errorf("Expected log(4) = %f, got %f", math.Log(4), loss)
		}
	})

	t.Run("Gradient is softmax minus one-hot", func(t *testing.T) {
		ce := NewCrossEntropyLoss("sum")
		scores := mustTensor(t, []float64{1.0, 2.0}, []int{1, 2})

		_, grad, err := ce.Forward(scores, []int{1})
		if err != nil {
			t.Fatalf("Failed to compute loss: %v", err)
		}
		p1 := math.Exp(2) / (math.Exp(1) + math.Exp(2))
		want := []float64{1 - p1, p1 - 1}
		if !floats.EqualApprox(grad.Data, want, 1e-12) {
			t.Errorf("Expected gradient %v, got %v", want, grad.Data)
		}
	})

	t.Run("Matches finite differences", func(t *testing.T) {
		ce := NewCrossEntropyLoss("mean")
		data := []float64{1.0, 2.0, 3.0, 0.5, 1.5, 0.1}
		labels := []int{2, 1}
		scores := mustTensor(t, data, []int{2, 3})

		_, grad, err := ce.Forward(scores, labels)
		if err != nil {
			t.Fatalf("Failed to compute loss: %v", err)
		}
		numeric := fd.Gradient(nil, func(x []float64) float64 {
			l, _, err := ce.Forward(&tensor.Tensor{Shape: []int{2, 3}, Data: x}, labels)
			if err != nil {
				t.Fatalf("Failed to compute loss: %v", err)
			}
			return l
		}, data, &fd.Settings{Formula: fd.Central})
		if !floats.EqualApprox(grad.Data, numeric, 1e-6) {
			t.Errorf("Analytic gradient %v differs from numeric %v", grad.Data, numeric)
		}
	})

	t.Run("Large scores stay finite", func(t *testing.T) {
		ce := NewCrossEntropyLoss("mean")
		scores := mustTensor(t, []float64{1000, -1000, 0, 0}, []int{1, 4})
		loss, _, err := ce.Forward(scores, []int{0})
		if err != nil {
			t.Fatalf("Failed to compute loss: %v", err)
		}
		if loss < 0 || loss > 1e-9 {
			t.Errorf("Expected near-zero loss, got %g", loss)
		}
	})
}

func TestCrossEntropyLossErrors(t *testing.T) {
	ce := NewCrossEntropyLoss("")
	tests := []struct {
		name   string
		scores *tensor.Tensor
		labels []int
	}{
		{"1D scores", &tensor.Tensor{Shape: []int{2}, Data: []float64{1, 2}}, []int{0}},
		{"label count", &tensor.Tensor{Shape: []int{1, 2}, Data: []float64{1, 2}}, []int{0, 1}},
		{"label range", &tensor.Tensor{Shape: []int{1, 2}, Data: []float64{1, 2}}, []int{2}},
		{"NaN score", &tensor.Tensor{Shape: []int{1, 2}, Data: []float64{math.NaN(), 2}}, []int{0}},
		{"Inf score", &tensor.Tensor{Shape: []int{1, 2}, Data: []float64{math.Inf(1), 2}}, []int{0}},
		{"nil scores", nil, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ce.Forward(tt.scores, tt.labels)
			if err == nil {
				t.Fatalf("Expected an error")
			}
			if !failure.IsCompute(err) {
				t.Errorf("Expected ComputeError, got %T: %v", err, err)
			}
		})
	}
}
