package training

import (
	"math"
	"testing"

	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/tensor"
	"github.com/tsawler/tumor-detect/vision/dataloader"
)

// oneHotModel scores each sample with a one-hot row taken from its first input feature.
type oneHotModel struct {
	driftModel
}

func (m *oneHotModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	scores := tensor.Zeros([]int{x.Shape[0], 4})
	for i := 0; i < x.Shape[0]; i++ {
		scores.Row(i)[int(x.Row(i)[0])] = 10
	}
	return scores, nil
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		correct, total, expected int
	}{
		{3, 4, 75},
		{2, 3, 66},
		{0, 5, 0},
		{5, 5, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Accuracy(tt.correct, tt.total); got != tt.expected {
			t.Errorf("Accuracy(%d, %d) = %d, expected %d", tt.correct, tt.total, got, tt.expected)
		}
	}
}

func TestEvaluate(t *testing.T) {
	model := &oneHotModel{*newDriftModel(t, 0)}
	// predicted [0 1 2 3], true [0 1 2 2]
	inputs := mustTensor(t, []float64{0, 0, 1, 0, 2, 0, 3, 0}, []int{4, 2})
	src, err := dataloader.NewSliceSource([]*dataloader.Batch{{Inputs: inputs, Labels: []int{0, 1, 2, 2}}})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	result, err := Evaluate(model, src, nil)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if result.Correct != 3 || result.Total != 4 {
		t.Errorf("Expected 3/4 correct, got %d/%d", result.Correct, result.Total)
	}
	if result.Accuracy() != 75 {
		t.Errorf("Expected accuracy 75, got %d", result.Accuracy())
	}
	if result.Confusion.Matrix[2][3] != 1 {
		t.Errorf("Expected true 2 predicted 3 once, got %v", result.Confusion.Matrix)
	}
	if model.evals != 1 {
		t.Errorf("Evaluate should switch the model to eval mode once, got %d", model.evals)
	}
}

func TestEvaluateMeanOfBatchMeans(t *testing.T) {
	model := newDriftModel(t, 0)
	// batch sizes 1 and 3 with identical per-sample loss still average to log(4)
	src, _ := dataloader.NewSliceSource([]*dataloader.Batch{
		{Inputs: tensor.Zeros([]int{1, 2}), Labels: []int{0}},
		{Inputs: tensor.Zeros([]int{3, 2}), Labels: []int{1, 2, 3}},
	})
	result, err := Evaluate(model, src, NewCrossEntropyLoss("mean"))
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if result.Batches != 2 || math.Abs(result.Loss-math.Log(4)) > 1e-12 {
		t.Errorf("Expected 2 batches with loss log(4), got %d and %f", result.Batches, result.Loss)
	}
}

func TestEvaluateEmptySplit(t *testing.T) {
	src, _ := dataloader.NewSliceSource(nil)
	_, err := Evaluate(newDriftModel(t, 0), src, nil)
	if !failure.IsDataLoad(err) {
		t.Fatalf("Expected DataLoadError, got %v", err)
	}
}

func TestInferencer(t *testing.T) {
	model := &oneHotModel{*newDriftModel(t, 0)}
	inf := NewInferencer(model, []string{"Glioma", "Meningioma", "None", "Pituitary"})

	names, err := inf.PredictNames(mustTensor(t, []float64{3, 0, 2, 0}, []int{2, 2}))
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	if names[0] != "Pituitary" || names[1] != "None" {
		t.Errorf("Unexpected predictions %v", names)
	}
	if inf.ClassName(7) != "class7" {
		t.Errorf("Expected fallback name, got %s", inf.ClassName(7))
	}
	if got := FormatLabels([]string{"None", "Glioma"}, 5, " "); got != "None  Glioma" {
		t.Errorf("Unexpected formatting %q", got)
	}
}

var _ Model = (*oneHotModel)(nil)
