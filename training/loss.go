package training

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns the reduced scalar loss together with the gradient of that
// scalar with respect to scores, ready to hand to Model.Backward.
type Loss interface {
	Forward(scores *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error)
	Name() string
}

// CrossEntropyLoss is softmax cross entropy over raw class scores
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a cross entropy loss. An empty reduction means "mean".
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Name implements Loss.
func (ce *CrossEntropyLoss) Name() string {
	return "CrossEntropyLoss"
}

// Forward computes L = -log(softmax(scores)[label]) per sample and its gradient
// softmax(scores) - onehot(label). Shape problems and non-finite values are
// ComputeErrors.
func (ce *CrossEntropyLoss) Forward(scores *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	if scores == nil || len(scores.Shape) != 2 {
		return 0, nil, failure.Computef("cross entropy", "scores must be [batch, classes], got %v", shapeOf(scores))
	}
	batch, classes := scores.Shape[0], scores.Shape[1]
	if batch == 0 || classes == 0 {
		return 0, nil, failure.Computef("cross entropy", "empty scores %v", scores.Shape)
	}
	if len(labels) != batch {
		return 0, nil, failure.Computef("cross entropy", "%d labels for a batch of %d", len(labels), batch)
	}

	grad := tensor.ZerosLike(scores)
	total := 0.0
	for i := 0; i < batch; i++ {
		label := labels[i]
		if label < 0 || label >= classes {
			return 0, nil, failure.Computef("cross entropy", "label %d out of range [0, %d)", label, classes)
		}
		row := scores.Row(i)
		if !allFinite(row) {
			return 0, nil, failure.Computef("cross entropy", "non-finite score in sample %d", i)
		}
		lse := floats.LogSumExp(row)
		total += lse - row[label]

		g := grad.Row(i)
		for j, s := range row {
			g[j] = math.Exp(s - lse)
		}
		g[label] -= 1
	}

	if ce.reduction == "mean" {
		total /= float64(batch)
		floats.Scale(1/float64(batch), grad.Data)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, nil, failure.Computef("cross entropy", "loss is %v", total)
	}
	return total, grad, nil
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
