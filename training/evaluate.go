package training

import (
	"github.com/tsawler/tumor-detect/failure"
)

// EvalResult aggregates one pass over an evaluation split.
type EvalResult struct {
	Loss      float64 // mean of per-batch mean losses
	Batches   int
	Correct   int
	Total     int
	Confusion *ConfusionMatrix
}

// Accuracy is the integer percentage of correct predictions.
func (r *EvalResult) Accuracy() int {
	return Accuracy(r.Correct, r.Total)
}

// Accuracy returns floor(100 * correct / total), or 0 when total is 0.
func Accuracy(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return 100 * correct / total
}

// Evaluate runs model in eval mode over one full pass of src. The model is
// left in eval mode. An empty split is a DataLoadError.
func Evaluate(model Model, src BatchSource, loss Loss) (*EvalResult, error) {
	if loss == nil {
		loss = NewCrossEntropyLoss("mean")
	}
	numClasses := model.Spec().NumClasses()

	model.Eval()
	if err := src.Reset(); err != nil {
		return nil, asDataLoad(err, "reset evaluation split")
	}

	result := &EvalResult{Confusion: NewConfusionMatrix(numClasses)}
	sum := 0.0
	for {
		batch, err := src.Next()
		if err != nil {
			return nil, asDataLoad(err, "next evaluation batch")
		}
		if batch == nil {
			break
		}
		if err := validateBatch(batch, numClasses); err != nil {
			return nil, err
		}

		scores, err := model.Forward(batch.Inputs)
		if err != nil {
			return nil, asCompute(err, "forward")
		}
		batchLoss, _, err := loss.Forward(scores, batch.Labels)
		if err != nil {
			return nil, asCompute(err, "loss")
		}
		if err := result.Confusion.UpdateFromScores(scores, batch.Labels); err != nil {
			return nil, asCompute(err, "predictions")
		}
		sum += batchLoss
		result.Batches++
	}
	if result.Batches == 0 {
		return nil, failure.DataLoadf("evaluate", "evaluation split produced no batches")
	}

	result.Loss = sum / float64(result.Batches)
	result.Correct = result.Confusion.Correct()
	result.Total = result.Confusion.TotalSamples
	return result, nil
}
