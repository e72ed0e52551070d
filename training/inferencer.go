package training

import (
	"fmt"
	"strings"

	"github.com/tsawler/tumor-detect/tensor"
)

// Inferencer turns model scores into class predictions.
type Inferencer struct {
	model      Model
	classNames []string
}

// NewInferencer wraps model. classNames maps class indices to display names
// and may be nil.
func NewInferencer(model Model, classNames []string) *Inferencer {
	return &Inferencer{model: model, classNames: classNames}
}

// Predict returns the argmax class of every sample in x. The model is
// switched to eval mode first.
func (inf *Inferencer) Predict(x *tensor.Tensor) ([]int, error) {
	inf.model.Eval()
	scores, err := inf.model.Forward(x)
	if err != nil {
		return nil, asCompute(err, "predict")
	}
	predicted, err := Argmax(scores)
	if err != nil {
		return nil, asCompute(err, "predict")
	}
	return predicted, nil
}

// PredictNames is Predict followed by ClassName.
func (inf *Inferencer) PredictNames(x *tensor.Tensor) ([]string, error) {
	predicted, err := inf.Predict(x)
	if err != nil {
		return nil, err
	}
	return inf.Names(predicted), nil
}

// ClassName maps a class index to its display name, "class<i>" when unknown.
func (inf *Inferencer) ClassName(class int) string {
	if class >= 0 && class < len(inf.classNames) {
		return inf.classNames[class]
	}
	return fmt.Sprintf("class%d", class)
}

// Names maps every index through ClassName.
func (inf *Inferencer) Names(classes []int) []string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = inf.ClassName(c)
	}
	return names
}

// FormatLabels pads every name on the right to width and joins them with sep.
func FormatLabels(names []string, width int, sep string) string {
	padded := make([]string, len(names))
	for i, n := range names {
		padded[i] = fmt.Sprintf("%-*s", width, n)
	}
	return strings.Join(padded, sep)
}
