package training

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/tumor-detect/tensor"
)

// MetricType represents the aggregate classification metrics reported after evaluation
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts predictions per (true class, predicted class) pair
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates an empty confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update records predicted against true labels. Both slices must be the same
// length and every label must be a valid class index.
func (cm *ConfusionMatrix) Update(predicted, trueLabels []int) error {
	if len(predicted) != len(trueLabels) {
		return errors.Errorf("predictions length mismatch: expected %d, got %d", len(trueLabels), len(predicted))
	}
	for i := range predicted {
		p, t := predicted[i], trueLabels[i]
		if p < 0 || p >= cm.NumClasses || t < 0 || t >= cm.NumClasses {
			return errors.Errorf("sample %d: class out of range (true %d, predicted %d, classes %d)", i, t, p, cm.NumClasses)
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}
	return nil
}

// UpdateFromScores takes the argmax of each score row as the prediction.
func (cm *ConfusionMatrix) UpdateFromScores(scores *tensor.Tensor, trueLabels []int) error {
	predicted, err := Argmax(scores)
	if err != nil {
		return err
	}
	return cm.Update(predicted, trueLabels)
}

// Correct returns the number of samples on the diagonal.
func (cm *ConfusionMatrix) Correct() int {
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return correct
}

// GetAccuracy returns overall classification accuracy in [0, 1]
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	return float64(cm.Correct()) / float64(cm.TotalSamples)
}

// ClassPrecision is TP / (TP + FP) for one class, 0 when nothing was predicted as it.
func (cm *ConfusionMatrix) ClassPrecision(class int) float64 {
	tp := cm.Matrix[class][class]
	predicted := 0
	for i := 0; i < cm.NumClasses; i++ {
		predicted += cm.Matrix[i][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(tp) / float64(predicted)
}

// ClassRecall is TP / (TP + FN) for one class, 0 when the class has no samples.
func (cm *ConfusionMatrix) ClassRecall(class int) float64 {
	tp := cm.Matrix[class][class]
	actual := 0
	for j := 0; j < cm.NumClasses; j++ {
		actual += cm.Matrix[class][j]
	}
	if actual == 0 {
		return 0
	}
	return float64(tp) / float64(actual)
}

// ClassF1 is the harmonic mean of ClassPrecision and ClassRecall.
func (cm *ConfusionMatrix) ClassF1(class int) float64 {
	return f1(cm.ClassPrecision(class), cm.ClassRecall(class))
}

// GetMetric calculates an aggregate metric
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.macro(cm.ClassPrecision)
	case MacroRecall:
		return cm.macro(cm.ClassRecall)
	case MacroF1:
		return f1(cm.GetMetric(MacroPrecision), cm.GetMetric(MacroRecall))
	case MicroPrecision, MicroRecall, MicroF1:
		// Single-label multi-class: every FP for one class is an FN for another
		return cm.GetAccuracy()
	default:
		return 0.0
	}
}

func (cm *ConfusionMatrix) macro(perClass func(int) float64) float64 {
	if cm.NumClasses == 0 {
		return 0
	}
	values := make([]float64, cm.NumClasses)
	for c := range values {
		values[c] = perClass(c)
	}
	return floats.Sum(values) / float64(cm.NumClasses)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// Report renders per-class precision/recall/F1 and the macro averages.
// classNames may be shorter than NumClasses; missing names fall back to the index.
func (cm *ConfusionMatrix) Report(classNames []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %9s %9s %9s %8s\n", "class", "precision", "recall", "f1", "support")
	for c := 0; c < cm.NumClasses; c++ {
		name := fmt.Sprintf("class%d", c)
		if c < len(classNames) {
			name = classNames[c]
		}
		support := 0
		for _, n := range cm.Matrix[c] {
			support += n
		}
		fmt.Fprintf(&b, "%-12s %9.3f %9.3f %9.3f %8d\n",
			name, cm.ClassPrecision(c), cm.ClassRecall(c), cm.ClassF1(c), support)
	}
	fmt.Fprintf(&b, "%-12s %9.3f %9.3f %9.3f %8d\n", "macro avg",
		cm.GetMetric(MacroPrecision), cm.GetMetric(MacroRecall), cm.GetMetric(MacroF1), cm.TotalSamples)
	return b.String()
}

// Argmax returns the index of the largest score in each row of a
// [batch, classes] tensor.
func Argmax(scores *tensor.Tensor) ([]int, error) {
	if scores == nil || len(scores.Shape) != 2 || scores.Shape[1] == 0 {
		return nil, errors.Errorf("argmax expects [batch, classes] scores, got %v", shapeOf(scores))
	}
	out := make([]int, scores.Shape[0])
	for i := range out {
		out[i] = floats.MaxIdx(scores.Row(i))
	}
	return out, nil
}

func shapeOf(t *tensor.Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
