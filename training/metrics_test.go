package training

import (
	"math"
	"strings"
	"testing"

	"github.com/tsawler/tumor-detect/tensor"
)

// TestMetricTypeString tests the string representation of MetricType
func TestMetricTypeString(t *testing.T) {
	tests := []struct {
		metric   MetricType
		expected string
	}{
		{MacroPrecision, "MacroPrecision"},
		{MacroRecall, "MacroRecall"},
		{MacroF1, "MacroF1"},
		{MicroPrecision, "MicroPrecision"},
		{MicroRecall, "MicroRecall"},
		{MicroF1, "MicroF1"},
		{MetricType(999), "Unknown(999)"},
	}

	for _, test := range tests {
		if result := test.metric.String(); result != test.expected {
			t.Errorf("MetricType(%d).String() = %s, expected %s", test.metric, result, test.expected)
		}
	}
}

func TestConfusionMatrixUpdate(t *testing.T) {
	t.Run("Labels", func(t *testing.T) {
		cm := NewConfusionMatrix(4)
		if err := cm.Update([]int{0, 1, 2, 3}, []int{0, 1, 2, 2}); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		if cm.TotalSamples != 4 || cm.Correct() != 3 {
			t.Errorf("Expected 3/4 correct, got %d/%d", cm.Correct(), cm.TotalSamples)
		}
		if cm.Matrix[2][3] != 1 {
			t.Errorf("Expected true 2 predicted 3 once, got %d", cm.Matrix[2][3])
		}
	})

	t.Run("Scores", func(t *testing.T) {
		cm := NewConfusionMatrix(3)
		scores := &tensor.Tensor{Shape: []int{2, 3}, Data: []float64{0.1, 0.7, 0.2, 2, -1, 0}}
		if err := cm.UpdateFromScores(scores, []int{1, 2}); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		if cm.Matrix[1][1] != 1 || cm.Matrix[2][0] != 1 {
			t.Errorf("Unexpected matrix %v", cm.Matrix)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		cm := NewConfusionMatrix(2)
		if err := cm.Update([]int{0}, []int{0, 1}); err == nil {
			t.Error("Expected length mismatch error")
		}
		if err := cm.Update([]int{2}, []int{0}); err == nil {
			t.Error("Expected out of range error")
		}
		if err := cm.UpdateFromScores(&tensor.Tensor{Shape: []int{2}, Data: []float64{1, 2}}, []int{0, 1}); err == nil {
			t.Error("Expected error for 1D scores")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		cm := NewConfusionMatrix(2)
		_ = cm.Update([]int{0, 1}, []int{0, 0})
		cm.Reset()
		if cm.TotalSamples != 0 || cm.Matrix[0][1] != 0 {
			t.Errorf("Expected empty matrix after reset, got %v", cm.Matrix)
		}
	})
}

// TestMultiClassMetrics tests multi-class classification metrics
func TestMultiClassMetrics(t *testing.T) {
	cm := NewConfusionMatrix(3)
	cm.Matrix = [][]int{
		{10, 2, 1},
		{3, 15, 2},
		{1, 1, 8},
	}
	cm.TotalSamples = 43

	// Class precision: 10/14, 15/18, 8/11
	expectedMacroPrecision := ((10.0 / 14.0) + (15.0 / 18.0) + (8.0 / 11.0)) / 3.0
	if got := cm.GetMetric(MacroPrecision); math.Abs(got-expectedMacroPrecision) > 1e-9 {
		t.Errorf("MacroPrecision: expected %f, got %f", expectedMacroPrecision, got)
	}

	// Class recall: 10/13, 15/20, 8/10
	expectedMacroRecall := ((10.0 / 13.0) + (15.0 / 20.0) + (8.0 / 10.0)) / 3.0
	if got := cm.GetMetric(MacroRecall); math.Abs(got-expectedMacroRecall) > 1e-9 {
		t.Errorf("MacroRecall: expected %f, got %f", expectedMacroRecall, got)
	}

	expectedMicro := 33.0 / 43.0
	for _, m := range []MetricType{MicroPrecision, MicroRecall, MicroF1} {
		if got := cm.GetMetric(m); math.Abs(got-expectedMicro) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", m, expectedMicro, got)
		}
	}
	if got := cm.GetAccuracy(); math.Abs(got-expectedMicro) > 1e-9 {
		t.Errorf("Accuracy: expected %f, got %f", expectedMicro, got)
	}
}

func TestEmptyClassMetrics(t *testing.T) {
	cm := NewConfusionMatrix(2)
	if err := cm.Update([]int{0, 0}, []int{0, 0}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if p := cm.ClassPrecision(1); p != 0 {
		t.Errorf("Expected 0 precision for a never predicted class, got %f", p)
	}
	if r := cm.ClassRecall(1); r != 0 {
		t.Errorf("Expected 0 recall for an absent class, got %f", r)
	}
	if f := cm.ClassF1(1); f != 0 {
		t.Errorf("Expected 0 F1, got %f", f)
	}
}

func TestConfusionMatrixReport(t *testing.T) {
	cm := NewConfusionMatrix(2)
	_ = cm.Update([]int{0, 1, 1}, []int{0, 1, 0})
	report := cm.Report([]string{"Glioma"})

	if !strings.Contains(report, "Glioma") || !strings.Contains(report, "class1") {
		t.Errorf("Report should name classes with fallback:\n%s", report)
	}
	if !strings.Contains(report, "macro avg") {
		t.Errorf("Report missing macro average:\n%s", report)
	}
}
