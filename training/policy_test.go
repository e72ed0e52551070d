package training

import (
	"math"
	"testing"
)

func TestCheckpointPolicies(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name      string
		policy    CheckpointPolicy
		val, best float64
		epoch     int
		expected  bool
	}{
		{"legacy first epoch", LegacyCheckpointPolicy{}, 1.0, inf, 0, true},
		{"legacy worse loss inside budget", LegacyCheckpointPolicy{}, 2.0, 1.0, 5, true},
		{"legacy worse loss at budget", LegacyCheckpointPolicy{}, 2.0, 1.0, 100, false},
		{"legacy better loss at budget", LegacyCheckpointPolicy{}, 0.5, 1.0, 100, true},
		{"improvement first epoch", ImprovementCheckpointPolicy{}, 1.0, inf, 0, true},
		{"improvement worse loss", ImprovementCheckpointPolicy{}, 2.0, 1.0, 5, false},
		{"improvement equal loss", ImprovementCheckpointPolicy{}, 1.0, 1.0, 5, false},
		{"improvement better loss", ImprovementCheckpointPolicy{}, 0.9, 1.0, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ShouldSave(tt.val, tt.best, tt.epoch, 100); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseCheckpointPolicy(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"", "legacy"},
		{"legacy", "legacy"},
		{"Improvement", "improvement"},
		{"strict", "improvement"},
	}
	for _, tt := range tests {
		p, err := ParseCheckpointPolicy(tt.name)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", tt.name, err)
		}
		if p.Name() != tt.expected {
			t.Errorf("ParseCheckpointPolicy(%q) = %s, expected %s", tt.name, p.Name(), tt.expected)
		}
	}
	if _, err := ParseCheckpointPolicy("best-accuracy"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestEarlyStopping(t *testing.T) {
	es := NewEarlyStopping(5)
	for i := 1; i <= 4; i++ {
		if n := es.Miss(); n != i {
			t.Fatalf("Expected counter %d, got %d", i, n)
		}
		if es.ShouldStop() {
			t.Fatalf("Stopped early after %d misses", i)
		}
	}
	es.Improved()
	if es.Counter() != 0 {
		t.Fatalf("Expected reset counter, got %d", es.Counter())
	}
	for i := 0; i < 5; i++ {
		es.Miss()
	}
	if !es.ShouldStop() {
		t.Error("Expected stop after 5 consecutive misses")
	}

	disabled := NewEarlyStopping(0)
	for i := 0; i < 100; i++ {
		disabled.Miss()
	}
	if disabled.ShouldStop() {
		t.Error("Patience 0 must never stop")
	}
}

func TestRunningLoss(t *testing.T) {
	r := NewRunningLoss(3)
	losses := []float64{1, 2, 3, 4, 5, 6, 7}
	var flushed []float64
	for _, l := range losses {
		if mean, ok := r.Add(l); ok {
			flushed = append(flushed, mean)
		}
	}
	if len(flushed) != 2 || flushed[0] != 2 || flushed[1] != 5 {
		t.Errorf("Expected window means [2 5], got %v", flushed)
	}
	if r.Pending() != 1 {
		t.Errorf("Expected 1 pending batch, got %d", r.Pending())
	}
	r.Reset()
	if mean, ok := r.Add(9); ok || mean != 0 || r.Pending() != 1 {
		t.Errorf("Reset should drop the partial window, got mean %f flush %v", mean, ok)
	}
}
