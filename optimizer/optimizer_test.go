package optimizer

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/tumor-detect/tensor"
)

func newParam(values ...float64) *tensor.Parameter {
	v, _ := tensor.New(values, []int{len(values)})
	return tensor.NewParameter("w", "layer", "weight", v)
}

// quadraticGrad sets grad = 2·(w - target), the gradient of ||w - target||².
func quadraticGrad(p *tensor.Parameter, target []float64) {
	for i, w := range p.Value.Data {
		p.Grad.Data[i] = 2 * (w - target[i])
	}
}

func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()
	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 || config.Beta2 != 0.999 {
		t.Errorf("Expected betas 0.9/0.999, got %f/%f", config.Beta1, config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %g", config.Epsilon)
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := newParam(1, -2, 3)
	p.Grad.Data = []float64{0.5, -4, 1e-3}

	adam, err := NewAdamOptimizer(DefaultAdamConfig(), []*tensor.Parameter{p})
	if err != nil {
		t.Fatalf("Failed to create Adam: %v", err)
	}
	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// With bias correction the first update is lr·g/(|g|+eps) ≈ lr·sign(g)
	want := []float64{1 - 0.001, -2 + 0.001, 3 - 0.001}
	if !floats.EqualApprox(p.Value.Data, want, 1e-7) {
		t.Errorf("After first step got %v, want %v", p.Value.Data, want)
	}
	if adam.GetStepCount() != 1 {
		t.Errorf("Expected step count 1, got %d", adam.GetStepCount())
	}
}

func TestOptimizersConverge(t *testing.T) {
	target := []float64{0.5, -1.5}
	tests := []struct {
		name   string
		config Config
		steps  int
	}{
		{"adam", Config{Name: "adam", LearningRate: 0.05}, 500},
		{"sgd", Config{Name: "sgd", LearningRate: 0.05, Momentum: 0.9}, 300},
		{"sgd without momentum", Config{Name: "sgd", LearningRate: 0.1}, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParam(3, 3)
			opt, err := New(tt.config, []*tensor.Parameter{p})
			if err != nil {
				t.Fatalf("Failed to create optimizer: %v", err)
			}
			for i := 0; i < tt.steps; i++ {
				opt.ZeroGrad()
				quadraticGrad(p, target)
				if err := opt.Step(); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
			}
			if !floats.EqualApprox(p.Value.Data, target, 1e-2) {
				t.Errorf("Did not converge: got %v, want %v", p.Value.Data, target)
			}
		})
	}
}

func TestSGDMomentumMatchesReference(t *testing.T) {
	p := newParam(1)
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []*tensor.Parameter{p})
	if err != nil {
		t.Fatalf("Failed to create SGD: %v", err)
	}

	// Constant gradient 1: buf = 1, then 1.9
	p.Grad.Data[0] = 1
	sgd.Step()
	sgd.Step()
	want := 1 - 0.1*1 - 0.1*1.9
	if math.Abs(p.Value.Data[0]-want) > 1e-12 {
		t.Errorf("Expected %f, got %f", want, p.Value.Data[0])
	}
}

func TestStateRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"adam", Config{Name: "adam", LearningRate: 0.01}},
		{"sgd", Config{Name: "sgd", LearningRate: 0.01, Momentum: 0.9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newParam(1, 2, 3)
			b := newParam(1, 2, 3)
			optA, _ := New(tt.config, []*tensor.Parameter{a})
			optB, _ := New(tt.config, []*tensor.Parameter{b})

			target := []float64{0, 0, 0}
			for i := 0; i < 3; i++ {
				quadraticGrad(a, target)
				optA.Step()
			}

			state, err := optA.GetState()
			if err != nil {
				t.Fatalf("GetState failed: %v", err)
			}
			copy(b.Value.Data, a.Value.Data)
			if err := optB.LoadState(state); err != nil {
				t.Fatalf("LoadState failed: %v", err)
			}
			if optB.GetStepCount() != 3 {
				t.Errorf("Expected restored step count 3, got %d", optB.GetStepCount())
			}

			quadraticGrad(a, target)
			quadraticGrad(b, target)
			optA.Step()
			optB.Step()
			if !floats.Equal(a.Value.Data, b.Value.Data) {
				t.Errorf("Restored optimizer diverged: %v vs %v", a.Value.Data, b.Value.Data)
			}
		})
	}
}

func TestLoadStateRejectsOtherType(t *testing.T) {
	p := newParam(1)
	adam, _ := New(Config{Name: "adam", LearningRate: 0.01}, []*tensor.Parameter{p})
	sgd, _ := New(Config{Name: "sgd", LearningRate: 0.01}, []*tensor.Parameter{p})

	state, _ := sgd.GetState()
	if err := adam.LoadState(state); err == nil {
		t.Error("Expected error loading SGD state into Adam")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := newParam(1)
	if _, err := New(Config{Name: "lbfgs", LearningRate: 0.1}, []*tensor.Parameter{p}); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
	if _, err := New(Config{Name: "adam", LearningRate: 0}, []*tensor.Parameter{p}); err == nil {
		t.Error("Expected error for zero learning rate")
	}
	if _, err := New(Config{Name: "adam", LearningRate: 0.1}, nil); err == nil {
		t.Error("Expected error for empty parameter list")
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := map[string]int{
		"momentum_0":  0,
		"variance_12": 12,
		"momentum":    -1,
		"momentum_":   -1,
		"momentum_x":  -1,
	}
	for name, want := range tests {
		if got := extractBufferIndex(name); got != want {
			t.Errorf("extractBufferIndex(%q) = %d, want %d", name, got, want)
		}
	}
}
