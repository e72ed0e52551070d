package optimizer

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/tensor"
)

// AdamOptimizerState holds Adam hyperparameters and per-parameter moments
type AdamOptimizerState struct {
	// Hyperparameters
	LR          float64
	Beta1       float64 // Momentum decay (typically 0.9)
	Beta2       float64 // Variance decay (typically 0.999)
	Epsilon     float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay float64 // L2 regularization coefficient

	params   []*tensor.Parameter
	momentum [][]float64 // First moment for each parameter
	variance [][]float64 // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*tensor.Parameter) (*AdamOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if config.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, errors.Errorf("betas must be in [0, 1), got %g and %g", config.Beta1, config.Beta2)
	}

	return &AdamOptimizerState{
		LR:          config.LearningRate,
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		params:      params,
		momentum:    allocateBuffers(params),
		variance:    allocateBuffers(params),
	}, nil
}

// Step performs a single Adam optimization step with bias correction
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++
	t := float64(adam.StepCount)
	bc1 := 1 - math.Pow(adam.Beta1, t)
	bc2 := 1 - math.Pow(adam.Beta2, t)
	stepSize := adam.LR / bc1
	sqrtBC2 := math.Sqrt(bc2)

	for i, p := range adam.params {
		m := adam.momentum[i]
		v := adam.variance[i]
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * w[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g
			w[j] -= stepSize * m[j] / (math.Sqrt(v[j])/sqrtBC2 + adam.Epsilon)
		}
	}
	return nil
}

// ZeroGrad clears all parameter gradients
func (adam *AdamOptimizerState) ZeroGrad() {
	zeroGrad(adam.params)
}

// LearningRate returns the current learning rate
func (adam *AdamOptimizerState) LearningRate() float64 {
	return adam.LR
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float64) {
	adam.LR = newLR
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"learning_rate": adam.LR,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    float64(adam.StepCount),
		},
	}
	for i, p := range adam.params {
		state.StateData = append(state.StateData,
			extractBufferState(adam.momentum[i], p.Value.Shape, "momentum", i, "momentum"),
			extractBufferState(adam.variance[i], p.Value.Shape, "variance", i, "variance"))
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	if err := restoreBufferStates(adam.momentum, state, "momentum"); err != nil {
		return err
	}
	if err := restoreBufferStates(adam.variance, state, "variance"); err != nil {
		return err
	}

	adam.LR = extractParam(state.Parameters, "learning_rate", adam.LR)
	adam.Beta1 = extractParam(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractParam(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractParam(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractParam(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = uint64(extractParam(state.Parameters, "step_count", float64(adam.StepCount)))
	return nil
}
