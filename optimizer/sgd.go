package optimizer

import (
	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/tensor"
)

// SGDOptimizerState is stochastic gradient descent with optional momentum
type SGDOptimizerState struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool

	params   []*tensor.Parameter
	velocity [][]float64

	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.001,
		Momentum:     0.9,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates an SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []*tensor.Parameter) (*SGDOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if config.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, errors.Errorf("momentum must be non-negative, got %g", config.Momentum)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, errors.New("nesterov momentum requires a positive momentum")
	}

	sgd := &SGDOptimizerState{
		LR:          config.LearningRate,
		Momentum:    config.Momentum,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
		params:      params,
	}
	if sgd.Momentum > 0 {
		sgd.velocity = allocateBuffers(params)
	}
	return sgd, nil
}

// Step performs a single SGD step. The first step seeds the momentum buffer
// with the raw gradient.
func (sgd *SGDOptimizerState) Step() error {
	first := sgd.StepCount == 0
	sgd.StepCount++

	for i, p := range sgd.params {
		w := p.Value.Data
		for j, g := range p.Grad.Data {
			if sgd.WeightDecay != 0 {
				g += sgd.WeightDecay * w[j]
			}
			if sgd.velocity != nil {
				buf := sgd.velocity[i]
				if first {
					buf[j] = g
				} else {
					buf[j] = sgd.Momentum*buf[j] + g
				}
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
			}
			w[j] -= sgd.LR * g
		}
	}
	return nil
}

// ZeroGrad clears all parameter gradients
func (sgd *SGDOptimizerState) ZeroGrad() {
	zeroGrad(sgd.params)
}

// LearningRate returns the current learning rate
func (sgd *SGDOptimizerState) LearningRate() float64 {
	return sgd.LR
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float64) {
	sgd.LR = newLR
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	nesterov := 0.0
	if sgd.Nesterov {
		nesterov = 1
	}
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": sgd.LR,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      nesterov,
			"step_count":    float64(sgd.StepCount),
		},
	}
	for i, buf := range sgd.velocity {
		state.StateData = append(state.StateData,
			extractBufferState(buf, sgd.params[i].Value.Shape, "momentum", i, "momentum"))
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	momentum := extractParam(state.Parameters, "momentum", sgd.Momentum)
	if momentum > 0 && sgd.velocity == nil {
		sgd.velocity = allocateBuffers(sgd.params)
	}
	if sgd.velocity != nil {
		if err := restoreBufferStates(sgd.velocity, state, "momentum"); err != nil {
			return err
		}
	}

	sgd.LR = extractParam(state.Parameters, "learning_rate", sgd.LR)
	sgd.Momentum = momentum
	sgd.WeightDecay = extractParam(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractParam(state.Parameters, "nesterov", 0) != 0
	sgd.StepCount = uint64(extractParam(state.Parameters, "step_count", float64(sgd.StepCount)))
	return nil
}
