package optimizer

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/tensor"
)

// Config selects and parameterizes an optimizer by name.
type Config struct {
	Name         string // "adam" or "sgd"
	LearningRate float64
	Momentum     float64 // SGD only
	WeightDecay  float64
}

// New builds the optimizer named in config over params.
func New(config Config, params []*tensor.Parameter) (Optimizer, error) {
	switch strings.ToLower(config.Name) {
	case "", "adam":
		adam := DefaultAdamConfig()
		adam.LearningRate = config.LearningRate
		adam.WeightDecay = config.WeightDecay
		return NewAdamOptimizer(adam, params)
	case "sgd":
		return NewSGDOptimizer(SGDConfig{
			LearningRate: config.LearningRate,
			Momentum:     config.Momentum,
			WeightDecay:  config.WeightDecay,
		}, params)
	default:
		return nil, errors.Errorf("unknown optimizer %q", config.Name)
	}
}
