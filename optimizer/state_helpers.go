package optimizer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/checkpoints"
	"github.com/tsawler/tumor-detect/tensor"
)

// Common helper functions for optimizer state management

// extractBufferState copies a single state buffer for checkpointing
func extractBufferState(buffer []float64, shape []int, prefix string, index int, stateType string) checkpoints.OptimizerTensor {
	data := make([]float64, len(buffer))
	copy(data, buffer)
	s := make([]int, len(shape))
	copy(s, shape)
	return checkpoints.OptimizerTensor{
		Name:      fmt.Sprintf("%s_%d", prefix, index),
		Shape:     s,
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferStates copies checkpointed tensors of one state type back
// into the matching buffers
func restoreBufferStates(buffers [][]float64, state *OptimizerState, stateType string) error {
	for _, t := range state.StateData {
		if t.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(buffers) {
			return errors.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if len(t.Data) != len(buffers[idx]) {
			return errors.Errorf("data size mismatch for %s: expected %d elements, got %d",
				t.Name, len(buffers[idx]), len(t.Data))
		}
		copy(buffers[idx], t.Data)
	}
	return nil
}

// allocateBuffers returns one zeroed buffer per parameter
func allocateBuffers(params []*tensor.Parameter) [][]float64 {
	buffers := make([][]float64, len(params))
	for i, p := range params {
		buffers[i] = make([]float64, len(p.Value.Data))
	}
	return buffers
}

func zeroGrad(params []*tensor.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// extractParam safely extracts a hyperparameter from the state map
func extractParam(params map[string]float64, key string, defaultValue float64) float64 {
	if val, ok := params[key]; ok {
		return val
	}
	return defaultValue
}

func validateParams(params []*tensor.Parameter) error {
	if len(params) == 0 {
		return errors.New("no parameters provided")
	}
	for i, p := range params {
		if p == nil || p.Value == nil || p.Grad == nil || len(p.Value.Data) != len(p.Grad.Data) {
			return errors.Errorf("parameter %d is missing a value or gradient", i)
		}
	}
	return nil
}
