package training

import (
	"strings"

	"github.com/pkg/errors"
)

// CheckpointPolicy decides, once per epoch, whether the current weights
// replace the best checkpoint slot.
type CheckpointPolicy interface {
	ShouldSave(valLoss, bestValLoss float64, epoch, maxEpochs int) bool
	Name() string
}

// LegacyCheckpointPolicy saves when the loss improved or while epoch <
// maxEpochs. Inside a bounded run the second clause always holds, so the best
// slot is rewritten every epoch and early stopping never sees a miss. Select
// ImprovementCheckpointPolicy for strict model selection.
type LegacyCheckpointPolicy struct{}

// ShouldSave implements CheckpointPolicy.
func (LegacyCheckpointPolicy) ShouldSave(valLoss, bestValLoss float64, epoch, maxEpochs int) bool {
	return valLoss < bestValLoss || epoch < maxEpochs
}

// Name implements CheckpointPolicy.
func (LegacyCheckpointPolicy) Name() string { return "legacy" }

// ImprovementCheckpointPolicy saves only when the validation loss strictly improves.
type ImprovementCheckpointPolicy struct{}

// ShouldSave implements CheckpointPolicy.
func (ImprovementCheckpointPolicy) ShouldSave(valLoss, bestValLoss float64, _, _ int) bool {
	return valLoss < bestValLoss
}

// Name implements CheckpointPolicy.
func (ImprovementCheckpointPolicy) Name() string { return "improvement" }

// ParseCheckpointPolicy maps a config name to a policy.
func ParseCheckpointPolicy(name string) (CheckpointPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "legacy":
		return LegacyCheckpointPolicy{}, nil
	case "improvement", "strict":
		return ImprovementCheckpointPolicy{}, nil
	default:
		return nil, errors.Errorf("unknown checkpoint policy %q (want legacy or improvement)", name)
	}
}

// EarlyStopping counts consecutive epochs without a checkpoint update.
// A patience of zero or less never stops.
type EarlyStopping struct {
	patience int
	counter  int
}

// NewEarlyStopping creates a counter that trips after patience misses.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{patience: patience}
}

// Improved resets the counter.
func (es *EarlyStopping) Improved() {
	es.counter = 0
}

// Miss records an epoch without improvement and returns the new count.
func (es *EarlyStopping) Miss() int {
	es.counter++
	return es.counter
}

// ShouldStop reports whether the counter has reached patience.
func (es *EarlyStopping) ShouldStop() bool {
	return es.patience > 0 && es.counter >= es.patience
}

// Counter returns the current number of consecutive misses.
func (es *EarlyStopping) Counter() int {
	return es.counter
}

// Patience returns the configured patience.
func (es *EarlyStopping) Patience() int {
	return es.patience
}
