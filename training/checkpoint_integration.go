package training

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/checkpoints"
	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/optimizer"
	"github.com/tsawler/tumor-detect/tensor"
)

// FinalTimestampLayout formats the final checkpoint suffix as YYYYMMDD_HHMMSS.
const FinalTimestampLayout = "20060102_150405"

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory string                       // Directory to save checkpoints
	BestName      string                       // File name (without extension) of the best slot
	FinalPrefix   string                       // Final checkpoint is <FinalPrefix>_<timestamp><ext>
	Format        checkpoints.CheckpointFormat // JSON or protobuf wire format
	Atomic        bool                         // Replace files via temp file + rename
}

// DefaultCheckpointConfig returns the default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory: ".",
		BestName:      "best_model",
		FinalPrefix:   "model",
		Format:        checkpoints.FormatProto,
		Atomic:        true,
	}
}

// SaveRequest is the session state stamped into a checkpoint.
type SaveRequest struct {
	Model       Model
	Optimizer   optimizer.Optimizer // optional
	State       checkpoints.TrainingState
	RunID       string
	Description string
	CreatedAt   time.Time
}

// CheckpointManager owns the best slot and the timestamped final slot
type CheckpointManager struct {
	config CheckpointConfig
	saver  *checkpoints.CheckpointSaver
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig) *CheckpointManager {
	if config.BestName == "" {
		config.BestName = "best_model"
	}
	if config.FinalPrefix == "" {
		config.FinalPrefix = "model"
	}
	return &CheckpointManager{
		config: config,
		saver:  checkpoints.NewCheckpointSaver(config.Format).WithAtomicWrites(config.Atomic),
	}
}

// Config returns the manager configuration.
func (cm *CheckpointManager) Config() CheckpointConfig {
	return cm.config
}

// BestPath is the fixed path of the best slot.
func (cm *CheckpointManager) BestPath() string {
	return filepath.Join(cm.config.SaveDirectory, cm.config.BestName+cm.config.Format.Extension())
}

// FinalPath is the path of the final checkpoint written at time t.
func (cm *CheckpointManager) FinalPath(t time.Time) string {
	name := fmt.Sprintf("%s_%s%s", cm.config.FinalPrefix, t.Format(FinalTimestampLayout), cm.config.Format.Extension())
	return filepath.Join(cm.config.SaveDirectory, name)
}

// SaveBest overwrites the best slot.
func (cm *CheckpointManager) SaveBest(req SaveRequest) (string, error) {
	path := cm.BestPath()
	if req.Description == "" {
		req.Description = fmt.Sprintf("Best checkpoint - Epoch %d, Validation Loss: %.6f", req.State.Epoch, req.State.ValLoss)
	}
	return path, cm.save(req, path, "best")
}

// SaveFinal writes a new checkpoint named after req.CreatedAt.
func (cm *CheckpointManager) SaveFinal(req SaveRequest) (string, error) {
	path := cm.FinalPath(req.CreatedAt)
	if req.Description == "" {
		req.Description = fmt.Sprintf("Final checkpoint - Epoch %d", req.State.Epoch)
	}
	return path, cm.save(req, path, "final")
}

func (cm *CheckpointManager) save(req SaveRequest, path, slot string) error {
	if req.Model == nil {
		return failure.CheckpointIOf(path, "no model to save")
	}
	if err := cm.ensureDirectory(); err != nil {
		return failure.CheckpointIO(err, path)
	}

	checkpoint := &checkpoints.Checkpoint{
		ModelSpec:     req.Model.Spec(),
		Weights:       req.Model.StateDict(),
		TrainingState: req.State,
		Metadata: checkpoints.CheckpointMetadata{
			CreatedAt:   req.CreatedAt,
			RunID:       req.RunID,
			Description: req.Description,
			Tags:        []string{slot, fmt.Sprintf("epoch_%d", req.State.Epoch)},
		},
	}
	if req.Optimizer != nil {
		state, err := req.Optimizer.GetState()
		if err != nil {
			return failure.CheckpointIO(errors.Wrap(err, "capture optimizer state"), path)
		}
		checkpoint.OptimizerState = state
	}
	return cm.saver.SaveCheckpoint(checkpoint, path)
}

// Load reads a checkpoint, picking the format from the file extension.
func (cm *CheckpointManager) Load(path string) (*checkpoints.Checkpoint, error) {
	return LoadCheckpointFile(path)
}

// LoadCheckpointFile reads a checkpoint, picking the format from the file extension.
func LoadCheckpointFile(path string) (*checkpoints.Checkpoint, error) {
	return checkpoints.NewCheckpointSaver(checkpoints.FormatFromPath(path)).LoadCheckpoint(path)
}

// RestoreModel loads the weights stored at path into model. The checkpoint
// must describe the same architecture; a mismatch is a CheckpointIOError
// naming the offending layer or tensor and leaves model unchanged.
func RestoreModel(path string, model Model) (*checkpoints.Checkpoint, error) {
	checkpoint, err := LoadCheckpointFile(path)
	if err != nil {
		return nil, err
	}
	if err := modelsCompatible(model.Spec(), checkpoint.ModelSpec); err != nil {
		return nil, failure.CheckpointIO(err, path)
	}
	if err := model.LoadStateDict(checkpoint.Weights); err != nil {
		return nil, failure.CheckpointIO(err, path)
	}
	return checkpoint, nil
}

func (cm *CheckpointManager) ensureDirectory() error {
	if cm.config.SaveDirectory == "" || cm.config.SaveDirectory == "." {
		return nil
	}
	return errors.Wrap(os.MkdirAll(cm.config.SaveDirectory, 0755), "create checkpoint directory")
}

func modelsCompatible(current, stored *layers.ModelSpec) error {
	if len(current.Layers) != len(stored.Layers) {
		return errors.Errorf("checkpoint has %d layers, model has %d", len(stored.Layers), len(current.Layers))
	}
	for i, want := range current.Layers {
		got := stored.Layers[i]
		if want.Type != got.Type {
			return errors.Errorf("layer %d (%s): checkpoint has %s, model has %s", i, want.Name, got.Type, want.Type)
		}
		if len(want.ParameterShapes) != len(got.ParameterShapes) {
			return errors.Errorf("layer %s: parameter count differs", want.Name)
		}
		for j, shape := range want.ParameterShapes {
			if !tensor.SameShape(shape, got.ParameterShapes[j]) {
				return errors.Errorf("layer %s tensor %d: checkpoint shape %v, model shape %v",
					want.Name, j, got.ParameterShapes[j], shape)
			}
		}
	}
	return nil
}
