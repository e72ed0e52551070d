package training

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/checkpoints"
	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/optimizer"
	"github.com/tsawler/tumor-detect/tensor"
	"github.com/tsawler/tumor-detect/vision/dataloader"
)

// Model is the network boundary the session drives. engine.Network
// implements it.
type Model interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradScores *tensor.Tensor) error
	Parameters() []*tensor.Parameter
	Train()
	Eval()
	StateDict() []checkpoints.WeightTensor
	LoadStateDict(weights []checkpoints.WeightTensor) error
	Spec() *layers.ModelSpec
}

// BatchSource is a restartable, finite sequence of batches. Next returns a
// nil batch at the end of a pass.
type BatchSource interface {
	Reset() error
	Next() (*dataloader.Batch, error)
}

// RunState is the session state machine.
type RunState int

const (
	Running RunState = iota
	StoppedEarly
	Completed
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "Running"
	case StoppedEarly:
		return "StoppedEarly"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// SessionConfig holds the run hyperparameters.
type SessionConfig struct {
	MaxEpochs    int
	LogInterval  int     // batches per running-loss line
	Patience     int     // consecutive misses before stopping, <= 0 disables
	LearningRate float64 // base rate handed to the scheduler
	LogFile      string  // append-only log path, empty for console only
}

// DefaultSessionConfig returns the stock hyperparameters.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxEpochs:    100,
		LogInterval:  200,
		Patience:     5,
		LearningRate: 0.001,
		LogFile:      "training-logs.txt",
	}
}

// SessionDeps are the collaborators of a session. Model, Optimizer and
// Checkpoints are required; the rest have defaults.
type SessionDeps struct {
	Model       Model
	Optimizer   optimizer.Optimizer
	Checkpoints *CheckpointManager
	Loss        Loss             // cross entropy, mean reduction
	Policy      CheckpointPolicy // LegacyCheckpointPolicy
	Scheduler   LRScheduler      // constant rate
	Console     io.Writer        // os.Stdout
	Clock       func() time.Time // time.Now
	RunID       string           // random UUID
}

// EpochRecord summarizes one finished epoch.
type EpochRecord struct {
	Epoch           int // 1-based
	Batches         int
	TrainLoss       float64 // mean over every training batch of the epoch
	ValLoss         float64
	LearningRate    float64
	Saved           bool
	StoppingCounter int
}

// RunResult is returned by a completed or early-stopped run.
type RunResult struct {
	RunID           string
	State           RunState
	EpochsRun       int
	TotalSteps      int
	BestValLoss     float64
	BestCheckpoint  string // empty when the best slot was never written
	FinalCheckpoint string
	History         []EpochRecord
}

// TrainingSession owns the model, optimizer, accumulators and log for one run.
type TrainingSession struct {
	cfg  SessionConfig
	deps SessionDeps

	state       RunState
	bestValLoss float64
	step        int
	running     *RunningLoss
	stopping    *EarlyStopping
	log         *TrainingLog
}

// NewTrainingSession validates the configuration and fills in defaults.
func NewTrainingSession(cfg SessionConfig, deps SessionDeps) (*TrainingSession, error) {
	if cfg.MaxEpochs <= 0 {
		return nil, errors.Errorf("max epochs must be positive, got %d", cfg.MaxEpochs)
	}
	if cfg.LogInterval <= 0 {
		return nil, errors.Errorf("log interval must be positive, got %d", cfg.LogInterval)
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	if deps.Model == nil || deps.Optimizer == nil || deps.Checkpoints == nil {
		return nil, errors.New("session needs a model, an optimizer and a checkpoint manager")
	}
	if deps.Model.Spec() == nil || deps.Model.Spec().NumClasses() <= 0 {
		return nil, errors.New("model has no compiled output shape")
	}
	if deps.Loss == nil {
		deps.Loss = NewCrossEntropyLoss("mean")
	}
	if deps.Policy == nil {
		deps.Policy = LegacyCheckpointPolicy{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = &NoOpScheduler{}
	}
	if deps.Console == nil {
		deps.Console = os.Stdout
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}

	return &TrainingSession{
		cfg:         cfg,
		deps:        deps,
		state:       Running,
		bestValLoss: math.Inf(1),
		running:     NewRunningLoss(cfg.LogInterval),
		stopping:    NewEarlyStopping(cfg.Patience),
	}, nil
}

// State returns the current state.
func (s *TrainingSession) State() RunState { return s.state }

// RunID identifies the run in checkpoint metadata.
func (s *TrainingSession) RunID() string { return s.deps.RunID }

// Run trains until max epochs or early stopping, then writes the final
// checkpoint. Any data, compute or checkpoint failure aborts the run and is
// returned as-is; the log file is closed on every path.
func (s *TrainingSession) Run(train, val BatchSource) (result *RunResult, err error) {
	if s.state != Running {
		return nil, errors.Errorf("session already finished (%s)", s.state)
	}
	s.log, err = OpenTrainingLog(s.cfg.LogFile, s.deps.Console)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.log.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	result = &RunResult{RunID: s.deps.RunID}
	if err := s.log.Logf("Starting Training"); err != nil {
		return nil, err
	}

	for epoch := 0; epoch < s.cfg.MaxEpochs; epoch++ {
		record, err := s.runEpoch(epoch, train, val)
		if err != nil {
			return nil, err
		}
		result.History = append(result.History, *record)
		result.EpochsRun = epoch + 1
		if record.Saved {
			result.BestCheckpoint = s.deps.Checkpoints.BestPath()
		}

		if s.stopping.ShouldStop() {
			if err := s.log.Logf("Early stopping triggered. Stopping training."); err != nil {
				return nil, err
			}
			s.state = StoppedEarly
			break
		}
	}
	if s.state == Running {
		s.state = Completed
	}

	if err := s.log.Logf("Finished Training"); err != nil {
		return nil, err
	}
	finalPath, err := s.deps.Checkpoints.SaveFinal(s.saveRequest(result.EpochsRun, lastValLoss(result.History)))
	if err != nil {
		return nil, err
	}

	result.State = s.state
	result.TotalSteps = s.step
	result.BestValLoss = s.bestValLoss
	result.FinalCheckpoint = finalPath
	return result, nil
}

func (s *TrainingSession) runEpoch(epoch int, train, val BatchSource) (*EpochRecord, error) {
	lr := s.deps.Scheduler.GetLR(epoch, s.step, s.cfg.LearningRate)
	s.deps.Optimizer.UpdateLearningRate(lr)

	s.deps.Model.Train()
	s.running.Reset()
	if err := train.Reset(); err != nil {
		return nil, asDataLoad(err, "reset training split")
	}

	numClasses := s.deps.Model.Spec().NumClasses()
	record := &EpochRecord{Epoch: epoch + 1, LearningRate: lr}
	epochLoss := 0.0
	for i := 0; ; i++ {
		batch, err := train.Next()
		if err != nil {
			return nil, asDataLoad(err, "next training batch")
		}
		if batch == nil {
			break
		}
		if err := validateBatch(batch, numClasses); err != nil {
			return nil, err
		}

		loss, err := s.trainStep(batch)
		if err != nil {
			return nil, err
		}
		epochLoss += loss
		record.Batches++
		s.step++

		if mean, flush := s.running.Add(loss); flush {
			if err := s.log.Logf("[%d, %5d] training loss: %.3f", epoch+1, i+1, mean); err != nil {
				return nil, err
			}
		}
	}
	if record.Batches == 0 {
		return nil, failure.DataLoadf("train", "training split produced no batches")
	}
	record.TrainLoss = epochLoss / float64(record.Batches)

	eval, err := Evaluate(s.deps.Model, val, s.deps.Loss)
	if err != nil {
		return nil, err
	}
	record.ValLoss = eval.Loss
	if err := s.log.Logf("Epoch %d, Validation Loss: %.3f", epoch+1, eval.Loss); err != nil {
		return nil, err
	}
	if ms, ok := s.deps.Scheduler.(MetricScheduler); ok {
		s.deps.Optimizer.UpdateLearningRate(ms.Step(eval.Loss, lr))
	}

	if s.deps.Policy.ShouldSave(eval.Loss, s.bestValLoss, epoch, s.cfg.MaxEpochs) {
		s.bestValLoss = eval.Loss
		s.stopping.Improved()
		if _, err := s.deps.Checkpoints.SaveBest(s.saveRequest(epoch+1, eval.Loss)); err != nil {
			return nil, err
		}
		record.Saved = true
	} else {
		counter := s.stopping.Miss()
		if err := s.log.Logf("Validation loss did not improve. Early stopping counter: %d/%d", counter, s.stopping.Patience()); err != nil {
			return nil, err
		}
	}
	record.StoppingCounter = s.stopping.Counter()
	return record, nil
}

func (s *TrainingSession) trainStep(batch *dataloader.Batch) (float64, error) {
	s.deps.Optimizer.ZeroGrad()

	scores, err := s.deps.Model.Forward(batch.Inputs)
	if err != nil {
		return 0, asCompute(err, "forward")
	}
	loss, grad, err := s.deps.Loss.Forward(scores, batch.Labels)
	if err != nil {
		return 0, asCompute(err, "loss")
	}
	if err := s.deps.Model.Backward(grad); err != nil {
		return 0, asCompute(err, "backward")
	}
	if err := s.deps.Optimizer.Step(); err != nil {
		return 0, asCompute(err, "optimizer step")
	}
	return loss, nil
}

func (s *TrainingSession) saveRequest(epoch int, valLoss float64) SaveRequest {
	return SaveRequest{
		Model:     s.deps.Model,
		Optimizer: s.deps.Optimizer,
		State: checkpoints.TrainingState{
			Epoch:        epoch,
			Step:         s.step,
			LearningRate: s.deps.Optimizer.LearningRate(),
			BestLoss:     s.bestValLoss,
			ValLoss:      valLoss,
			TotalSteps:   s.step,
		},
		RunID:     s.deps.RunID,
		CreatedAt: s.deps.Clock(),
	}
}

func lastValLoss(history []EpochRecord) float64 {
	if len(history) == 0 {
		return math.NaN()
	}
	return history[len(history)-1].ValLoss
}

// validateBatch checks the batch against the model's class count.
func validateBatch(batch *dataloader.Batch, numClasses int) error {
	if batch.Inputs == nil || len(batch.Inputs.Shape) == 0 {
		return failure.DataLoadf("batch", "batch has no inputs")
	}
	if batch.Inputs.Shape[0] != len(batch.Labels) {
		return failure.DataLoadf("batch", "%d inputs but %d labels", batch.Inputs.Shape[0], len(batch.Labels))
	}
	for i, label := range batch.Labels {
		if label < 0 || label >= numClasses {
			return failure.DataLoadf("batch", "sample %d: label %d outside [0, %d)", i, label, numClasses)
		}
	}
	return nil
}

func asDataLoad(err error, op string) error {
	if failure.IsDataLoad(err) {
		return err
	}
	return failure.DataLoad(err, op)
}

func asCompute(err error, op string) error {
	if failure.IsCompute(err) {
		return err
	}
	return failure.Compute(err, op)
}
