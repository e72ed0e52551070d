// Package config loads the run configuration from YAML and applies CLI overrides.
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/tumor-detect/checkpoints"
	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/optimizer"
	"github.com/tsawler/tumor-detect/training"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	Architecture string `yaml:"architecture"`
	ImageSize    int    `yaml:"image_size"`
	NumClasses   int    `yaml:"num_classes"`

	BatchSize    int     `yaml:"batch_size"`
	Shuffle      bool    `yaml:"shuffle"`
	LearningRate float64 `yaml:"learning_rate"`
	MaxEpochs    int     `yaml:"max_epochs"`
	LogInterval  int     `yaml:"log_interval"`
	Patience     int     `yaml:"patience"`

	Optimizer   string  `yaml:"optimizer"`
	Momentum    float64 `yaml:"momentum"`
	WeightDecay float64 `yaml:"weight_decay"`

	LRScheduler string  `yaml:"lr_scheduler"`
	StepSize    int     `yaml:"step_size"`
	Gamma       float64 `yaml:"gamma"`

	CheckpointPolicy  string `yaml:"checkpoint_policy"`
	CheckpointDir     string `yaml:"checkpoint_dir"`
	BestCheckpoint    string `yaml:"best_checkpoint"`
	FinalPrefix       string `yaml:"final_prefix"`
	CheckpointFormat  string `yaml:"checkpoint_format"`
	AtomicCheckpoints bool   `yaml:"atomic_checkpoints"`

	LogFile    string `yaml:"log_file"`
	Seed       int64  `yaml:"seed"`
	NumWorkers int    `yaml:"num_workers"` // 0 picks one per logical core
	CacheSize  int    `yaml:"cache_size"`
	Prefetch   int    `yaml:"prefetch_depth"` // batches read ahead; 0 disables
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DataDir:           "archive",
		Architecture:      string(layers.Baseline),
		ImageSize:         224,
		NumClasses:        4,
		BatchSize:         4,
		Shuffle:           true,
		LearningRate:      0.001,
		MaxEpochs:         100,
		LogInterval:       200,
		Patience:          5,
		Optimizer:         "adam",
		Momentum:          0.9,
		LRScheduler:       "none",
		StepSize:          10,
		Gamma:             0.1,
		CheckpointPolicy:  "legacy",
		CheckpointDir:     ".",
		BestCheckpoint:    "best_model",
		FinalPrefix:       "model",
		CheckpointFormat:  "proto",
		AtomicCheckpoints: true,
		LogFile:           "training-logs.txt",
		Seed:              42,
		CacheSize:         1000,
		Prefetch:          2,
	}
}

// Overrides captures CLI supplied values. Zero values leave the config untouched.
type Overrides struct {
	DataDir           string
	Architecture      string
	ImageSize         int
	BatchSize         int
	LearningRate      float64
	MaxEpochs         int
	LogInterval       int
	Patience          int
	Optimizer         string
	LRScheduler       string
	CheckpointPolicy  string
	CheckpointDir     string
	CheckpointFormat  string
	LogFile           string
	Seed              int64
	NumWorkers        int
	Prefetch          int
	Shuffle           *bool
	AtomicCheckpoints *bool
}

// Load reads path over the defaults and validates the result. An empty path
// yields the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	if err := decode(f, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	setString(&c.DataDir, o.DataDir)
	setString(&c.Architecture, o.Architecture)
	setString(&c.Optimizer, o.Optimizer)
	setString(&c.LRScheduler, o.LRScheduler)
	setString(&c.CheckpointPolicy, o.CheckpointPolicy)
	setString(&c.CheckpointDir, o.CheckpointDir)
	setString(&c.CheckpointFormat, o.CheckpointFormat)
	setString(&c.LogFile, o.LogFile)
	setInt(&c.ImageSize, o.ImageSize)
	setInt(&c.BatchSize, o.BatchSize)
	setInt(&c.MaxEpochs, o.MaxEpochs)
	setInt(&c.LogInterval, o.LogInterval)
	setInt(&c.Patience, o.Patience)
	setInt(&c.NumWorkers, o.NumWorkers)
	setInt(&c.Prefetch, o.Prefetch)
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Shuffle != nil {
		c.Shuffle = *o.Shuffle
	}
	if o.AtomicCheckpoints != nil {
		c.AtomicCheckpoints = *o.AtomicCheckpoints
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ImageSize <= 0 {
		return errors.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.NumClasses <= 0 {
		return errors.Errorf("num_classes must be > 0 (got %d)", c.NumClasses)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.MaxEpochs <= 0 {
		return errors.Errorf("max_epochs must be > 0 (got %d)", c.MaxEpochs)
	}
	if c.LogInterval <= 0 {
		return errors.Errorf("log_interval must be > 0 (got %d)", c.LogInterval)
	}
	if c.Patience < 0 {
		return errors.Errorf("patience must be >= 0 (got %d)", c.Patience)
	}
	if c.NumWorkers < 0 || c.CacheSize < 0 || c.Prefetch < 0 {
		return errors.New("num_workers, cache_size and prefetch_depth must be >= 0")
	}
	if c.BestCheckpoint == "" || c.FinalPrefix == "" {
		return errors.New("best_checkpoint and final_prefix must be set")
	}
	if _, err := layers.ParseArchitecture(c.Architecture); err != nil {
		return errors.Wrap(err, "architecture")
	}
	if _, err := training.ParseCheckpointPolicy(c.CheckpointPolicy); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	if _, err := training.NewLRScheduler(c.SchedulerConfig()); err != nil {
		return err
	}
	switch c.Optimizer {
	case "adam", "sgd":
	default:
		return errors.Errorf("optimizer must be adam or sgd (got %q)", c.Optimizer)
	}
	return nil
}

// TrainDir and TestDir follow the archive/Training, archive/Testing layout.
func (c *Config) TrainDir() string { return filepath.Join(c.DataDir, "Training") }

func (c *Config) TestDir() string { return filepath.Join(c.DataDir, "Testing") }

// SessionConfig maps the run knobs onto the orchestrator.
func (c *Config) SessionConfig() training.SessionConfig {
	return training.SessionConfig{
		MaxEpochs:    c.MaxEpochs,
		LogInterval:  c.LogInterval,
		Patience:     c.Patience,
		LearningRate: c.LearningRate,
		LogFile:      c.LogFile,
	}
}

// CheckpointConfig maps the checkpoint knobs. Call after Validate.
func (c *Config) CheckpointConfig() training.CheckpointConfig {
	format, _ := checkpoints.ParseFormat(c.CheckpointFormat)
	return training.CheckpointConfig{
		SaveDirectory: c.CheckpointDir,
		BestName:      c.BestCheckpoint,
		FinalPrefix:   c.FinalPrefix,
		Format:        format,
		Atomic:        c.AtomicCheckpoints,
	}
}

// OptimizerConfig maps the optimizer knobs.
func (c *Config) OptimizerConfig() optimizer.Config {
	return optimizer.Config{
		Name:         c.Optimizer,
		LearningRate: c.LearningRate,
		Momentum:     c.Momentum,
		WeightDecay:  c.WeightDecay,
	}
}

// SchedulerConfig maps the learning rate schedule knobs.
func (c *Config) SchedulerConfig() training.SchedulerConfig {
	return training.SchedulerConfig{
		Name:      c.LRScheduler,
		StepSize:  c.StepSize,
		Gamma:     c.Gamma,
		MaxEpochs: c.MaxEpochs,
		Patience:  c.Patience,
	}
}
