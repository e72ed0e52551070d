package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"

	"github.com/tsawler/tumor-detect/async"
	"github.com/tsawler/tumor-detect/config"
	"github.com/tsawler/tumor-detect/device"
	"github.com/tsawler/tumor-detect/engine"
	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/optimizer"
	"github.com/tsawler/tumor-detect/tensor"
	"github.com/tsawler/tumor-detect/training"
	"github.com/tsawler/tumor-detect/vision/dataloader"
	"github.com/tsawler/tumor-detect/vision/dataset"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	dataDir := flag.String("data", "", "Dataset root containing Training/ and Testing/")
	arch := flag.String("arch", "", "Architecture: baseline, vgg-lite or vgg19")
	imageSize := flag.Int("image-size", 0, "Square input size in pixels")
	epochs := flag.Int("epochs", 0, "Maximum number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Learning rate")
	logInterval := flag.Int("log-interval", 0, "Batches per running-loss line")
	patience := flag.Int("patience", 0, "Early stopping patience")
	policy := flag.String("policy", "", "Checkpoint policy: legacy or improvement")
	opt := flag.String("optimizer", "", "Optimizer: adam or sgd")
	scheduler := flag.String("scheduler", "", "LR scheduler: none, step, exponential, cosine, plateau")
	checkpointDir := flag.String("checkpoint-dir", "", "Directory for checkpoint files")
	format := flag.String("format", "", "Checkpoint format: proto or json")
	logFile := flag.String("log-file", "", "Append-only training log path")
	seed := flag.Int64("seed", 0, "PRNG seed")
	workers := flag.Int("workers", 0, "Image decoding workers (0 = one per core)")
	prefetch := flag.Int("prefetch", 0, "Batches to read ahead of training")
	evalPath := flag.String("eval", "", "Evaluate this checkpoint instead of training")
	sanity := flag.Bool("sanity", false, "Print the loss of random scores against fixed labels and exit")
	synthetic := flag.Int("synthetic", 0, "Use N random batches per split instead of images")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{
		DataDir:          *dataDir,
		Architecture:     *arch,
		ImageSize:        *imageSize,
		BatchSize:        *batchSize,
		LearningRate:     *lr,
		MaxEpochs:        *epochs,
		LogInterval:      *logInterval,
		Patience:         *patience,
		Optimizer:        *opt,
		LRScheduler:      *scheduler,
		CheckpointPolicy: *policy,
		CheckpointDir:    *checkpointDir,
		CheckpointFormat: *format,
		LogFile:          *logFile,
		Seed:             *seed,
		NumWorkers:       *workers,
		Prefetch:         *prefetch,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	dev := device.Detect()
	fmt.Println(dev.Banner())
	fmt.Println(dev)

	if *sanity {
		lossSanityCheck(cfg.Seed)
		return
	}

	spec, err := layers.Build(layers.Architecture(cfg.Architecture), cfg.ImageSize, cfg.NumClasses)
	if err != nil {
		log.Fatalf("failed to build %s: %v", cfg.Architecture, err)
	}
	net, err := engine.NewNetwork(spec, cfg.Seed)
	if err != nil {
		log.Fatalf("failed to create network: %v", err)
	}
	training.NewModelArchitecturePrinter("Net", os.Stdout).PrintArchitecture(spec)

	trainSrc, valSrc := loadSources(cfg, dev, *synthetic)
	classNames := dataset.DisplayLabels()
	printSampleLabels(trainSrc)

	if *evalPath != "" {
		if _, err := training.RestoreModel(*evalPath, net); err != nil {
			log.Fatalf("failed to restore %s: %v", *evalPath, err)
		}
		report(net, valSrc, classNames)
		return
	}

	optim, err := optimizer.New(cfg.OptimizerConfig(), net.Parameters())
	if err != nil {
		log.Fatalf("failed to create optimizer: %v", err)
	}
	checkpointPolicy, err := training.ParseCheckpointPolicy(cfg.CheckpointPolicy)
	if err != nil {
		log.Fatalf("invalid checkpoint policy: %v", err)
	}
	lrScheduler, err := training.NewLRScheduler(cfg.SchedulerConfig())
	if err != nil {
		log.Fatalf("invalid scheduler: %v", err)
	}

	session, err := training.NewTrainingSession(cfg.SessionConfig(), training.SessionDeps{
		Model:       net,
		Optimizer:   optim,
		Checkpoints: training.NewCheckpointManager(cfg.CheckpointConfig()),
		Policy:      checkpointPolicy,
		Scheduler:   lrScheduler,
	})
	if err != nil {
		log.Fatalf("failed to create training session: %v", err)
	}
	fmt.Printf("Run %s: %s, %s, %s policy, lr %g, batch %d\n",
		session.RunID(), cfg.Architecture, cfg.Optimizer, checkpointPolicy.Name(), cfg.LearningRate, cfg.BatchSize)

	result, err := session.Run(trainSrc, valSrc)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	fmt.Printf("%s after %d epochs (%d steps), best validation loss %.3f\n",
		result.State, result.EpochsRun, result.TotalSteps, result.BestValLoss)
	if result.BestCheckpoint != "" {
		fmt.Printf("Best checkpoint: %s\n", result.BestCheckpoint)
	}
	fmt.Printf("Final checkpoint: %s\n", result.FinalCheckpoint)

	// Reload into a fresh network so the report reflects what is on disk
	fresh, err := engine.NewNetwork(spec, cfg.Seed+1)
	if err != nil {
		log.Fatalf("failed to create network: %v", err)
	}
	if _, err := training.RestoreModel(result.FinalCheckpoint, fresh); err != nil {
		log.Fatalf("failed to reload final checkpoint: %v", err)
	}
	report(fresh, valSrc, classNames)
}

func loadSources(cfg *config.Config, dev device.Info, synthetic int) (training.BatchSource, training.BatchSource) {
	if synthetic > 0 {
		sample := []int{3, cfg.ImageSize, cfg.ImageSize}
		train, err := dataloader.NewRandomSource(synthetic, cfg.BatchSize, sample, cfg.NumClasses, cfg.Seed)
		if err != nil {
			log.Fatalf("failed to create synthetic data: %v", err)
		}
		val, err := dataloader.NewRandomSource(synthetic, cfg.BatchSize, sample, cfg.NumClasses, cfg.Seed+1)
		if err != nil {
			log.Fatalf("failed to create synthetic data: %v", err)
		}
		fmt.Printf("Synthetic data: %d batches of %d per split\n", synthetic, cfg.BatchSize)
		return train, val
	}

	trainSet, testSet, err := dataset.LoadTumorSplits(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to load dataset from %s: %v", cfg.DataDir, err)
	}
	fmt.Println("Training:", trainSet.Summary())
	fmt.Println("Testing: ", testSet.Summary())

	workers := dev.ResolveWorkers(cfg.NumWorkers)
	loaderCfg := dataloader.Config{
		BatchSize:    cfg.BatchSize,
		Shuffle:      cfg.Shuffle,
		Seed:         cfg.Seed,
		MaxCacheSize: cfg.CacheSize,
		ImageSize:    cfg.ImageSize,
		NumWorkers:   workers,
		NumClasses:   cfg.NumClasses,
	}
	train := dataloader.NewDataLoader(trainSet, loaderCfg)
	loaderCfg.Shuffle = false
	val := dataloader.NewDataLoader(testSet, loaderCfg)
	if cfg.Prefetch == 0 {
		return train, val
	}
	return prefetched(train, cfg.Prefetch), prefetched(val, cfg.Prefetch)
}

func prefetched(src async.Source, depth int) training.BatchSource {
	p, err := async.NewPrefetcher(src, depth)
	if err != nil {
		log.Fatalf("failed to create prefetcher: %v", err)
	}
	return p
}

func printSampleLabels(src training.BatchSource) {
	if err := src.Reset(); err != nil {
		log.Fatalf("failed to reset training data: %v", err)
	}
	batch, err := src.Next()
	if err != nil {
		log.Fatalf("failed to load a sample batch: %v", err)
	}
	if batch == nil {
		return
	}
	names := make([]string, len(batch.Labels))
	for i, label := range batch.Labels {
		names[i] = dataset.DisplayLabel(label)
	}
	fmt.Println(strings.Join(names, "  "))
}

func report(model training.Model, val training.BatchSource, classNames []string) {
	if err := val.Reset(); err != nil {
		log.Fatalf("failed to reset validation data: %v", err)
	}
	batch, err := val.Next()
	if err != nil {
		log.Fatalf("failed to load a validation batch: %v", err)
	}
	if batch != nil {
		inf := training.NewInferencer(model, classNames)
		predicted, err := inf.PredictNames(batch.Inputs)
		if err != nil {
			log.Fatalf("prediction failed: %v", err)
		}
		fmt.Println("GroundTruth:", training.FormatLabels(inf.Names(batch.Labels), 5, " "))
		fmt.Println("Predicted: ", training.FormatLabels(predicted, 5, " "))
	}

	result, err := training.Evaluate(model, val, nil)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}
	fmt.Printf("Accuracy of the network on the test images: %d %%\n", result.Accuracy())
	fmt.Printf("Validation loss: %.3f over %d batches\n", result.Loss, result.Batches)
	fmt.Print(result.Confusion.Report(classNames))
}

// lossSanityCheck scores a dummy batch of 4 samples over 10 classes.
func lossSanityCheck(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	scores := tensor.Uniform([]int{4, 10}, 0, 1, rng)
	labels := []int{1, 5, 3, 7}

	for i := 0; i < 4; i++ {
		fmt.Printf("%.4f\n", scores.Row(i))
	}
	fmt.Println(labels)

	loss, _, err := training.NewCrossEntropyLoss("mean").Forward(scores, labels)
	if err != nil {
		log.Fatalf("loss failed: %v", err)
	}
	fmt.Printf("Total loss for this batch: %v\n", loss)
}
