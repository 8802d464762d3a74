package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"studentperf/config"
	"studentperf/db"
	"studentperf/logging"
	"studentperf/ml"
)

var (
	name    = "train_model"
	version = "1.0.0"
)

type args struct {
	Config   string   `help:"path to config.yaml" arg:"-c"`
	Data     string   `help:"training CSV (overrides training.data_path)" arg:"-d"`
	Model    string   `help:"artifact output path (overrides model.path)" arg:"-m"`
	Trees    *int     `help:"number of trees in the forest"`
	MaxDepth *int     `help:"max tree depth, 0 for unbounded" arg:"--max-depth"`
	Seed     *int64   `help:"seed for the split and the forest"`
	TestSize *float64 `help:"held-out fraction" arg:"--test-size"`
	Jobs     *int     `help:"trees fit concurrently, 0 uses every CPU" arg:"-j"`
	NoLog    bool     `help:"do not record the run in the training log" arg:"--no-log"`
	Quiet    bool     `help:"hide the progress bar" arg:"-q"`
}

func (args) Version() string {
	return version
}

func (args) Description() string {
	return fmt.Sprintf(`%s
trains the student performance forest and writes the model artifact`, name)
}

func main() {
	var args args
	args.Config = "config.yaml"
	arg.MustParse(&args)

	cfg, err := config.Load(args.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(args, cfg, logger); err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
}

func run(args args, cfg *config.Config, logger *zap.Logger) error {
	tc := trainingConfig(args, cfg)

	var bar *pb.ProgressBar
	if !args.Quiet {
		bar = pb.StartNew(tc.Forest.NumTrees)
		tc.Forest.OnTreeFitted = func() { bar.Increment() }
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := ml.Train(ctx, tc, logger)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	fmt.Printf("data points: %d (train %d, test %d)\n", result.DataPoints, result.TrainRows, result.TestRows)
	fmt.Printf("accuracy: %.4f\n", result.Report.Accuracy)
	fmt.Printf("weighted f1: %.4f\n\n", result.Report.WeightedF1)
	fmt.Println(result.Report.String())
	fmt.Println("confusion matrix (rows true, columns predicted):")
	fmt.Println(result.Report.ConfusionString())
	fmt.Printf("model saved to %s in %s\n", result.ArtifactPath, result.Duration.Round(time.Millisecond))

	if !args.NoLog {
		recordRun(cfg.Database.Path, result, logger)
	}
	return nil
}

func trainingConfig(args args, cfg *config.Config) ml.TrainingConfig {
	tc := ml.DefaultTrainingConfig()
	tc.DataPath = cfg.Training.DataPath
	tc.ArtifactPath = cfg.Model.Path
	tc.TestSize = cfg.Training.TestSize
	tc.SplitSeed = cfg.Training.Seed
	tc.Normalizer = ml.Normalizer{FoldFeatureCase: cfg.Schema.FoldFeatureCase}
	tc.Forest.NumTrees = cfg.Training.Trees
	tc.Forest.MaxDepth = cfg.Training.MaxDepth
	tc.Forest.Seed = cfg.Training.Seed
	tc.Forest.Jobs = cfg.Training.Jobs

	if args.Data != "" {
		tc.DataPath = args.Data
	}
	if args.Model != "" {
		tc.ArtifactPath = args.Model
	}
	// a flag that was given wins, zero included
	if args.Trees != nil {
		tc.Forest.NumTrees = *args.Trees
	}
	if args.MaxDepth != nil {
		tc.Forest.MaxDepth = *args.MaxDepth
	}
	if args.Seed != nil {
		tc.SplitSeed = *args.Seed
		tc.Forest.Seed = *args.Seed
	}
	if args.TestSize != nil {
		tc.TestSize = *args.TestSize
	}
	if args.Jobs != nil {
		tc.Forest.Jobs = *args.Jobs
	}
	return tc
}

// recordRun appends the run to the training log. A missing or broken
// database never fails the training itself.
func recordRun(path string, result *ml.TrainingResult, logger *zap.Logger) {
	store, err := db.Open(path)
	if err != nil {
		logger.Warn("training log unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	defer store.Close()

	entry := db.TrainingLog{
		RunID:        uuid.NewString(),
		ModelName:    result.Artifact.Kind(),
		Accuracy:     result.Report.Accuracy,
		WeightedF1:   result.Report.WeightedF1,
		Precision:    result.Report.WeightedAvg.Precision,
		Recall:       result.Report.WeightedAvg.Recall,
		TrainRows:    result.TrainRows,
		TestRows:     result.TestRows,
		DataPoints:   result.DataPoints,
		ArtifactPath: result.ArtifactPath,
		TrainedAt:    result.Artifact.CreatedAt,
	}
	if err := store.SaveTrainingLog(entry); err != nil {
		logger.Warn("failed to record training run", zap.Error(err))
		return
	}
	logger.Info("recorded training run", zap.String("run_id", entry.RunID))
}
