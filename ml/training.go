package ml

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TrainingConfig drives one training run.
type TrainingConfig struct {
	DataPath     string
	ArtifactPath string
	TestSize     float64
	SplitSeed    int64
	Forest       ForestParams
	Normalizer   Normalizer
}

// DefaultTrainingConfig is the fixed 80/20 split with seed 42 and the
// default forest.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		TestSize:  0.2,
		SplitSeed: 42,
		Forest:    DefaultForestParams(),
	}
}

// TrainingResult is what a run reports back to its caller.
type TrainingResult struct {
	Report       *Report
	Artifact     *Artifact
	ArtifactPath string
	DataPoints   int
	TrainRows    int
	TestRows     int
	ClassSupport map[string]int
	Duration     time.Duration
}

// Train runs the whole pipeline: load, split, fit, evaluate, persist. The
// artifact is saved whatever the evaluation says.
func Train(ctx context.Context, cfg TrainingConfig, logger *zap.Logger) (*TrainingResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DataPath == "" {
		return nil, errors.New("training data path is required")
	}
	if cfg.ArtifactPath == "" {
		return nil, errors.New("artifact path is required")
	}

	logger.Info("loading training data", zap.String("path", cfg.DataPath))
	set, err := LoadTrainingSet(cfg.DataPath, cfg.Normalizer)
	if err != nil {
		return nil, err
	}

	result, err := Fit(ctx, set, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := SaveArtifact(cfg.ArtifactPath, result.Artifact); err != nil {
		return nil, errors.Wrap(err, "save artifact")
	}
	result.ArtifactPath = cfg.ArtifactPath
	logger.Info("saved model", zap.String("path", cfg.ArtifactPath))
	return result, nil
}

// Fit splits the set, fits transform and forest on the train part and
// evaluates on the held-out part. Nothing is written to disk.
func Fit(ctx context.Context, set *TrainingSet, cfg TrainingConfig, logger *zap.Logger) (*TrainingResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	trainIdx, testIdx, err := StratifiedSplit(set.Labels, cfg.TestSize, cfg.SplitSeed)
	if err != nil {
		return nil, errors.Wrap(err, "split")
	}
	trainRecords, trainLabels := SelectRecords(set.Records, trainIdx), SelectLabels(set.Labels, trainIdx)
	testRecords, testLabels := SelectRecords(set.Records, testIdx), SelectLabels(set.Labels, testIdx)
	logger.Info("split training data",
		zap.Int("rows", set.Len()),
		zap.Int("train_rows", len(trainIdx)),
		zap.Int("test_rows", len(testIdx)),
		zap.Any("class_support", ClassSupport(set.Labels)),
	)

	transform, err := Preprocessor{}.Fit(trainRecords)
	if err != nil {
		return nil, errors.Wrap(err, "fit transform")
	}
	trainX := transform.Transform(trainRecords)
	testX := transform.Transform(testRecords)

	logger.Info("training",
		zap.Int("trees", cfg.Forest.NumTrees),
		zap.Int("max_depth", cfg.Forest.MaxDepth),
		zap.Int64("seed", cfg.Forest.Seed),
		zap.Strings("categories", transform.Categories()),
	)
	forest := &RandomForest{}
	if err := forest.Fit(ctx, trainX, trainLabels, cfg.Forest); err != nil {
		return nil, err
	}

	preds, err := forest.Predict(testX)
	if err != nil {
		return nil, errors.Wrap(err, "predict held-out rows")
	}
	report, err := Evaluate(testLabels, preds)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	logger.Info("evaluated model",
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("weighted_f1", report.WeightedF1),
	)

	summary := MetricsSummary{
		Accuracy:   report.Accuracy,
		WeightedF1: report.WeightedF1,
		TrainRows:  len(trainIdx),
		TestRows:   len(testIdx),
	}
	return &TrainingResult{
		Report:       report,
		Artifact:     NewArtifact(transform, forest, summary, time.Now()),
		DataPoints:   set.Len(),
		TrainRows:    len(trainIdx),
		TestRows:     len(testIdx),
		ClassSupport: ClassSupport(set.Labels),
		Duration:     time.Since(start),
	}, nil
}
