package ml

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync/atomic"
	"testing"
)

func forestInputs(t *testing.T, n int, seed int64) ([][]float64, []string) {
	t.Helper()
	set := syntheticSet(n, seed)
	transform, err := Preprocessor{}.Fit(set.Records)
	if err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	return transform.Transform(set.Records), set.Labels
}

func TestRandomForestFitPredict(t *testing.T) {
	X, y := forestInputs(t, 150, 3)
	var fitted int32
	params := DefaultForestParams()
	params.NumTrees = 20
	params.OnTreeFitted = func() { atomic.AddInt32(&fitted, 1) }

	rf := &RandomForest{}
	if err := rf.Fit(context.Background(), X, y, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fitted != 20 {
		t.Fatalf("expected 20 tree callbacks, got %d", fitted)
	}
	if !reflect.DeepEqual(rf.Classes(), uniqueSorted(y)) {
		t.Fatalf("unexpected classes %v", rf.Classes())
	}

	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range proba {
		sum := 0.0
		for _, v := range p {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d: probabilities sum to %f", i, sum)
		}
	}

	labels, err := rf.Predict(X)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	correct := 0
	for i := range labels {
		if labels[i] == y[i] {
			correct++
		}
	}
	if float64(correct)/float64(len(y)) < 0.9 {
		t.Fatalf("expected the forest to fit its training rows, got %d/%d", correct, len(y))
	}

	info := rf.Info()
	if info["num_trees"] != 20 || info["algorithm"] != KindRandomForest {
		t.Fatalf("unexpected info %v", info)
	}
}

func TestRandomForestDeterministicAcrossJobs(t *testing.T) {
	X, y := forestInputs(t, 120, 11)
	fit := func(jobs int) [][]float64 {
		params := DefaultForestParams()
		params.NumTrees = 15
		params.Jobs = jobs
		rf := &RandomForest{}
		if err := rf.Fit(context.Background(), X, y, params); err != nil {
			t.Fatalf("fit with %d jobs: %v", jobs, err)
		}
		proba, err := rf.PredictProba(X)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		return proba
	}
	if !reflect.DeepEqual(fit(1), fit(4)) {
		t.Fatal("forest output depends on the number of jobs")
	}
}

func TestRandomForestStateRoundTrip(t *testing.T) {
	X, y := forestInputs(t, 80, 5)
	params := DefaultForestParams()
	params.NumTrees = 10
	rf := &RandomForest{}
	if err := rf.Fit(context.Background(), X, y, params); err != nil {
		t.Fatalf("fit: %v", err)
	}
	restored, err := forestFromState(rf.state())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	want, _ := rf.PredictProba(X)
	got, err := restored.PredictProba(X)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatal("restored forest predicts differently")
	}
}

func TestRandomForestErrors(t *testing.T) {
	rf := &RandomForest{}
	if _, err := rf.PredictProba([][]float64{{1}}); err == nil {
		t.Fatal("expected error for untrained forest")
	}
	if err := rf.Fit(context.Background(), nil, nil, DefaultForestParams()); err == nil {
		t.Fatal("expected error for empty data")
	}
	if err := rf.Fit(context.Background(), [][]float64{{1}, {2, 3}}, []string{"A", "B"}, DefaultForestParams()); err == nil {
		t.Fatal("expected error for ragged rows")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	X, y := forestInputs(t, 40, 1)
	err := rf.Fit(ctx, X, y, DefaultForestParams())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	params := DefaultForestParams()
	params.NumTrees = 3
	if err := rf.Fit(context.Background(), X, y, params); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := rf.PredictProba([][]float64{{1, 2}}); err == nil {
		t.Fatal("expected error for wrong feature width")
	}
}
