package ml

import (
	"bytes"
	"context"
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

var educationLevels = []string{"Bachelors", "High School", "Masters", "PhD"}

// syntheticSet builds a labelled set where the label follows the mean of the
// three scores.
func syntheticSet(n int, seed int64) *TrainingSet {
	rnd := rand.New(rand.NewSource(seed))
	set := &TrainingSet{}
	for i := 0; i < n; i++ {
		rec := StudentRecord{
			Attendance:      float64(50 + rnd.Intn(51)),
			HoursStudied:    float64(rnd.Intn(21)),
			PreviousScore:   float64(30 + rnd.Intn(71)),
			ParentEducation: educationLevels[rnd.Intn(len(educationLevels))],
			Test1:           float64(30 + rnd.Intn(71)),
			Test2:           float64(30 + rnd.Intn(71)),
		}
		set.Records = append(set.Records, rec)
		set.Labels = append(set.Labels, labelFor(rec))
	}
	return set
}

func labelFor(r StudentRecord) string {
	mean := (r.PreviousScore + r.Test1 + r.Test2) / 3
	switch {
	case mean >= 75:
		return "High"
	case mean >= 55:
		return "Medium"
	default:
		return "Low"
	}
}

func trainingCSV(t *testing.T, set *TrainingSet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append(FeatureColumns(), LabelColumn)
	if err := w.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for i, r := range set.Records {
		row := []string{
			ftoa(r.Attendance),
			ftoa(r.HoursStudied),
			ftoa(r.PreviousScore),
			r.ParentEducation,
			ftoa(r.Test1),
			ftoa(r.Test2),
			set.Labels[i],
		}
		if err := w.Write(row); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("flush csv: %v", err)
	}
	return buf.Bytes()
}

func writeTrainingCSV(t *testing.T, set *TrainingSet) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "student_training.csv")
	if err := os.WriteFile(path, trainingCSV(t, set), 0o644); err != nil {
		t.Fatalf("write training csv: %v", err)
	}
	return path
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// smallTrainingConfig keeps forests small so tests stay fast.
func smallTrainingConfig() TrainingConfig {
	cfg := DefaultTrainingConfig()
	cfg.Forest.NumTrees = 25
	return cfg
}

func fitSmallModel(t *testing.T) *Model {
	t.Helper()
	result, err := Fit(context.Background(), syntheticSet(200, 7), smallTrainingConfig(), nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	model, err := ModelFromArtifact(result.Artifact)
	if err != nil {
		t.Fatalf("model from artifact: %v", err)
	}
	return model
}
