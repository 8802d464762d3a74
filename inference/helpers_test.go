package inference

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"studentperf/ml"
)

var educationLevels = []string{"Bachelors", "High School", "Masters", "PhD"}

func syntheticSet(n int, seed int64) *ml.TrainingSet {
	rnd := rand.New(rand.NewSource(seed))
	set := &ml.TrainingSet{}
	for i := 0; i < n; i++ {
		rec := ml.StudentRecord{
			Attendance:      float64(50 + rnd.Intn(51)),
			HoursStudied:    float64(rnd.Intn(21)),
			PreviousScore:   float64(30 + rnd.Intn(71)),
			ParentEducation: educationLevels[rnd.Intn(len(educationLevels))],
			Test1:           float64(30 + rnd.Intn(71)),
			Test2:           float64(30 + rnd.Intn(71)),
		}
		mean := (rec.PreviousScore + rec.Test1 + rec.Test2) / 3
		label := "Low"
		switch {
		case mean >= 75:
			label = "High"
		case mean >= 55:
			label = "Medium"
		}
		set.Records = append(set.Records, rec)
		set.Labels = append(set.Labels, label)
	}
	return set
}

func fitArtifact(t *testing.T, seed int64) *ml.Artifact {
	t.Helper()
	cfg := ml.DefaultTrainingConfig()
	cfg.Forest.NumTrees = 20
	result, err := ml.Fit(context.Background(), syntheticSet(200, seed), cfg, nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	return result.Artifact
}

func trainModel(t *testing.T) *ml.Model {
	t.Helper()
	model, err := ml.ModelFromArtifact(fitArtifact(t, 7))
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return model
}

// countingClassifier labels everything "Medium" and records how many rows
// it was asked about.
type countingClassifier struct {
	mu   sync.Mutex
	rows int
}

func (c *countingClassifier) Classes() []string {
	return []string{"Medium"}
}

func (c *countingClassifier) Predict(X [][]float64) ([]string, error) {
	c.mu.Lock()
	c.rows += len(X)
	c.mu.Unlock()
	labels := make([]string, len(X))
	for i := range labels {
		labels[i] = "Medium"
	}
	return labels, nil
}

func (c *countingClassifier) seen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

func labelOnlyModel(t *testing.T, classifier ml.Classifier) *ml.Model {
	t.Helper()
	transform, err := ml.Preprocessor{}.Fit(syntheticSet(10, 1).Records)
	if err != nil {
		t.Fatalf("fit transform: %v", err)
	}
	model, err := ml.NewModel(transform, classifier)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return model
}

const annCSV = "Name,Attendance,Hours_Studied,Previous_Score,Parent_Education,Test1,Test2\n" +
	"Ann,95,12,88,Doctorate,90,85\n"

const annJSON = `[{"Name": "Ann", "Attendance": 95, "Hours_Studied": 12, "Previous_Score": 88,
	"Parent_Education": "Doctorate", "Test1": 90, "Test2": 85}]`
