package ml

import (
	"github.com/pkg/errors"
)

// Classifier is the minimum a loaded classifier must provide.
type Classifier interface {
	Classes() []string
	Predict(X [][]float64) ([]string, error)
}

// ProbabilityEstimator is the optional capability behind Confidence.
type ProbabilityEstimator interface {
	PredictProba(X [][]float64) ([][]float64, error)
}

// Model binds a fitted transform to a classifier. It never changes after
// NewModel returns, so one Model may serve any number of goroutines.
type Model struct {
	transform  *FittedTransform
	classifier Classifier
	proba      ProbabilityEstimator
	artifact   *Artifact
}

// NewModel checks the probability capability once.
func NewModel(transform *FittedTransform, classifier Classifier) (*Model, error) {
	if transform == nil {
		return nil, errors.New("model requires a fitted transform")
	}
	if classifier == nil {
		return nil, errors.New("model requires a classifier")
	}
	m := &Model{transform: transform, classifier: classifier}
	if p, ok := classifier.(ProbabilityEstimator); ok {
		m.proba = p
	}
	return m, nil
}

// HasProbabilities reports whether confidences will be available.
func (m *Model) HasProbabilities() bool {
	return m.proba != nil
}

// Classes returns the labels the classifier can emit.
func (m *Model) Classes() []string {
	return m.classifier.Classes()
}

// Transform exposes the fitted transform.
func (m *Model) Transform() *FittedTransform {
	return m.transform
}

// Artifact returns the artifact the model was loaded from, or nil.
func (m *Model) Artifact() *Artifact {
	return m.artifact
}

// Info describes the classifier when it can describe itself, otherwise nil.
func (m *Model) Info() map[string]interface{} {
	if d, ok := m.classifier.(interface{ Info() map[string]interface{} }); ok {
		return d.Info()
	}
	return nil
}

// Predict labels each record and reports the probability of the chosen
// label. Without the probability capability every confidence is
// Unavailable.
func (m *Model) Predict(records []StudentRecord) ([]string, []Confidence, error) {
	X := m.transform.Transform(records)
	confidences := make([]Confidence, len(records))

	if m.proba == nil {
		labels, err := m.classifier.Predict(X)
		if err != nil {
			return nil, nil, errors.Wrap(err, "predict")
		}
		if len(labels) != len(records) {
			return nil, nil, errors.Errorf("classifier returned %d labels for %d rows", len(labels), len(records))
		}
		for i := range confidences {
			confidences[i] = Unavailable
		}
		return labels, confidences, nil
	}

	proba, err := m.proba.PredictProba(X)
	if err != nil {
		return nil, nil, errors.Wrap(err, "predict proba")
	}
	if len(proba) != len(records) {
		return nil, nil, errors.Errorf("classifier returned %d rows for %d rows", len(proba), len(records))
	}
	classes := m.classifier.Classes()
	labels := make([]string, len(records))
	for i, p := range proba {
		if len(p) != len(classes) {
			return nil, nil, errors.Errorf("row %d: %d probabilities for %d classes", i, len(p), len(classes))
		}
		best := argmax(p)
		labels[i] = classes[best]
		confidences[i] = Known(p[best])
	}
	return labels, confidences, nil
}
