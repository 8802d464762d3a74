package ml

import (
	"github.com/pkg/errors"
)

// LoadModel reads the artifact at path and builds a ready Model. Any
// failure is an *ArtifactLoadError.
func LoadModel(path string) (*Model, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	m, err := ModelFromArtifact(a)
	if err != nil {
		return nil, &ArtifactLoadError{Path: path, Err: err}
	}
	return m, nil
}

// ModelFromArtifact rebuilds the transform and classifier.
func ModelFromArtifact(a *Artifact) (*Model, error) {
	transform, err := transformFromState(a.Transform)
	if err != nil {
		return nil, errors.Wrap(err, "transform")
	}

	var classifier Classifier
	switch a.Classifier.Kind {
	case KindRandomForest:
		if a.Classifier.Forest == nil {
			return nil, errors.New("random forest payload missing")
		}
		forest, err := forestFromState(*a.Classifier.Forest)
		if err != nil {
			return nil, errors.Wrap(err, "random forest")
		}
		if forest.numFeatures != transform.Width() {
			return nil, errors.Errorf("forest expects %d features, transform yields %d", forest.numFeatures, transform.Width())
		}
		classifier = forest
	default:
		return nil, errors.Errorf("unsupported model type %q", a.Classifier.Kind)
	}

	m, err := NewModel(transform, classifier)
	if err != nil {
		return nil, err
	}
	m.artifact = a
	return m, nil
}
