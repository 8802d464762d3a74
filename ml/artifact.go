package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// ArtifactFormat tags the on-disk layout so incompatible files are rejected
// at load time.
const ArtifactFormat = "studentperf/artifact-v1"

// Artifact is the single persisted output of a training run.
type Artifact struct {
	Format     string          `json:"format"`
	CreatedAt  time.Time       `json:"created_at"`
	Features   []string        `json:"features"`
	Label      string          `json:"label"`
	Transform  transformState  `json:"transform"`
	Classifier classifierState `json:"classifier"`
	Metrics    MetricsSummary  `json:"metrics"`
}

type classifierState struct {
	Kind   string       `json:"kind"`
	Forest *forestState `json:"forest,omitempty"`
}

// NewArtifact bundles a fitted transform and forest.
func NewArtifact(transform *FittedTransform, forest *RandomForest, metrics MetricsSummary, createdAt time.Time) *Artifact {
	state := forest.state()
	return &Artifact{
		Format:     ArtifactFormat,
		CreatedAt:  createdAt.UTC(),
		Features:   FeatureColumns(),
		Label:      LabelColumn,
		Transform:  transform.state(),
		Classifier: classifierState{Kind: KindRandomForest, Forest: &state},
		Metrics:    metrics,
	}
}

// Categories returns the fitted Parent_Education vocabulary.
func (a *Artifact) Categories() []string {
	return append([]string(nil), a.Transform.Categories...)
}

// Kind names the classifier family.
func (a *Artifact) Kind() string {
	return a.Classifier.Kind
}

func (a *Artifact) NumTrees() int {
	if a.Classifier.Forest == nil {
		return 0
	}
	return len(a.Classifier.Forest.Trees)
}

func (a *Artifact) Classes() []string {
	if a.Classifier.Forest == nil {
		return nil
	}
	return append([]string(nil), a.Classifier.Forest.Classes...)
}

// SaveArtifact writes the artifact next to path and renames it into place,
// replacing any previous file.
func SaveArtifact(path string, a *Artifact) error {
	if path == "" {
		return errors.New("artifact path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create artifact dir")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal artifact")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp artifact")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write artifact")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close artifact")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrap(err, "chmod artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "replace artifact")
	}
	return nil
}

// LoadArtifact reads and validates an artifact. Every failure is an
// *ArtifactLoadError.
func LoadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactLoadError{Path: path, Err: err}
	}
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, &ArtifactLoadError{Path: path, Err: errors.Wrap(err, "decode")}
	}
	if err := a.validate(); err != nil {
		return nil, &ArtifactLoadError{Path: path, Err: err}
	}
	return &a, nil
}

func (a *Artifact) validate() error {
	if a.Format != ArtifactFormat {
		return errors.Errorf("unsupported artifact format %q", a.Format)
	}
	if !reflect.DeepEqual(a.Features, FeatureColumns()) {
		return errors.Errorf("artifact features %v do not match contract %v", a.Features, FeatureColumns())
	}
	if _, err := transformFromState(a.Transform); err != nil {
		return errors.Wrap(err, "transform")
	}
	return nil
}
