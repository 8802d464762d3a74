package ml

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// TrainingSet is a parsed training table.
type TrainingSet struct {
	Records []StudentRecord
	Labels  []string
}

// Len returns the number of rows.
func (s *TrainingSet) Len() int {
	return len(s.Records)
}

// ReadTrainingSet parses a CSV with the feature columns plus Final_Result.
func ReadTrainingSet(r io.Reader, n Normalizer) (*TrainingSet, error) {
	frame, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	if err := frame.Normalize(n); err != nil {
		return nil, err
	}
	if err := RequireColumns(frame, append(FeatureColumns(), LabelColumn)); err != nil {
		return nil, err
	}
	if frame.Len() == 0 {
		return nil, errors.New("training data has no rows")
	}

	records, err := ValidateAndSelect(frame)
	if err != nil {
		return nil, err
	}
	labelIdx := frame.Index(LabelColumn)
	labels := make([]string, frame.Len())
	for row, cells := range frame.Rows {
		if labels[row], err = ParseLabel(row, cells[labelIdx]); err != nil {
			return nil, err
		}
	}
	return &TrainingSet{Records: records, Labels: labels}, nil
}

// LoadTrainingSet reads the training CSV at path.
func LoadTrainingSet(path string, n Normalizer) (*TrainingSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open training data")
	}
	defer file.Close()

	set, err := ReadTrainingSet(file, n)
	if err != nil {
		return nil, errors.Wrapf(err, "read training data %s", path)
	}
	return set, nil
}
