package ml

import (
	"sort"

	"github.com/pkg/errors"
)

// Preprocessor learns the categorical vocabulary. It has no transform
// method; fitting is the only thing it can do.
type Preprocessor struct{}

// Fit collects the categories seen in the training rows and returns the
// immutable transform.
func (Preprocessor) Fit(records []StudentRecord) (*FittedTransform, error) {
	if len(records) == 0 {
		return nil, errors.New("cannot fit transform on empty data")
	}
	seen := make(map[string]bool)
	for _, r := range records {
		seen[r.ParentEducation] = true
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return newFittedTransform(categories), nil
}

// FittedTransform maps records to the numeric matrix: one indicator per
// Parent_Education category seen at fit, then the numeric columns unscaled.
// It is read-only after construction.
type FittedTransform struct {
	categories []string
	index      map[string]int
}

func newFittedTransform(categories []string) *FittedTransform {
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		index[c] = i
	}
	return &FittedTransform{categories: categories, index: index}
}

// Categories returns the fitted vocabulary in encoding order.
func (t *FittedTransform) Categories() []string {
	return append([]string(nil), t.categories...)
}

// Width is the number of output columns.
func (t *FittedTransform) Width() int {
	return len(t.categories) + len(NumericColumns())
}

// FeatureNames names the output columns.
func (t *FittedTransform) FeatureNames() []string {
	names := make([]string, 0, t.Width())
	for _, c := range t.categories {
		names = append(names, CategoricalColumn+"="+c)
	}
	return append(names, NumericColumns()...)
}

// Transform encodes records. An unseen category yields an all-zero
// indicator block.
func (t *FittedTransform) Transform(records []StudentRecord) [][]float64 {
	out := make([][]float64, len(records))
	for i, r := range records {
		out[i] = t.vector(r)
	}
	return out
}

func (t *FittedTransform) vector(r StudentRecord) []float64 {
	v := make([]float64, t.Width())
	if pos, ok := t.index[r.ParentEducation]; ok {
		v[pos] = 1
	}
	copy(v[len(t.categories):], r.Numeric())
	return v
}

type transformState struct {
	Categories []string `json:"categories"`
}

func (t *FittedTransform) state() transformState {
	return transformState{Categories: t.Categories()}
}

func transformFromState(s transformState) (*FittedTransform, error) {
	if len(s.Categories) == 0 {
		return nil, errors.New("transform has no categories")
	}
	seen := make(map[string]bool, len(s.Categories))
	for _, c := range s.Categories {
		if seen[c] {
			return nil, errors.Errorf("duplicate category %q", c)
		}
		seen[c] = true
	}
	return newFittedTransform(append([]string(nil), s.Categories...)), nil
}
