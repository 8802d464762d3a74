package ml

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	ColumnAttendance      = "Attendance"
	ColumnHoursStudied    = "Hours_Studied"
	ColumnPreviousScore   = "Previous_Score"
	ColumnParentEducation = "Parent_Education"
	ColumnTest1           = "Test1"
	ColumnTest2           = "Test2"

	LabelColumn      = "Final_Result"
	NameColumn       = "Name"
	PredictionColumn = "Predicted_Performance"
	ConfidenceColumn = "Confidence"

	CategoricalColumn = ColumnParentEducation
)

// FeatureColumns returns the model input columns in contract order.
func FeatureColumns() []string {
	return []string{
		ColumnAttendance,
		ColumnHoursStudied,
		ColumnPreviousScore,
		ColumnParentEducation,
		ColumnTest1,
		ColumnTest2,
	}
}

// NumericColumns returns the pass-through columns in contract order.
func NumericColumns() []string {
	numeric := make([]string, 0, len(FeatureColumns())-1)
	for _, name := range FeatureColumns() {
		if name != CategoricalColumn {
			numeric = append(numeric, name)
		}
	}
	return numeric
}

var fold = cases.Fold()

// Normalizer rewrites raw headers before the schema check. The zero value
// applies the strict policy: "name" in any case becomes Name and every other
// header is only trimmed.
type Normalizer struct {
	// FoldFeatureCase also maps headers that differ from a feature column
	// only by case onto the canonical spelling.
	FoldFeatureCase bool
}

// Column normalizes a single header.
func (n Normalizer) Column(raw string) string {
	trimmed := strings.TrimSpace(raw)
	folded := fold.String(trimmed)
	if folded == fold.String(NameColumn) {
		return NameColumn
	}
	if n.FoldFeatureCase {
		for _, feature := range FeatureColumns() {
			if folded == fold.String(feature) {
				return feature
			}
		}
	}
	return trimmed
}

// Columns normalizes a header row, keeping its order.
func (n Normalizer) Columns(raw []string) []string {
	out := make([]string, len(raw))
	for i, column := range raw {
		out[i] = n.Column(column)
	}
	return out
}
