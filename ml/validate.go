package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MissingColumns lists every expected column absent from the frame, in the
// order of expected.
func MissingColumns(frame *Frame, expected []string) []string {
	present := make(map[string]bool, len(frame.Columns))
	for _, name := range frame.Columns {
		present[name] = true
	}
	var missing []string
	for _, name := range expected {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// RequireColumns fails with a SchemaError naming the full missing set.
func RequireColumns(frame *Frame, expected []string) error {
	if missing := MissingColumns(frame, expected); len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// ValidateAndSelect checks the feature contract and reduces every row to a
// typed StudentRecord. The frame must already be normalized. Any cell that
// cannot be parsed fails the whole frame.
func ValidateAndSelect(frame *Frame) ([]StudentRecord, error) {
	features := FeatureColumns()
	if err := RequireColumns(frame, features); err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(features))
	for _, name := range features {
		idx[name] = frame.Index(name)
	}

	records := make([]StudentRecord, len(frame.Rows))
	for row, cells := range frame.Rows {
		var rec StudentRecord
		var err error
		numeric := []struct {
			column string
			dst    *float64
		}{
			{ColumnAttendance, &rec.Attendance},
			{ColumnHoursStudied, &rec.HoursStudied},
			{ColumnPreviousScore, &rec.PreviousScore},
			{ColumnTest1, &rec.Test1},
			{ColumnTest2, &rec.Test2},
		}
		for _, n := range numeric {
			if *n.dst, err = ParseNumeric(row, n.column, cells[idx[n.column]]); err != nil {
				return nil, err
			}
		}
		if rec.ParentEducation, err = ParseCategory(row, ColumnParentEducation, cells[idx[ColumnParentEducation]]); err != nil {
			return nil, err
		}
		records[row] = rec
	}
	return records, nil
}

// ParseNumeric coerces a cell to a finite float.
func ParseNumeric(row int, column string, cell Cell) (float64, error) {
	if !cell.Present || cell.Value == nil {
		return 0, &ParseError{Row: row, Column: column, Reason: "missing value"}
	}
	var (
		v   float64
		err error
	)
	switch value := cell.Value.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, &ParseError{Row: row, Column: column, Value: value, Reason: "missing value"}
		}
		v, err = strconv.ParseFloat(trimmed, 64)
	case json.Number:
		v, err = strconv.ParseFloat(value.String(), 64)
	case float64:
		v = value
	case int:
		v = float64(value)
	default:
		return 0, &ParseError{Row: row, Column: column, Value: fmt.Sprint(value), Reason: "expected a number"}
	}
	if err != nil {
		return 0, &ParseError{Row: row, Column: column, Value: fmt.Sprint(cell.Value), Reason: "expected a number"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Row: row, Column: column, Value: fmt.Sprint(cell.Value), Reason: "expected a finite number"}
	}
	return v, nil
}

// ParseCategory takes a categorical cell verbatim. Values unseen at training
// time are valid here; the transform decides how to encode them.
func ParseCategory(row int, column string, cell Cell) (string, error) {
	if !cell.Present || cell.Value == nil {
		return "", &ParseError{Row: row, Column: column, Reason: "missing value"}
	}
	switch value := cell.Value.(type) {
	case string:
		if strings.TrimSpace(value) == "" {
			return "", &ParseError{Row: row, Column: column, Value: value, Reason: "missing value"}
		}
		return value, nil
	case json.Number:
		return value.String(), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	default:
		return "", &ParseError{Row: row, Column: column, Value: fmt.Sprint(value), Reason: "expected text"}
	}
}

// ParseLabel reads a training label verbatim.
func ParseLabel(row int, cell Cell) (string, error) {
	return ParseCategory(row, LabelColumn, cell)
}
