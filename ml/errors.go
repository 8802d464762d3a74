package ml

import (
	"fmt"
	"strings"
)

// SchemaError reports required columns that are absent, or headers that
// collapse onto the same name after normalization.
type SchemaError struct {
	Missing   []string
	Duplicate []string
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required columns: [%s]", strings.Join(e.Missing, ", ")))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate columns: [%s]", strings.Join(e.Duplicate, ", ")))
	}
	if len(parts) == 0 {
		return "schema error"
	}
	return strings.Join(parts, "; ")
}

// ParseError reports a cell that cannot be coerced to its column type.
// Row is zero-based over data rows.
type ParseError struct {
	Row    int
	Column string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d, column %s: %s (value %q)", e.Row, e.Column, e.Reason, e.Value)
}

// ArtifactLoadError wraps every failure to read or validate a model artifact.
type ArtifactLoadError struct {
	Path string
	Err  error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("load artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error {
	return e.Err
}
