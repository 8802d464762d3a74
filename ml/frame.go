package ml

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ErrMalformedInput marks bodies that cannot be read as a table at all.
var ErrMalformedInput = errors.New("malformed input")

// Cell is one raw value. Present is false when a JSON record lacks the key.
type Cell struct {
	Value   interface{}
	Present bool
}

// Frame is an untyped table as received at the boundary.
type Frame struct {
	Columns []string
	Rows    [][]Cell
}

// Len returns the number of data rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Index returns the position of a column, or -1.
func (f *Frame) Index(column string) int {
	for i, name := range f.Columns {
		if name == column {
			return i
		}
	}
	return -1
}

// Normalize rewrites the headers in place. Headers that collapse onto the
// same name are rejected.
func (f *Frame) Normalize(n Normalizer) error {
	normalized := n.Columns(f.Columns)
	seen := make(map[string]bool, len(normalized))
	var duplicate []string
	for _, name := range normalized {
		if seen[name] {
			duplicate = append(duplicate, name)
			continue
		}
		seen[name] = true
	}
	if len(duplicate) > 0 {
		return &SchemaError{Duplicate: duplicate}
	}
	f.Columns = normalized
	return nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses a header row followed by data rows.
func ReadCSV(r io.Reader) (*Frame, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	payload = bytes.TrimPrefix(payload, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(payload))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(ErrMalformedInput, "csv has no header row")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedInput, "csv header: %v", err)
	}

	frame := &Frame{Columns: header}
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedInput, "csv row %d: %v", row, err)
		}
		if len(record) != len(header) {
			return nil, &ParseError{
				Row:    row,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(record)),
			}
		}
		cells := make([]Cell, len(record))
		for i, value := range record {
			cells[i] = Cell{Value: value, Present: true}
		}
		frame.Rows = append(frame.Rows, cells)
	}
	return frame, nil
}

// DecodeRecords parses a JSON array of objects. Key order is kept and the
// column set is the union of keys in first-seen order.
func DecodeRecords(r io.Reader) (*Frame, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	frame := &Frame{}
	index := make(map[string]int)
	var records []map[int]interface{}
	for row := 0; dec.More(); row++ {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, errors.Wrapf(err, "record %d", row)
		}
		values := make(map[int]interface{})
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedInput, "record %d: %v", row, err)
			}
			key, ok := tok.(string)
			if !ok {
				return nil, errors.Wrapf(ErrMalformedInput, "record %d: unexpected token %v", row, tok)
			}
			var value interface{}
			if err := dec.Decode(&value); err != nil {
				return nil, errors.Wrapf(ErrMalformedInput, "record %d, key %q: %v", row, key, err)
			}
			col, ok := index[key]
			if !ok {
				col = len(frame.Columns)
				index[key] = col
				frame.Columns = append(frame.Columns, key)
			}
			values[col] = value
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, errors.Wrapf(err, "record %d", row)
		}
		records = append(records, values)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Wrap(ErrMalformedInput, "trailing data after records array")
	}

	frame.Rows = make([][]Cell, len(records))
	for i, values := range records {
		cells := make([]Cell, len(frame.Columns))
		for col, value := range values {
			cells[col] = Cell{Value: value, Present: true}
		}
		frame.Rows[i] = cells
	}
	return frame, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrapf(ErrMalformedInput, "expected %q: %v", string(want), err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return errors.Wrapf(ErrMalformedInput, "expected %q, got %v", string(want), tok)
	}
	return nil
}
