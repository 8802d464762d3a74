package ml

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// StudentRecord is a validated row reduced to the feature contract.
type StudentRecord struct {
	Attendance      float64
	HoursStudied    float64
	PreviousScore   float64
	ParentEducation string
	Test1           float64
	Test2           float64
}

// Numeric returns the pass-through features in contract order.
func (r StudentRecord) Numeric() []float64 {
	return []float64{r.Attendance, r.HoursStudied, r.PreviousScore, r.Test1, r.Test2}
}

// Key identifies the record by its feature values.
func (r StudentRecord) Key() string {
	var buf bytes.Buffer
	for _, v := range r.Numeric() {
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		buf.WriteByte('|')
	}
	buf.WriteString(strconv.Quote(r.ParentEducation))
	return buf.String()
}

// Confidence is the probability mass of the predicted label, or the
// unavailable sentinel when the classifier cannot estimate probabilities.
type Confidence struct {
	Value     float64
	Available bool
}

// Unavailable is the sentinel reported by classifiers without probabilities.
var Unavailable = Confidence{}

// Known wraps an available probability.
func Known(p float64) Confidence {
	return Confidence{Value: p, Available: true}
}

// MarshalJSON encodes the sentinel as null.
func (c Confidence) MarshalJSON() ([]byte, error) {
	if !c.Available {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = Unavailable
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Known(v)
	return nil
}

// Field is one named value of an output record.
type Field struct {
	Name  string
	Value interface{}
}

// Record is an ordered set of fields. It marshals to a JSON object whose
// keys keep the field order.
type Record []Field

// Get returns the value of a field.
func (r Record) Get(name string) (interface{}, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set overwrites a field in place or appends it.
func (r Record) Set(name string, value interface{}) Record {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Name: name, Value: value})
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
