// Package inference runs prediction batches against the serving model.
package inference

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"studentperf/ml"
	"studentperf/monitoring"
)

const (
	EndpointPredict     = "predict"
	EndpointPredictFile = "predict_file"
)

// Result is an annotated batch. Data keeps the input row order.
type Result struct {
	Rows    int         `json:"rows"`
	Columns []string    `json:"columns"`
	Data    []ml.Record `json:"data"`
}

type Options struct {
	Normalizer ml.Normalizer
	// CacheSize bounds the per-model prediction cache; 0 disables it.
	CacheSize int
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

type prediction struct {
	label      string
	confidence ml.Confidence
}

// serving pairs a model with the cache filled from it so a swap replaces
// both at once.
type serving struct {
	model    *ml.Model
	cache    *lru.Cache[string, prediction]
	loadedAt time.Time
}

// Service is safe for concurrent use.
type Service struct {
	current    atomic.Pointer[serving]
	normalizer ml.Normalizer
	cacheSize  int
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func NewService(model *ml.Model, opts Options) (*Service, error) {
	if opts.CacheSize < 0 {
		return nil, errors.New("cache size must not be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		normalizer: opts.Normalizer,
		cacheSize:  opts.CacheSize,
		metrics:    opts.Metrics,
		logger:     logger,
	}
	if err := s.Swap(model); err != nil {
		return nil, err
	}
	return s, nil
}

// Model returns the model currently serving.
func (s *Service) Model() *ml.Model {
	return s.current.Load().model
}

// LoadedAt reports when the current model was installed.
func (s *Service) LoadedAt() time.Time {
	return s.current.Load().loadedAt
}

// Swap installs a new model with an empty cache. In-flight batches finish on
// the model they started with.
func (s *Service) Swap(model *ml.Model) error {
	if model == nil {
		return errors.New("model is required")
	}
	next := &serving{model: model, loadedAt: time.Now()}
	if s.cacheSize > 0 {
		cache, err := lru.New[string, prediction](s.cacheSize)
		if err != nil {
			return errors.Wrap(err, "create prediction cache")
		}
		next.cache = cache
	}
	s.current.Store(next)

	trees := 0
	if a := model.Artifact(); a != nil {
		trees = a.NumTrees()
	}
	s.metrics.SetModel(trees, next.loadedAt)
	return nil
}

// PredictRecords labels a JSON array of records.
func (s *Service) PredictRecords(ctx context.Context, body io.Reader) (*Result, error) {
	start := time.Now()
	result, err := s.predictRecords(ctx, body)
	s.metrics.ObserveRequest(EndpointPredict, Outcome(err), time.Since(start))
	return result, err
}

func (s *Service) predictRecords(ctx context.Context, body io.Reader) (*Result, error) {
	frame, err := ml.DecodeRecords(body)
	if err != nil {
		return nil, err
	}
	return s.predictFrame(ctx, frame)
}

// PredictFile labels an uploaded CSV.
func (s *Service) PredictFile(ctx context.Context, data []byte) (*Result, error) {
	start := time.Now()
	result, err := s.predictFile(ctx, data)
	s.metrics.ObserveRequest(EndpointPredictFile, Outcome(err), time.Since(start))
	return result, err
}

func (s *Service) predictFile(ctx context.Context, data []byte) (*Result, error) {
	frame, err := ml.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return s.predictFrame(ctx, frame)
}

func (s *Service) predictFrame(ctx context.Context, frame *ml.Frame) (*Result, error) {
	if err := frame.Normalize(s.normalizer); err != nil {
		return nil, err
	}
	records, err := ml.ValidateAndSelect(frame)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current := s.current.Load()
	labels, confidences, err := s.predict(current, records)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveLabels(labels)

	return annotate(frame, records, labels, confidences), nil
}

// predict answers cached rows directly and sends the rest to the model in a
// single batch.
func (s *Service) predict(current *serving, records []ml.StudentRecord) ([]string, []ml.Confidence, error) {
	labels := make([]string, len(records))
	confidences := make([]ml.Confidence, len(records))

	var missIdx []int
	var missRecords []ml.StudentRecord
	keys := make([]string, len(records))
	for i, rec := range records {
		if current.cache == nil {
			missIdx = append(missIdx, i)
			missRecords = append(missRecords, rec)
			continue
		}
		keys[i] = rec.Key()
		if p, ok := current.cache.Get(keys[i]); ok {
			labels[i], confidences[i] = p.label, p.confidence
			continue
		}
		missIdx = append(missIdx, i)
		missRecords = append(missRecords, rec)
	}
	if current.cache != nil {
		s.metrics.ObserveCache(len(records)-len(missIdx), len(missIdx))
	}

	if len(missRecords) > 0 {
		predicted, conf, err := current.model.Predict(missRecords)
		if err != nil {
			return nil, nil, err
		}
		for j, i := range missIdx {
			labels[i], confidences[i] = predicted[j], conf[j]
			if current.cache != nil {
				current.cache.Add(keys[i], prediction{label: predicted[j], confidence: conf[j]})
			}
		}
	}
	return labels, confidences, nil
}

// annotate copies every input column in frame order and appends the
// prediction columns. Numeric feature columns carry their parsed values;
// Parent_Education and passthrough columns keep the cell as received.
func annotate(frame *ml.Frame, records []ml.StudentRecord, labels []string, confidences []ml.Confidence) *Result {
	data := make([]ml.Record, len(frame.Rows))
	for row, cells := range frame.Rows {
		rec := make(ml.Record, 0, len(frame.Columns)+2)
		for col, name := range frame.Columns {
			var value interface{}
			if cells[col].Present {
				value = cells[col].Value
			}
			if parsed, ok := featureValue(records[row], name); ok {
				value = parsed
			}
			rec = append(rec, ml.Field{Name: name, Value: value})
		}
		rec = rec.Set(ml.PredictionColumn, labels[row])
		rec = rec.Set(ml.ConfidenceColumn, confidences[row])
		data[row] = rec
	}

	columns := append([]string(nil), frame.Columns...)
	for _, name := range []string{ml.PredictionColumn, ml.ConfidenceColumn} {
		if frame.Index(name) < 0 {
			columns = append(columns, name)
		}
	}
	return &Result{Rows: len(data), Columns: columns, Data: data}
}

func featureValue(r ml.StudentRecord, column string) (interface{}, bool) {
	switch column {
	case ml.ColumnAttendance:
		return r.Attendance, true
	case ml.ColumnHoursStudied:
		return r.HoursStudied, true
	case ml.ColumnPreviousScore:
		return r.PreviousScore, true
	case ml.ColumnTest1:
		return r.Test1, true
	case ml.ColumnTest2:
		return r.Test2, true
	}
	return nil, false
}

// Outcome classifies an error for metrics and logs.
func Outcome(err error) string {
	var schemaErr *ml.SchemaError
	var parseErr *ml.ParseError
	switch {
	case err == nil:
		return monitoring.OutcomeOK
	case errors.As(err, &schemaErr):
		return monitoring.OutcomeSchemaError
	case errors.As(err, &parseErr):
		return monitoring.OutcomeParseError
	case errors.Is(err, ml.ErrMalformedInput):
		return monitoring.OutcomeMalformed
	default:
		return monitoring.OutcomeServerError
	}
}
