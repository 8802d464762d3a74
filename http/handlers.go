package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"studentperf/db"
	"studentperf/inference"
	"studentperf/ml"
	"studentperf/monitoring"
)

const (
	uploadField            = "file"
	defaultTrainingLogSize = 20
)

// TrainingLogReader is the read side of the training log store.
type TrainingLogReader interface {
	LoadTrainingLog(limit int) ([]db.TrainingLog, error)
}

type handlers struct {
	service   *inference.Service
	store     TrainingLogReader
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	maxUpload int64
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("POST /predict-file", h.handlePredictFile)
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/model", h.handleModel)
	mux.HandleFunc("GET /api/training-log", h.handleTrainingLog)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.PredictRecords(r.Context(), bytes.NewReader(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": result.Data})
}

func (h *handlers) handlePredictFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		if tooLarge(err) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, malformed("invalid multipart upload: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		h.writeError(w, r, malformed("multipart field \""+uploadField+"\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, malformed("read upload: "+err.Error()))
		return
	}
	result, err := h.service.PredictFile(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type modelInfo struct {
	Kind            string                 `json:"kind"`
	Classes         []string               `json:"classes"`
	Features        []string               `json:"features"`
	Categories      []string               `json:"categories"`
	EncodedFeatures []string               `json:"encoded_features"`
	Trees           int                    `json:"trees"`
	Classifier      map[string]interface{} `json:"classifier,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LoadedAt        time.Time              `json:"loaded_at"`
	Metrics         ml.MetricsSummary      `json:"metrics"`
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	model := h.service.Model()
	info := modelInfo{
		Classes:         model.Classes(),
		Features:        ml.FeatureColumns(),
		Categories:      model.Transform().Categories(),
		EncodedFeatures: model.Transform().FeatureNames(),
		Classifier:      model.Info(),
		LoadedAt:        h.service.LoadedAt(),
	}
	if a := model.Artifact(); a != nil {
		info.Kind = a.Kind()
		info.Trees = a.NumTrees()
		info.CreatedAt = a.CreatedAt
		info.Metrics = a.Metrics
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "training log unavailable", Code: "unavailable"})
		return
	}
	limit := defaultTrainingLogSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Code: "malformed_input"})
			return
		}
		limit = l
	}
	logs, err := h.store.LoadTrainingLog(limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": logs})
}

type errorBody struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Missing   []string `json:"missing,omitempty"`
	Duplicate []string `json:"duplicate,omitempty"`
	Row       *int     `json:"row,omitempty"`
	Column    string   `json:"column,omitempty"`
}

type malformedError string

func (e malformedError) Error() string { return string(e) }

func (e malformedError) Unwrap() error { return ml.ErrMalformedInput }

func malformed(msg string) error {
	return malformedError(msg)
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// writeError maps domain errors to status codes. No partial result is ever
// written alongside an error.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var schemaErr *ml.SchemaError
	var parseErr *ml.ParseError
	switch {
	case tooLarge(err):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Code: "too_large"})
	case errors.As(err, &schemaErr):
		code := "missing_columns"
		if len(schemaErr.Missing) == 0 {
			code = "duplicate_columns"
		}
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:     schemaErr.Error(),
			Code:      code,
			Missing:   schemaErr.Missing,
			Duplicate: schemaErr.Duplicate,
		})
	case errors.As(err, &parseErr):
		row := parseErr.Row
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  parseErr.Error(),
			Code:   "invalid_value",
			Row:    &row,
			Column: parseErr.Column,
		})
	case errors.Is(err, ml.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "malformed_input"})
	default:
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
