package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"studentperf/inference"
	"studentperf/ml"
	"studentperf/monitoring"
)

type fakeModel struct{}

func (fakeModel) Classes() []string { return []string{"High", "Low"} }

func (fakeModel) Predict(X [][]float64) ([]string, error) {
	labels := make([]string, len(X))
	for i := range labels {
		labels[i] = "High"
	}
	return labels, nil
}

func (fakeModel) PredictProba(X [][]float64) ([][]float64, error) {
	proba := make([][]float64, len(X))
	for i := range proba {
		proba[i] = []float64{0.75, 0.25}
	}
	return proba, nil
}

func newTestHandler(t *testing.T, store TrainingLogReader) http.Handler {
	t.Helper()
	return newConfiguredHandler(t, DefaultServerConfig(), store)
}

func newConfiguredHandler(t *testing.T, cfg ServerConfig, store TrainingLogReader) http.Handler {
	t.Helper()
	transform, err := ml.Preprocessor{}.Fit([]ml.StudentRecord{{ParentEducation: "Masters"}, {ParentEducation: "PhD"}})
	if err != nil {
		t.Fatal(err)
	}
	model, err := ml.NewModel(transform, fakeModel{})
	if err != nil {
		t.Fatal(err)
	}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	svc, err := inference.NewService(model, inference.Options{CacheSize: 16, Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(cfg, Dependencies{Service: svc, Store: store, Metrics: metrics})
}

const annJSON = `[{"Name": "Ann", "Attendance": 95, "Hours_Studied": 12, "Previous_Score": 88,
	"Parent_Education": "Doctorate", "Test1": 90, "Test2": 85}]`

const annCSV = "Name,Attendance,Hours_Studied,Previous_Score,Parent_Education,Test1,Test2\n" +
	"Ann,95,12,88,Doctorate,90,85\n"

func multipartBody(t *testing.T, field, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "students.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandlePredict(t *testing.T) {
	handler := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(annJSON))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}

	var payload struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(payload.Data) != 1 {
		t.Fatalf("expected one record, got %d", len(payload.Data))
	}
	rec := payload.Data[0]
	if rec["Name"] != "Ann" || rec["Predicted_Performance"] != "High" || rec["Confidence"].(float64) != 0.75 {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestHandlePredictFile(t *testing.T) {
	handler := newTestHandler(t, nil)
	body, contentType := multipartBody(t, "file", annCSV)

	req := httptest.NewRequest(http.MethodPost, "/predict-file", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var payload struct {
		Rows    int                      `json:"rows"`
		Columns []string                 `json:"columns"`
		Data    []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Rows != 1 || payload.Columns[len(payload.Columns)-1] != "Confidence" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Data[0]["Predicted_Performance"] != "High" {
		t.Fatalf("unexpected record: %v", payload.Data[0])
	}
}

func TestPredictErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		check      func(t *testing.T, body map[string]interface{})
	}{
		{
			name:       "missing columns",
			body:       `[{"Name": "Ann", "Hours_Studied": 12, "Previous_Score": 88, "Parent_Education": "PhD", "Test1": 90}]`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_columns",
			check: func(t *testing.T, body map[string]interface{}) {
				missing := body["missing"].([]interface{})
				if !reflect.DeepEqual(missing, []interface{}{"Attendance", "Test2"}) {
					t.Fatalf("unexpected missing list %v", missing)
				}
			},
		},
		{
			name:       "invalid value",
			body:       `[{"Attendance": 95, "Hours_Studied": 12, "Previous_Score": 88, "Parent_Education": "PhD", "Test1": "abc", "Test2": 85}]`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_value",
			check: func(t *testing.T, body map[string]interface{}) {
				if body["row"].(float64) != 0 || body["column"] != "Test1" {
					t.Fatalf("unexpected location %v/%v", body["row"], body["column"])
				}
			},
		},
		{
			name:       "duplicate columns",
			body:       `[{"name": "Ann", "Name": "Bob"}]`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "duplicate_columns",
		},
		{
			name:       "malformed body",
			body:       `{"Attendance": 95`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_input",
		},
	}
	handler := newTestHandler(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != tt.wantCode {
				t.Fatalf("expected code %s, got %v", tt.wantCode, body["code"])
			}
			if _, ok := body["data"]; ok {
				t.Fatal("error responses must not carry data")
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestPredictFileErrors(t *testing.T) {
	handler := newTestHandler(t, nil)

	body, contentType := multipartBody(t, "upload", annCSV)
	req := httptest.NewRequest(http.MethodPost, "/predict-file", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file field, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/predict-file", strings.NewReader("not multipart"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", w.Code)
	}

	var rows []string
	for i := 0; i < 100; i++ {
		rows = append(rows, "S,90,10,80,Masters,70,75")
	}
	rows = append(rows, "Late,90,10,80,Masters,,75")
	csv := "Name,Attendance,Hours_Studied,Previous_Score,Parent_Education,Test1,Test2\n" + strings.Join(rows, "\n") + "\n"
	body, contentType = multipartBody(t, "file", csv)
	req = httptest.NewRequest(http.MethodPost, "/predict-file", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected whole batch rejected with 422, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "Predicted_Performance") {
		t.Fatal("rejected batch must not return predictions")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestPredictBodyTooLarge(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxUploadBytes = 64
	handler := newConfiguredHandler(t, cfg, nil)

	body := annJSON + strings.Repeat(" ", 128)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"code":"too_large"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
