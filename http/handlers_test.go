package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"studentperf/db"
)

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestModelHandler(t *testing.T) {
	handler := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var info modelInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(info.Classes) != 2 || len(info.Features) != 6 || len(info.Categories) != 2 {
		t.Fatalf("unexpected model info %+v", info)
	}
	wantEncoded := []string{
		"Parent_Education=Masters", "Parent_Education=PhD",
		"Attendance", "Hours_Studied", "Previous_Score", "Test1", "Test2",
	}
	if !reflect.DeepEqual(info.EncodedFeatures, wantEncoded) {
		t.Fatalf("expected encoded features %v, got %v", wantEncoded, info.EncodedFeatures)
	}
	if info.Classifier != nil {
		t.Fatalf("classifier without Info should be omitted, got %v", info.Classifier)
	}
}

func TestTrainingLogHandler(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.SaveTrainingLog(db.TrainingLog{RunID: id, ModelName: "random_forest", Accuracy: 0.9, TrainedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	handler := newTestHandler(t, store)

	tests := []struct {
		query      string
		wantStatus int
		wantRows   int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=zero", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/training-log"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var payload struct {
				Data []db.TrainingLog `json:"data"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if len(payload.Data) != tt.wantRows {
				t.Fatalf("expected %d rows, got %d", tt.wantRows, len(payload.Data))
			}
		})
	}
}

func TestTrainingLogUnavailable(t *testing.T) {
	handler := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/training-log", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(annJSON))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `studentperf_prediction_requests_total{endpoint="predict",outcome="ok"} 1`) {
		t.Fatalf("request counter missing:\n%s", w.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Chain(RecoveryMiddleware(zap.NewNop()), LoggerMiddleware(zap.NewNop()))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"internal"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := LoggerMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen != "upstream-1" || w.Header().Get(RequestIDHeader) != "upstream-1" {
		t.Fatalf("expected upstream request id, got %q / %q", seen, w.Header().Get(RequestIDHeader))
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected CORS header %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestServerAddr(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 9090
	server := NewServer(cfg, Dependencies{Service: nil})
	if server.Addr() != ":9090" {
		t.Fatalf("expected :9090, got %s", server.Addr())
	}
}
