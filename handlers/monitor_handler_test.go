package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"queuewatch/analytics"
	"queuewatch/models"
	"queuewatch/services"
)

func testRouter(t *testing.T) *mux.Router {
	t.Helper()
	cfg := analytics.DefaultConfig()
	cfg.WindowSize = 16

	ingest, err := services.NewIngest(zap.NewNop(), nil, cfg)
	require.NoError(t, err)
	monitor := services.NewMonitor(zap.NewNop(), nil)
	h := NewMonitorHandler(monitor, ingest, nil, zap.NewNop())

	r := mux.NewRouter()
	r.HandleFunc("/ingest/{signal}", h.IngestSample).Methods("POST")
	r.HandleFunc("/ingest/{signal}/batch", h.IngestBatch).Methods("POST")
	r.HandleFunc("/signals", h.ListSignals).Methods("GET")
	r.HandleFunc("/sources", h.ListSources).Methods("GET")
	r.HandleFunc("/sources/{name}", h.GetSource).Methods("GET")
	r.HandleFunc("/sources/{name}/frequency", h.SetFrequency).Methods("PUT")
	r.HandleFunc("/sources/{name}/points", h.GetPoints).Methods("GET")
	r.HandleFunc("/sources/{name}/anomalies", h.GetAnomalies).Methods("GET")
	return r
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestIngestSample(t *testing.T) {
	r := testRouter(t)

	rec := doJSON(t, r, "POST", "/ingest/orders", models.SampleInput{Value: 42})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var tick models.Tick
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tick))
	assert.Equal(t, "orders", tick.Source)
	assert.Equal(t, 42.0, tick.Value)
	assert.False(t, tick.Anomaly)
	assert.Nil(t, tick.Forecast, "first sample is warm-up; forecast must be null")
}

func TestIngestSampleRejectsBadInput(t *testing.T) {
	r := testRouter(t)

	rec := doJSON(t, r, "POST", "/ingest/orders", map[string]any{"value": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/ingest/orders", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestBatchFlagsSpike(t *testing.T) {
	r := testRouter(t)

	values := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		values = append(values, 10)
	}
	values = append(values, 500)

	rec := doJSON(t, r, "POST", "/ingest/orders/batch", models.BatchInput{Values: values})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Processed int           `json:"processed"`
		Anomalies int           `json:"anomalies"`
		Ticks     []models.Tick `json:"ticks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 21, resp.Processed)
	assert.Equal(t, 1, resp.Anomalies)
	require.Len(t, resp.Ticks, 21)
	assert.True(t, resp.Ticks[20].Anomaly)
}

func TestIngestBatchRejectedAtomically(t *testing.T) {
	r := testRouter(t)

	rec := doJSON(t, r, "POST", "/ingest/orders/batch",
		map[string]any{"values": []any{1, 2, -3}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Nothing from the rejected batch may have been applied.
	rec = doJSON(t, r, "GET", "/signals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []models.SourceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Empty(t, statuses)
}

func TestGetSourceNotFound(t *testing.T) {
	r := testRouter(t)
	rec := doJSON(t, r, "GET", "/sources/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSourceForIngestedSignal(t *testing.T) {
	r := testRouter(t)

	doJSON(t, r, "POST", "/ingest/orders", models.SampleInput{Value: 7})

	rec := doJSON(t, r, "GET", "/sources/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.SourceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, int64(1), status.Ticks)
}

func TestGetPointsWithoutCache(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, "POST", "/ingest/orders", models.SampleInput{Value: 7})

	rec := doJSON(t, r, "GET", "/sources/orders/points", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAnomalies(t *testing.T) {
	r := testRouter(t)

	values := make([]float64, 20)
	for i := range values {
		values[i] = 10
	}
	doJSON(t, r, "POST", "/ingest/orders/batch", models.BatchInput{Values: values})
	doJSON(t, r, "POST", "/ingest/orders", models.SampleInput{Value: 500})

	rec := doJSON(t, r, "GET", "/sources/orders/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 21, resp["ticks"])
	assert.EqualValues(t, 1, resp["anomalies"])
}

type fixedSource struct{ name string }

func (s *fixedSource) Name() string                                     { return s.name }
func (s *fixedSource) FetchScalar(ctx context.Context) (float64, error) { return 1, nil }
func (s *fixedSource) Close() error                                     { return nil }

func TestSetFrequency(t *testing.T) {
	cfg := analytics.DefaultConfig()
	det, err := analytics.NewDetector(cfg)
	require.NoError(t, err)

	monitor := services.NewMonitor(zap.NewNop(), nil)
	require.NoError(t, monitor.Add(&fixedSource{name: "queue"}, det, 5*time.Second))

	ingest, err := services.NewIngest(zap.NewNop(), nil, cfg)
	require.NoError(t, err)
	h := NewMonitorHandler(monitor, ingest, nil, zap.NewNop())

	r := mux.NewRouter()
	r.HandleFunc("/sources/{name}/frequency", h.SetFrequency).Methods("PUT")

	rec := doJSON(t, r, "PUT", "/sources/queue/frequency", models.FrequencyInput{Seconds: 30})
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.SourceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 30, status.PollSeconds)

	rec = doJSON(t, r, "PUT", "/sources/missing/frequency", models.FrequencyInput{Seconds: 30})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, "PUT", "/sources/queue/frequency", models.FrequencyInput{Seconds: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
