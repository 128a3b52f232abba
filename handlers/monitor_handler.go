package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"queuewatch/cache"
	"queuewatch/models"
	"queuewatch/services"
)

const defaultPointsLimit = 100

// MonitorHandler serves the detector API: pushed samples, source
// status, and recent points.
type MonitorHandler struct {
	monitor *services.Monitor
	ingest  *services.Ingest
	redis   *cache.RedisClient
	log     *zap.Logger
}

// NewMonitorHandler creates the handler set. redis may be nil; the
// points endpoint then reports the cache as unavailable.
func NewMonitorHandler(monitor *services.Monitor, ingest *services.Ingest, redis *cache.RedisClient, log *zap.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, ingest: ingest, redis: redis, log: log}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// IngestSample handles POST /ingest/{signal} - one pushed sample.
func (h *MonitorHandler) IngestSample(w http.ResponseWriter, r *http.Request) {
	signal := mux.Vars(r)["signal"]

	var input models.SampleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := input.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tick, err := h.ingest.Process(signal, input.Value)
	if err != nil {
		h.log.Error("failed to process sample",
			zap.String("signal", signal), zap.Error(err))
		http.Error(w, "Failed to process sample", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, tick)
}

// IngestBatch handles POST /ingest/{signal}/batch - an ordered replay.
// The batch is validated as a whole up front so a bad sample in the
// middle never leaves a partially applied prefix.
func (h *MonitorHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	signal := mux.Vars(r)["signal"]

	var input models.BatchInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := input.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ticks, err := h.ingest.ProcessBatch(signal, input.Values)
	if err != nil {
		h.log.Error("failed to process batch",
			zap.String("signal", signal), zap.Error(err))
		http.Error(w, "Failed to process batch", http.StatusInternalServerError)
		return
	}

	anomalies := 0
	for _, t := range ticks {
		if t.Anomaly {
			anomalies++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed": len(ticks),
		"anomalies": anomalies,
		"ticks":     ticks,
	})
}

// ListSources handles GET /sources - polled source statuses.
func (h *MonitorHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Statuses())
}

// ListSignals handles GET /signals - push-mode signal statuses.
func (h *MonitorHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ingest.Statuses())
}

// lookupStatus finds a name among polled sources first, then pushed
// signals, so both kinds share the status endpoints.
func (h *MonitorHandler) lookupStatus(name string) (models.SourceStatus, bool) {
	if status, ok := h.monitor.Status(name); ok {
		return status, true
	}
	return h.ingest.Status(name)
}

// GetSource handles GET /sources/{name}.
func (h *MonitorHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, ok := h.lookupStatus(name)
	if !ok {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SetFrequency handles PUT /sources/{name}/frequency - runtime cadence
// change for a polled source. The worker realigns on its next tick.
func (h *MonitorHandler) SetFrequency(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var input models.FrequencyInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := input.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.monitor.SetFrequency(name, time.Duration(input.Seconds)*time.Second); err != nil {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}
	status, _ := h.monitor.Status(name)
	writeJSON(w, http.StatusOK, status)
}

// GetPoints handles GET /sources/{name}/points?limit=N.
func (h *MonitorHandler) GetPoints(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.lookupStatus(name); !ok {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}
	if h.redis == nil {
		http.Error(w, "Point history requires the cache", http.StatusServiceUnavailable)
		return
	}

	limit := int64(defaultPointsLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	ticks, err := h.redis.RecentTicks(name, limit)
	if err != nil {
		h.log.Error("failed to read ticks", zap.String("source", name), zap.Error(err))
		http.Error(w, "Failed to read points", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

// GetAnomalies handles GET /sources/{name}/anomalies.
func (h *MonitorHandler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, ok := h.lookupStatus(name)
	if !ok {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}

	response := map[string]any{
		"source":    name,
		"ticks":     status.Ticks,
		"anomalies": status.Anomalies,
	}
	if h.redis != nil {
		if total, err := h.redis.AnomalyCount(name); err == nil {
			// The cached counter survives restarts; report both.
			response["anomalies_cached"] = total
		}
	}
	writeJSON(w, http.StatusOK, response)
}
