package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TotalRequests counts total HTTP requests
	TotalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures request latency
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// ActiveRequests tracks number of active HTTP requests
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// ErrorsTotal counts total errors
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP errors",
		},
		[]string{"method", "endpoint", "error_type"},
	)

	// AnomalyDetectedTotal counts detected upward spikes per source
	AnomalyDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_detected_total",
			Help: "Total number of detected anomalies",
		},
		[]string{"source"},
	)

	// SamplesProcessed counts samples fed to detectors per source
	SamplesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samples_processed_total",
			Help: "Total number of samples processed",
		},
		[]string{"source"},
	)

	// QueueDepth tracks the latest observed value per source
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_current",
			Help: "Latest observed queue depth",
		},
		[]string{"source"},
	)

	// QueueForecast tracks the latest one-step-ahead forecast per source
	QueueForecast = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_forecast",
			Help: "One-step-ahead queue depth forecast",
		},
		[]string{"source"},
	)

	// QueueThreshold tracks the composed anomaly threshold per source
	QueueThreshold = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_threshold",
			Help: "Adaptive upward-residual threshold",
		},
		[]string{"source"},
	)

	// PollErrors counts failed source polls
	PollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Total number of failed source polls",
		},
		[]string{"source"},
	)

	// PollDuration measures source poll latency
	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_duration_seconds",
			Help:    "Source poll duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)
)

func init() {
	// HTTP metrics
	prometheus.MustRegister(TotalRequests)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveRequests)
	prometheus.MustRegister(ErrorsTotal)

	// Detector metrics
	prometheus.MustRegister(AnomalyDetectedTotal)
	prometheus.MustRegister(SamplesProcessed)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueForecast)
	prometheus.MustRegister(QueueThreshold)

	// Poller metrics
	prometheus.MustRegister(PollErrors)
	prometheus.MustRegister(PollDuration)
}

// MetricsHandler returns the Prometheus scrape handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordAnomaly increments the anomaly counter for a source
func RecordAnomaly(sourceName string) {
	AnomalyDetectedTotal.WithLabelValues(sourceName).Inc()
}

// RecordTick updates the per-source gauges after a detector update
func RecordTick(sourceName string, value, forecast, threshold float64, warm bool) {
	SamplesProcessed.WithLabelValues(sourceName).Inc()
	QueueDepth.WithLabelValues(sourceName).Set(value)
	if warm {
		QueueForecast.WithLabelValues(sourceName).Set(forecast)
		QueueThreshold.WithLabelValues(sourceName).Set(threshold)
	}
}

// RecordPollError increments the poll error counter for a source
func RecordPollError(sourceName string) {
	PollErrors.WithLabelValues(sourceName).Inc()
}

// ObservePoll records the duration of one source poll
func ObservePoll(sourceName string, d time.Duration) {
	PollDuration.WithLabelValues(sourceName).Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// MetricsMiddleware records metrics for each request
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(wrapped.statusCode)

		// Normalize endpoint for metrics (avoid high cardinality)
		endpoint := normalizeEndpoint(r.URL.Path)

		TotalRequests.WithLabelValues(r.Method, endpoint, statusCode).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration)

		if wrapped.statusCode >= 400 {
			ErrorsTotal.WithLabelValues(r.Method, endpoint, statusCode).Inc()
		}
	})
}

// normalizeEndpoint reduces cardinality by grouping similar endpoints
func normalizeEndpoint(path string) string {
	switch path {
	case "/metrics", "/health", "/sources", "/signals":
		return path
	}
	if strings.HasPrefix(path, "/ingest/") {
		if strings.HasSuffix(path, "/batch") {
			return "/ingest/{signal}/batch"
		}
		return "/ingest/{signal}"
	}
	if strings.HasPrefix(path, "/sources/") {
		if strings.HasSuffix(path, "/points") {
			return "/sources/{name}/points"
		}
		if strings.HasSuffix(path, "/anomalies") {
			return "/sources/{name}/anomalies"
		}
		if strings.HasSuffix(path, "/frequency") {
			return "/sources/{name}/frequency"
		}
		return "/sources/{name}"
	}
	if len(path) > 0 && path[0] == '/' {
		// Return first path segment
		for i := 1; i < len(path); i++ {
			if path[i] == '/' {
				return path[:i]
			}
		}
	}
	return path
}
