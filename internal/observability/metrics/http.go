package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	uploadBytes     prometheus.Histogram
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docextract",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docextract",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docextract",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadBytes := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docextract",
			Subsystem: "http",
			Name:      "upload_bytes",
			Help:      "Size of accepted document uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 9),
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadBytes,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		uploadBytes:     uploadBytes,
	}
}

// Handler exposes the HTTP series together with any extra registries, so the
// API can serve pipeline metrics from runs it executes inline.
func (m *HTTPServerMetrics) Handler(extra ...prometheus.Gatherer) http.Handler {
	gatherers := prometheus.Gatherers{m.registry}
	gatherers = append(gatherers, extra...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) ObserveUpload(sizeBytes int64) {
	if sizeBytes <= 0 {
		return
	}
	m.uploadBytes.Observe(float64(sizeBytes))
}

var pathPatterns = []struct {
	prefix  string
	pattern string
}{
	{prefix: "/v1/documents/", pattern: "/v1/documents/{document_id}"},
	{prefix: "/v1/sessions/", pattern: "/v1/sessions/{session_id}"},
	{prefix: "/v1/reviews/", pattern: "/v1/reviews/{task_id}"},
}

// normalizePath keeps label cardinality bounded. Sub-resources keep their
// last segment, so /v1/sessions/x/stop becomes /v1/sessions/{session_id}/stop.
func normalizePath(path string) string {
	for _, p := range pathPatterns {
		if !strings.HasPrefix(path, p.prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, p.prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			return p.pattern + rest[i:]
		}
		return p.pattern
	}
	return path
}

// statusRecorder only needs the status code. Unwrap lets
// http.ResponseController reach the underlying writer.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
