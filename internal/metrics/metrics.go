// Package metrics provides Prometheus metrics for the filesystem API server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsapi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsapi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Filesystem operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsapi_operations_total",
			Help: "Total filesystem operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	accessDeniedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsapi_access_denied_total",
			Help: "Total requests rejected by the path guard",
		},
	)

	// Confirmation metrics
	pendingConfirmations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsapi_pending_confirmations",
			Help: "Number of live delete confirmation tokens",
		},
	)

	confirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsapi_confirmations_total",
			Help: "Confirmation token lifecycle events",
		},
		[]string{"result"},
	)

	confirmStoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsapi_confirm_store_duration_seconds",
			Help:    "Confirmation store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// Search and tree metrics
	searchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsapi_search_results",
			Help:    "Number of matches returned per search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"kind"},
	)

	searchSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsapi_search_skipped_files_total",
			Help: "Files skipped as unreadable during content searches",
		},
	)

	treeNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fsapi_tree_nodes",
			Help:    "Number of nodes returned per directory tree request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsapi_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsapi_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOperation records a filesystem operation outcome.
func RecordOperation(operation string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordAccessDenied records a path guard rejection.
func RecordAccessDenied() {
	accessDeniedTotal.Inc()
}

// SetPendingConfirmations sets the number of live confirmation tokens.
func SetPendingConfirmations(count int) {
	pendingConfirmations.Set(float64(count))
}

// RecordConfirmation records a confirmation lifecycle event: issued,
// confirmed, invalid, expired, or mismatch.
func RecordConfirmation(result string) {
	confirmationsTotal.WithLabelValues(result).Inc()
}

// RecordStoreOp records a confirmation store operation duration.
func RecordStoreOp(backend, op string, duration time.Duration) {
	confirmStoreDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordSearchResults records the match count of a completed search.
func RecordSearchResults(kind string, matches int) {
	searchResults.WithLabelValues(kind).Observe(float64(matches))
}

// RecordSearchSkipped counts files skipped during a content search.
func RecordSearchSkipped(count int) {
	searchSkippedTotal.Add(float64(count))
}

// RecordTreeSize records the node count of a completed tree request.
func RecordTreeSize(nodes int) {
	treeNodes.Observe(float64(nodes))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
