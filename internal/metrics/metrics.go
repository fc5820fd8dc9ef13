package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orrery_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orrery_batch_duration_seconds",
			Help:    "Duration of a full batch orbital transform pass.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	bodiesComputedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_bodies_computed_total",
			Help: "Total body positions computed by the batch transform.",
		},
	)

	nonFinitePositionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_non_finite_positions_total",
			Help: "Total computed positions with a NaN or infinite component.",
		},
	)

	computeRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_compute_requests_total",
			Help: "Total compute requests sent to the worker.",
		},
	)

	ticksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_ticks_dropped_total",
			Help: "Scheduler ticks that did not produce a compute request, by reason.",
		},
		[]string{"reason"},
	)

	staleResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_stale_results_total",
			Help: "Worker messages ignored because they were stale or unexpected.",
		},
	)

	workerDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_worker_degraded",
			Help: "1 when the field runs without a compute worker.",
		},
	)

	populationBodies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orrery_population_bodies",
			Help: "Bodies in the loaded population, by class.",
		},
		[]string{"class"},
	)

	populationAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_population_age_seconds",
			Help: "Seconds since the current population was loaded.",
		},
	)

	frameCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_frame_cache_entries",
			Help: "Frames held in the rolling frame cache.",
		},
	)

	frameCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_frame_cache_hits_total",
			Help: "Frame cache lookups that returned a frame.",
		},
	)

	frameCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_frame_cache_misses_total",
			Help: "Frame cache lookups that found nothing.",
		},
	)

	frameCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_frame_cache_evictions_total",
			Help: "Frames evicted from the rolling frame cache.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_connections_total",
			Help: "Stream connections accepted, by transport.",
		},
		[]string{"transport"},
	)

	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orrery_streams_active",
			Help: "Currently open streams, by transport.",
		},
		[]string{"transport"},
	)

	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_messages_total",
			Help: "Messages written to streams, by transport.",
		},
		[]string{"transport"},
	)

	streamBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_bytes_total",
			Help: "Bytes written to streams, by transport.",
		},
		[]string{"transport"},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_errors_total",
			Help: "Stream errors, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		batchDurationSeconds,
		bodiesComputedTotal,
		nonFinitePositionsTotal,
		computeRequestsTotal,
		ticksDroppedTotal,
		staleResultsTotal,
		workerDegraded,
		populationBodies,
		populationAgeSeconds,
		frameCacheEntries,
		frameCacheHitsTotal,
		frameCacheMissesTotal,
		frameCacheEvictionsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBatch records one completed batch transform pass.
func RecordBatch(d time.Duration, bodies, nonFinite int) {
	batchDurationSeconds.Observe(d.Seconds())
	bodiesComputedTotal.Add(float64(bodies))
	if nonFinite > 0 {
		nonFinitePositionsTotal.Add(float64(nonFinite))
	}
}

func IncComputeRequests() {
	computeRequestsTotal.Inc()
}

// IncTicksDropped counts a scheduler tick that sent nothing.
// Reasons: "busy", "not_ready", "degraded".
func IncTicksDropped(reason string) {
	ticksDroppedTotal.WithLabelValues(reason).Inc()
}

func IncStaleResults() {
	staleResultsTotal.Inc()
}

func SetWorkerDegraded(degraded bool) {
	if degraded {
		workerDegraded.Set(1)
		return
	}
	workerDegraded.Set(0)
}

// SetPopulationBodies sets the body gauge for one class label.
func SetPopulationBodies(class string, n int) {
	populationBodies.WithLabelValues(class).Set(float64(n))
}

func SetPopulationAge(seconds float64) {
	populationAgeSeconds.Set(seconds)
}

func SetFrameCacheEntries(n int) {
	frameCacheEntries.Set(float64(n))
}

func IncCacheHits() {
	frameCacheHitsTotal.Inc()
}

func IncCacheMisses() {
	frameCacheMissesTotal.Inc()
}

func AddCacheEvictions(n int) {
	frameCacheEvictionsTotal.Add(float64(n))
}

// IncStreamConnections counts an accepted stream. Transport is "sse" or "ws".
func IncStreamConnections(transport string) {
	streamConnectionsTotal.WithLabelValues(transport).Inc()
}

func IncStreamsActive(transport string) {
	streamsActive.WithLabelValues(transport).Inc()
}

func DecStreamsActive(transport string) {
	streamsActive.WithLabelValues(transport).Dec()
}

func IncStreamMessages(transport string) {
	streamMessagesTotal.WithLabelValues(transport).Inc()
}

func AddStreamBytes(transport string, n int) {
	streamBytesTotal.WithLabelValues(transport).Add(float64(n))
}

// IncStreamErrors counts a stream error. Reasons: "rate_limited",
// "write", "upgrade", "bandwidth".
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are exact paths that keep their own label.
var knownRoutes = map[string]bool{
	"/":                         true,
	"/healthz":                  true,
	"/readyz":                   true,
	"/metrics":                  true,
	"/api/v1/population":        true,
	"/api/v1/population/reload": true,
	"/api/v1/planets":           true,
	"/api/v1/time":              true,
	"/api/v1/time/seek":         true,
	"/api/v1/time/rate":         true,
	"/api/v1/time/pause":        true,
	"/api/v1/time/resume":       true,
	"/api/v1/stream/frames":     true,
	"/api/v1/stream/ws":         true,
	"/app.js":                   true,
	"/styles.css":               true,
}

// normalizeRoute collapses parameterized and unknown paths so the path label
// has bounded cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/bodies/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/bodies/{id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush lets SSE handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
