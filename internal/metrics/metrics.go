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
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbview_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	httpRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbview_http_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		},
	)

	tleCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_tle_cache_hits_total",
			Help: "TLE snapshot loads served from a cache tier.",
		},
		[]string{"tier"},
	)

	tleCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_tle_cache_misses_total",
			Help: "TLE snapshot cache misses by tier and reason (absent, expired, corrupt).",
		},
		[]string{"tier", "reason"},
	)

	tleCacheStorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_tle_cache_storage_errors_total",
			Help: "TLE cache I/O failures by tier and operation.",
		},
		[]string{"tier", "op"},
	)

	tleDownloadDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbview_tle_download_duration_seconds",
			Help:    "TLE download duration in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)

	tleSnapshotSatellites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_tle_snapshot_satellites",
			Help: "Number of satellites in the current TLE snapshot.",
		},
	)

	tleSnapshotDownloadedAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_tle_snapshot_downloaded_at_seconds",
			Help: "Unix time at which the current TLE snapshot was downloaded.",
		},
	)

	tleSnapshotAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_tle_snapshot_age_seconds",
			Help: "Age of the current TLE snapshot in seconds.",
		},
	)

	propagationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbview_propagation_duration_seconds",
			Help:    "Duration of a full-snapshot propagation batch.",
			Buckets: prometheus.DefBuckets,
		},
	)

	propagationResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_propagation_results_total",
			Help: "Per-satellite propagation outcomes.",
		},
		[]string{"result"},
	)

	propagationWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_propagation_workers",
			Help: "Configured propagation worker pool size.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_stream_connections_total",
			Help: "Position stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_streams_active",
			Help: "Currently open position streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbview_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbview_stream_bytes_total",
			Help: "Bytes written to position streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_stream_errors_total",
			Help: "Position stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		httpRateLimitedTotal,
		tleCacheHitsTotal,
		tleCacheMissesTotal,
		tleCacheStorageErrorsTotal,
		tleDownloadDurationSeconds,
		tleSnapshotSatellites,
		tleSnapshotDownloadedAt,
		tleSnapshotAgeSeconds,
		propagationDurationSeconds,
		propagationResultsTotal,
		propagationWorkers,
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

// IncRateLimited counts a request rejected by the rate limiter.
func IncRateLimited() {
	httpRateLimitedTotal.Inc()
}

// IncTLECacheHit counts a snapshot served from tier.
func IncTLECacheHit(tier string) {
	tleCacheHitsTotal.WithLabelValues(tier).Inc()
}

// IncTLECacheMiss counts a miss on tier.
func IncTLECacheMiss(tier, reason string) {
	tleCacheMissesTotal.WithLabelValues(tier, reason).Inc()
}

// IncTLECacheStorageError counts an I/O failure on tier.
func IncTLECacheStorageError(tier, op string) {
	tleCacheStorageErrorsTotal.WithLabelValues(tier, op).Inc()
}

// ObserveTLEDownload records a download attempt.
func ObserveTLEDownload(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	tleDownloadDurationSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// SetTLESnapshot publishes the size and timestamp of the current snapshot.
func SetTLESnapshot(count int, downloadedAt time.Time) {
	tleSnapshotSatellites.Set(float64(count))
	tleSnapshotDownloadedAt.Set(float64(downloadedAt.Unix()))
}

// SetTLESnapshotAge publishes the current snapshot age.
func SetTLESnapshotAge(seconds float64) {
	tleSnapshotAgeSeconds.Set(seconds)
}

// RecordPropagation records one batch.
func RecordPropagation(d time.Duration, success, failed int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagationResultsTotal.WithLabelValues("success").Add(float64(success))
	propagationResultsTotal.WithLabelValues("error").Add(float64(failed))
}

// SetPropagationWorkers publishes the worker pool size.
func SetPropagationWorkers(n int) {
	propagationWorkers.Set(float64(n))
}

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/":                    true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/tle/metadata": true,
	"/api/v1/tle/refresh":  true,
	"/api/v1/tle/cache":    true,
	"/api/v1/positions":    true,

	"/api/v1/stream/positions": true,
}

const groundtrackPrefix = "/api/v1/groundtrack/"

// normalizeRoute collapses parameterized and unknown paths so the path label
// has bounded cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, groundtrackPrefix); ok && rest != "" && !strings.Contains(rest, "/") {
		return groundtrackPrefix + "{name}"
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

// Flush lets streaming handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
