package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orbview/internal/auth"
	"github.com/star/orbview/internal/health"
	"github.com/star/orbview/internal/httputil"
	"github.com/star/orbview/internal/metrics"
	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/stream"
	"github.com/star/orbview/internal/tle"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr       string
	Auth       auth.Config
	TrustProxy bool
	RateLimit  rate.Limit // requests per second per client IP
	RateBurst  int
}

// Deps are the components the handlers serve.
type Deps struct {
	Store      *tle.Store
	Loader     *tle.Loader
	Cache      *tle.FileCache
	Propagator *propagation.Propagator
	Stream     *stream.Handler // optional
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	limiter    *httputil.IPRateLimiter
	logger     *slog.Logger
}

// rateLimitExempt paths are never throttled so health checks and scrapes keep working.
var rateLimitExempt = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Store))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/tle/metadata", metadataHandler(deps.Store, deps.Cache))
	mux.HandleFunc("POST /api/v1/tle/refresh", refreshHandler(logger, deps.Loader))
	mux.HandleFunc("DELETE /api/v1/tle/cache", clearCacheHandler(logger, deps.Loader))
	mux.HandleFunc("GET /api/v1/positions", positionsHandler(logger, deps.Propagator))
	mux.HandleFunc("GET /api/v1/groundtrack/{name}", groundtrackHandler(logger, deps.Propagator))
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/positions", deps.Stream.HandlePositions)
	}

	limiter := httputil.NewIPRateLimiter(cfg.RateLimit, cfg.RateBurst)

	// Build middleware chain: metrics -> logging -> rate limit -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = httputil.RateLimitMiddleware(limiter, cfg.TrustProxy, rateLimitExempt, metrics.IncRateLimited)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Refresh waits on a download with a 30s client timeout.
			WriteTimeout: 45 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Limiter returns the per-IP rate limiter so the caller can sweep idle clients.
func (s *Server) Limiter() *httputil.IPRateLimiter {
	return s.limiter
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// healthCheckPath reports whether path is a liveness or readiness check, which logs at DEBUG.
func healthCheckPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if healthCheckPath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
