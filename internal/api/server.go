// Package api wires the HTTP routes: probes, metrics, the population and
// time-control endpoints, single-body queries, and the frame streams.
package api

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Nolaskote/Simulation/internal/auth"
	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/health"
	"github.com/Nolaskote/Simulation/internal/metrics"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/stream"
)

// Field is the simulation state the API reads and controls.
type Field interface {
	Population() (*neo.Population, uint64)
	Load(pop *neo.Population)
	Clock() *simclock.Clock
	Frames() *cache.FrameCache
	Scale() float64
	Ready() bool
	Degraded() bool
}

// Deps are the server's collaborators.
type Deps struct {
	Field   Field
	Store   *neo.Store
	Fetcher *neo.Fetcher // nil disables POST /api/v1/population/reload
	Cache   *neo.Cache   // optional snapshot cache for fetched data
	Stream  *stream.Handler
	Web     fs.FS
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Field))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/population", populationHandler(deps.Field))
	mux.HandleFunc("POST /api/v1/population/reload", reloadHandler(logger, deps))
	mux.HandleFunc("GET /api/v1/bodies/{id}", bodyHandler(deps.Field))
	mux.HandleFunc("GET /api/v1/planets", planetsHandler(deps.Field))

	mux.HandleFunc("GET /api/v1/time", timeHandler(deps.Field.Clock()))
	mux.HandleFunc("POST /api/v1/time/seek", seekHandler(logger, deps.Field.Clock()))
	mux.HandleFunc("POST /api/v1/time/rate", rateHandler(logger, deps.Field.Clock()))
	mux.HandleFunc("POST /api/v1/time/pause", pauseHandler(logger, deps.Field.Clock()))
	mux.HandleFunc("POST /api/v1/time/resume", resumeHandler(logger, deps.Field.Clock()))

	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/frames", deps.Stream.HandleFrames)
		mux.HandleFunc("GET /api/v1/stream/ws", deps.Stream.HandleWebSocket)
	}
	if deps.Web != nil {
		mux.Handle("GET /", http.FileServerFS(deps.Web))
	}

	// Middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	// The upgrade answers 101 on the raw connection.
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
