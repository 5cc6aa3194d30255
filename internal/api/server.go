package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kalkan/srec/internal/auth"
	"github.com/kalkan/srec/internal/health"
	"github.com/kalkan/srec/internal/httputil"
	"github.com/kalkan/srec/internal/metrics"
	"github.com/kalkan/srec/internal/stream"
	"github.com/kalkan/srec/internal/tle"
	"github.com/kalkan/srec/internal/track"
)

// SessionProvider yields the session for the currently loaded record.
type SessionProvider interface {
	Session() (*track.Session, error)
}

// Reloader re-reads the TLE record into a store.
type Reloader interface {
	Reload(store *tle.Store) (*tle.Dataset, error)
}

// Deps are the collaborators the HTTP server routes to.
type Deps struct {
	Store    *tle.Store
	Sessions SessionProvider
	Source   Reloader
	Stream   *stream.Handler // optional
	Defaults Defaults
	Auth     auth.Config
	Clients  httputil.Resolver // client address in access logs
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(logger *slog.Logger, deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() error {
		_, err := deps.Sessions.Session()
		return err
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /{$}", indexHandler)
	mux.HandleFunc("GET /api/v1/tle", tleHandler(deps.Store))
	mux.HandleFunc("POST /api/v1/tle/reload", reloadHandler(logger, deps.Store, deps.Source))
	mux.HandleFunc("GET /api/v1/position", positionHandler(logger, deps.Sessions))
	mux.HandleFunc("GET /api/v1/groundtrack", groundTrackHandler(logger, deps.Sessions, deps.Defaults))
	mux.HandleFunc("GET /api/v1/passes", passesHandler(logger, deps.Sessions, deps.Defaults))
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/position", deps.Stream.HandlePosition)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(deps.Auth)(handler)
	handler = loggingMiddleware(logger, deps.Clients)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
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

// Flush keeps SSE working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, clients httputil.Resolver) func(http.Handler) http.Handler {
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
				"remote_ip", clients.ClientIP(r),
			)
		})
	}
}
