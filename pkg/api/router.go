package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/api/handlers"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

// Deps are the runtime components the status API reads from. Every field
// is optional.
type Deps struct {
	Version    string
	StartedAt  time.Time
	State      handlers.StateSource
	Sessions   handlers.SessionLister
	Operations oplog.Lister
	Stores     map[string]handlers.Healthchecker

	// Registry, when set, is exposed on GET /metrics.
	Registry *prometheus.Registry
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/stores - Backing store health
//   - GET /api/v1/state - Identifier allocation summary
//   - GET /api/v1/sessions - Connected device sessions
//   - GET /api/v1/operations - Recent operation records
//   - GET /metrics - Prometheus exposition (when a registry is given)
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	healthHandler := handlers.NewHealthHandler(deps.Version, startedAt, deps.Stores)
	statusHandler := handlers.NewStatusHandler(deps.State, deps.Sessions, deps.Operations)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/stores", healthHandler.Stores)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", statusHandler.State)
		r.Get("/sessions", statusHandler.Sessions)
		r.Get("/operations", statusHandler.Operations)
	})

	if deps.Registry != nil {
		r.Handle("/metrics", MetricsHandler(deps.Registry))
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// MetricsHandler serves the Prometheus exposition format for reg.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level, DEBUG for probes): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Probes and scrapes run every few seconds
		if isQuietPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

func isQuietPath(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}
