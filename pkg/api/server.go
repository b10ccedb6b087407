package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/rfidgate/internal/logger"
)

// Server provides an HTTP server for the status API or a standalone
// metrics endpoint.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	name         string
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving requests.
func NewServer(config APIConfig, deps Deps) *Server {
	return newServer("API", config, NewRouter(deps))
}

// NewMetricsServer creates a server that only exposes GET /metrics.
func NewMetricsServer(port int, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))
	return newServer("Metrics", APIConfig{Port: port}, mux)
}

func newServer(name string, config APIConfig, handler http.Handler) *Server {
	config.applyDefaults()

	return &Server{
		name: name,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails to start or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("%s server failed to listen: %w", s.name, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info(s.name+" server listening", logger.KeyListenAddr, ln.Addr().String())

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(s.name + " server shutdown signal received")
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("%s server failed: %w", s.name, err)
	}
}

// Stop initiates graceful shutdown of the server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug(s.name + " server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("%s server shutdown error: %w", s.name, err)
			logger.Error(s.name+" server shutdown error", logger.KeyError, err)
		} else {
			logger.Info(s.name + " server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

// Addr returns the bound address once Start has begun listening, else nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
