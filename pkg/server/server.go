// Package server assembles an rfidgate process from configuration: the
// identifier state store and allocator, operation record sinks, the device
// listener, and the optional status API and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	rfid_internal "github.com/marmos91/rfidgate/internal/adapter/rfid"
	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/adapter/rfid"
	"github.com/marmos91/rfidgate/pkg/api"
	"github.com/marmos91/rfidgate/pkg/api/handlers"
	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/idalloc"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/jsonfile"
	"github.com/marmos91/rfidgate/pkg/metrics"
	prommetrics "github.com/marmos91/rfidgate/pkg/metrics/prometheus"
	"github.com/marmos91/rfidgate/pkg/oplog"
	"github.com/marmos91/rfidgate/pkg/oplog/store"
)

// Options carries process-level values that are not part of the config file.
type Options struct {
	Version string
}

// Server owns every long-lived component of a running gateway.
type Server struct {
	cfg     *config.Config
	version string
	started time.Time

	registry *prometheus.Registry
	metrics  *prommetrics.Metrics

	state     idstate.Store
	allocator *idalloc.Allocator

	bus      *oplog.Bus
	recorder *oplog.Recorder
	history  *oplog.History
	database *store.GORMStore

	adapter       *rfid.Adapter
	apiServer     *api.Server
	metricsServer *api.Server

	closeOnce sync.Once
}

// New opens every store and builds every component. Nothing listens until
// Serve is called. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (s *Server, err error) {
	s = &Server{cfg: cfg, version: opts.Version, started: time.Now()}
	defer func() {
		if err != nil {
			_ = s.Close()
			s = nil
		}
	}()

	// Metrics come first so every constructor below sees the registry
	if cfg.Metrics.Enabled {
		s.registry = metrics.InitRegistry()
		s.metrics = prommetrics.NewFromRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	s.state, err = OpenStateStore(cfg.State)
	if err != nil {
		return nil, err
	}
	s.allocator = idalloc.New(ctx, s.state, s.metrics)

	if err := s.openOpLog(); err != nil {
		return nil, err
	}

	handler := &rfid_internal.Handler{
		Allocator: s.allocator,
		Recorder:  s.recorder,
		Cycle: rfid_internal.CycleConfig{
			IDBlock:       cfg.Device.IDBlock,
			MarkerBlock:   cfg.Device.MarkerBlock,
			Marker:        cfg.Device.Marker,
			EmptySentinel: cfg.Device.EmptySentinel,
		},
	}
	s.adapter = rfid.New(AdapterConfig(cfg), handler, s.metrics)

	if cfg.API.Enabled {
		s.apiServer = api.NewServer(api.APIConfig{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
		}, s.apiDeps())
		logger.Info("API server enabled", "port", cfg.API.Port)
	} else {
		logger.Info("API server disabled")
	}

	if s.registry != nil {
		s.metricsServer = api.NewMetricsServer(cfg.Metrics.Port, s.registry)
	}

	return s, nil
}

func (s *Server) openOpLog() error {
	cfg := s.cfg.OpLog

	var sinks []oplog.Sink
	if cfg.TextPath != "" {
		sink, err := oplog.NewTextSink(cfg.TextPath)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	if cfg.CSVPath != "" {
		sink, err := oplog.NewCSVSink(cfg.CSVPath)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return err
		}
		sinks = append(sinks, sink)
	}
	if cfg.Database.Enabled {
		db, err := store.New(&cfg.Database.Config)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return fmt.Errorf("failed to open operation database: %w", err)
		}
		s.database = db
		sinks = append(sinks, db)
	}

	names := make([]string, 0, len(sinks))
	for _, sink := range sinks {
		names = append(names, sink.Name())
	}
	logger.Info("Operation sinks configured", "sinks", names)

	s.bus = oplog.NewBus(s.metrics)
	s.recorder = oplog.NewRecorder(s.bus, s.metrics, sinks...)

	size := s.cfg.API.RecentOperations
	if size <= 0 {
		size = 100
	}
	s.history = oplog.NewHistory(size)
	return nil
}

func (s *Server) apiDeps() api.Deps {
	stores := map[string]handlers.Healthchecker{}
	if hc, ok := s.state.(handlers.Healthchecker); ok {
		stores["state"] = hc
	}
	if s.database != nil {
		stores["database"] = s.database
	}

	// The database answers history queries beyond the in-memory ring
	var operations oplog.Lister = s.history
	if s.database != nil {
		operations = s.database
	}

	return api.Deps{
		Version:    s.version,
		StartedAt:  s.started,
		State:      s.allocator,
		Sessions:   s.adapter,
		Operations: operations,
		Stores:     stores,
		Registry:   s.registry,
	}
}

// AdapterConfig maps the server and device sections onto the RFID adapter.
func AdapterConfig(cfg *config.Config) rfid.Config {
	return rfid.Config{
		BindAddress:        cfg.Server.BindAddress,
		Port:               cfg.Server.Port,
		MaxConnections:     cfg.Server.MaxConnections,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
		Session: session.Config{
			ResponseTimeout: cfg.Device.ResponseTimeout,
			WriteAttempts:   cfg.Device.WriteAttempts,
			RetryDelay:      cfg.Device.RetryDelay,
			IdleTimeout:     cfg.Server.Timeouts.Idle,
			WriteTimeout:    cfg.Server.Timeouts.Write,
		},
	}
}

// Serve runs the device listener and the HTTP endpoints until ctx is
// cancelled or a component fails, then shuts everything down.
func (s *Server) Serve(ctx context.Context) error {
	logger.Info("Starting rfidgate", "version", s.version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 4)
	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" failed", logger.KeyError, err)
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	ch, unsubscribe := s.bus.Subscribe(s.cfg.OpLog.ObserverBuffer)
	defer unsubscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.history.Run(ctx, ch)
	}()

	if js, ok := s.state.(*jsonfile.Store); ok && s.cfg.State.Watch {
		if err := js.Watch(ctx, s.allocator.Merge); err != nil {
			logger.Warn("State file watcher not started", logger.KeyPath, js.Path(), logger.KeyError, err)
		} else {
			logger.Info("Watching state file for external edits", logger.KeyPath, js.Path())
		}
	}

	run("RFID adapter", s.adapter.Serve)
	if s.apiServer != nil {
		run("API server", s.apiServer.Start)
	}
	if s.metricsServer != nil {
		run("Metrics server", s.metricsServer.Start)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", context.Cause(ctx))
	case serveErr = <-errChan:
		logger.Error("Component failed, initiating shutdown", logger.KeyError, serveErr)
	}

	cancel()
	wg.Wait()

	if err := s.Close(); err != nil {
		logger.Warn("Error closing stores", logger.KeyError, err)
	}
	logger.Info("rfidgate stopped")
	return serveErr
}

// Adapter returns the device listener.
func (s *Server) Adapter() *rfid.Adapter { return s.adapter }

// Allocator returns the identifier allocator.
func (s *Server) Allocator() *idalloc.Allocator { return s.allocator }

// History returns the in-memory ring of recent operations.
func (s *Server) History() *oplog.History { return s.history }

// APIServer returns the status API server, or nil when disabled.
func (s *Server) APIServer() *api.Server { return s.apiServer }

// Close releases every store and sink. It is safe to call more than once.
func (s *Server) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.recorder != nil {
			// Closes the database sink as well
			errs = append(errs, s.recorder.Close())
		} else if s.database != nil {
			errs = append(errs, s.database.Close())
		}
		if s.bus != nil {
			s.bus.Close()
		}
		if s.state != nil {
			errs = append(errs, s.state.Close())
		}
	})
	return errors.Join(errs...)
}
