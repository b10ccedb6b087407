package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/internal/telemetry"
	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/server"
)

var startPidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rfidgate server",
	Long: `Start the rfidgate server in the foreground.

The server listens for device connections, allocates identifiers, and records
every operation until SIGINT or SIGTERM is received. Run it under a process
supervisor (systemd, Docker) for background operation.

Examples:
  # Start with the default config file
  rfidgate start

  # Start with custom config file
  rfidgate start --config /etc/rfidgate/config.yaml

  # Start with environment variable overrides
  RFIDGATE_LOGGING_LEVEL=DEBUG RFIDGATE_SERVER_PORT=4000 rfidgate start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startPidFile, "pid-file", "", "Write the process ID to this file while running")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "rfidgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "rfidgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	srv, err := server.New(ctx, cfg, server.Options{Version: Version})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	if startPidFile != "" {
		if err := os.WriteFile(startPidFile, fmt.Appendf(nil, "%d", os.Getpid()), 0644); err != nil {
			_ = srv.Close()
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(startPidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
