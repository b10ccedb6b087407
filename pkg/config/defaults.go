package config

import (
	"strings"
	"time"

	"github.com/marmos91/rfidgate/pkg/oplog/store"
)

// Protocol defaults. These match the constants deployed readers expect.
const (
	DefaultPort            = 1234
	DefaultResponseTimeout = 5 * time.Second
	DefaultWriteAttempts   = 3
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultIDBlock         = 8
	DefaultMarkerBlock     = 9
	DefaultMarker          = "WAREHOUSE_IN"
	DefaultEmptySentinel   = "EMPTY"
	DefaultStatePath       = "id_state.json"
	DefaultTextLogPath     = "rfid_operations.log"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyServerDefaults(&cfg.Server)
	applyDeviceDefaults(&cfg.Device)
	applyStateDefaults(&cfg.State)
	applyOpLogDefaults(&cfg.OpLog)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyBackupDefaults(&cfg.Backup)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 10 * time.Second
	}
	// Idle stays 0: devices may sit silent between tags indefinitely.
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.WriteAttempts == 0 {
		cfg.WriteAttempts = DefaultWriteAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.IDBlock == 0 && cfg.MarkerBlock == 0 {
		cfg.IDBlock = DefaultIDBlock
		cfg.MarkerBlock = DefaultMarkerBlock
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.EmptySentinel == "" {
		cfg.EmptySentinel = DefaultEmptySentinel
	}
}

func applyStateDefaults(cfg *StateConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "json"
	}
	if cfg.Path == "" {
		switch cfg.Backend {
		case "json":
			cfg.Path = DefaultStatePath
		case "badger":
			cfg.Path = "id_state.badger"
		}
	}
}

func applyOpLogDefaults(cfg *OpLogConfig) {
	if cfg.ObserverBuffer == 0 {
		cfg.ObserverBuffer = 256
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = store.DatabaseTypeSQLite
	}
	if cfg.Database.Type == store.DatabaseTypeSQLite && cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "rfid_operations.db"
	}
	cfg.Database.ApplyDefaults()
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.RecentOperations == 0 {
		cfg.RecentOperations = 100
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

func applyBackupDefaults(cfg *BackupConfig) {
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = "rfidgate/"
	}
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		OpLog: OpLogConfig{TextPath: DefaultTextLogPath},
	}
	ApplyDefaults(cfg)
	return cfg
}
