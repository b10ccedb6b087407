package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/rfidgate/pkg/oplog/store"
)

// Config represents the rfidgate server configuration.
//
// Sources, highest priority first:
//  1. Environment variables (RFIDGATE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for device sessions to
	// drain before connections are force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the device-facing TCP listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Device configures the nested READ_BLOCK / WRITE_BLOCK exchange
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// State configures where the identifier allocation table is persisted
	State StateConfig `mapstructure:"state" yaml:"state"`

	// OpLog configures the operation record sinks
	OpLog OpLogConfig `mapstructure:"oplog" yaml:"oplog"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the read-only status HTTP server
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Backup configures snapshot uploads
	Backup BackupConfig `mapstructure:"backup" yaml:"backup"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// ServerConfig configures the listener devices connect to.
type ServerConfig struct {
	// BindAddress is the interface to listen on ("0.0.0.0" for all)
	BindAddress string `mapstructure:"bind_address" validate:"required" yaml:"bind_address"`

	// Port is the TCP port devices connect to
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections caps concurrent device sessions. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// MetricsLogInterval is how often connection statistics are logged.
	// 0 disables the periodic log line.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`

	Timeouts ServerTimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// ServerTimeoutsConfig groups per-connection socket timeouts.
type ServerTimeoutsConfig struct {
	// Idle closes a session after this long without a frame. 0 waits forever.
	Idle time.Duration `mapstructure:"idle" validate:"min=0" yaml:"idle"`

	// Write bounds each reply or sub-command write.
	Write time.Duration `mapstructure:"write" validate:"min=0" yaml:"write"`
}

// DeviceConfig configures how the server talks to a reader/writer.
type DeviceConfig struct {
	// ResponseTimeout bounds the wait for a READ_SUCCESS / WRITE_SUCCESS reply.
	ResponseTimeout time.Duration `mapstructure:"response_timeout" validate:"required,gt=0" yaml:"response_timeout"`

	// WriteAttempts is the total number of WRITE_BLOCK attempts per block.
	WriteAttempts int `mapstructure:"write_attempts" validate:"required,min=1,max=10" yaml:"write_attempts"`

	// RetryDelay is the pause between failed write attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0" yaml:"retry_delay"`

	// IDBlock holds the assigned identifier.
	IDBlock int `mapstructure:"id_block" validate:"min=0,max=255" yaml:"id_block"`

	// MarkerBlock holds the warehouse-direction marker.
	MarkerBlock int `mapstructure:"marker_block" validate:"min=0,max=255,nefield=IDBlock" yaml:"marker_block"`

	// Marker is written to MarkerBlock on every cycle.
	Marker string `mapstructure:"marker" validate:"required,excludesall=0x7C" yaml:"marker"`

	// EmptySentinel is the block content meaning "no identifier yet".
	EmptySentinel string `mapstructure:"empty_sentinel" validate:"required" yaml:"empty_sentinel"`
}

// StateConfig selects the identifier state backend.
type StateConfig struct {
	// Backend is json (legacy id_state.json snapshot), badger, or memory.
	Backend string `mapstructure:"backend" validate:"required,oneof=json badger memory" yaml:"backend"`

	// Path is the snapshot file (json) or database directory (badger).
	Path string `mapstructure:"path" validate:"required_unless=Backend memory" yaml:"path"`

	// Watch merges out-of-band edits of the JSON snapshot into the running
	// allocator. Only meaningful for the json backend.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// OpLogConfig configures where operation records go.
type OpLogConfig struct {
	// TextPath is the append-only human-readable log. Empty disables it.
	TextPath string `mapstructure:"text_path" yaml:"text_path"`

	// CSVPath is the columnar sibling. Empty disables it.
	CSVPath string `mapstructure:"csv_path" yaml:"csv_path"`

	// ObserverBuffer is the channel capacity handed to each observer.
	ObserverBuffer int `mapstructure:"observer_buffer" validate:"min=1" yaml:"observer_buffer"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// DatabaseConfig enables the SQL operation record sink.
type DatabaseConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	store.Config `mapstructure:",squash" yaml:",inline"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the /metrics endpoint (default 9090)
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// APIConfig controls the read-only status server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// RecentOperations is how many operation records GET /api/v1/operations keeps.
	RecentOperations int `mapstructure:"recent_operations" validate:"omitempty,min=1" yaml:"recent_operations"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// BackupConfig configures `rfidgate backup`.
type BackupConfig struct {
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config is the target bucket for backups. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// Load loads configuration from file and environment variables.
// A missing config file is not an error: defaults are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration and requires the file to exist, returning an
// error that tells the user how to create one.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  rfidgate init\n\n"+
				"Or specify a custom config file:\n"+
				"  rfidgate <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  rfidgate init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML.
// The file is 0600 because it may hold S3 or database credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires environment overrides and the config file location.
// Example override: RFIDGATE_SERVER_PORT=4000
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("RFIDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reports whether a config file was found and read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook accepts "30s", "500ms" or a raw nanosecond count.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/rfidgate, ~/.config/rfidgate, or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rfidgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "rfidgate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
