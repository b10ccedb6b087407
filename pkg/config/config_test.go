package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/rfidgate/pkg/oplog/store"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "debug"
server:
  port: 4100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Expected port 4100, got %d", cfg.Server.Port)
	}
	if cfg.Server.BindAddress != "0.0.0.0" {
		t.Errorf("Expected bind address 0.0.0.0, got %q", cfg.Server.BindAddress)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Device.ResponseTimeout != 5*time.Second {
		t.Errorf("Expected response timeout 5s, got %v", cfg.Device.ResponseTimeout)
	}
	if cfg.Device.WriteAttempts != 3 {
		t.Errorf("Expected 3 write attempts, got %d", cfg.Device.WriteAttempts)
	}
	if cfg.Device.RetryDelay != 500*time.Millisecond {
		t.Errorf("Expected retry delay 500ms, got %v", cfg.Device.RetryDelay)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, "config.yaml", `
shutdown_timeout: 10s
device:
  response_timeout: 2s
  write_attempts: 5
  retry_delay: 250ms
  id_block: 4
  marker_block: 5
  marker: WAREHOUSE_OUT
state:
  backend: badger
  path: "`+yamlSafePath(tmpDir)+`/state"
oplog:
  text_path: "`+yamlSafePath(tmpDir)+`/ops.log"
  csv_path: "`+yamlSafePath(tmpDir)+`/ops.csv"
  database:
    enabled: true
    type: postgres
    postgres:
      host: db.local
      database: rfid
      user: rfid
metrics:
  enabled: true
api:
  enabled: true
  port: 8181
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown_timeout 10s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Device.IDBlock != 4 || cfg.Device.MarkerBlock != 5 {
		t.Errorf("Expected blocks 4/5, got %d/%d", cfg.Device.IDBlock, cfg.Device.MarkerBlock)
	}
	if cfg.Device.Marker != "WAREHOUSE_OUT" {
		t.Errorf("Expected marker WAREHOUSE_OUT, got %q", cfg.Device.Marker)
	}
	if cfg.Device.EmptySentinel != "EMPTY" {
		t.Errorf("Expected default sentinel EMPTY, got %q", cfg.Device.EmptySentinel)
	}
	if cfg.State.Backend != "badger" {
		t.Errorf("Expected badger backend, got %q", cfg.State.Backend)
	}
	if !cfg.OpLog.Database.Enabled || cfg.OpLog.Database.Type != store.DatabaseTypePostgres {
		t.Errorf("Expected postgres database sink, got %+v", cfg.OpLog.Database)
	}
	if cfg.OpLog.Database.Postgres.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.OpLog.Database.Postgres.Port)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.API.Port != 8181 {
		t.Errorf("Expected api port 8181, got %d", cfg.API.Port)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults when file is missing, got error: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.State.Path != DefaultStatePath {
		t.Errorf("Expected default state path %q, got %q", DefaultStatePath, cfg.State.Path)
	}
	if cfg.OpLog.TextPath != DefaultTextLogPath {
		t.Errorf("Expected default log path %q, got %q", DefaultTextLogPath, cfg.OpLog.TextPath)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: [unclosed\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
device:
  id_block: 9
  marker_block: 9
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error when id and marker blocks collide")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[server]
port = 4200
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected json format, got %q", cfg.Logging.Format)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Expected port 4200, got %d", cfg.Server.Port)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  port: 4100
`)
	t.Setenv("RFIDGATE_SERVER_PORT", "4300")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Expected env override 4300, got %d", cfg.Server.Port)
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}

func TestMustLoad_NoDefaultFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := MustLoad("")
	if err == nil {
		t.Fatal("Expected error when no default config exists")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Server.Port = 4555
	cfg.Device.Marker = "WAREHOUSE_OUT"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after save failed: %v", err)
	}
	if loaded.Server.Port != 4555 {
		t.Errorf("Expected port 4555, got %d", loaded.Server.Port)
	}
	if loaded.Device.Marker != "WAREHOUSE_OUT" {
		t.Errorf("Expected marker WAREHOUSE_OUT, got %q", loaded.Device.Marker)
	}
	if loaded.Device.RetryDelay != cfg.Device.RetryDelay {
		t.Errorf("Expected retry delay %v, got %v", cfg.Device.RetryDelay, loaded.Device.RetryDelay)
	}
}
