package commands

import (
	"fmt"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// apiBaseURL is the local status API root for the commands that query a
// running server.
func apiBaseURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
