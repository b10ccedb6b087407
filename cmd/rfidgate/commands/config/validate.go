package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the rfidgate configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  rfidgate config validate

  # Validate specific config file
  rfidgate config validate --config /etc/rfidgate/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := Warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Listen:          %s:%d\n", cfg.Server.BindAddress, cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  State backend:   %s (%s)\n", cfg.State.Backend, cfg.State.Path)
	_, _ = fmt.Fprintf(out, "  Blocks:          id=%d marker=%d (%q)\n", cfg.Device.IDBlock, cfg.Device.MarkerBlock, cfg.Device.Marker)
	_, _ = fmt.Fprintf(out, "  Write attempts:  %d every %s\n", cfg.Device.WriteAttempts, cfg.Device.RetryDelay)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

// Warnings lists settings that are valid but probably unintended.
func Warnings(cfg *config.Config) []string {
	var warnings []string

	if cfg.State.Backend == "memory" {
		warnings = append(warnings, "State backend is memory - identifiers repeat after a restart")
	}
	if cfg.State.Watch && cfg.State.Backend != "json" {
		warnings = append(warnings, "state.watch only applies to the json backend")
	}
	if cfg.OpLog.TextPath == "" && cfg.OpLog.CSVPath == "" && !cfg.OpLog.Database.Enabled {
		warnings = append(warnings, "No operation sink configured - operations are not recorded")
	}
	if cfg.Metrics.Enabled && cfg.API.Enabled && cfg.Metrics.Port == cfg.API.Port {
		warnings = append(warnings, fmt.Sprintf("metrics.port and api.port are both %d", cfg.API.Port))
	}
	if cfg.Backup.S3.AccessKeyID != "" && cfg.Backup.S3.SecretAccessKey == "" {
		warnings = append(warnings, "backup.s3.access_key_id is set without secret_access_key")
	}
	return warnings
}
