// Package commands implements the rfidgate command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/cmd/rfidgate/commands/config"
	"github.com/marmos91/rfidgate/cmd/rfidgate/commands/state"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rfidgate",
	Short: "rfidgate - RFID tag identifier server",
	Long: `rfidgate accepts TCP connections from RFID reader/writer devices, assigns
a unique sequential identifier to every new tag it sees, writes that identifier
and a direction marker back to the tag, and records every operation.

Use "rfidgate [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/rfidgate/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(state.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
