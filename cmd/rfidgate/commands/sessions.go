package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/cli/output"
	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/apiclient"
)

var (
	sessionsOutput  string
	sessionsAPIPort int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List connected devices",
	Long: `List the device sessions of a running rfidgate server.

Examples:
  rfidgate sessions
  rfidgate sessions --api-port 9080 --output json`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsAPIPort, "api-port", 8080, "API server port")
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(sessionsOutput)
	if err != nil {
		return err
	}

	client := apiclient.New(apiBaseURL(sessionsAPIPort)).WithTimeout(5 * time.Second)
	infos, err := client.Sessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	p := output.NewPrinter(cmd.OutOrStdout(), format, logger.IsTerminal(os.Stdout))
	if len(infos) == 0 && format == output.FormatTable {
		p.Warning("No devices connected")
		return nil
	}
	return p.Print(output.Sessions(infos))
}
