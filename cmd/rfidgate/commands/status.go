package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/cli/output"
	"github.com/marmos91/rfidgate/internal/cli/timeutil"
	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/apiclient"
)

var (
	statusOutput  string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of a running rfidgate server.

This command calls the status API health endpoint, so the server must run
with api.enabled set.

Examples:
  # Check status (uses default settings)
  rfidgate status

  # Check status with custom API port
  rfidgate status --api-port 9080

  # Output as JSON
  rfidgate status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running   bool   `json:"running" yaml:"running"`
	Healthy   bool   `json:"healthy" yaml:"healthy"`
	Message   string `json:"message" yaml:"message"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	StartedAt string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := fetchStatus(cmd.Context(), apiclient.New(apiBaseURL(statusAPIPort)).WithTimeout(2*time.Second))

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), status)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), status)
	default:
		printStatusTable(cmd.OutOrStdout(), status, logger.IsTerminal(os.Stdout))
	}
	return nil
}

// fetchStatus queries GET /health. An unreachable server is reported as
// stopped rather than as an error.
func fetchStatus(ctx context.Context, client *apiclient.Client) ServerStatus {
	status := ServerStatus{Message: "Server is not running"}

	healthResp, err := client.Health(ctx)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) || errors.Is(err, apiclient.ErrInvalidResponse) {
			status.Running = true
			status.Message = "Server is running but health response invalid"
		}
		return status
	}

	status.Running = true
	status.Healthy = healthResp.Status == "healthy"
	status.Version = healthResp.Data.Version
	status.StartedAt = healthResp.Data.StartedAt
	status.Uptime = timeutil.FormatUptime(time.Duration(healthResp.Data.UptimeSec) * time.Second)
	if status.Healthy {
		status.Message = "Server is running and healthy"
	} else {
		status.Message = fmt.Sprintf("Server is running but unhealthy: %s", healthResp.Error)
	}
	return status
}

func printStatusTable(w io.Writer, status ServerStatus, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return "\033[" + code + "m" + s + "\033[0m"
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "rfidgate Server Status")
	_, _ = fmt.Fprintln(w, "======================")
	_, _ = fmt.Fprintln(w)

	if status.Running {
		if status.Healthy {
			_, _ = fmt.Fprintf(w, "  Status:     %s\n", paint("32", "● Running"))
		} else {
			_, _ = fmt.Fprintf(w, "  Status:     %s\n", paint("33", "● Running (unhealthy)"))
		}
		if status.Version != "" {
			_, _ = fmt.Fprintf(w, "  Version:    %s\n", status.Version)
		}
		if status.StartedAt != "" {
			_, _ = fmt.Fprintf(w, "  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
		}
		if status.Uptime != "" {
			_, _ = fmt.Fprintf(w, "  Uptime:     %s\n", status.Uptime)
		}
	} else {
		_, _ = fmt.Fprintf(w, "  Status:     %s\n", paint("31", "○ Stopped"))
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  %s\n", status.Message)
	_, _ = fmt.Fprintln(w)
}
