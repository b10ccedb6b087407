package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/cli/output"
	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/apiclient"
	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/oplog"
	"github.com/marmos91/rfidgate/pkg/oplog/store"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Query recorded operations",
	Long: `Query the operation database sink.

By default this reads the database sink directly, which requires
oplog.database.enabled. With --remote it asks a running server's status API
instead, which also serves the in-memory recent-operations ring. The text and
CSV logs can be read with 'rfidgate logs'.

Subcommands:
  list  List operations, newest first`,
}

var (
	opsUID    string
	opsTagID  string
	opsStatus string
	opsSince  string
	opsLimit  int
	opsOutput string
	opsRemote bool
	opsPort   int
)

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operations, newest first",
	Long: `List recorded operations from the database sink.

Examples:
  # Last 50 operations
  rfidgate ops list

  # Every operation on one tag
  rfidgate ops list --uid 04A1B2C3 --limit 0

  # Which tag carries identifier 00000042
  rfidgate ops list --tag-id 00000042

  # Recent operations from a running server
  rfidgate ops list --remote --api-port 8080

  # Partial failures since yesterday, as JSON
  rfidgate ops list --status partial_failure --since 2024-01-15T00:00:00Z -o json`,
	RunE: runOpsList,
}

func init() {
	opsListCmd.Flags().StringVar(&opsUID, "uid", "", "Filter by tag UID")
	opsListCmd.Flags().StringVar(&opsTagID, "tag-id", "", "Find the operations that assigned this identifier")
	opsListCmd.Flags().StringVar(&opsStatus, "status", "", "Filter by status (success|partial_failure|logged)")
	opsListCmd.Flags().StringVar(&opsSince, "since", "", "Only operations at or after this time (RFC3339)")
	opsListCmd.Flags().IntVarP(&opsLimit, "limit", "n", 50, "Maximum operations to show (0 for all)")
	opsListCmd.Flags().StringVarP(&opsOutput, "output", "o", "table", "Output format (table|json|yaml)")
	opsListCmd.Flags().BoolVar(&opsRemote, "remote", false, "Query a running server's status API")
	opsListCmd.Flags().IntVar(&opsPort, "api-port", 8080, "API server port (with --remote)")

	opsCmd.AddCommand(opsListCmd)
}

func runOpsList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(opsOutput)
	if err != nil {
		return err
	}

	filter, err := parseOpsFilter(opsUID, opsStatus, opsSince, opsLimit)
	if err != nil {
		return err
	}

	var records []oplog.Record
	switch {
	case opsRemote && opsTagID != "":
		return fmt.Errorf("--tag-id needs the operation database and cannot be used with --remote")
	case opsRemote:
		records, err = apiclient.New(apiBaseURL(opsPort)).Operations(cmd.Context(), filter)
	default:
		records, err = queryDatabase(cmd, filter)
	}
	if err != nil {
		return err
	}

	p := output.NewPrinter(cmd.OutOrStdout(), format, logger.IsTerminal(os.Stdout))
	if len(records) == 0 && format == output.FormatTable {
		p.Warning("No operations found")
		return nil
	}
	return p.Print(output.Operations(records))
}

func queryDatabase(cmd *cobra.Command, filter oplog.Filter) ([]oplog.Record, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if !cfg.OpLog.Database.Enabled {
		return nil, fmt.Errorf("operation database is disabled\nSet 'oplog.database.enabled: true' in config, or use --remote")
	}

	db, err := store.New(&cfg.OpLog.Database.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to open operation database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var records []oplog.Record
	if opsTagID != "" {
		records, err = db.FindByTagID(cmd.Context(), opsTagID)
	} else {
		records, err = db.List(cmd.Context(), filter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	return records, nil
}

func parseOpsFilter(uid, status, since string, limit int) (oplog.Filter, error) {
	f := oplog.Filter{UID: uid, Limit: limit}
	if limit < 0 {
		return f, fmt.Errorf("invalid --limit %d: must not be negative", limit)
	}

	if status != "" {
		switch s := oplog.Status(strings.ToUpper(status)); s {
		case oplog.StatusSuccess, oplog.StatusPartialFailure, oplog.StatusLogged:
			f.Status = s
		default:
			return f, fmt.Errorf("invalid --status %q: use success, partial_failure or logged", status)
		}
	}

	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
		f.Since = t
	}
	return f, nil
}
