package state

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/cli/output"
	"github.com/marmos91/rfidgate/pkg/apiclient"
)

var (
	showOutput string
	showRemote bool
	showPort   int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the allocation summary",
	Long: `Display the next identifier, how many are used, the highest used
identifier and how many below it were never issued.

With --remote the running server's allocator is asked through the status
API instead of opening the backend, which works for backends that hold an
exclusive lock.

Examples:
  rfidgate state show
  rfidgate state show --output json
  rfidgate state show --remote --api-port 8080`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "table", "Output format (table|json|yaml)")
	showCmd.Flags().BoolVar(&showRemote, "remote", false, "Query a running server's status API")
	showCmd.Flags().IntVar(&showPort, "api-port", 8080, "API server port (with --remote)")
}

func runShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	summary, err := loadSummary(cmd)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), summary)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), summary)
	}
	return output.SimpleTable(cmd.OutOrStdout(), [][2]string{
		{"Next ID", strconv.FormatUint(summary.NextID, 10)},
		{"Next tag ID", summary.NextTagID},
		{"Used", strconv.Itoa(summary.UsedCount)},
		{"Highest used", strconv.FormatUint(summary.Highest, 10)},
		{"Gaps", strconv.FormatUint(summary.Gaps, 10)},
	})
}

func loadSummary(cmd *cobra.Command) (Summary, error) {
	if showRemote {
		client := apiclient.New(fmt.Sprintf("http://localhost:%d", showPort))
		st, err := client.State(cmd.Context(), false)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to query server state: %w", err)
		}
		return Summary{
			NextID:    st.NextID,
			NextTagID: st.NextTagID,
			UsedCount: st.UsedCount,
			Highest:   st.Highest,
			Gaps:      st.Gaps,
		}, nil
	}

	alloc, closeStore, err := openAllocator(cmd.Context(), cmd)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = closeStore() }()
	return Summarize(alloc.Snapshot()), nil
}
