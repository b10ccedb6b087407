package state

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/pkg/idalloc"
)

var seedCmd = &cobra.Command{
	Use:   "seed <id>...",
	Short: "Mark identifiers as already used",
	Long: `Reserve identifiers without issuing them, for tags that were numbered
before this server took over. Gaps are allowed; the allocator skips every
reserved id.

Identifiers may be given with or without leading zeros.

Examples:
  rfidgate state seed 1 2 3
  rfidgate state seed 00000042`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	alloc, closeStore, err := openAllocator(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if err := alloc.MarkUsed(cmd.Context(), ids...); err != nil {
		return fmt.Errorf("failed to seed identifiers: %w", err)
	}

	summary := Summarize(alloc.Snapshot())
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reserved %d identifier(s); next tag gets %s\n", len(ids), summary.NextTagID)
	return nil
}

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid identifier %q: must be a positive integer", arg)
		}
		if len(idalloc.Format(id)) > 8 {
			return nil, fmt.Errorf("invalid identifier %q: wider than 8 digits", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
