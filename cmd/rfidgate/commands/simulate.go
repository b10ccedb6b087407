package commands

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/cli/output"
	"github.com/marmos91/rfidgate/pkg/devicesim"
)

var (
	simAddr        string
	simUIDs        []string
	simBlock8      string
	simFailWrites  int
	simRounds      int
	simInterval    time.Duration
	simDialTimeout time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Act as an RFID device against a running server",
	Long: `Connect to a running server as a simulated reader/writer, announce it,
and present tags. Each tag is a blank in-memory tag unless --block8 preloads
an identifier.

Examples:
  # Present one blank tag
  rfidgate simulate --uid 04A1B2C3

  # A tag that already carries an identifier
  rfidgate simulate --uid 04A1B2C3 --block8 00000042

  # Exercise the retry path: the first two writes of each block fail
  rfidgate simulate --uid 04A1B2C3 --fail-writes 2

  # Small load test
  rfidgate simulate --uid A1 --uid A2 --uid A3 --rounds 100 --interval 10ms`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simAddr, "addr", "localhost:1234", "Server address")
	simulateCmd.Flags().StringSliceVar(&simUIDs, "uid", []string{"04A1B2C3"}, "Tag UID to present (repeatable)")
	simulateCmd.Flags().StringVar(&simBlock8, "block8", "", "Preload block 8 of every tag with this value")
	simulateCmd.Flags().IntVar(&simFailWrites, "fail-writes", 0, "Answer WRITE_FAILED to the first N writes of each block")
	simulateCmd.Flags().IntVar(&simRounds, "rounds", 1, "Times to present the tag list")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 0, "Pause between presentations")
	simulateCmd.Flags().DurationVar(&simDialTimeout, "dial-timeout", 10*time.Second, "Connection timeout")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, simDialTimeout)
	dev, err := devicesim.Dial(dialCtx, simAddr)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", simAddr, err)
	}
	defer func() { _ = dev.Close() }()

	if simFailWrites > 0 {
		dev.FailWrites = map[int]int{8: simFailWrites, 9: simFailWrites}
	}

	tags := make([]*devicesim.Tag, 0, len(simUIDs))
	for _, uid := range simUIDs {
		tag := devicesim.NewTag(uid)
		if simBlock8 != "" {
			tag.Blocks[8] = simBlock8
		}
		tags = append(tags, tag)
	}

	res, err := dev.Run(ctx, devicesim.Script{Tags: tags, Rounds: simRounds, Interval: simInterval})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	replies := make([]string, 0, len(res.Replies))
	for reply := range res.Replies {
		replies = append(replies, reply)
	}
	sort.Strings(replies)

	table := output.NewTableData("Reply", "Count")
	for _, reply := range replies {
		table.AddRow(reply, fmt.Sprint(res.Replies[reply]))
	}
	if err := output.PrintTable(cmd.OutOrStdout(), table); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out)
	for _, tag := range tags {
		_, _ = fmt.Fprintf(out, "%s  block8=%s  block9=%s\n", tag.UID, tag.Block(8), tag.Block(9))
	}
	if res.Elapsed > 0 {
		_, _ = fmt.Fprintf(out, "\nElapsed: %s\n", res.Elapsed.Round(time.Millisecond))
	}
	return nil
}
