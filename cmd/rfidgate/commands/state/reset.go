package state

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/internal/cli/prompt"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard every reservation",
	Long: `Reset the identifier table to next_id=1 with nothing used.

Tags already in the field keep their identifiers, so a reset can hand out
duplicates. You are asked to type 'reset' unless --force is given.

Examples:
  rfidgate state reset
  rfidgate state reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	alloc, closeStore, err := openAllocator(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	summary := Summarize(alloc.Snapshot())
	label := fmt.Sprintf("Discard %d reserved identifier(s)", summary.UsedCount)

	ok, err := prompt.ConfirmDangerWithForce(label, "reset", resetForce)
	if errors.Is(err, prompt.ErrAborted) || (err == nil && !ok) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}
	if err != nil {
		return err
	}

	if err := alloc.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("failed to reset identifier state: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Identifier state reset; next tag gets 00000001")
	return nil
}
