// Package state implements the identifier state subcommands.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/idalloc"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/server"
)

// Cmd is the state subcommand.
var Cmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit the identifier table",
	Long: `Inspect and edit the identifier allocation table.

These commands open the configured state backend directly. Stop the server
first, or run it with state.watch enabled (json backend) so that edits are
merged into the running allocator.

Subcommands:
  show   Display the allocation summary
  seed   Mark identifiers as already used
  reset  Discard every reservation`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(seedCmd)
	Cmd.AddCommand(resetCmd)
}

// openAllocator loads the configured backend behind an allocator. The
// returned close function releases the store.
func openAllocator(ctx context.Context, cmd *cobra.Command) (*idalloc.Allocator, func() error, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return nil, nil, err
	}

	store, err := server.OpenStateStore(cfg.State)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	alloc, err := newAllocator(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return alloc, store.Close, nil
}

// newAllocator wraps store, refusing a snapshot that exists but cannot be
// read. The server starts fresh in that case; an edit here would overwrite
// the file with only the new reservations.
func newAllocator(ctx context.Context, store idstate.Store) (*idalloc.Allocator, error) {
	if _, err := store.Load(ctx); err != nil && !errors.Is(err, idstate.ErrNotFound) {
		return nil, fmt.Errorf("identifier state is unreadable, fix or remove it first: %w", err)
	}
	return idalloc.New(ctx, store, nil), nil
}

// Summary is the reportable view of an allocation table.
type Summary struct {
	NextID    uint64 `json:"next_id" yaml:"next_id"`
	NextTagID string `json:"next_tag_id" yaml:"next_tag_id"`
	UsedCount int    `json:"used_count" yaml:"used_count"`
	Highest   uint64 `json:"highest" yaml:"highest"`
	Gaps      uint64 `json:"gaps" yaml:"gaps"`
}

// Summarize computes a Summary.
func Summarize(st idstate.State) Summary {
	st = st.Normalize()
	return Summary{
		NextID:    st.NextID,
		NextTagID: idalloc.Format(st.NextFree()),
		UsedCount: len(st.UsedIDs),
		Highest:   st.Highest(),
		Gaps:      st.Gaps(),
	}
}
