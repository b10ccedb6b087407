// Package idstate defines the persisted identifier allocation table and the
// stores that hold it.
package idstate

import (
	"context"
	"errors"
	"slices"
)

// ErrNotFound is returned by Store.Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("identifier state not found")

// State is the durable allocation table.
//
// NextID is the first candidate for the next allocation and never decreases.
// UsedIDs is a superset of every identifier ever issued; it may also contain
// ids reserved out of band.
//
// The JSON shape is the legacy id_state.json format.
type State struct {
	NextID  uint64   `json:"next_id"`
	UsedIDs []uint64 `json:"used_ids"`
}

// Default is the state of a fresh installation.
func Default() State {
	return State{NextID: 1, UsedIDs: []uint64{}}
}

// Normalize returns a copy with UsedIDs sorted and deduplicated, zero removed,
// and NextID at least 1.
func (s State) Normalize() State {
	used := make([]uint64, 0, len(s.UsedIDs))
	for _, id := range s.UsedIDs {
		if id != 0 {
			used = append(used, id)
		}
	}
	slices.Sort(used)
	used = slices.Compact(used)

	next := s.NextID
	if next == 0 {
		next = 1
	}
	return State{NextID: next, UsedIDs: used}
}

// Merge combines two snapshots without ever forgetting a reservation: the
// used sets are unioned and the larger NextID wins.
func (s State) Merge(other State) State {
	merged := State{
		NextID:  max(s.NextID, other.NextID),
		UsedIDs: append(slices.Clone(s.UsedIDs), other.UsedIDs...),
	}
	return merged.Normalize()
}

// Highest returns the largest used id, or 0 when none is used.
func (s State) Highest() uint64 {
	var hi uint64
	for _, id := range s.UsedIDs {
		hi = max(hi, id)
	}
	return hi
}

// NextFree returns the id the next allocation will issue: NextID, or the
// first id above it that is not already used.
func (s State) NextFree() uint64 {
	n := s.Normalize()
	next := n.NextID
	for _, id := range n.UsedIDs {
		if id == next {
			next++
		}
	}
	return next
}

// Gaps counts ids below NextID that are not in the used set. These were
// skipped by out-of-band edits and will never be issued.
func (s State) Gaps() uint64 {
	n := s.Normalize()
	var below uint64
	for _, id := range n.UsedIDs {
		if id < n.NextID {
			below++
		}
	}
	return (n.NextID - 1) - below
}

// Store persists State.
//
// Implementations must be safe for concurrent use, though the allocator
// serializes its own calls.
type Store interface {
	// Load returns the saved snapshot or ErrNotFound.
	Load(ctx context.Context) (State, error)

	// Save replaces the saved snapshot.
	Save(ctx context.Context, s State) error

	// Close releases resources held by the store.
	Close() error
}

// Reserver is implemented by stores that can persist a single allocation
// without rewriting the whole table.
type Reserver interface {
	Reserve(ctx context.Context, id uint64, nextID uint64) error
}
