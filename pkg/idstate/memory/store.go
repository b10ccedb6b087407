// Package memory keeps identifier state in process memory. Nothing survives a
// restart; it exists for tests and throwaway runs.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/marmos91/rfidgate/pkg/idstate"
)

type Store struct {
	mu    sync.Mutex
	state *idstate.State
	saves int
}

var _ idstate.Store = (*Store)(nil)

// New returns an empty store. Load reports idstate.ErrNotFound until the
// first Save.
func New() *Store {
	return &Store{}
}

// NewWithState returns a store pre-loaded with st.
func NewWithState(st idstate.State) *Store {
	s := &Store{}
	s.put(st)
	return s
}

func (s *Store) Load(ctx context.Context) (idstate.State, error) {
	if err := ctx.Err(); err != nil {
		return idstate.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return idstate.State{}, idstate.ErrNotFound
	}
	return idstate.State{NextID: s.state.NextID, UsedIDs: slices.Clone(s.state.UsedIDs)}, nil
}

func (s *Store) Save(ctx context.Context, st idstate.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(st)
	s.saves++
	return nil
}

func (s *Store) put(st idstate.State) {
	n := st.Normalize()
	s.state = &n
}

// Saves reports how many times Save was called.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Store) Close() error { return nil }
