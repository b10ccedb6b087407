// Package storetest is a conformance suite every idstate.Store must pass.
package storetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/pkg/idstate"
)

// StoreFactory creates a fresh, empty store for each test. Use t.TempDir()
// for paths and t.Cleanup() for teardown.
type StoreFactory func(t *testing.T) idstate.Store

// RunConformanceSuite runs the suite against stores built by factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("LoadEmpty", func(t *testing.T) {
		s := factory(t)
		_, err := s.Load(t.Context())
		assert.True(t, errors.Is(err, idstate.ErrNotFound), "got %v", err)
	})

	t.Run("SaveLoad", func(t *testing.T) {
		s := factory(t)
		want := idstate.State{NextID: 5, UsedIDs: []uint64{4, 1, 2}}
		require.NoError(t, s.Save(t.Context(), want))

		got, err := s.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(5), got.NextID)
		assert.Equal(t, []uint64{1, 2, 4}, got.UsedIDs)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Save(t.Context(), idstate.State{NextID: 9, UsedIDs: []uint64{1, 2, 3, 8}}))
		require.NoError(t, s.Save(t.Context(), idstate.State{NextID: 2, UsedIDs: []uint64{1}}))

		got, err := s.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.NextID)
		assert.Equal(t, []uint64{1}, got.UsedIDs)
	})

	t.Run("SaveEmptyUsed", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Save(t.Context(), idstate.Default()))

		got, err := s.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got.NextID)
		assert.Empty(t, got.UsedIDs)
	})

	t.Run("Reserve", func(t *testing.T) {
		s := factory(t)
		r, ok := s.(idstate.Reserver)
		if !ok {
			t.Skip("store does not implement idstate.Reserver")
		}
		require.NoError(t, s.Save(t.Context(), idstate.State{NextID: 3, UsedIDs: []uint64{1, 2}}))
		require.NoError(t, r.Reserve(t.Context(), 3, 4))
		require.NoError(t, r.Reserve(t.Context(), 7, 8))

		got, err := s.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(8), got.NextID)
		assert.Equal(t, []uint64{1, 2, 3, 7}, got.UsedIDs)
	})
}
