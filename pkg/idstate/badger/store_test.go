package badger_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/badger"
	"github.com/marmos91/rfidgate/pkg/idstate/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) idstate.Store {
		s, err := badger.OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	s, err := badger.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(t.Context(), idstate.State{NextID: 3, UsedIDs: []uint64{1, 2}}))
	require.NoError(t, s.Reserve(t.Context(), 3, 4))
	require.NoError(t, s.Healthcheck(t.Context()))
	require.NoError(t, s.Close())

	s, err = badger.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	st, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.NextID)
	assert.Equal(t, []uint64{1, 2, 3}, st.UsedIDs)
}
