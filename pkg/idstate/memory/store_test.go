package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/memory"
	"github.com/marmos91/rfidgate/pkg/idstate/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) idstate.Store {
		return memory.New()
	})
}

func TestLoadReturnsCopy(t *testing.T) {
	s := memory.NewWithState(idstate.State{NextID: 3, UsedIDs: []uint64{1, 2}})

	st, err := s.Load(t.Context())
	require.NoError(t, err)
	st.UsedIDs[0] = 99

	again, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, again.UsedIDs)
	assert.Zero(t, s.Saves())
}
