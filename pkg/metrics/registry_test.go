package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRegistry(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		registry = nil
		mu.Unlock()
	})

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())

	reg := InitRegistry()
	require.NotNil(t, reg)
	assert.True(t, IsEnabled())
	assert.Same(t, reg, GetRegistry())
	assert.Same(t, reg, InitRegistry(), "second call returns the same registry")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "runtime collectors are registered")
}
