package bcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.validate())
	assert.Greater(t, c.MaxWriteBlocks, 0)
	assert.Greater(t, c.BufferMax, 0)
	assert.Equal(t, 0, c.BufferMax%c.BufferMin)
	assert.Equal(t, 0, c.Size%c.BufferMin)
}

func TestConfigValidateRejectsBadBufferMin(t *testing.T) {
	c := DefaultConfig()
	c.BufferMin = 0
	assert.Error(t, c.validate())
}

func TestConfigValidateRejectsBufferMaxBelowMin(t *testing.T) {
	c := DefaultConfig()
	c.BufferMax = c.BufferMin - 1
	assert.Error(t, c.validate())
}

func TestConfigValidateRejectsNonMultipleBufferMax(t *testing.T) {
	c := DefaultConfig()
	c.BufferMax = c.BufferMin*3 + 1
	assert.Error(t, c.validate())
}

func TestConfigValidateRejectsSizeNotMultipleOfBufferMin(t *testing.T) {
	c := DefaultConfig()
	c.Size = c.BufferMin + 1
	assert.Error(t, c.validate())
}

func TestConfigValidateRejectsNonPositiveMaxWriteBlocks(t *testing.T) {
	c := DefaultConfig()
	c.MaxWriteBlocks = 0
	assert.Error(t, c.validate())
}

func TestConfigObserverDefaultsToNoOp(t *testing.T) {
	c := &Config{}
	assert.IsType(t, NoOpObserver{}, c.observer())
}

func TestConfigObserverUsesProvided(t *testing.T) {
	s := NewStats()
	obs := NewStatsObserver(s)
	c := &Config{Observer: obs}
	assert.Same(t, obs, c.observer())
}
