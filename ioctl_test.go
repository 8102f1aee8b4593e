package bcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtcat/gobcache/internal/index"
)

func TestPurgeDiscardsCachedAndModifiedBuffers(t *testing.T) {
	c, d, _ := newTestCache(t, 8)

	// A clean Read settles to CACHED on Release, rather than being
	// discarded outright, so it actually lands on the index/LRU for
	// Purge to find.
	cachedBuf, err := c.Read(d, 0)
	require.NoError(t, err)
	require.NoError(t, c.Release(cachedBuf))

	buf2, err := c.Get(d, 1)
	require.NoError(t, err)
	copy(buf2.Bytes(), []byte("x"))
	require.NoError(t, c.ReleaseModified(buf2))

	require.NoError(t, c.Purge(d))

	c.mu.Lock()
	assert.True(t, c.modified.empty())
	_, ok := c.idx.Lookup(index.Key{Device: deviceKey(d), Block: 0})
	c.mu.Unlock()
	assert.False(t, ok)
}

func TestPurgeMarksAccessPurgedForHeldBuffer(t *testing.T) {
	c, d, _ := newTestCache(t, 8)

	buf, err := c.Get(d, 2)
	require.NoError(t, err)

	require.NoError(t, c.Purge(d))
	assert.Equal(t, stateAccessPurged, buf.b.state)
	require.NoError(t, c.Release(buf))
}

func TestSetBlockSizeUpdatesBlockSize(t *testing.T) {
	c, d, _ := newTestCache(t, 8)

	buf, err := c.Get(d, 0)
	require.NoError(t, err)
	require.NoError(t, c.Release(buf))

	require.NoError(t, c.SetBlockSize(d, 512, false))
	assert.Equal(t, 512, d.BlockSize())
}

func TestSetBlockSizeRejectsOversizedBlock(t *testing.T) {
	c, d, _ := newTestCache(t, 8)
	err := c.SetBlockSize(d, 1<<20, false)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestGetAndResetDevStats(t *testing.T) {
	c, d, _ := newTestCache(t, 8)
	_, err := c.Read(d, 0)
	require.NoError(t, err)

	snap := c.GetDevStats(d)
	assert.EqualValues(t, 1, snap.ReadMisses)

	c.ResetDevStats(d)
	snap = c.GetDevStats(d)
	assert.EqualValues(t, 0, snap.ReadMisses)
}

func TestIoctlDispatchesKnownCommands(t *testing.T) {
	c, d, _ := newTestCache(t, 8)

	v, err := c.Ioctl(d, CmdGetBlockSize, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, v)

	v, err = c.Ioctl(d, CmdGetSize, nil)
	require.NoError(t, err)
	assert.Equal(t, d.BlockCount(), v)
}

func TestIoctlRejectsUnknownCommand(t *testing.T) {
	c, d, _ := newTestCache(t, 8)
	_, err := c.Ioctl(d, IoctlCmd(999), nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}
