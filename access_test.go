package bcache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetThenReleaseRoundTrips(t *testing.T) {
	c, d, _ := newTestCache(t, 16)

	buf, err := c.Get(d, 3)
	require.NoError(t, err)
	assert.Equal(t, stateAccessEmpty, buf.b.state)
	copy(buf.Bytes(), []byte("hello"))
	require.NoError(t, c.Release(buf))

	// The write never settled (Release discards ACCESS_EMPTY), so a
	// fresh Get of the same block starts empty again.
	buf2, err := c.Get(d, 3)
	require.NoError(t, err)
	assert.Equal(t, stateAccessEmpty, buf2.b.state)
	require.NoError(t, c.Release(buf2))
}

func TestGetThenReleaseModifiedPersists(t *testing.T) {
	c, d, _ := newTestCache(t, 16)

	buf, err := c.Get(d, 2)
	require.NoError(t, err)
	copy(buf.Bytes(), []byte("payload"))
	require.NoError(t, c.ReleaseModified(buf))

	buf2, err := c.Get(d, 2)
	require.NoError(t, err)
	assert.Equal(t, stateAccessModified, buf2.b.state)
	assert.Equal(t, "payload", string(buf2.Bytes()[:7]))
	require.NoError(t, c.ReleaseModified(buf2))
}

func TestReadOnEmptyBlockIssuesTransfer(t *testing.T) {
	c, d, drv := newTestCache(t, 16)

	readBuf, err := c.Read(d, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, drv.IOCalls())
	assert.Equal(t, stateAccessCached, readBuf.b.state)
	require.NoError(t, c.Release(readBuf))
}

func TestReadPropagatesDriverFailure(t *testing.T) {
	c, d, drv := newTestCache(t, 4)
	drv.FailRead = errors.New("media fault")

	buf, err := c.Read(d, 1)
	assert.Nil(t, buf)
	assert.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeIOError))
}

func TestAcquireRejectsOutOfRangeBlock(t *testing.T) {
	c, d, _ := newTestCache(t, 4)
	_, err := c.Get(d, 999)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestPeekIsANoOpWithoutReadAhead(t *testing.T) {
	c, d, _ := newTestCache(t, 16)
	assert.NotPanics(t, func() { c.Peek(d, 0, 4) })
}
