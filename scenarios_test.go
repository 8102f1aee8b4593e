package bcache

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDriver is a minimal Driver that, unlike MockDriver, keeps every
// *Request it was handed so a test can inspect batch boundaries and entry
// ordering directly — needed for the scenarios below that check exactly
// how many driver calls were made and in what block order.
type recordingDriver struct {
	mu       sync.Mutex
	data     []byte
	caps     DriverCapability
	requests []*Request
}

func newRecordingDriver(sizeBytes int, caps DriverCapability) *recordingDriver {
	return &recordingDriver{data: make([]byte, sizeBytes), caps: caps}
}

func (r *recordingDriver) Ioctl(d *Device, cmd IoctlCmd, arg any) (any, error) {
	switch cmd {
	case CmdIORequest:
		req := arg.(*Request)
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.mu.Unlock()
		for _, e := range req.Entries {
			off := int(e.Block) * d.mediaBlockSize
			switch req.Op {
			case OpRead:
				copy(e.Mem, r.data[off:])
			case OpWrite:
				copy(r.data[off:], e.Mem)
			}
		}
		req.Complete(nil)
		return nil, nil
	case CmdCapabilities:
		return r.caps, nil
	default:
		return nil, nil
	}
}

func (r *recordingDriver) Requests() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Request, len(r.requests))
	copy(out, r.requests)
	return out
}

var _ Driver = (*recordingDriver)(nil)

func newScenarioCache(t *testing.T) *Cache {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Size = 8192
	cfg.BufferMin = 512
	cfg.BufferMax = 512
	cfg.SwapoutWorkers = 0
	cfg.MaxReadAheadBlocks = 0
	c, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// S1: a read miss issues exactly one driver call and is observed by the
// caller; the immediately following read of the same block is a cache hit
// with no further driver call.
func TestScenarioS1ReadMissThenReadHit(t *testing.T) {
	c := newScenarioCache(t)
	drv := newRecordingDriver(1024*512, 0)
	pattern := bytes.Repeat([]byte("A"), 512)
	copy(drv.data[10*512:], pattern)
	d, err := c.CreateDevice("s1", 512, 1024, drv, nil)
	require.NoError(t, err)

	buf, err := c.Read(d, 10)
	require.NoError(t, err)
	assert.Equal(t, pattern, buf.Bytes())
	assert.Len(t, drv.Requests(), 1)
	snap := c.GetDevStats(d)
	assert.EqualValues(t, 0, snap.ReadHits)
	assert.EqualValues(t, 1, snap.ReadMisses)
	require.NoError(t, c.Release(buf))

	buf2, err := c.Read(d, 10)
	require.NoError(t, err)
	assert.Len(t, drv.Requests(), 1) // unchanged: no new driver call
	snap = c.GetDevStats(d)
	assert.EqualValues(t, 1, snap.ReadHits)
	assert.EqualValues(t, 1, snap.ReadMisses)
	require.NoError(t, c.Release(buf2))
}

// S2: a modified buffer produces no driver write until sync_device, which
// then issues exactly one write at the right block.
func TestScenarioS2WriteThenSync(t *testing.T) {
	c := newScenarioCache(t)
	drv := newRecordingDriver(1024*512, CapSync)
	d, err := c.CreateDevice("s2", 512, 1024, drv, nil)
	require.NoError(t, err)

	buf, err := c.Get(d, 20)
	require.NoError(t, err)
	copy(buf.Bytes(), bytes.Repeat([]byte("B"), 512))
	require.NoError(t, c.ReleaseModified(buf))
	assert.Empty(t, drv.Requests())

	require.NoError(t, c.SyncDevice(d))
	reqs := drv.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Entries, 1)
	assert.EqualValues(t, 20, reqs[0].Entries[0].Block)
	assert.Equal(t, bytes.Repeat([]byte("B"), 512), reqs[0].Entries[0].Mem)

	snap := c.GetDevStats(d)
	assert.EqualValues(t, 0, snap.ReadBlocks)
	assert.EqualValues(t, 1, snap.WriteBlocks)
}

// S3: modifying blocks out of order still flushes as a single batch in
// ascending block order.
func TestScenarioS3OrderedBatch(t *testing.T) {
	c := newScenarioCache(t)
	drv := newRecordingDriver(64*512, CapSync)
	d, err := c.CreateDevice("s3", 512, 64, drv, nil)
	require.NoError(t, err)

	for _, block := range []BlockNum{5, 3, 8} {
		buf, err := c.Get(d, block)
		require.NoError(t, err)
		require.NoError(t, c.ReleaseModified(buf))
	}

	require.NoError(t, c.SyncDevice(d))
	reqs := drv.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Entries, 3)
	got := []BlockNum{reqs[0].Entries[0].Block, reqs[0].Entries[1].Block, reqs[0].Entries[2].Block}
	assert.Equal(t, []BlockNum{3, 5, 8}, got)
}

// S4: a MULTISECTOR_CONT driver forces a contiguity break into a second
// batch rather than merging it into the first.
func TestScenarioS4MultisectorContFlush(t *testing.T) {
	c := newScenarioCache(t)
	drv := newRecordingDriver(64*512, CapSync|CapMultisectorCont)
	d, err := c.CreateDevice("s4", 512, 64, drv, nil)
	require.NoError(t, err)

	for _, block := range []BlockNum{1, 2, 3, 10} {
		buf, err := c.Get(d, block)
		require.NoError(t, err)
		require.NoError(t, c.ReleaseModified(buf))
	}

	require.NoError(t, c.SyncDevice(d))
	reqs := drv.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Entries, 3)
	assert.Equal(t, []BlockNum{1, 2, 3}, []BlockNum{
		reqs[0].Entries[0].Block, reqs[0].Entries[1].Block, reqs[0].Entries[2].Block,
	})
	require.Len(t, reqs[1].Entries, 1)
	assert.EqualValues(t, 10, reqs[1].Entries[0].Block)
}

// S5: purging a device discards unsaved modifications; a later read goes
// back to the driver and never observes what was written.
func TestScenarioS5PurgeDiscardsModifications(t *testing.T) {
	c := newScenarioCache(t)
	drv := newRecordingDriver(64*512, 0)
	d, err := c.CreateDevice("s5", 512, 64, drv, nil)
	require.NoError(t, err)

	buf, err := c.Get(d, 7)
	require.NoError(t, err)
	copy(buf.Bytes(), bytes.Repeat([]byte("Z"), 512))
	require.NoError(t, c.ReleaseModified(buf))

	require.NoError(t, c.Purge(d))
	assert.Empty(t, drv.Requests())

	readBuf, err := c.Read(d, 7)
	require.NoError(t, err)
	require.Len(t, drv.Requests(), 1)
	assert.NotEqual(t, bytes.Repeat([]byte("Z"), 512), readBuf.Bytes())
	require.NoError(t, c.Release(readBuf))
}

// S6: accessing a larger-block device against a pool whose sole group is
// currently partitioned for a smaller block size forces a repartition,
// shrinking the total buffer count.
func TestScenarioS6GroupReallocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 4096
	cfg.BufferMin = 512
	cfg.BufferMax = 4096
	cfg.SwapoutWorkers = 0
	cfg.MaxReadAheadBlocks = 0
	c, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	drvA := newRecordingDriver(64*512, 0)
	devA, err := c.CreateDevice("a", 512, 64, drvA, nil)
	require.NoError(t, err)

	require.Equal(t, 8, c.pool.TotalBuffers())

	for block := BlockNum(0); block < 8; block++ {
		buf, err := c.Read(devA, block)
		require.NoError(t, err)
		require.NoError(t, c.Release(buf))
	}

	drvB := newRecordingDriver(4*4096, 0)
	devB, err := c.CreateDevice("b", 4096, 4, drvB, nil)
	require.NoError(t, err)

	buf, err := c.Get(devB, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, c.pool.TotalBuffers())
	require.NoError(t, c.Release(buf))
}
