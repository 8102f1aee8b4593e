// Package backend provides standard Driver implementations for gobcache.
package backend

import (
	"fmt"
	"sync"

	gobcache "github.com/wtcat/gobcache"
)

// ShardSize is the size of each memory shard (64KB). With 64KB shards a
// 256MB device has 4096 shards, which gives good parallelism for small
// random transfers while keeping lock overhead reasonable.
const ShardSize = 64 * 1024

// Memory is a RAM-backed Driver. It uses sharded locking so concurrent
// swapout workers touching different regions of the device don't
// serialize on a single mutex.
type Memory struct {
	data   []byte
	size   int64 // bytes
	shards []sync.RWMutex

	mediaBlockSize int
	caps           gobcache.DriverCapability
}

// NewMemory creates a memory-backed Driver of the given size in media
// blocks. caps lets tests exercise the swapout engine's
// MULTISECTOR_CONT/SYNC handling without a real device.
func NewMemory(mediaBlockSize int, mediaBlockCount int64, caps gobcache.DriverCapability) *Memory {
	size := mediaBlockCount * int64(mediaBlockSize)
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Memory{
		data:           make([]byte, size),
		size:           size,
		shards:         make([]sync.RWMutex, numShards),
		mediaBlockSize: mediaBlockSize,
		caps:           caps,
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

func (m *Memory) readAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}
	if available := m.size - off; int64(len(p)) > available {
		p = p[:available]
	}
	start, end := m.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := start; i <= end; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

func (m *Memory) writeAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("memdriver: write beyond end of device")
	}
	if available := m.size - off; int64(len(p)) > available {
		p = p[:available]
	}
	start, end := m.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

// execute runs every scatter/gather entry of req against the backing
// array and completes req exactly once, per the driver contract.
func (m *Memory) execute(req *gobcache.Request) {
	var err error
	for _, e := range req.Entries {
		off := int64(e.Block) * int64(m.mediaBlockSize)
		var opErr error
		switch req.Op {
		case gobcache.OpRead:
			_, opErr = m.readAt(e.Mem, off)
		case gobcache.OpWrite:
			_, opErr = m.writeAt(e.Mem, off)
		}
		if opErr != nil && err == nil {
			err = opErr
		}
	}
	req.Complete(err)
}

// Ioctl implements gobcache.Driver.
func (m *Memory) Ioctl(d *gobcache.Device, cmd gobcache.IoctlCmd, arg any) (any, error) {
	switch cmd {
	case gobcache.CmdIORequest:
		req, ok := arg.(*gobcache.Request)
		if !ok {
			return nil, fmt.Errorf("memdriver: IO_REQUEST argument must be *gobcache.Request")
		}
		m.execute(req)
		return nil, nil
	case gobcache.CmdGetMediaBlockSize:
		return m.mediaBlockSize, nil
	case gobcache.CmdGetSize:
		return gobcache.BlockNum(m.size / int64(m.mediaBlockSize)), nil
	case gobcache.CmdCapabilities:
		return m.caps, nil
	case gobcache.CmdSyncDevice, gobcache.CmdDeleted, gobcache.CmdPurgeDevice:
		return nil, nil
	case gobcache.CmdGetBlockSize, gobcache.CmdSetBlockSize, gobcache.CmdGetDiskDev,
		gobcache.CmdGetDevStats, gobcache.CmdResetDevStats:
		// these are handled by the cache itself (Device.BlockSize,
		// Cache.SetBlockSize, Device.Physical, Cache.GetDevStats,
		// Cache.ResetDevStats); the driver never sees them.
		return nil, nil
	default:
		return nil, fmt.Errorf("memdriver: unsupported ioctl command %v", cmd)
	}
}

var _ gobcache.Driver = (*Memory)(nil)
