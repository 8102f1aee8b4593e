package bcache

import "github.com/wtcat/gobcache/internal/index"

// SetBlockSize changes d's logical block size, matching
// bcache_set_block_size. If sync is true, every modified buffer on d is
// flushed first; either way, the device is purged afterward, since its
// existing buffers are keyed by a block size that no longer applies.
func (c *Cache) SetBlockSize(d *Device, size int, sync bool) error {
	if sync {
		if err := c.SyncDevice(d); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if size <= 0 {
		c.mu.Unlock()
		return NewDeviceError("SetBlockSize", d.name, ErrCodeInvalidArgument, "block size must be positive")
	}
	bdsPerGroup := c.pool.BuffersPerGroup(size)
	if bdsPerGroup == 0 {
		c.mu.Unlock()
		return NewDeviceError("SetBlockSize", d.name, ErrCodeInvalidArgument, "block size exceeds buffer_max")
	}

	mediaBlocksPerBlock := size / d.mediaBlockSize
	shift := -1
	if mediaBlocksPerBlock > 0 && mediaBlocksPerBlock*d.mediaBlockSize == size && isPowerOfTwo(mediaBlocksPerBlock) {
		shift = log2(mediaBlocksPerBlock)
	}

	d.blockSize = size
	if isPowerOfTwo(size) {
		d.blockSizeShift = log2(size)
	} else {
		d.blockSizeShift = -1
	}
	d.mediaBlocksPerBlock = mediaBlocksPerBlock
	d.shift = shift
	d.bdsPerGroup = bdsPerGroup
	c.mu.Unlock()

	return c.Purge(d)
}

// Purge forces every buffer belonging to d to EMPTY regardless of
// modified content, per §4.9. Callers that must not lose data call
// SyncDevice first. Read-ahead state for d is reset.
func (c *Cache) Purge(d *Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.PurgeDevice(d.name)

	var purgeList []*buffer
	for _, v := range c.idx.Gather(deviceKey(d)) {
		b := v.(*buffer)
		switch b.state {
		case stateFree, stateEmpty, stateAccessPurged, stateTransferPurged:
			// already settled or already marked for discard
		case stateSync:
			c.transferWait.Wake()
			b.grp.Users--
			removeIfLinked(b)
			purgeList = append(purgeList, b)
		case stateModified:
			b.grp.Users--
			removeIfLinked(b)
			purgeList = append(purgeList, b)
		case stateCached:
			removeIfLinked(b)
			purgeList = append(purgeList, b)
		case stateTransfer:
			b.state = stateTransferPurged
		case stateAccessCached, stateAccessModified, stateAccessEmpty:
			b.state = stateAccessPurged
		default:
			raiseFatal("Purge", b.state, FatalUnexpectedState)
		}
	}

	anyFreed := false
	for _, b := range purgeList {
		b.state = stateEmpty
		if b.waiters == 0 {
			key := index.Key{Device: deviceKey(b.device), Block: int64(b.block)}
			if err := c.idx.Remove(key); err != nil {
				raiseFatal("Purge", b.state, FatalMissingIndexEntry)
			}
			b.device = nil
			b.state = stateFree
			c.lru.pushBack(b)
			anyFreed = true
		}
	}
	if anyFreed {
		c.bufferWait.Wake()
	}

	if d.ra != nil {
		d.ra.trigger = noTrigger
		d.ra.next = 0
		d.ra.count = 0
		d.ra.active = false
	}
	return nil
}

// GetDevStats returns a point-in-time snapshot of d's statistics.
func (c *Cache) GetDevStats(d *Device) StatsSnapshot {
	return d.stats.Snapshot()
}

// ResetDevStats zeros every counter in d's statistics block.
func (c *Cache) ResetDevStats(d *Device) {
	d.stats.Reset()
}

// Ioctl dispatches one of the named request codes against d, mirroring
// the original's bcache_ioctl entry point. Most callers use the typed
// wrappers (SetBlockSize, Purge, SyncDevice, Device.BlockSize, ...)
// directly; Ioctl exists for drivers and tests that want to drive the
// cache through the same uniform command set a device driver sees from
// the other side.
func (c *Cache) Ioctl(d *Device, cmd IoctlCmd, arg any) (any, error) {
	switch cmd {
	case CmdGetMediaBlockSize:
		return d.mediaBlockSize, nil
	case CmdGetBlockSize:
		return d.BlockSize(), nil
	case CmdSetBlockSize:
		size, ok := arg.(int)
		if !ok {
			return nil, NewDeviceError("Ioctl", d.name, ErrCodeInvalidArgument, "SET_BLOCK_SIZE requires an int argument")
		}
		return nil, c.SetBlockSize(d, size, true)
	case CmdGetSize:
		return d.BlockCount(), nil
	case CmdSyncDevice:
		return nil, c.SyncDevice(d)
	case CmdCapabilities:
		return d.capabilities, nil
	case CmdGetDiskDev:
		return d.Physical(), nil
	case CmdPurgeDevice:
		return nil, c.Purge(d)
	case CmdGetDevStats:
		snap := d.stats.Snapshot()
		return &snap, nil
	case CmdResetDevStats:
		d.stats.Reset()
		return nil, nil
	default:
		return nil, NewDeviceError("Ioctl", d.name, ErrCodeInvalidArgument, "unknown ioctl command")
	}
}
