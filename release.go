package bcache

// Release gives up a buffer obtained clean (via Get or Read) without
// modifying it. ACCESS_CACHED settles back to CACHED on the LRU list;
// ACCESS_EMPTY and ACCESS_PURGED (a purge raced the hold) are fully
// discarded, since nothing of value survived. ACCESS_MODIFIED is
// rejected: a caller that wrote into the buffer must call
// ReleaseModified instead.
func (c *Cache) Release(buf *Buf) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := buf.b

	switch b.state {
	case stateAccessCached:
		b.grp.Users--
		b.state = stateCached
		c.lru.pushBack(b)
		c.wakeAfterRelease(b)
		return nil
	case stateAccessEmpty, stateAccessPurged:
		b.grp.Users--
		c.discard(b)
		c.wakeAfterRelease(b)
		return nil
	default:
		raiseFatal("Release", b.state, FatalUnexpectedState)
		return nil
	}
}

// ReleaseModified gives up a buffer after writing into it, marking it
// dirty. ACCESS_CACHED, ACCESS_EMPTY, and ACCESS_MODIFIED all settle to
// MODIFIED and join the swapout engine's work queue; none of them change
// the group's user count, since every one of those access states already
// carried the charge that MODIFIED itself carries. ACCESS_PURGED still
// discards: a purge means the block's content is no longer wanted
// regardless of what the caller just wrote.
func (c *Cache) ReleaseModified(buf *Buf) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := buf.b

	switch b.state {
	case stateAccessCached, stateAccessEmpty, stateAccessModified:
		return c.releaseModifiedLocked(b)
	case stateAccessPurged:
		b.grp.Users--
		c.discard(b)
		c.wakeAfterRelease(b)
		return nil
	default:
		raiseFatal("ReleaseModified", b.state, FatalUnexpectedState)
		return nil
	}
}

// releaseModifiedLocked moves b to MODIFIED and queues it for swapout.
// The hold timer is (re)armed only on the clean-to-dirty transition; a
// buffer that was already MODIFIED before this access keeps whatever
// hold it already had left. Callers must hold c.mu.
func (c *Cache) releaseModifiedLocked(b *buffer) error {
	alreadyDirty := b.state == stateAccessModified
	if !alreadyDirty {
		b.hold = c.cfg.SwapBlockHold
	}
	b.state = stateModified
	c.modified.pushBack(b)
	if b.waiters > 0 {
		c.accessWait.Wake()
	} else if c.bufferWait.Waiting() {
		c.signalSwapout()
	}
	return nil
}

// Sync forces buf's buffer out to its device and waits for the write to
// complete, returning its error. The buffer must currently be held in
// one of the three ACCESS_* obtain-states (ACCESS_PURGED is rejected: a
// purged buffer has nothing left to sync).
func (c *Cache) Sync(buf *Buf) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := buf.b

	if !b.state.isAccess() || b.state == stateAccessPurged {
		raiseFatal("Sync", b.state, FatalUnexpectedState)
	}

	c.moveToSyncLocked(b)
	for b.state.isTransferring() {
		b.waiters++
		c.transferWait.Wait()
		b.waiters--
	}

	// The swapout engine settles a synced buffer to CACHED on success or
	// EMPTY on failure, per the TRANSFER completion contract. A CACHED
	// buffer is back on the LRU list; an EMPTY one stays in the index,
	// because b.waiters was held > 0 throughout. Unlink and re-obtain it the same
	// way the acquisition loop does, so Sync behaves as a transparent
	// flush rather than an implicit release — a buffer that was dirty and
	// synced cleanly comes back as ACCESS_CACHED, correctly reflecting
	// that it is no longer modified.
	err := b.lastErr
	b.lastErr = nil
	removeIfLinked(b)
	c.obtain(b)
	return err
}
