package bcache

import (
	"context"
	"sort"
	"time"
)

// swapBatch is a planned transfer: a block-ordered run of buffers pulled
// off the modified or sync list, all bound for the same device, and
// contiguous when the device advertises MULTISECTOR_CONT. isSync marks a batch that must report back to an active
// SyncDevice call once it completes.
type swapBatch struct {
	device  *Device
	entries []sgEntry
	isSync  bool
}

// swapoutWorker executes batches handed to it by the main swapout loop,
// then returns itself to the cache's free-worker list. Workers exit when
// the supervising context is cancelled.
type swapoutWorker struct {
	c       *Cache
	batchCh chan *swapBatch
}

func newSwapoutWorker(c *Cache) *swapoutWorker {
	return &swapoutWorker{c: c, batchCh: make(chan *swapBatch, 1)}
}

func (w *swapoutWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-w.batchCh:
			w.c.executeBatch(batch)
			w.c.mu.Lock()
			w.c.freeWorkers = append(w.c.freeWorkers, w)
			w.c.mu.Unlock()
		}
	}
}

// swapoutLoop is the main swapout thread: it wakes on signal or on
// swapout_period, then drains the modified and sync lists until nothing
// eligible remains.
func (c *Cache) swapoutLoop(ctx context.Context) {
	period := c.cfg.SwapoutPeriod
	if period <= 0 {
		period = 250 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.swapoutSignal:
		case <-time.After(period):
		}

		c.mu.Lock()
		c.drainLocked(ctx)
		c.mu.Unlock()
	}
}

// drainLocked repeatedly builds and dispatches batches until a scan
// finds nothing eligible, decrementing hold timers exactly once per
// outer call. Callers must hold c.mu; it is released and re-acquired
// around batches this thread executes itself.
func (c *Cache) drainLocked(ctx context.Context) {
	c.decrementHoldTimersLocked()
	for {
		batch := c.buildBatchLocked()
		if batch == nil {
			break
		}
		c.dispatchBatchLocked(batch)
	}
	c.maybeFinishSyncLocked()
}

func (c *Cache) decrementHoldTimersLocked() {
	delta := c.cfg.SwapoutPeriod
	c.modified.forEach(func(b *buffer) bool {
		if b.hold > delta {
			b.hold -= delta
		} else {
			b.hold = 0
		}
		return true
	})
}

// isSwapoutEligibleLocked implements §4.6's eligibility predicate: a
// buffer is force-expired (hold treated as 0) when a matching sync is
// active or something is already waiting on it specifically; otherwise
// it is eligible once its hold timer has reached zero.
func (c *Cache) isSwapoutEligibleLocked(b *buffer) bool {
	forced := (c.syncActive && (c.syncDevice == nil || c.syncDevice == b.device)) || b.waiters > 0
	if forced {
		b.hold = 0
		return true
	}
	return b.hold <= 0
}

// buildBatchLocked selects a device (the active sync's device, or the
// first eligible buffer's device), gathers every eligible buffer bound
// for it from the sync and modified lists, sorts the run by ascending
// block, and slices off a prefix honoring max_write_blocks and, if the
// device advertises MULTISECTOR_CONT, contiguity. Selected buffers move
// to TRANSFER and are unlinked from whatever list held them.
func (c *Cache) buildBatchLocked() *swapBatch {
	target := c.syncDevice
	if c.syncActive && target == nil {
		if first := c.firstCandidateDeviceLocked(); first != nil {
			target = first
		} else {
			return nil
		}
	}

	var candidates []*buffer
	collect := func(b *buffer, alwaysEligible bool) {
		if !alwaysEligible && !c.isSwapoutEligibleLocked(b) {
			return
		}
		if target != nil && b.device != target {
			return
		}
		candidates = append(candidates, b)
	}
	c.sync.forEach(func(b *buffer) bool { collect(b, true); return true })
	c.modified.forEach(func(b *buffer) bool { collect(b, false); return true })

	if len(candidates) == 0 {
		return nil
	}
	if target == nil {
		target = candidates[0].device
		filtered := candidates[:0:0]
		for _, b := range candidates {
			if b.device == target {
				filtered = append(filtered, b)
			}
		}
		candidates = filtered
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].block < candidates[j].block })

	maxBlocks := c.cfg.MaxWriteBlocks
	if maxBlocks <= 0 {
		maxBlocks = len(candidates)
	}
	multisector := target.capabilities&CapMultisectorCont != 0

	var batch []*buffer
	for _, b := range candidates {
		if len(batch) >= maxBlocks {
			break
		}
		if len(batch) > 0 && multisector && b.block != batch[len(batch)-1].block+1 {
			break
		}
		batch = append(batch, b)
	}

	entries := make([]sgEntry, len(batch))
	for i, b := range batch {
		removeIfLinked(b)
		b.state = stateTransfer
		entries[i] = sgEntry{Block: target.toMediaBlock(b.block), Mem: b.mem, Buf: b}
	}

	isSync := c.syncActive && (c.syncDevice == nil || c.syncDevice == target)
	return &swapBatch{device: target, entries: entries, isSync: isSync}
}

// firstCandidateDeviceLocked finds the device of the first eligible
// buffer, scanning the sync list before the modified list, for a
// sync-all pass that has not yet picked a target device this round.
func (c *Cache) firstCandidateDeviceLocked() *Device {
	var found *Device
	c.sync.forEach(func(b *buffer) bool {
		found = b.device
		return false
	})
	if found != nil {
		return found
	}
	c.modified.forEach(func(b *buffer) bool {
		if c.isSwapoutEligibleLocked(b) {
			found = b.device
			return false
		}
		return true
	})
	return found
}

// dispatchBatchLocked hands batch to an idle worker, or — if this is a
// sync batch, or no worker is free — executes it on the calling
// goroutine (the main swapout thread). Sync batches always run on the
// main thread, since only it signals the sync requester on completion.
// Callers must hold c.mu; it is released while the batch is in flight.
func (c *Cache) dispatchBatchLocked(batch *swapBatch) {
	if !batch.isSync && len(c.freeWorkers) > 0 {
		w := c.freeWorkers[len(c.freeWorkers)-1]
		c.freeWorkers = c.freeWorkers[:len(c.freeWorkers)-1]
		c.mu.Unlock()
		w.batchCh <- batch
		c.mu.Lock()
		return
	}
	c.mu.Unlock()
	c.executeBatch(batch)
	c.mu.Lock()
}

// executeBatch issues batch to its device's driver and applies
// completion handling once the transfer returns.
func (c *Cache) executeBatch(batch *swapBatch) {
	c.log.SwapoutBatch(batch.device.name, len(batch.entries), batch.isSync)
	req := newRequest(OpWrite, batch.entries)
	transferErr := c.performTransfer(batch.device, req)

	if transferErr == nil && batch.isSync && batch.device.capabilities&CapSync != 0 {
		if _, syncErr := batch.device.driver.Ioctl(batch.device, CmdSyncDevice, nil); syncErr != nil {
			transferErr = syncErr
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeBatchLocked(batch, transferErr)
	if batch.isSync {
		c.maybeFinishSyncLocked()
	}
}

// completeBatchLocked applies §4.6's per-entry completion handling:
// every buffer drops the group-user charge it has carried since it left
// MODIFIED; a clean TRANSFER settles to CACHED and rejoins the LRU list,
// while anything else (an I/O error, or TRANSFER_PURGED) is discarded.
// Callers must hold c.mu.
func (c *Cache) completeBatchLocked(batch *swapBatch, transferErr error) {
	anyWaiters := false
	for _, e := range batch.entries {
		b := e.Buf
		b.grp.Users--
		b.lastErr = transferErr
		if transferErr == nil && b.state == stateTransfer {
			b.state = stateCached
			c.lru.pushBack(b)
		} else {
			c.discard(b)
		}
		if b.waiters > 0 {
			anyWaiters = true
		}
	}
	batch.device.stats.recordWrite(uint64(len(batch.entries)), transferErr)
	c.observer.ObserveWrite(uint64(len(batch.entries)), transferErr)
	if batch.isSync && transferErr != nil && c.syncErr == nil {
		c.syncErr = transferErr
	}
	if anyWaiters {
		c.transferWait.Wake()
	} else {
		c.bufferWait.Wake()
	}
}

// maybeFinishSyncLocked clears the active sync once its target device
// (or every device, for sync-all) has nothing left on the modified or
// sync list, and wakes every goroutine parked in SyncDevice.
func (c *Cache) maybeFinishSyncLocked() {
	if !c.syncActive {
		return
	}
	pending := false
	check := func(b *buffer) bool {
		if c.syncDevice == nil || b.device == c.syncDevice {
			pending = true
			return false
		}
		return true
	}
	c.sync.forEach(check)
	if !pending {
		c.modified.forEach(check)
	}
	if pending {
		return
	}

	c.syncActive = false
	c.syncDevice = nil
	err := c.syncErr
	c.syncErr = nil
	waiters := c.syncWaiters
	c.syncWaiters = nil
	for _, ch := range waiters {
		ch <- err
		close(ch)
	}
}

// SyncDevice forces every modified buffer belonging to d (or, if d is
// nil, every device) out to media and waits for the flush to complete.
// Concurrent SyncDevice calls serialize through the sync lock; the
// cache lock is only ever held briefly while arming or checking the
// sync flag, per the lock hierarchy in §5.
func (c *Cache) SyncDevice(d *Device) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	c.syncActive = true
	c.syncDevice = d
	ch := make(chan error, 1)
	c.syncWaiters = append(c.syncWaiters, ch)
	c.signalSwapout()
	c.mu.Unlock()

	return <-ch
}
