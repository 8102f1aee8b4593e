package bcache

import (
	"context"

	"github.com/wtcat/gobcache/internal/index"
)

// noTrigger is the distinguished sentinel disabling further linear
// read-ahead for a device until Read re-arms one.
const noTrigger BlockNum = -1

// readAheadState is a device's read-ahead bookkeeping: the block whose
// access triggers the next linear read-ahead, the block to start the
// next batch from, the requested batch size, and whether a batch is
// currently in flight. Kept as a single nested value on Device per the
// "Read-ahead task extraction" design note.
type readAheadState struct {
	trigger BlockNum
	next    BlockNum
	count   int
	active  bool
}

// maybeTriggerReadAhead arms a read-ahead batch when block equals d's
// trigger and no batch is already in flight for d. Callers must hold
// c.mu.
func (c *Cache) maybeTriggerReadAhead(d *Device, block BlockNum) {
	if d.ra == nil || c.cfg.MaxReadAheadBlocks <= 0 {
		return
	}
	if d.ra.trigger != noTrigger && block == d.ra.trigger && !d.ra.active {
		d.ra.active = true
		c.queueReadAhead(d)
	}
}

// queueReadAhead adds d to the read-ahead chain (if not already queued)
// and signals the read-ahead task. Callers must hold c.mu.
func (c *Cache) queueReadAhead(d *Device) {
	if c.raQueued[d] {
		return
	}
	c.raQueued[d] = true
	c.raChain = append(c.raChain, d)
	c.signalReadAhead()
}

// readAheadLoop is the background read-ahead task: it drains the chain
// whenever signaled, running each queued device's batch in turn.
func (c *Cache) readAheadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.raSignal:
		}

		c.mu.Lock()
		chain := c.raChain
		c.raChain = nil
		for _, d := range chain {
			delete(c.raQueued, d)
		}
		c.mu.Unlock()

		for _, d := range chain {
			c.runReadAhead(ctx, d)
		}
	}
}

// runReadAhead executes one device's pending read-ahead batch: it
// computes a transfer size bounded by max_read_ahead_blocks and
// end-of-disk, claims only genuinely empty recyclable buffers (skipping
// anything already cached or in use), updates the trigger to the batch's
// midpoint and next to its end, and then issues the multi-block read
// outside the cache lock.
func (c *Cache) runReadAhead(ctx context.Context, d *Device) {
	c.mu.Lock()
	if d.ra == nil {
		c.mu.Unlock()
		return
	}

	start := d.ra.next
	want := d.ra.count
	if want > c.cfg.MaxReadAheadBlocks {
		want = c.cfg.MaxReadAheadBlocks
	}
	if remaining := d.BlockCount() - start; BlockNum(want) > remaining {
		want = int(remaining)
	}
	if want <= 0 {
		d.ra.active = false
		d.ra.trigger = noTrigger
		c.mu.Unlock()
		return
	}

	var entries []sgEntry
	for i := 0; i < want; i++ {
		block := start + BlockNum(i)
		key := index.Key{Device: deviceKey(d), Block: int64(block)}
		if _, ok := c.idx.Lookup(key); ok {
			continue
		}
		cand := c.findRecyclable(d)
		if cand == nil {
			break
		}
		c.lru.remove(cand)
		if cand.grp.BufsPerGroup != d.bdsPerGroup {
			c.repartitionGroup(cand.grp, d.bdsPerGroup, d.name)
			break
		}
		cand.device = d
		cand.block = block
		cand.state = stateTransfer
		cand.hold = 0
		cand.grp.Users++
		if err := c.idx.Insert(key, cand); err != nil {
			raiseFatal("runReadAhead", cand.state, FatalDuplicateIndexEntry)
		}
		entries = append(entries, sgEntry{Block: d.toMediaBlock(block), Mem: cand.mem, Buf: cand})
	}

	d.ra.active = false
	if len(entries) == 0 {
		c.mu.Unlock()
		return
	}
	d.ra.trigger = start + BlockNum(len(entries))/2
	d.ra.next = start + BlockNum(len(entries))
	c.mu.Unlock()

	req := newRequest(OpRead, entries)
	transferErr := c.performTransfer(d, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	d.stats.recordReadAhead(uint64(len(entries)), transferErr)
	c.observer.ObserveReadAhead(uint64(len(entries)), transferErr)
	anyWaiters := false
	for _, e := range entries {
		b := e.Buf
		b.grp.Users--
		if transferErr == nil && b.state == stateTransfer {
			b.state = stateCached
			b.raFilled = true
			c.lru.pushBack(b)
		} else {
			c.discard(b)
		}
		if b.waiters > 0 {
			anyWaiters = true
		}
	}
	if anyWaiters {
		c.transferWait.Wake()
	} else {
		c.bufferWait.Wake()
	}
}
