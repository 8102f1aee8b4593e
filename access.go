package bcache

// Get returns a buffer for (d, block) without reading from media: its
// state becomes ACCESS_CACHED, ACCESS_EMPTY, or ACCESS_MODIFIED
// depending on what it held before. Suitable when the caller intends to
// overwrite the whole block. The returned buffer must be released via
// Release, ReleaseModified, or Sync.
func (c *Cache) Get(d *Device, block BlockNum) (*Buf, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.acquire(d, block)
	if err != nil {
		return nil, err
	}
	return &Buf{b: b, c: c, d: d}, nil
}

// Read returns a buffer for (d, block) with its contents valid:
// ACCESS_CACHED or ACCESS_MODIFIED. If the buffer was EMPTY, a
// single-block read is issued synchronously before returning; a failed
// read discards the buffer entirely and returns an I/O error with a nil
// Buf — there is nothing left for the caller to release.
func (c *Cache) Read(d *Device, block BlockNum) (*Buf, error) {
	c.mu.Lock()

	b, err := c.acquire(d, block)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	if b.state != stateAccessEmpty {
		d.stats.recordReadHit()
		c.observer.ObserveReadHit()
		if b.raFilled {
			b.raFilled = false
			d.stats.recordReadAheadPeek()
			c.observer.ObserveReadAheadPeek()
		}
		c.maybeTriggerReadAhead(d, block)
		c.mu.Unlock()
		return &Buf{b: b, c: c, d: d}, nil
	}

	if d.ra != nil && !d.ra.active && d.ra.trigger != block {
		d.ra.trigger = block + 1
		d.ra.next = block + 2
		d.ra.count = c.cfg.MaxReadAheadBlocks
	}
	c.maybeTriggerReadAhead(d, block)
	req := c.buildReadRequest(d, b)
	c.mu.Unlock()

	transferErr := c.performTransfer(d, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	d.stats.recordReadMiss(1, transferErr)
	c.observer.ObserveReadMiss(1, transferErr)
	c.completeReadEntries(req, transferErr)

	if transferErr != nil {
		return nil, WrapError("Read", transferErr)
	}
	return &Buf{b: b, c: c, d: d}, nil
}

// Peek schedules a read-ahead batch of up to count blocks starting at
// block, overriding any linear read-ahead trigger currently tracked for
// d. It is advisory: Peek never blocks on the transfer it schedules.
func (c *Cache) Peek(d *Device, block BlockNum, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d.ra == nil || c.cfg.MaxReadAheadBlocks <= 0 {
		return
	}
	d.ra.next = block
	d.ra.count = count
	d.ra.trigger = noTrigger
	c.queueReadAhead(d)
}

// Buf is a handle to a buffer a caller currently holds in one of the
// four ACCESS_* states. Its Bytes method exposes the underlying memory
// directly — the cache never deep-copies buffer contents to a caller.
type Buf struct {
	b *buffer
	c *Cache
	d *Device
}

// Bytes returns the buffer's backing memory. The slice is only valid
// until the Buf is released.
func (buf *Buf) Bytes() []byte {
	return buf.b.mem
}

// Block returns the logical block number this buffer holds.
func (buf *Buf) Block() BlockNum {
	return buf.b.block
}

// Tag returns the user tag last set with SetTag, or nil.
func (buf *Buf) Tag() any {
	return buf.b.tag
}

// SetTag stores an arbitrary caller-defined value alongside the buffer.
func (buf *Buf) SetTag(tag any) {
	buf.b.tag = tag
}
