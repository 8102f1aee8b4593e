package bcache

// buildReadRequest prepares a single-entry read request for a buffer
// that was found EMPTY. The buffer is moved to TRANSFER first, per the
// "Read request construction" rule in spec.md §4.7; the caller still
// holds it logically (it reappears as ACCESS_CACHED on success).
func (c *Cache) buildReadRequest(d *Device, b *buffer) *Request {
	b.state = stateTransfer
	return newRequest(OpRead, []sgEntry{{
		Block: d.toMediaBlock(b.block),
		Mem:   b.mem,
		Buf:   b,
	}})
}

// performTransfer hands req to d's driver and blocks on its completion.
// This is a suspension point: the cache lock must not be held across
// this call.
func (c *Cache) performTransfer(d *Device, req *Request) error {
	if _, err := d.driver.Ioctl(d, CmdIORequest, req); err != nil {
		req.Complete(err)
	}
	return req.Wait()
}

// completeReadEntries applies the foreground Read() completion: on
// success the initiating buffer returns to ACCESS_CACHED (the caller
// still holds it); on failure it is fully discarded and its group user
// charge released, since a failed Read returns a nil Buf and the caller
// has nothing left to release.
func (c *Cache) completeReadEntries(req *Request, transferErr error) {
	e := req.Entries[0]
	b := e.Buf
	if transferErr == nil {
		b.state = stateAccessCached
	} else {
		b.grp.Users--
		c.discard(b)
	}
	if b.waiters > 0 {
		c.transferWait.Wake()
	} else if transferErr != nil {
		c.bufferWait.Wake()
	}
}
