package bcache

import "testing"

// newTestCache returns a small Cache (8 groups of 1 buffer at 512 bytes,
// no read-ahead, no swapout workers so callers fully control timing) plus
// a MockDriver-backed physical device sized for blockCount 512-byte blocks.
func newTestCache(t *testing.T, blockCount BlockNum) (*Cache, *Device, *MockDriver) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Size = 4096
	cfg.BufferMin = 512
	cfg.BufferMax = 512
	cfg.SwapoutWorkers = 0
	cfg.MaxReadAheadBlocks = 0
	cfg.SwapBlockHold = 0

	c, err := NewCache(cfg)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	drv := NewMockDriver(int(blockCount)*512, CapSync)
	d, err := c.CreateDevice("disk0", 512, blockCount, drv, nil)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	return c, d, drv
}
