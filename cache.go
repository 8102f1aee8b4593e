package bcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wtcat/gobcache/internal/group"
	"github.com/wtcat/gobcache/internal/index"
	"github.com/wtcat/gobcache/internal/logging"
	"github.com/wtcat/gobcache/internal/waitset"
)

// Cache is the shared, in-memory write-back buffer cache. One Cache
// instance owns one group pool, one buffer index, and the three waiter
// sets; any number of Devices can be created against it. All exported
// methods acquire the cache lock on entry and release it on return,
// except where a suspension point documents otherwise.
type Cache struct {
	mu sync.Mutex

	cfg  *Config
	pool *group.Pool
	idx  index.Index

	lru      bufferList
	modified bufferList
	sync     bufferList

	accessWait   *waitset.Set
	transferWait *waitset.Set
	bufferWait   *waitset.Set

	registry *Registry
	log      *logging.Logger
	observer Observer

	// sync coordination (spec.md §5 "sync lock" + cache lock window)
	syncMu      sync.Mutex
	syncActive  bool
	syncDevice  *Device // nil means sync-all
	syncWaiters []chan error
	syncErr     error // first transfer error seen by the active sync pass

	// swapout engine
	swapoutSignal chan struct{}
	freeWorkers   []*swapoutWorker
	workers       []*swapoutWorker

	// read-ahead task
	raChain  []*Device
	raQueued map[*Device]bool
	raSignal chan struct{}

	eg     *errgroup.Group
	cancel context.CancelFunc
	closed bool
}

// NewCache creates a Cache with the given configuration (DefaultConfig()
// if cfg is nil), allocates the group pool, starts the swapout engine,
// and — if MaxReadAheadBlocks > 0 — the read-ahead task.
func NewCache(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)

	c := &Cache{
		cfg:           cfg,
		pool:          group.NewPool(cfg.Size, cfg.BufferMin, cfg.BufferMax),
		idx:           index.New(),
		registry:      newRegistry(),
		log:           logging.Default(),
		observer:      cfg.observer(),
		swapoutSignal: make(chan struct{}, 1),
		raSignal:      make(chan struct{}, 1),
		raQueued:      make(map[*Device]bool),
		eg:            eg,
		cancel:        cancel,
	}
	c.accessWait = waitset.New(&c.mu)
	c.transferWait = waitset.New(&c.mu)
	c.bufferWait = waitset.New(&c.mu)

	for _, g := range c.pool.Groups {
		bufs := make([]*buffer, g.BufsPerGroup)
		for i := range bufs {
			b := &buffer{state: stateFree, grp: g, grpIndex: i, mem: g.Buffer(i)}
			bufs[i] = b
			c.lru.pushBack(b)
		}
		g.Owner = bufs
	}

	for i := 0; i < cfg.SwapoutWorkers; i++ {
		w := newSwapoutWorker(c)
		c.workers = append(c.workers, w)
		c.freeWorkers = append(c.freeWorkers, w)
		c.eg.Go(func() error { w.run(ctx); return nil })
	}
	c.eg.Go(func() error { c.swapoutLoop(ctx); return nil })
	if cfg.MaxReadAheadBlocks > 0 {
		c.eg.Go(func() error { c.readAheadLoop(ctx); return nil })
	}

	return c, nil
}

// Close stops the swapout and read-ahead goroutines and waits for them
// to exit. It does not flush pending modified buffers; call
// SyncDevice(nil) first if that is required.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.eg.Wait()
}

func groupBuffers(g *group.Group) []*buffer {
	if g.Owner == nil {
		return nil
	}
	return g.Owner.([]*buffer)
}

// repartitionGroup reinitializes every descriptor in g into bdsPerGroup
// new, larger-or-smaller, FREE descriptors, per the Group Pool contract:
// the caller must have verified g.Users == 0.
func (c *Cache) repartitionGroup(g *group.Group, bdsPerGroup int, device string) {
	if g.Users != 0 {
		raiseFatal("repartitionGroup", stateFree, FatalGroupInUse)
	}
	for _, b := range groupBuffers(g) {
		if b.state != stateFree {
			key := index.Key{Device: deviceKey(b.device), Block: int64(b.block)}
			if err := c.idx.Remove(key); err != nil {
				raiseFatal("repartitionGroup", b.state, FatalMissingIndexEntry)
			}
		}
		removeIfLinked(b)
	}

	c.log.Repartition(device, g.BufsPerGroup, bdsPerGroup)
	c.pool.Repartition(g, bdsPerGroup)

	bufs := make([]*buffer, bdsPerGroup)
	for i := range bufs {
		nb := &buffer{state: stateFree, grp: g, grpIndex: i, mem: g.Buffer(i)}
		bufs[i] = nb
		c.lru.pushFront(nb)
	}
	g.Owner = bufs
}

// findRecyclable scans the LRU list head to tail for a buffer with no
// buffer-specific waiters, per the acquisition loop's step 4. It returns
// the first such buffer whose group either already matches d's
// buffers-per-group or has zero users (a candidate for repartitioning);
// a matching buffer further down the list is not preferred over an
// earlier repartition candidate.
func (c *Cache) findRecyclable(d *Device) *buffer {
	for b := c.lru.head; b != nil; b = b.listNext {
		if b.waiters != 0 {
			continue
		}
		if b.grp.BufsPerGroup == d.bdsPerGroup {
			return b
		}
		if b.grp.Users == 0 {
			return b
		}
	}
	return nil
}

// waitForAccess implements the "wait for access" loop shared by every
// read/access path entry: while the buffer is held (ACCESS_*) or mid
// transfer (SYNC/TRANSFER*), sleep on the matching waiter set; otherwise
// unlink it from whatever list it sits on and return.
func (c *Cache) waitForAccess(b *buffer) {
	for {
		switch {
		case b.state.isAccess():
			b.waiters++
			c.accessWait.Wait()
			b.waiters--
		case b.state.isTransferring():
			b.waiters++
			c.transferWait.Wait()
			b.waiters--
		case b.state == stateFree:
			raiseFatal("waitForAccess", b.state, FatalUnexpectedState)
		default:
			removeIfLinked(b)
			return
		}
	}
}

// waitForRecycle waits until b can be safely evicted from the index: any
// modified content is synced out first, per "releasing modifieds via
// sync".
func (c *Cache) waitForRecycle(b *buffer) {
	for {
		switch b.state {
		case stateCached, stateEmpty:
			removeIfLinked(b)
			return
		case stateModified:
			c.moveToSyncLocked(b)
		case stateSync, stateTransfer, stateTransferPurged:
			b.waiters++
			c.transferWait.Wait()
			b.waiters--
		case stateAccessCached, stateAccessModified, stateAccessEmpty, stateAccessPurged:
			b.waiters++
			c.accessWait.Wait()
			b.waiters--
		default:
			raiseFatal("waitForRecycle", b.state, FatalUnexpectedState)
		}
	}
}

// evictToFree removes b from the index and returns it to the LRU free
// list as a device-less FREE buffer.
func (c *Cache) evictToFree(b *buffer) {
	removeIfLinked(b)
	key := index.Key{Device: deviceKey(b.device), Block: int64(b.block)}
	if err := c.idx.Remove(key); err != nil {
		raiseFatal("evictToFree", b.state, FatalMissingIndexEntry)
	}
	b.device = nil
	b.state = stateFree
	c.lru.pushBack(b)
}

// obtain transitions a settled buffer into the ACCESS_* state matching
// its prior state. CACHED and EMPTY carry no group-user charge and pick
// one up now; MODIFIED already carries one (it is never released while
// dirty), so entering ACCESS_MODIFIED leaves the count unchanged.
func (c *Cache) obtain(b *buffer) *buffer {
	switch b.state {
	case stateCached:
		b.state = stateAccessCached
		b.grp.Users++
	case stateEmpty:
		b.state = stateAccessEmpty
		b.grp.Users++
	case stateModified:
		b.state = stateAccessModified
	default:
		raiseFatal("obtain", b.state, FatalUnexpectedState)
	}
	return b
}

// acquire implements the buffer acquisition loop (spec.md §4.3) shared
// by Get and Read. It returns a buffer in one
// of the three ACCESS_* obtain-states.
func (c *Cache) acquire(d *Device, block BlockNum) (*buffer, error) {
	if block < 0 || block >= d.BlockCount() {
		return nil, NewBlockError("acquire", d.name, block, ErrCodeInvalidArgument, "block out of range")
	}

	for {
		key := index.Key{Device: deviceKey(d), Block: int64(block)}
		if v, ok := c.idx.Lookup(key); ok {
			b := v.(*buffer)
			if b.grp.BufsPerGroup == d.bdsPerGroup {
				c.waitForAccess(b)
				return c.obtain(b), nil
			}
			c.waitForRecycle(b)
			c.evictToFree(b)
			c.bufferWait.Wake()
			continue
		}

		cand := c.findRecyclable(d)
		if cand == nil {
			c.bufferWait.Wait()
			continue
		}
		c.lru.remove(cand)

		if cand.grp.BufsPerGroup != d.bdsPerGroup {
			c.repartitionGroup(cand.grp, d.bdsPerGroup, d.name)
			continue
		}

		cand.device = d
		cand.block = block
		cand.state = stateEmpty
		cand.hold = 0
		if err := c.idx.Insert(key, cand); err != nil {
			raiseFatal("acquire", cand.state, FatalDuplicateIndexEntry)
		}
		c.log.BufferAcquired(d.name, int64(block), "recycled")
		return c.obtain(cand), nil
	}
}

// wakeAfterRelease implements the common "wake access waiters if any,
// else buffer waiters" pattern used throughout the release path.
func (c *Cache) wakeAfterRelease(b *buffer) {
	if b.waiters > 0 {
		c.accessWait.Wake()
	} else {
		c.bufferWait.Wake()
	}
}

// moveToSyncLocked transitions b from MODIFIED (or an ACCESS_* state) to
// SYNC, appends it to the sync list, and signals the swapout engine.
// Callers must hold c.mu.
func (c *Cache) moveToSyncLocked(b *buffer) {
	removeIfLinked(b)
	b.state = stateSync
	c.sync.pushBack(b)
	c.accessWait.Wake()
	c.signalSwapout()
}

func (c *Cache) signalSwapout() {
	select {
	case c.swapoutSignal <- struct{}{}:
	default:
	}
}

func (c *Cache) signalReadAhead() {
	select {
	case c.raSignal <- struct{}{}:
	default:
	}
}

// discard transitions b to EMPTY; if nobody is waiting for it, it is
// immediately removed from the index and returned to the LRU free list.
// Used on ACCESS_EMPTY/ACCESS_PURGED release and by completion/purge
// handling. Callers must hold c.mu.
func (c *Cache) discard(b *buffer) {
	b.state = stateEmpty
	if b.waiters == 0 {
		key := index.Key{Device: deviceKey(b.device), Block: int64(b.block)}
		if err := c.idx.Remove(key); err != nil {
			raiseFatal("discard", b.state, FatalMissingIndexEntry)
		}
		b.device = nil
		b.state = stateFree
		c.lru.pushBack(b)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
