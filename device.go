package bcache

import "sync"

// Device is either a physical device backed directly by a Driver, or a
// logical device: a windowed view (Start/length in media blocks) onto a
// physical device, sharing its driver and statistics but free to choose
// its own logical block size. Physical() returns the device itself for a
// physical device, or the backing physical device for a logical one.
type Device struct {
	name string
	phys *Device

	start  BlockNum // media-block offset into phys, 0 for a physical device
	length BlockNum // extent in media blocks

	mediaBlockSize int
	blockSize      int
	blockSizeShift int // log2(blockSize) when blockSize is a power of two
	mediaBlocksPerBlock int
	shift          int // log2(mediaBlocksPerBlock), or -1 if not a clean power of two

	bdsPerGroup int

	capabilities DriverCapability
	driver       Driver
	driverData   any

	stats *Stats
	ra    *readAheadState // nil disables read-ahead for this device

	cache *Cache
}

// Name returns the device's registry name.
func (d *Device) Name() string { return d.name }

// Physical returns the physical device backing d — d itself if d is
// already physical. Ports the original's GET_DISK_DEV ioctl.
func (d *Device) Physical() *Device {
	return d.phys
}

func (d *Device) isLogical() bool {
	return d.phys != d
}

// BlockCount returns the device's extent in its own logical block size.
func (d *Device) BlockCount() BlockNum {
	return d.length * BlockNum(d.mediaBlockSize) / BlockNum(d.blockSize)
}

// BlockSize returns the device's current logical block size in bytes.
func (d *Device) BlockSize() int { return d.blockSize }

// Stats returns the device's (possibly shared, for a logical device)
// statistics block.
func (d *Device) Stats() *Stats { return d.stats }

// toMediaBlock translates a logical block number on d to the absolute
// media block number on its physical device.
func (d *Device) toMediaBlock(block BlockNum) BlockNum {
	return d.start + block*BlockNum(d.mediaBlocksPerBlock)
}

// Registry maps device names to descriptors. A Cache owns one Registry;
// devices registered against it are never implicitly destroyed for the
// life of the Cache, matching the "process-wide" lifecycle note.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Device
}

func newRegistry() *Registry {
	return &Registry{byName: make(map[string]*Device)}
}

// Find looks up a device by name.
func (r *Registry) Find(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[name]
	return d, ok
}

func (r *Registry) register(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.name]; exists {
		return NewDeviceError("CreateDevice", d.name, ErrCodeAlreadyExists, "device name already registered")
	}
	r.byName[d.name] = d
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func log2(n int) int {
	shift := 0
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}

// CreateDevice registers a new physical device, matching the original's
// device_create(name, media_block_size, media_block_count, ioctl,
// driver_data). mediaBlockSize must be a positive power of two and
// mediaBlockCount must be positive; name must not already be registered.
func (c *Cache) CreateDevice(name string, mediaBlockSize int, mediaBlockCount BlockNum, driver Driver, driverData any) (*Device, error) {
	if !isPowerOfTwo(mediaBlockSize) {
		return nil, NewDeviceError("CreateDevice", name, ErrCodeInvalidArgument, "media_block_size must be a positive power of two")
	}
	if mediaBlockCount <= 0 {
		return nil, NewDeviceError("CreateDevice", name, ErrCodeInvalidArgument, "media_block_count must be positive")
	}
	if driver == nil {
		return nil, NewDeviceError("CreateDevice", name, ErrCodeInvalidArgument, "driver must not be nil")
	}

	caps, err := driver.Ioctl(nil, CmdCapabilities, nil)
	var capFlags DriverCapability
	if err == nil {
		if c, ok := caps.(DriverCapability); ok {
			capFlags = c
		}
	}

	d := &Device{
		name:                name,
		mediaBlockSize:      mediaBlockSize,
		blockSize:           mediaBlockSize,
		blockSizeShift:      log2(mediaBlockSize),
		mediaBlocksPerBlock: 1,
		shift:               0,
		length:              mediaBlockCount,
		capabilities:        capFlags,
		driver:              driver,
		driverData:          driverData,
		stats:               NewStats(),
		cache:               c,
	}
	d.phys = d
	d.bdsPerGroup = c.pool.BuffersPerGroup(d.blockSize)
	if d.bdsPerGroup == 0 {
		return nil, NewDeviceError("CreateDevice", name, ErrCodeInvalidArgument, "media_block_size exceeds buffer_max")
	}

	if c.cfg.MaxReadAheadBlocks > 0 {
		d.ra = &readAheadState{trigger: noTrigger}
	}

	if err := c.registry.register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// NewLogicalDevice creates a logical window of count media blocks
// starting at start (media blocks) onto phys, sharing its driver and
// statistics. Ports bcache_disk_init_log.
func (c *Cache) NewLogicalDevice(name string, phys *Device, start, count BlockNum) (*Device, error) {
	if phys == nil {
		return nil, NewDeviceError("NewLogicalDevice", name, ErrCodeInvalidArgument, "physical device must not be nil")
	}
	if start < 0 || count <= 0 || start+count > phys.length {
		return nil, NewDeviceError("NewLogicalDevice", name, ErrCodeInvalidArgument, "window out of range")
	}

	d := &Device{
		name:                name,
		phys:                phys.phys,
		start:               start,
		length:              count,
		mediaBlockSize:      phys.mediaBlockSize,
		blockSize:           phys.mediaBlockSize,
		blockSizeShift:      log2(phys.mediaBlockSize),
		mediaBlocksPerBlock: 1,
		shift:               0,
		capabilities:        phys.capabilities,
		driver:              phys.driver,
		driverData:          phys.driverData,
		stats:               phys.stats,
		cache:               c,
	}
	d.bdsPerGroup = c.pool.BuffersPerGroup(d.blockSize)
	if d.bdsPerGroup == 0 {
		return nil, NewDeviceError("NewLogicalDevice", name, ErrCodeInvalidArgument, "block size exceeds buffer_max")
	}
	if c.cfg.MaxReadAheadBlocks > 0 {
		d.ra = &readAheadState{trigger: noTrigger}
	}

	if err := c.registry.register(d); err != nil {
		return nil, err
	}
	return d, nil
}
