package bcache

import "sync"

// MockDriver is a Driver implementation for exercising a Cache in tests
// without a real device: an in-memory backing array plus per-call
// fault injection and call counters, generalized from the teacher's
// MockBackend.
type MockDriver struct {
	mu   sync.Mutex
	data []byte
	caps DriverCapability

	ioCalls    int
	syncCalls  int
	purgeCalls int

	// FailNextIO, if non-nil, is returned by the next CmdIORequest and
	// then cleared.
	FailNextIO error
	// FailRead/FailWrite, if non-nil, are returned by every matching
	// transfer until cleared.
	FailRead  error
	FailWrite error
}

// NewMockDriver returns a MockDriver backed by a zeroed array of sizeBytes.
func NewMockDriver(sizeBytes int, caps DriverCapability) *MockDriver {
	return &MockDriver{data: make([]byte, sizeBytes), caps: caps}
}

// Ioctl implements Driver.
func (m *MockDriver) Ioctl(d *Device, cmd IoctlCmd, arg any) (any, error) {
	switch cmd {
	case CmdIORequest:
		req, ok := arg.(*Request)
		if !ok {
			raiseFatal("MockDriver.Ioctl", stateFree, FatalUnexpectedState)
		}
		m.execute(d, req)
		return nil, nil
	case CmdCapabilities:
		return m.caps, nil
	case CmdSyncDevice:
		m.mu.Lock()
		m.syncCalls++
		m.mu.Unlock()
		return nil, nil
	case CmdPurgeDevice:
		m.mu.Lock()
		m.purgeCalls++
		m.mu.Unlock()
		return nil, nil
	default:
		return nil, nil
	}
}

func (m *MockDriver) execute(d *Device, req *Request) {
	m.mu.Lock()
	m.ioCalls++
	fail := m.FailNextIO
	m.FailNextIO = nil
	m.mu.Unlock()

	if fail != nil {
		req.Complete(fail)
		return
	}

	blockSize := d.mediaBlockSize
	var err error
	for _, e := range req.Entries {
		off := int(e.Block) * blockSize
		switch req.Op {
		case OpRead:
			m.mu.Lock()
			fr := m.FailRead
			m.mu.Unlock()
			if fr != nil {
				err = fr
				continue
			}
			if off >= len(m.data) {
				continue
			}
			n := copy(e.Mem, m.data[off:])
			_ = n
		case OpWrite:
			m.mu.Lock()
			fw := m.FailWrite
			m.mu.Unlock()
			if fw != nil {
				err = fw
				continue
			}
			if off >= len(m.data) {
				err = NewDeviceError("MockDriver", d.name, ErrCodeIOError, "write beyond end of device")
				continue
			}
			copy(m.data[off:], e.Mem)
		}
	}
	req.Complete(err)
}

// IOCalls returns the number of IO_REQUEST calls made so far.
func (m *MockDriver) IOCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ioCalls
}

// SyncCalls returns the number of SYNC_DEVICE calls made so far.
func (m *MockDriver) SyncCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCalls
}

// PurgeCalls returns the number of PURGE_DEVICE calls made so far.
func (m *MockDriver) PurgeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeCalls
}

// Bytes returns a copy of the mock device's current contents, for
// assertions in tests.
func (m *MockDriver) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

var _ Driver = (*MockDriver)(nil)
