// Package group implements the fixed power-of-two buffer memory
// allocator: a pool of equal-sized allocation units ("groups"), each
// repartitioned on demand into a number of equal-sized buffers for the
// device that next claims it.
package group

// Group is one allocation unit: a contiguous slice of backing memory
// currently divided into BufsPerGroup equal-sized buffers. Repartitioning
// changes BufsPerGroup (and therefore each buffer's size) but never
// reallocates the backing memory.
type Group struct {
	memory       []byte
	BufsPerGroup int
	Users        int

	// Owner is opaque storage for the caller's per-group bookkeeping
	// (e.g. the slice of buffer descriptors carved from this group).
	// The pool never reads it.
	Owner any
}

// Buffer returns the backing memory for the i'th buffer (0-based) in the
// group's current partition.
func (g *Group) Buffer(i int) []byte {
	size := g.bufSize()
	return g.memory[i*size : (i+1)*size]
}

// Size returns the current per-buffer size in this group.
func (g *Group) Size() int {
	return g.bufSize()
}

func (g *Group) bufSize() int {
	return len(g.memory) / g.BufsPerGroup
}

// Pool is the fixed set of Groups partitioning Size bytes of backing
// memory. BufferMin is the minimum buffer size and group granularity;
// BufferMax is the maximum buffer size and therefore the size of the
// backing memory behind every group.
type Pool struct {
	BufferMin     int
	BufferMax     int
	MaxBdsPerGroup int
	Groups        []*Group
}

// NewPool allocates size bytes of backing memory partitioned into
// size/bufferMax groups, each initially divided into bufferMax/bufferMin
// buffers of bufferMin size — the "all groups start at max bds-per-group"
// rule.
func NewPool(size, bufferMin, bufferMax int) *Pool {
	maxBds := bufferMax / bufferMin
	numGroups := size / bufferMax
	p := &Pool{
		BufferMin:      bufferMin,
		BufferMax:      bufferMax,
		MaxBdsPerGroup: maxBds,
		Groups:         make([]*Group, numGroups),
	}
	for i := range p.Groups {
		p.Groups[i] = &Group{
			memory:       make([]byte, bufferMax),
			BufsPerGroup: maxBds,
		}
	}
	return p
}

// BuffersPerGroup returns max_bds_per_group / round-up-pow2(ceil(size /
// buffer_min)), or zero if size exceeds BufferMax.
func (p *Pool) BuffersPerGroup(size int) int {
	if size <= 0 || size > p.BufferMax {
		return 0
	}
	units := (size + p.BufferMin - 1) / p.BufferMin
	pow2 := roundUpPow2(units)
	return p.MaxBdsPerGroup / pow2
}

// TotalBuffers returns the number of buffer descriptors implied by the
// pool's current partitioning (sum of BufsPerGroup across all groups).
func (p *Pool) TotalBuffers() int {
	total := 0
	for _, g := range p.Groups {
		total += g.BufsPerGroup
	}
	return total
}

// Repartition rewrites g's BufsPerGroup to bdsPerGroup. The caller must
// have already verified g.Users == 0 and must reinitialize any buffer
// descriptors carved from g's old partition; Repartition only updates the
// group's own bookkeeping and clears Owner.
func (p *Pool) Repartition(g *Group, bdsPerGroup int) {
	g.BufsPerGroup = bdsPerGroup
	g.Owner = nil
}

func roundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
