package bcache

import (
	"time"
	"unsafe"

	"github.com/wtcat/gobcache/internal/group"
)

// buffer is the cache's in-memory representation of one block: its
// state, its raw memory (a non-owning slice into a group's backing
// memory), and its linkage into the index and at most one of the LRU,
// modified, or sync lists. Buffers participating in an auxiliary list
// use the embedded listPrev/listNext/onList fields rather than a
// separate container, per the "Embedded list links" design note.
type buffer struct {
	device *Device
	block  BlockNum
	mem    []byte
	state  bufferState

	// waiters counts goroutines currently parked waiting specifically
	// for this buffer to become available (as opposed to the cache-wide
	// waiter sets, which are broadcast-style).
	waiters int

	grp      *group.Group
	grpIndex int

	hold time.Duration
	tag  any

	// raFilled marks a buffer whose current contents were brought in by
	// the read-ahead task rather than a direct miss, so a later Read/Get
	// hit can be counted as a read-ahead peek.
	raFilled bool

	// lastErr records the outcome of the most recent transfer this
	// buffer participated in, so a Sync() call waiting on it can report
	// failure once the buffer settles to EMPTY.
	lastErr error

	listPrev, listNext *buffer
	onList             *bufferList
}

func deviceKey(d *Device) uintptr {
	return uintptr(unsafe.Pointer(d))
}

// bufferList is an intrusive doubly-linked list of buffers. A buffer may
// be on at most one bufferList at a time (enforced by onList).
type bufferList struct {
	head, tail *buffer
	n          int
}

func (l *bufferList) pushBack(b *buffer) {
	if b.onList != nil {
		raiseFatal("bufferList.pushBack", b.state, FatalUnexpectedState)
	}
	b.onList = l
	b.listPrev = l.tail
	b.listNext = nil
	if l.tail != nil {
		l.tail.listNext = b
	} else {
		l.head = b
	}
	l.tail = b
	l.n++
}

func (l *bufferList) pushFront(b *buffer) {
	if b.onList != nil {
		raiseFatal("bufferList.pushFront", b.state, FatalUnexpectedState)
	}
	b.onList = l
	b.listNext = l.head
	b.listPrev = nil
	if l.head != nil {
		l.head.listPrev = b
	} else {
		l.tail = b
	}
	l.head = b
	l.n++
}

func (l *bufferList) remove(b *buffer) {
	if b.onList != l {
		raiseFatal("bufferList.remove", b.state, FatalUnexpectedState)
	}
	if b.listPrev != nil {
		b.listPrev.listNext = b.listNext
	} else {
		l.head = b.listNext
	}
	if b.listNext != nil {
		b.listNext.listPrev = b.listPrev
	} else {
		l.tail = b.listPrev
	}
	b.listPrev, b.listNext, b.onList = nil, nil, nil
	l.n--
}

// removeIfLinked removes b from whichever list it is currently on, if
// any. Several call sites (discard, purge) don't statically know which
// list a buffer is linked into.
func removeIfLinked(b *buffer) {
	if b.onList != nil {
		b.onList.remove(b)
	}
}

func (l *bufferList) popFront() *buffer {
	b := l.head
	if b == nil {
		return nil
	}
	l.remove(b)
	return b
}

func (l *bufferList) empty() bool {
	return l.head == nil
}

func (l *bufferList) forEach(fn func(*buffer) bool) {
	for b := l.head; b != nil; {
		next := b.listNext
		if !fn(b) {
			return
		}
		b = next
	}
}
