// Package constants holds default configuration values for the buffer
// cache, mirrored from the BCACHE_*_DEFAULT constants of the original
// implementation.
package constants

import "time"

// Default cache configuration values.
const (
	// MaxReadAheadBlocksDefault disables read-ahead when left at zero.
	MaxReadAheadBlocksDefault = 0

	// MaxWriteBlocksDefault bounds a single swapout transfer batch.
	MaxWriteBlocksDefault = 16

	// SwapoutPriorityDefault is the nominal priority of the main swapout
	// goroutine. The Go scheduler has no priority knob; the field is kept
	// for introspection and for RTOS-derived callers that map it onto a
	// native thread priority.
	SwapoutPriorityDefault = 15

	// SwapoutPeriodDefault bounds how long the swapout loop sleeps
	// between forced scans of the modified list.
	SwapoutPeriodDefault = 250 * time.Millisecond

	// SwapBlockHoldDefault is the initial hold timer applied to a newly
	// modified buffer before swapout may write it.
	SwapBlockHoldDefault = 1000 * time.Millisecond

	// SwapoutWorkersDefault disables the worker pool; the main swapout
	// goroutine performs every transfer itself.
	SwapoutWorkersDefault = 0

	// SwapoutWorkerPriorityDefault mirrors SwapoutPriorityDefault for
	// worker goroutines.
	SwapoutWorkerPriorityDefault = SwapoutPriorityDefault

	// ReadAheadPriorityDefault mirrors SwapoutPriorityDefault for the
	// read-ahead goroutine.
	ReadAheadPriorityDefault = SwapoutPriorityDefault

	// TaskStackSizeDefault is kept for parity with the original's
	// RTOS stack sizing knob; Go goroutines grow their stacks on demand
	// and never consult this value directly.
	TaskStackSizeDefault = 1024

	// SizeDefault is the total cache memory in bytes.
	SizeDefault = 64 * 512

	// BufferMinDefault is the minimum buffer size and group granularity.
	BufferMinDefault = 512

	// BufferMaxDefault is the maximum buffer size.
	BufferMaxDefault = 4096
)

// HashTableSize is the bucket count used by the hash-table buffer index
// variant (build tag bcache_hash_index).
const HashTableSize = 128

// HashTableMask masks a block number down to a bucket index.
const HashTableMask = HashTableSize - 1

// AVLStackDepth bounds the static traversal stack used by the AVL buffer
// index variant. Callers of the index must not recurse.
const AVLStackDepth = 32
