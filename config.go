package bcache

import (
	"time"

	"github.com/wtcat/gobcache/internal/constants"
)

// Config carries the twelve options recognized at cache initialization
// time, plus an optional Observer. All fields are fixed once a Cache is created; there is no live
// reconfiguration path.
type Config struct {
	// MaxReadAheadBlocks bounds a single read-ahead batch. Zero disables
	// read-ahead entirely.
	MaxReadAheadBlocks int

	// MaxWriteBlocks bounds a single swapout transfer batch.
	MaxWriteBlocks int

	// SwapoutPriority is the nominal priority of the main swapout
	// goroutine. Retained for introspection and for RTOS-derived
	// callers; the Go scheduler has no priority knob to apply it to.
	SwapoutPriority int

	// SwapoutPeriod bounds how long the swapout loop sleeps between
	// forced scans of the modified list.
	SwapoutPeriod time.Duration

	// SwapBlockHold is the initial hold timer applied to a newly
	// modified buffer before swapout may write it.
	SwapBlockHold time.Duration

	// SwapoutWorkers is the size of the swapout worker pool. Zero means
	// the main swapout goroutine performs every transfer itself.
	SwapoutWorkers int

	// SwapoutWorkerPriority mirrors SwapoutPriority for worker
	// goroutines; unused by the Go scheduler.
	SwapoutWorkerPriority int

	// ReadAheadPriority mirrors SwapoutPriority for the read-ahead
	// goroutine; unused by the Go scheduler.
	ReadAheadPriority int

	// TaskStackSize is kept for parity with the original's RTOS stack
	// sizing knob; Go goroutines grow their stacks on demand and never
	// consult this value.
	TaskStackSize int

	// Size is the total cache memory in bytes, partitioned by the
	// group pool. Size/BufferMin is the fixed total buffer count.
	Size int

	// BufferMin is the minimum buffer size and group granularity.
	BufferMin int

	// BufferMax is the maximum buffer size; must be a multiple of
	// BufferMin. BufferMax/BufferMin is the maximum buffers-per-group.
	BufferMax int

	// Observer receives counter events alongside the built-in Stats.
	// Defaults to NoOpObserver if nil.
	Observer Observer
}

// DefaultConfig returns the option set matching the original
// implementation's BCACHE_*_DEFAULT constants.
func DefaultConfig() *Config {
	return &Config{
		MaxReadAheadBlocks:    constants.MaxReadAheadBlocksDefault,
		MaxWriteBlocks:        constants.MaxWriteBlocksDefault,
		SwapoutPriority:       constants.SwapoutPriorityDefault,
		SwapoutPeriod:         constants.SwapoutPeriodDefault,
		SwapBlockHold:         constants.SwapBlockHoldDefault,
		SwapoutWorkers:        constants.SwapoutWorkersDefault,
		SwapoutWorkerPriority: constants.SwapoutWorkerPriorityDefault,
		ReadAheadPriority:     constants.ReadAheadPriorityDefault,
		TaskStackSize:         constants.TaskStackSizeDefault,
		Size:                  constants.SizeDefault,
		BufferMin:             constants.BufferMinDefault,
		BufferMax:             constants.BufferMaxDefault,
	}
}

// validate checks the invariants External Interfaces requires:
// Size/BufferMin must divide evenly, and BufferMax must be a multiple
// of BufferMin.
func (c *Config) validate() error {
	if c.BufferMin <= 0 {
		return NewError("Config", ErrCodeInvalidArgument, "buffer_min must be positive")
	}
	if c.BufferMax < c.BufferMin {
		return NewError("Config", ErrCodeInvalidArgument, "buffer_max must be >= buffer_min")
	}
	if c.BufferMax%c.BufferMin != 0 {
		return NewError("Config", ErrCodeInvalidArgument, "buffer_max must be a multiple of buffer_min")
	}
	if c.Size <= 0 || c.Size%c.BufferMin != 0 {
		return NewError("Config", ErrCodeInvalidArgument, "size must be a positive multiple of buffer_min")
	}
	if c.MaxWriteBlocks <= 0 {
		return NewError("Config", ErrCodeInvalidArgument, "max_write_blocks must be positive")
	}
	return nil
}

func (c *Config) observer() Observer {
	if c.Observer == nil {
		return NoOpObserver{}
	}
	return c.Observer
}
