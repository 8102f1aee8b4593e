package bcache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the high-level error taxonomy a caller can branch
// on: invalid-argument, resource-unavailable, not-found, already-exists,
// I/O-error, and busy. Fatal-invariant violations are a distinct type,
// FatalError, since they are never meant to be handled as an ordinary
// error value (see FatalError below).
type ErrorCode string

const (
	ErrCodeInvalidArgument     ErrorCode = "invalid argument"
	ErrCodeResourceUnavailable ErrorCode = "resource unavailable"
	ErrCodeNotFound            ErrorCode = "not found"
	ErrCodeAlreadyExists       ErrorCode = "already exists"
	ErrCodeIOError             ErrorCode = "I/O error"
	ErrCodeBusy                ErrorCode = "busy"
)

// Error is a structured cache error carrying the operation that failed,
// the device and block involved (when applicable), and the error
// taxonomy code.
type Error struct {
	Op     string // Operation that failed (e.g. "Read", "CreateDevice")
	Device string // Device name, empty if not applicable
	Block  BlockNum
	HasBlock bool
	Code   ErrorCode
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.HasBlock {
		parts = append(parts, fmt.Sprintf("block=%d", e.Block))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("bcache: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("bcache: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is allows errors.Is(err, &Error{Code: ...}) to match on code alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no device/block context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewDeviceError creates a structured error scoped to a device.
func NewDeviceError(op, device string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Device: device, Code: code, Msg: msg}
}

// NewBlockError creates a structured error scoped to a device and block.
func NewBlockError(op, device string, block BlockNum, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Device: device, Block: block, HasBlock: true, Code: code, Msg: msg}
}

// WrapError wraps an arbitrary driver error with cache operation context,
// defaulting to the I/O-error category (the one case where a lower-layer
// failure is expected to propagate to the caller, per the propagation
// policy in spec.md §7).
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ce, ok := inner.(*Error); ok {
		return &Error{
			Op: op, Device: ce.Device, Block: ce.Block, HasBlock: ce.HasBlock,
			Code: ce.Code, Msg: ce.Msg, Inner: ce.Inner,
		}
	}
	return &Error{Op: op, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// FatalCode enumerates the kinds of invariant violation that abort the
// calling goroutine. These never occur in a correctly used cache; they
// exist so a violation is loud rather than silently absorbed.
type FatalCode int

const (
	// FatalUnexpectedState means a buffer was observed in a state a
	// transition does not accept (e.g. release() on a buffer already
	// FREE).
	FatalUnexpectedState FatalCode = iota
	// FatalDuplicateIndexEntry means an insert targeted a (device, block)
	// key already present in the buffer index.
	FatalDuplicateIndexEntry
	// FatalMissingIndexEntry means a remove targeted a (device, block)
	// key absent from the buffer index.
	FatalMissingIndexEntry
	// FatalGroupInUse means a group repartition was attempted while its
	// user count was non-zero.
	FatalGroupInUse
)

func (c FatalCode) String() string {
	switch c {
	case FatalUnexpectedState:
		return "unexpected buffer state"
	case FatalDuplicateIndexEntry:
		return "duplicate index entry"
	case FatalMissingIndexEntry:
		return "missing index entry"
	case FatalGroupInUse:
		return "group repartitioned while in use"
	default:
		return "unknown fatal code"
	}
}

// FatalError reports a state-machine or index-integrity violation,
// encoded as the opaque (state, code) pair spec.md §5/§9 calls for.
// FatalError is never returned as an ordinary error value: raiseFatal
// logs it and panics, and callers of the cache are expected to let that
// panic propagate (or, in tests, observe it with recover).
type FatalError struct {
	Op    string
	State bufferState
	Code  FatalCode
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("bcache: fatal: %s: state=%s code=%s", e.Op, e.State, e.Code)
}

// raiseFatal logs the violation and panics with a *FatalError. It must
// never be recovered from in production code; the panic is the cache's
// way of refusing to continue with corrupted invariants.
func raiseFatal(op string, state bufferState, code FatalCode) {
	err := &FatalError{Op: op, State: state, Code: code}
	logErrorf("%v", err)
	panic(err)
}
