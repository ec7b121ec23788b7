// Package errors provides the shared, typed error used at every public
// boundary of the shuffle runtime. Recoverable conditions (back-pressure,
// missing credit, missing data) are returned as plain nil/false/zero
// values by callers; this package is reserved for the taxonomy of
// conditions that must be surfaced to a caller as a distinguishable
// failure - out-of-bounds access, use-after-free, missing partitions,
// and the like. Structural misuse (a second consumer on a builder, a
// write after finish) is not represented here: callers panic for those,
// since they are bugs, not runtime conditions.
package errors

import (
	"errors"
	"fmt"
)

// Kind enumerates the taxonomy of conditions a caller must be able to
// branch on without parsing an error string.
type Kind string

const (
	// KindOutOfBounds is returned by memory-segment access outside the
	// segment's capacity.
	KindOutOfBounds Kind = "out_of_bounds"
	// KindUseAfterFree is returned by any access to a freed memory segment.
	KindUseAfterFree Kind = "use_after_free"
	// KindWrapUnsupported is returned when wrap() is requested on a segment
	// variant that cannot safely share ownership of its backing memory.
	KindWrapUnsupported Kind = "wrap_unsupported"
	// KindUnsupportedBufferKind is returned when a bulk copy source is
	// neither direct nor array-backed.
	KindUnsupportedBufferKind Kind = "unsupported_buffer_kind"
	// KindPoolDestroyed is returned by lease requests made after a buffer
	// pool has been destroyed.
	KindPoolDestroyed Kind = "pool_destroyed"
	// KindPartitionNotFound is returned when a partition id is not
	// registered with the partition manager.
	KindPartitionNotFound Kind = "partition_not_found"
	// KindProducerFailed is surfaced to every view attached to a result
	// partition whose producer task has failed.
	KindProducerFailed Kind = "producer_failed"
	// KindSlotNotFound is returned when a slot lookup misses by index or
	// allocation id.
	KindSlotNotFound Kind = "slot_not_found"
	// KindSlotNotActive is returned when an operation requires a slot in
	// state Active and it is not.
	KindSlotNotActive Kind = "slot_not_active"
	// KindFatalTransport marks the terminal state of a network connection
	// after an unrecoverable write error.
	KindFatalTransport Kind = "fatal_transport"
	// KindAlreadyRegistered is returned when a partition id is registered
	// twice with the partition manager.
	KindAlreadyRegistered Kind = "already_registered"
	// KindSlotIndexConflict is returned when a static slot index is
	// already occupied by a different (job id, allocation id) pair.
	KindSlotIndexConflict Kind = "slot_index_conflict"
	// KindInsufficientBudget is returned when a slot allocation's resource
	// profile doesn't fit the table's remaining resource budget.
	KindInsufficientBudget Kind = "insufficient_budget"
	// KindTableNotRunning is returned by any slot table operation (other
	// than close) attempted while the table isn't in the Running state.
	KindTableNotRunning Kind = "table_not_running"
)

// Error is the house error type: a taxonomy kind, a human message, and an
// optional wrapped cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.kind == e.kind
}

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{kind: kind, message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping cause. Returns nil if
// cause is nil.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, message: message, cause: cause}
}

// Is reports whether err is (or wraps) an Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == kind
}

// KindOf extracts the Kind from err, if it is an Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.kind, true
}
