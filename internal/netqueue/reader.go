// Package netqueue implements the Network Sequence-View Reader and the
// Partition Request Queue (spec §4.6): the Netty-side multiplexer that
// decides, per connection, which attached reader writes next.
package netqueue

import (
	"sync"
	"sync/atomic"

	"github.com/streamcore/shuffle/internal/resultpartition"
)

// ReceiverID identifies one consumer's attachment to a sub-partition view,
// unique within a single connection.
type ReceiverID string

// Reader is a per-consumer cursor: it owns a receiver id, a reference to
// the sub-partition view, and the credit/availability bookkeeping spec
// §3 names. A View's own sequence counter already tracks "monotonically
// increasing sequence number"; Reader adds the multiplexer-facing state
// layered on top of it.
type Reader struct {
	id   ReceiverID
	view *resultpartition.View

	credit              atomic.Int32
	registeredAvailable atomic.Bool
	released            atomic.Bool

	mu    sync.Mutex
	cause error

	// onAvailable is set by Queue.AttachReader to route this reader's
	// availability pushes back onto the queue's event loop, rather than
	// reaching into queue state directly from the producer's thread.
	onAvailable func()
}

// NewReader creates a Reader over view, with the given initial credit.
func NewReader(id ReceiverID, view *resultpartition.View, initialCredit int32) *Reader {
	r := &Reader{id: id, view: view}
	r.credit.Store(initialCredit)
	return r
}

// ID returns the reader's receiver id.
func (r *Reader) ID() ReceiverID { return r.id }

// AddCredit adds delta (which may be negative, though consumers only ever
// grant positive amounts) to the reader's remaining credit.
func (r *Reader) AddCredit(delta int32) {
	r.credit.Add(delta)
}

// Credit returns the reader's current remaining credit.
func (r *Reader) Credit() int32 { return r.credit.Load() }

// ResumeConsumption re-arms the underlying view after a checkpoint
// alignment pause.
func (r *Reader) ResumeConsumption() {
	r.view.ResumeConsumption()
}

// IsAvailable reports whether the reader currently has something
// deliverable: an event is always deliverable; a data buffer needs
// credit > 0 (spec §3's Sequence-View Reader invariant).
func (r *Reader) IsAvailable() bool {
	return r.view.IsAvailable(int(r.credit.Load()))
}

// RegisteredAvailable reports whether the reader is currently enqueued in
// the multiplexer's available-readers queue.
func (r *Reader) RegisteredAvailable() bool { return r.registeredAvailable.Load() }

// MarkRegisteredAvailable CASes the registered-available flag from false
// to true, reporting whether this call won the race (the
// "registeredAsAvailable guard" spec §4.6 names, preventing double
// enqueue).
func (r *Reader) MarkRegisteredAvailable() bool {
	return r.registeredAvailable.CompareAndSwap(false, true)
}

// ClearRegisteredAvailable resets the flag once the reader has been
// dequeued.
func (r *Reader) ClearRegisteredAvailable() {
	r.registeredAvailable.Store(false)
}

// GetNextBuffer pulls the next buffer off the underlying view, consuming
// one unit of credit for a data buffer (events are free - spec §3: events
// are always deliverable regardless of credit).
func (r *Reader) GetNextBuffer() (result resultpartition.NextBufferResult, ok bool, err error) {
	result, ok, err = r.view.Next()
	if err != nil || !ok {
		return result, ok, err
	}
	if result.NextDataType == resultpartition.NextData {
		r.credit.Add(-1)
	}
	return result, ok, nil
}

// Release marks the reader released and records the first failure cause
// given, if any.
func (r *Reader) Release(cause error) {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	if cause != nil {
		r.mu.Lock()
		r.cause = cause
		r.mu.Unlock()
	}
}

// IsReleased reports whether Release has been called.
func (r *Reader) IsReleased() bool { return r.released.Load() }

// FailureCause returns the cause recorded by Release, preferring the
// reader's own recorded cause and falling back to the underlying view's
// (a producer failure surfaces there first).
func (r *Reader) FailureCause() error {
	r.mu.Lock()
	cause := r.cause
	r.mu.Unlock()
	if cause != nil {
		return cause
	}
	return r.view.FailureCause()
}

// BuffersInBacklog reports the underlying sub-partition's backlog.
func (r *Reader) BuffersInBacklog() int { return r.view.BuffersInBacklog() }

// NotifyDataAvailable implements resultpartition.AvailabilityListener: a
// Reader is itself the listener attached to its view's sub-partition, so
// a producer-side add is pushed straight back to whatever queue the
// reader is attached to.
func (r *Reader) NotifyDataAvailable() {
	if r.onAvailable != nil {
		r.onAvailable()
	}
}

// NotifyPriorityEvent implements resultpartition.AvailabilityListener.
// The sequence number isn't needed here - the multiplexer re-derives
// availability and ordering from the view itself once it dequeues the
// reader.
func (r *Reader) NotifyPriorityEvent(int64) {
	if r.onAvailable != nil {
		r.onAvailable()
	}
}
