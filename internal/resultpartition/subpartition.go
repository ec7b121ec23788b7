// Package resultpartition implements the Result Sub-partition and Result
// Partition (spec §3, §4.4): the ordered per-consumer buffer queue a
// task's operator writes into, and the aggregate of such queues one task
// produces.
package resultpartition

import (
	"container/list"
	"sync"

	"github.com/streamcore/shuffle/internal/buffer"
)

// NextDataType reports what kind of thing (if any) a view's next call
// would currently yield, without requiring the caller to distinguish a
// "nothing ready" result from a type by inspecting a nil buffer.
type NextDataType int

const (
	// NextNone means nothing is currently available to read.
	NextNone NextDataType = iota
	NextData
	NextEvent
	NextPriorityEvent
)

func dataTypeToNext(dt buffer.DataType) NextDataType {
	switch dt {
	case buffer.DataTypeEvent:
		return NextEvent
	case buffer.DataTypePriorityEvent:
		return NextPriorityEvent
	default:
		return NextData
	}
}

// AvailabilityListener is notified when a sub-partition's view may have
// new data or a priority event ready to deliver. It mirrors spec §4.4's
// notifyDataAvailable/notifyPriorityEvent outputs, pushed by the producer
// side to whichever consumer (local view or network Sequence-View
// Reader) is attached.
type AvailabilityListener interface {
	NotifyDataAvailable()
	NotifyPriorityEvent(sequenceNumber int64)
}

type queueEntry struct {
	consumer *buffer.Consumer
	dataType buffer.DataType
}

// Subpartition is one shard of a Result Partition, destined for a
// specific downstream subtask. It is a single-writer (the producer task)
// / single-reader (the attached view) structure; the mutex exists only to
// protect the queue metadata shared between the producer thread and the
// consumer-side view thread (spec §5), not to serialize appends against
// reads of already-published buffer content.
type Subpartition struct {
	mu sync.Mutex

	index   int
	entries *list.List // of *queueEntry

	finished bool
	released bool
	cause    error

	listener AvailabilityListener

	backlog int
}

// NewSubpartition creates an empty sub-partition at the given index
// within its parent partition.
func NewSubpartition(index int) *Subpartition {
	return &Subpartition{index: index, entries: list.New()}
}

// Index returns the sub-partition's position within its parent partition.
func (s *Subpartition) Index() int { return s.index }

// SetAvailabilityListener attaches the listener notified by Add/Flush.
// At most one listener is meaningful at a time (spec models a single
// attached view per sub-partition); a later call replaces the former.
func (s *Subpartition) SetAvailabilityListener(l AvailabilityListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Add enqueues a Buffer Consumer. A non-priority add requires the current
// tail (if any) to already be finished - the invariant that there is at
// most one non-finished buffer at the tail (spec §4.4). Priority events
// are the one exception: they may be inserted ahead of an unfinished
// tail and will overtake it on read. Adding to a finished sub-partition,
// or violating the single-unfinished-tail invariant, is structural
// misuse and panics (spec §7).
func (s *Subpartition) Add(consumer *buffer.Consumer, dataType buffer.DataType) {
	s.mu.Lock()

	if s.finished {
		s.mu.Unlock()
		panic("resultpartition: add on a finished sub-partition")
	}

	entry := &queueEntry{consumer: consumer, dataType: dataType}
	isPriority := dataType == buffer.DataTypePriorityEvent

	back := s.entries.Back()
	if back != nil {
		tail := back.Value.(*queueEntry)
		tailUnfinished := !tail.consumer.BuilderFinished()
		if tailUnfinished && isPriority {
			s.entries.InsertBefore(entry, back)
		} else if tailUnfinished {
			s.mu.Unlock()
			panic("resultpartition: add with an unfinished non-priority tail already queued")
		} else {
			s.entries.PushBack(entry)
		}
	} else {
		s.entries.PushBack(entry)
	}

	s.backlog++
	listener := s.listener
	seq := int64(s.entries.Len())
	s.mu.Unlock()

	if listener != nil {
		if isPriority {
			listener.NotifyPriorityEvent(seq)
		} else {
			listener.NotifyDataAvailable()
		}
	}
}

// Flush nudges the attached view (if any) to notify data-available,
// without enqueuing anything new - used when a builder commits more
// bytes into an already-queued, still-growing tail consumer.
func (s *Subpartition) Flush() {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.NotifyDataAvailable()
	}
}

// Finish marks the sub-partition finished: an end-of-partition event is
// enqueued and further Add calls panic.
func (s *Subpartition) Finish(endOfPartition *buffer.Consumer) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		panic("resultpartition: finish called twice")
	}
	s.entries.PushBack(&queueEntry{consumer: endOfPartition, dataType: buffer.DataTypeEvent})
	s.backlog++
	s.finished = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.NotifyDataAvailable()
	}
}

// IsFinished reports whether Finish has been called.
func (s *Subpartition) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Release idempotently detaches the sub-partition from further
// consumption and records cause (the cause recorded is that of the first
// call, per spec §8's round-trip law). Any attached view observes the
// cause through FailureCause once released.
func (s *Subpartition) Release(cause error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.cause = cause
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.NotifyDataAvailable()
	}
}

// IsReleased reports whether Release has been called.
func (s *Subpartition) IsReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// FailureCause returns the cause recorded by Release, if any.
func (s *Subpartition) FailureCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// BuffersInBacklog returns the count of buffers enqueued but not yet
// fully drained.
func (s *Subpartition) BuffersInBacklog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog
}

// peekNextDataType reports the NextDataType of the current front entry
// without consuming anything, for View.IsAvailable.
func (s *Subpartition) peekNextDataType() NextDataType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peekLocked()
}

func (s *Subpartition) peekLocked() NextDataType {
	for e := s.entries.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*queueEntry)
		if entry.consumer.HasReadableBytes() {
			return dataTypeToNext(entry.dataType)
		}
		if !entry.consumer.BuilderFinished() {
			return NextNone
		}
		// Front entry is finished and fully drained of prior reads but we
		// haven't popped it via Next() yet; keep scanning conceptually -
		// in practice Next() pops drained entries as it goes, so this
		// branch is reached only transiently between Build calls.
		continue
	}
	return NextNone
}

// next pops/advances through the queue, returning the next readable
// buffer, its data type, whether any more is available after it, and the
// current queue length as a backlog figure - or ok=false if nothing is
// currently available.
func (s *Subpartition) next() (buf *buffer.Buffer, dt NextDataType, backlog int, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		front := s.entries.Front()
		if front == nil {
			if s.released && s.cause != nil {
				return nil, NextNone, 0, false, s.cause
			}
			return nil, NextNone, 0, false, nil
		}

		entry := front.Value.(*queueEntry)
		b, finished, got, buildErr := entry.consumer.Build()
		if buildErr != nil {
			return nil, NextNone, 0, false, buildErr
		}
		if got {
			backlog = s.entries.Len() - 1
			return b, dataTypeToNext(entry.dataType), backlog, true, nil
		}
		if finished {
			s.entries.Remove(front)
			if s.backlog > 0 {
				s.backlog--
			}
			continue
		}
		return nil, NextNone, 0, false, nil
	}
}
