// Package buffer implements the reference-counted Buffer handle and the
// single-writer/single-reader Buffer Builder / Buffer Consumer pair that
// share a published write position over one Memory Segment (spec §3,
// §4.3).
package buffer

import (
	"sync/atomic"

	"github.com/streamcore/shuffle/internal/memseg"
)

// DataType tags the kind of payload a Buffer carries. Events are always
// deliverable regardless of a reader's remaining credit; priority events
// may overtake an unfinished data buffer at a sub-partition's tail.
type DataType int

const (
	// DataTypeData is an ordinary data record.
	DataTypeData DataType = iota
	// DataTypeEvent is a control event (e.g. end-of-partition, barrier).
	DataTypeEvent
	// DataTypePriorityEvent is a control event that may overtake an
	// unfinished tail buffer.
	DataTypePriorityEvent
)

func (d DataType) String() string {
	switch d {
	case DataTypeData:
		return "data"
	case DataTypeEvent:
		return "event"
	case DataTypePriorityEvent:
		return "priority-event"
	default:
		return "unknown"
	}
}

// IsEvent reports whether d is one of the two event variants.
func (d DataType) IsEvent() bool {
	return d == DataTypeEvent || d == DataTypePriorityEvent
}

// Buffer is a reference-counted handle over a byte slice of a Memory
// Segment. Refcount starts at 1 on creation; Retain increments it, and
// Release decrements it, recycling the underlying segment through
// onRecycle exactly once when the count reaches zero.
type Buffer struct {
	segment     *memseg.Segment
	data        []byte
	dataType    DataType
	compressed  bool
	readerIndex int
	refCount    atomic.Int32
	onRecycle   func(*memseg.Segment)
}

// New wraps data (a view over segment) as a Buffer with refcount 1.
// onRecycle, if non-nil, is invoked with segment when the refcount drops
// to zero.
func New(segment *memseg.Segment, data []byte, dataType DataType, onRecycle func(*memseg.Segment)) *Buffer {
	b := &Buffer{segment: segment, data: data, dataType: dataType, onRecycle: onRecycle}
	b.refCount.Store(1)
	return b
}

// DataType returns the buffer's data-type tag.
func (b *Buffer) DataType() DataType { return b.dataType }

// SetCompressed marks whether the payload is compressed; events never are.
func (b *Buffer) SetCompressed(v bool) { b.compressed = v }

// IsCompressed reports whether the payload is compressed.
func (b *Buffer) IsCompressed() bool { return b.compressed }

// Len returns the total number of bytes the buffer carries.
func (b *Buffer) Len() int { return len(b.data) }

// ReaderIndex returns the current read cursor.
func (b *Buffer) ReaderIndex() int { return b.readerIndex }

// ReadableBytes returns the number of bytes not yet consumed from the
// reader's perspective.
func (b *Buffer) ReadableBytes() int { return len(b.data) - b.readerIndex }

// Bytes returns the full backing slice (ignoring the reader index), for
// callers that need the whole payload (e.g. framing onto the wire).
func (b *Buffer) Bytes() []byte { return b.data }

// ReadBytes returns the unread tail and advances the reader index past it.
func (b *Buffer) ReadBytes() []byte {
	out := b.data[b.readerIndex:]
	b.readerIndex = len(b.data)
	return out
}

// Retain increments the refcount and returns b for chaining.
func (b *Buffer) Retain() *Buffer {
	b.refCount.Add(1)
	return b
}

// Release decrements the refcount, recycling the segment when it reaches
// zero, and reports whether this call was the one that recycled it.
func (b *Buffer) Release() bool {
	if b.refCount.Add(-1) == 0 {
		if b.onRecycle != nil {
			b.onRecycle(b.segment)
		}
		return true
	}
	return false
}

// RefCount returns the current reference count, for diagnostics/tests.
func (b *Buffer) RefCount() int32 { return b.refCount.Load() }
