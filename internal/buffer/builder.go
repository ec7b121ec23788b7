package buffer

import (
	"math"
	"sync/atomic"

	"github.com/streamcore/shuffle/internal/memseg"
)

// finishedEmpty is the sentinel published position meaning "the writer
// finished having written zero bytes." It is distinguished from the
// ordinary negative-to-mean-finished encoding because -0 == 0 would
// otherwise be indistinguishable from "not finished, zero bytes so far."
const finishedEmpty = math.MinInt32

// Builder is the single writer over one Memory Segment. append/commit
// follow spec §4.3: appends land in a cheap, uncommitted cache; only
// commit (or finish) performs the one publish - a single atomic store -
// that readers observe. There is no per-append memory-fence cost.
type Builder struct {
	segment  *memseg.Segment
	capacity int32
	cached   int32       // writer-local, unpublished write position
	position atomic.Int32 // published position; sign encodes "finished"

	consumerCreated atomic.Bool
	onRecycle       func(*memseg.Segment)
}

// NewBuilder creates a Builder over segment, ready to append starting at
// position zero.
func NewBuilder(segment *memseg.Segment, onRecycle func(*memseg.Segment)) *Builder {
	return &Builder{
		segment:   segment,
		capacity:  int32(segment.Capacity()),
		onRecycle: onRecycle,
	}
}

// WritableBytes returns how much room remains in the cache before commit.
func (b *Builder) WritableBytes() int32 {
	return b.capacity - b.cached
}

// IsFull reports whether the builder has no remaining writable bytes.
func (b *Builder) IsFull() bool {
	return b.cached >= b.capacity
}

// Append copies min(len(src), WritableBytes()) bytes into the segment at
// the cached position and advances the cache. It returns the number of
// bytes actually written; the caller must compare against len(src) to
// know whether everything fit. Append does not publish: call Commit (or
// Finish) to make the bytes visible to a reader.
func (b *Builder) Append(src []byte) (int, error) {
	toWrite := int32(len(src))
	if room := b.WritableBytes(); toWrite > room {
		toWrite = room
	}
	if toWrite == 0 {
		return 0, nil
	}
	if err := b.segment.CopyFromBytes(int64(b.cached), src, 0, int64(toWrite)); err != nil {
		return 0, err
	}
	b.cached += toWrite
	return int(toWrite), nil
}

// Commit publishes the cached write position so readers observe the bytes
// appended since the previous commit. This is the single volatile/atomic
// store spec §4.3 and §5 describe as the only publish cost on the
// producer's hot path.
func (b *Builder) Commit() {
	if b.cached == 0 {
		return
	}
	b.position.Store(b.cached)
}

// Finish commits any remaining uncommitted bytes and marks the builder
// finished: no further Append is meaningful once Finish has run. The
// published value's sign carries "finished"; a finish at position zero
// uses the dedicated finishedEmpty sentinel so it is not confused with
// "not finished, nothing committed yet."
func (b *Builder) Finish() {
	if b.cached == 0 {
		b.position.Store(finishedEmpty)
		return
	}
	b.position.Store(-b.cached)
}

// IsFinished reports whether Finish has been called.
func (b *Builder) IsFinished() bool {
	return isFinished(b.position.Load())
}

func isFinished(p int32) bool {
	return p < 0
}

func absolutePosition(p int32) int32 {
	if p == finishedEmpty {
		return 0
	}
	if p < 0 {
		return -p
	}
	return p
}

// CreateConsumer creates the single Buffer Consumer for this builder,
// starting from fromReaderIndex. Calling this a second time is structural
// misuse (spec §4.3, §7: "two consumers per builder" is raised
// immediately, not a recoverable condition) and panics.
func (b *Builder) CreateConsumer(fromReaderIndex int) *Consumer {
	if !b.consumerCreated.CompareAndSwap(false, true) {
		panic("buffer: a second Buffer Consumer was requested for this Builder")
	}
	return &Consumer{builder: b, readerIndex: int32(fromReaderIndex)}
}
