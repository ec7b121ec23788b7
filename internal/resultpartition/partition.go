package resultpartition

import (
	"sync"
	"sync/atomic"

	"github.com/streamcore/shuffle/internal/buffer"
	shufflerrors "github.com/streamcore/shuffle/internal/errors"
)

// Type tags the three sub-partition kinds spec §9 groups under one
// tagged-variant capability set: pipelined (fully in-memory, streaming),
// pipelined-bounded (in-memory, with CanAccept reporting false once a
// backlog ceiling is reached instead of blocking the producer under a
// lock; Subpartition.Add itself does not check the ceiling), and blocking
// (finished data is spillable to the on-disk layout of spec §6, for a
// consumer that has not yet been scheduled).
type Type int

const (
	TypePipelined Type = iota
	TypePipelinedBounded
	TypeBlocking
)

func (t Type) String() string {
	switch t {
	case TypePipelined:
		return "pipelined"
	case TypePipelinedBounded:
		return "pipelined_bounded"
	case TypeBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// ID identifies a Result Partition: the pairing of an intermediate
// data-set id and the producer attempt that created it (spec §3).
type ID struct {
	IntermediateDataSetID string
	ProducerAttemptID     string
}

// BufferPool is the narrow view a Partition needs of its buffer pool;
// declared here (not in internal/bufferpool) because it is this
// package's consumer-side contract, not the pool's own API surface.
type BufferPool interface {
	Required() int
	Requested() int
	Max() int
	Destroy()
}

// Metrics holds partition-level activity counters. Nothing in this
// package increments them; they stay zero unless a caller adds to them.
type Metrics struct {
	BuffersWritten  atomic.Int64
	BytesWritten    atomic.Int64
	BuffersConsumed atomic.Int64
}

// Partition is the aggregate of sub-partitions produced by one task
// (spec §3: "array of N sub-partitions, a Buffer Pool reference, a
// partition id, a type, metrics counters, a finished flag, and a
// released flag with a cause").
type Partition struct {
	id            ID
	kind          Type
	subpartitions []*Subpartition
	pool          BufferPool

	// backlogCeiling bounds TypePipelinedBounded sub-partitions: CanAccept
	// reports false once this many un-drained entries are queued, instead
	// of blocking the producer thread under a lock. Adds are not rejected.
	backlogCeiling int

	mu       sync.Mutex
	finished bool
	released bool
	cause    error

	Metrics Metrics
}

// New creates a Partition with n sub-partitions.
func New(id ID, kind Type, n int, pool BufferPool, backlogCeiling int) *Partition {
	subs := make([]*Subpartition, n)
	for i := range subs {
		subs[i] = NewSubpartition(i)
	}
	return &Partition{id: id, kind: kind, subpartitions: subs, pool: pool, backlogCeiling: backlogCeiling}
}

// ID returns the partition's identity.
func (p *Partition) ID() ID { return p.id }

// Type returns the partition's sub-partition kind.
func (p *Partition) Type() Type { return p.kind }

// NumSubpartitions returns the number of sub-partitions.
func (p *Partition) NumSubpartitions() int { return len(p.subpartitions) }

// Subpartition returns the sub-partition at index, or nil if out of
// range.
func (p *Partition) Subpartition(index int) *Subpartition {
	if index < 0 || index >= len(p.subpartitions) {
		return nil
	}
	return p.subpartitions[index]
}

// CreateReadView creates a View over the sub-partition at index.
func (p *Partition) CreateReadView(index int, listener AvailabilityListener) (*View, error) {
	sub := p.Subpartition(index)
	if sub == nil {
		return nil, shufflerrors.Newf(shufflerrors.KindPartitionNotFound, "no sub-partition at index %d", index)
	}
	return NewView(sub, listener), nil
}

// CanAccept reports whether sub-partition index may accept another add,
// honoring the pipelined-bounded backlog ceiling. Pipelined and blocking
// partitions have no ceiling.
func (p *Partition) CanAccept(index int) bool {
	if p.kind != TypePipelinedBounded || p.backlogCeiling <= 0 {
		return true
	}
	sub := p.Subpartition(index)
	if sub == nil {
		return false
	}
	return sub.BuffersInBacklog() < p.backlogCeiling
}

// Finish finishes every sub-partition and marks the partition finished.
// endOfPartitionMarker(index) produces the end-of-partition event
// consumer for sub-partition index - each sub-partition needs its own,
// since a Buffer Consumer may only ever be attached to one queue.
func (p *Partition) Finish(endOfPartitionMarker func(index int) *buffer.Consumer) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.mu.Unlock()

	for _, sub := range p.subpartitions {
		if !sub.IsFinished() {
			sub.Finish(endOfPartitionMarker(sub.Index()))
		}
	}
}

// IsFinished reports whether Finish has been called.
func (p *Partition) IsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Release is idempotent (spec §8 round-trip law): the cause recorded is
// that of the first call. It releases every sub-partition and the
// partition's buffer pool.
func (p *Partition) Release(cause error) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.cause = cause
	p.mu.Unlock()

	for _, sub := range p.subpartitions {
		sub.Release(cause)
	}
	if p.pool != nil {
		p.pool.Destroy()
	}
}

// IsReleased reports whether Release has been called.
func (p *Partition) IsReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// ReleaseCause returns the cause recorded by Release, if any.
func (p *Partition) ReleaseCause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}
