// Package bufferpool implements the per-Result-Partition buffer pool:
// leasing segments from a shared arena subject to required/requested/max
// quotas, recycling them back to pending requesters (FIFO) or registered
// listeners, and reporting metrics (spec §4.2).
package bufferpool

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	shufflerrors "github.com/streamcore/shuffle/internal/errors"
	"github.com/streamcore/shuffle/internal/memseg"
)

// Listener is notified when a segment becomes available for lease. Its
// return value decides whether it stays subscribed: true keeps it in the
// queue for the next recycle, false (the one-shot case) drops it.
type Listener interface {
	NotifyBufferAvailable(seg *memseg.Segment) (keep bool)
}

// LeaseResult is delivered to a pending requester's future once a segment
// becomes available, or once the pool is destroyed while the requester
// was still waiting.
type LeaseResult struct {
	Segment *memseg.Segment
	Err     error
}

// Snapshot is a point-in-time view of pool occupancy, cheap to read
// without taking the pool's lock (see Pool.Metrics).
type Snapshot struct {
	Required    int
	Requested   int
	Max         int
	Available   int
	Leased      int
	PendingWait int
	Timestamp   time.Time
}

// Pool leases fixed-size segments from an Arena subject to
// required <= requested <= max (spec invariant 3 of §8).
type Pool struct {
	mu sync.Mutex

	arena *Arena

	required  int
	requested int
	max       int

	available []*memseg.Segment
	leased    int

	pending   *list.List // of *pendingRequest
	listeners *list.List // of Listener

	destroyed bool

	// notify runs registered-Listener callbacks on their own goroutines
	// via conc/pool, so a slow or blocking Listener never stalls the
	// caller recycling a segment (typically a Buffer's refcount-zero
	// release, which must stay cheap).
	notify *concpool.Pool

	logger *slog.Logger
}

type pendingRequest struct {
	result chan LeaseResult
}

// Config describes the quotas a Pool is constructed with.
type Config struct {
	Required int
	Max      int
}

// New creates a Pool drawing segments from arena. required is reserved
// and never relinquished; max is the hard ceiling on concurrently
// outstanding (leased + available-but-not-yet-returned-to-arena)
// segments.
func New(arena *Arena, cfg Config) *Pool {
	if cfg.Required > cfg.Max {
		cfg.Max = cfg.Required
	}
	p := &Pool{
		arena:     arena,
		required:  cfg.Required,
		max:       cfg.Max,
		pending:   list.New(),
		listeners: list.New(),
		notify:    concpool.New(),
		logger:    slog.Default().With("component", "bufferpool"),
	}
	for i := 0; i < cfg.Required; i++ {
		seg, err := arena.Allocate(context.Background(), nil)
		if err != nil {
			break
		}
		p.available = append(p.available, seg)
		p.requested++
	}
	return p
}

// Required, Requested, Max report the three quota numbers (spec §4.2).
func (p *Pool) Required() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.required
}

func (p *Pool) Requested() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requested
}

func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// Metrics returns a snapshot of current occupancy.
func (p *Pool) Metrics() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Required:    p.required,
		Requested:   p.requested,
		Max:         p.max,
		Available:   len(p.available),
		Leased:      p.leased,
		PendingWait: p.pending.Len(),
		Timestamp:   time.Now(),
	}
}

// RequestBuffer leases a segment, blocking until one is available, ctx is
// done, or the pool is destroyed. A caller that cannot afford to block
// should use RequestBufferFuture instead.
func (p *Pool) RequestBuffer(ctx context.Context) (*memseg.Segment, error) {
	seg, future, err := p.tryLeaseOrQueue(ctx)
	if err != nil {
		return nil, err
	}
	if seg != nil {
		return seg, nil
	}

	select {
	case res := <-future:
		return res.Segment, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestBufferFuture leases a segment if one is immediately available,
// returning a nil channel in that case with the segment already set; if
// none is available it enqueues a pending requester and returns a
// channel that will receive exactly one LeaseResult.
func (p *Pool) RequestBufferFuture() (*memseg.Segment, <-chan LeaseResult) {
	seg, future, err := p.tryLeaseOrQueue(context.Background())
	if err != nil {
		ch := make(chan LeaseResult, 1)
		ch <- LeaseResult{Err: err}
		return nil, ch
	}
	if seg != nil {
		return seg, nil
	}
	return nil, future
}

// tryLeaseOrQueue attempts an immediate lease (from the free list, or by
// growing the arena allocation up to max); if neither is possible it
// enqueues a pending requester and returns its future channel.
func (p *Pool) tryLeaseOrQueue(ctx context.Context) (*memseg.Segment, chan LeaseResult, error) {
	p.mu.Lock()

	if p.destroyed {
		p.mu.Unlock()
		return nil, nil, shufflerrors.New(shufflerrors.KindPoolDestroyed, "buffer pool destroyed")
	}

	if n := len(p.available); n > 0 {
		seg := p.available[n-1]
		p.available = p.available[:n-1]
		p.leased++
		p.mu.Unlock()
		return seg, nil, nil
	}

	if p.requested < p.max {
		p.requested++
		p.leased++
		p.mu.Unlock()

		seg, err := p.arena.Allocate(ctx, nil)
		if err != nil {
			p.mu.Lock()
			p.requested--
			p.leased--
			p.mu.Unlock()
			return nil, nil, err
		}
		return seg, nil, nil
	}

	req := &pendingRequest{result: make(chan LeaseResult, 1)}
	p.pending.PushBack(req)
	p.mu.Unlock()
	return nil, req.result, nil
}

// RecycleSegment returns seg to the pool: first to the oldest pending
// requester (FIFO), then to a registered Listener (removed from the
// subscription list unless it asks to keep listening, dispatched on
// p.notify so the caller never blocks on the listener's callback), then
// to the free list for a future lease. Used as the onRecycle callback
// wired into buffer.New, so it runs when a Buffer's refcount reaches
// zero.
func (p *Pool) RecycleSegment(seg *memseg.Segment) {
	p.mu.Lock()

	if p.destroyed {
		p.leased--
		p.mu.Unlock()
		seg.Free()
		return
	}

	if e := p.pending.Front(); e != nil {
		req := p.pending.Remove(e).(*pendingRequest)
		p.mu.Unlock()
		req.result <- LeaseResult{Segment: seg}
		return
	}

	if e := p.listeners.Front(); e != nil {
		l := p.listeners.Remove(e).(Listener)
		p.leased--
		p.mu.Unlock()
		p.notify.Go(func() {
			if l.NotifyBufferAvailable(seg) {
				p.mu.Lock()
				p.listeners.PushBack(l)
				p.mu.Unlock()
			}
		})
		return
	}

	p.leased--
	p.available = append(p.available, seg)
	p.mu.Unlock()
}

// RegisterListener subscribes l to be offered the next recycled segment
// (after any FIFO-pending requesters are satisfied first).
func (p *Pool) RegisterListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners.PushBack(l)
}

// Destroy marks the pool destroyed: further lease requests fail with
// KindPoolDestroyed, every registered listener is notified (with a nil
// segment) that the pool is gone, and any segments still leased are
// returned to the arena (freed) only as their refcount falls to zero via
// RecycleSegment, not immediately.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true

	pending := p.pending
	p.pending = list.New()
	available := p.available
	p.available = nil
	listeners := p.listeners
	p.listeners = list.New()
	p.mu.Unlock()

	for e := pending.Front(); e != nil; e = e.Next() {
		req := e.Value.(*pendingRequest)
		req.result <- LeaseResult{Err: shufflerrors.New(shufflerrors.KindPoolDestroyed, "buffer pool destroyed")}
	}
	for e := listeners.Front(); e != nil; e = e.Next() {
		e.Value.(Listener).NotifyBufferAvailable(nil)
	}
	for _, seg := range available {
		seg.Free()
	}
}

// IsDestroyed reports whether Destroy has been called.
func (p *Pool) IsDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Factory produces a Pool per Result Partition, implementing the
// "Buffer Pool Factory" collaborator contract of spec §6.
type Factory struct {
	arena *Arena
}

// NewFactory creates a Factory drawing every produced pool's segments
// from arena.
func NewFactory(arena *Arena) *Factory {
	return &Factory{arena: arena}
}

// NewBufferPool produces a pool for a partition with the given required
// and max quotas. perSubPartitionMax is accepted for interface parity
// with the collaborator contract; enforcing it is the caller's
// responsibility (each sub-partition caps its own outstanding lease
// requests), since the pool itself only tracks the partition-wide quota.
func (f *Factory) NewBufferPool(required, max, perSubPartitionMax int) (*Pool, error) {
	_ = perSubPartitionMax
	return New(f.arena, Config{Required: required, Max: max}), nil
}
