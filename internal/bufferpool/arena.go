package bufferpool

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"

	"github.com/streamcore/shuffle/internal/memseg"
)

// defaultMaxConcurrentAllocations bounds how many Allocate calls may be
// in flight against the underlying allocator at once, by default - a
// direct Go-heap allocate is cheap, but an mmap'd off-heap allocator
// (see WithAllocator) can contend badly if every lease racing to grow
// the arena calls it unbounded.
const defaultMaxConcurrentAllocations = 8

// Arena is the network-memory arena a Pool leases fixed-size segments
// from. The default arena allocates plain Go byte slices (heap segments);
// a production deployment wanting true off-heap segments supplies an
// Allocate function backed by an mmap'd region instead.
type Arena struct {
	segmentSize int
	kind        memseg.Kind
	allocate    func(size int) ([]byte, error)
	attempts    uint
	delay       time.Duration
	sem         *semaphore.Weighted
}

// ArenaOption configures an Arena.
type ArenaOption func(*Arena)

// WithAllocator overrides how raw byte regions are obtained, e.g. to back
// segments with an mmap'd arena instead of the Go heap.
func WithAllocator(kind memseg.Kind, allocate func(size int) ([]byte, error)) ArenaOption {
	return func(a *Arena) {
		a.kind = kind
		a.allocate = allocate
	}
}

// WithRetry configures the retry budget used when the underlying
// allocator transiently fails (e.g. an mmap call refused under memory
// pressure). The default is 3 attempts with a 10ms base delay.
func WithRetry(attempts uint, delay time.Duration) ArenaOption {
	return func(a *Arena) {
		a.attempts = attempts
		a.delay = delay
	}
}

// WithMaxConcurrentAllocations overrides how many Allocate calls may run
// against the underlying allocator concurrently.
func WithMaxConcurrentAllocations(n int64) ArenaOption {
	return func(a *Arena) { a.sem = semaphore.NewWeighted(n) }
}

// NewArena creates an Arena that hands out segments of segmentSize bytes.
func NewArena(segmentSize int, opts ...ArenaOption) *Arena {
	a := &Arena{
		segmentSize: segmentSize,
		kind:        memseg.KindHeap,
		allocate:    func(size int) ([]byte, error) { return make([]byte, size), nil },
		attempts:    3,
		delay:       10 * time.Millisecond,
		sem:         semaphore.NewWeighted(defaultMaxConcurrentAllocations),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SegmentSize returns the fixed size every segment this arena allocates.
func (a *Arena) SegmentSize() int { return a.segmentSize }

// Allocate produces a new Segment, retrying transient allocator failures
// with bounded backoff before giving up. onFree is wired by the caller
// (normally the Pool itself, recycling the segment back to its free
// list). Concurrent callers growing the arena at once are gated by a
// semaphore so the allocator itself never sees more than
// defaultMaxConcurrentAllocations (or the WithMaxConcurrentAllocations
// override) in-flight attempts.
func (a *Arena) Allocate(ctx context.Context, onFree func()) (*memseg.Segment, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	var data []byte
	err := retry.Do(
		func() error {
			d, err := a.allocate(a.segmentSize)
			if err != nil {
				return err
			}
			data = d
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(a.attempts),
		retry.Delay(a.delay),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, err
	}
	return memseg.New(a.kind, data, nil, onFree), nil
}
