package netqueue

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc"

	"github.com/streamcore/shuffle/internal/collab"
	shufflerrors "github.com/streamcore/shuffle/internal/errors"
	"github.com/streamcore/shuffle/internal/netqueue/wire"
	"github.com/streamcore/shuffle/internal/resultpartition"
)

// Transport is the narrow view of a connection the Queue needs: whether
// it can currently accept another write, how to send one framed message,
// and how to close it outright. The real implementation in
// cmd/shuffle-worker wraps a net.Conn and always reports itself
// writable, leaving backpressure to the blocking write; tests use an
// in-memory fake.
type Transport interface {
	IsWritable() bool
	WriteAndFlush(msg wire.Message) error
	Close() error
}

// ViewFactory resolves a partition-request's (partitionId, index) pair to
// a sub-partition view. Declared here, not imported from
// internal/partitionmanager, so the Queue depends only on the narrow
// capability it actually uses - the teacher's own "accept interfaces
// where consumed" convention.
type ViewFactory func(id resultpartition.ID, index int, listener resultpartition.AvailabilityListener) (*resultpartition.View, error)

// Queue is the Partition Request Queue (spec §4.6): the per-connection
// multiplexer choosing which attached Reader writes next. allReaders and
// availableReaders are exactly the two collections spec §4.6 names.
type Queue struct {
	transport   Transport
	createView  ViewFactory
	compressor  collab.BufferCompressor
	logger      *slog.Logger

	mu         sync.Mutex
	allReaders map[ReceiverID]*Reader
	available  *list.List // of *Reader

	pumping    atomic.Bool
	fatalErr   atomic.Bool
	closed     atomic.Bool
	started    atomic.Bool

	// cancelledRecently records the last 256 receiver ids that were
	// cancelled. No handler reads it: a delayed duplicate cancel (or a
	// stray late notifyNonEmpty racing a cancel) is dropped because its
	// id is no longer in allReaders.
	cancelledRecently *lru.Cache[ReceiverID, struct{}]

	events chan func()
	wg     *conc.WaitGroup
}

// QueueOption configures optional Queue collaborators.
type QueueOption func(*Queue)

// WithCompressor attaches the optional Buffer Compressor collaborator
// (spec §6): data buffers above the compressor's own size threshold are
// compressed before the BufferResponse is framed; events always bypass
// it. A Queue built without this option never compresses.
func WithCompressor(c collab.BufferCompressor) QueueOption {
	return func(q *Queue) { q.compressor = c }
}

// NewQueue creates a Queue writing to transport. createView resolves
// incoming PartitionRequests to sub-partition views; it may be nil if the
// caller only ever calls AttachReader directly (e.g. in tests).
func NewQueue(transport Transport, createView ViewFactory, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[ReceiverID, struct{}](256)
	q := &Queue{
		transport:         transport,
		createView:        createView,
		logger:            logger.With("component", "netqueue"),
		allReaders:        make(map[ReceiverID]*Reader),
		available:         list.New(),
		cancelledRecently: cache,
		events:            make(chan func(), 128),
		wg:                conc.NewWaitGroup(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the queue's single event-loop goroutine, the
// "dispatched through a user-event channel" ingress spec §4.6 requires
// for cross-thread mutation. Wrapped in a conc.WaitGroup so a panic while
// handling one event is recovered and reported rather than taking the
// whole process down.
func (q *Queue) Start(ctx context.Context) {
	q.started.Store(true)
	q.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fn, ok := <-q.events:
				if !ok {
					return
				}
				fn()
			}
		}
	})
}

// Stop drains and stops the event loop, waiting for it to exit. A panic
// raised inside the loop is recovered here and logged.
func (q *Queue) Stop() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.events)
	}
	if rec := q.wg.WaitAndRecover(); rec != nil {
		q.logger.Error("netqueue: event loop panicked", "panic", rec.Value)
	}
}

// dispatch posts fn onto the event loop. If the loop isn't running (e.g.
// a unit test driving the queue directly, single-threaded) or the channel
// is momentarily full, fn runs inline instead of being silently dropped -
// the channel is an ordering/cross-thread-safety aid, not a requirement
// for correctness, since every handler below is itself mutex-protected.
func (q *Queue) dispatch(fn func()) {
	if q.fatalErr.Load() || q.closed.Load() {
		return
	}
	if !q.started.Load() {
		fn()
		return
	}
	select {
	case q.events <- fn:
	default:
		fn()
	}
}

// AttachReader registers r and wires its availability notifications back
// into the queue.
func (q *Queue) AttachReader(r *Reader) {
	q.mu.Lock()
	q.allReaders[r.id] = r
	q.mu.Unlock()
	r.onAvailable = func() { q.scheduleNonEmpty(r.id) }
}

// HandlePartitionRequest creates a Reader for req via the queue's
// ViewFactory, attaches it, and returns it.
func (q *Queue) HandlePartitionRequest(req wire.PartitionRequest) (*Reader, error) {
	if q.createView == nil {
		return nil, shufflerrors.New(shufflerrors.KindPartitionNotFound, "netqueue: no view factory configured")
	}
	id := ReceiverID(req.ReceiverID)
	partitionID := resultpartition.ID{
		IntermediateDataSetID: req.IntermediateDataSetID,
		ProducerAttemptID:     req.ProducerAttemptID,
	}

	r := NewReader(id, nil, req.InitialCredit)
	// Wired before CreateView so that an availability push racing the
	// view's construction (the listener is attached inside CreateView,
	// synchronously, before it returns) is never silently dropped.
	r.onAvailable = func() { q.scheduleNonEmpty(r.id) }

	view, err := q.createView(partitionID, int(req.SubpartitionIndex), r)
	if err != nil {
		return nil, err
	}
	r.view = view

	q.mu.Lock()
	q.allReaders[r.id] = r
	q.mu.Unlock()

	q.tryEnqueue(r)
	q.Pump()
	return r, nil
}

// scheduleNonEmpty is the producer-side ingress: a sub-partition's
// availability push, dispatched onto the event loop rather than mutating
// queue state directly from the producer's own thread.
func (q *Queue) scheduleNonEmpty(id ReceiverID) {
	q.dispatch(func() { q.NotifyNonEmpty(id) })
}

// NotifyNonEmpty attempts to enqueue the reader identified by id if it is
// newly sendable, then pumps the queue.
func (q *Queue) NotifyNonEmpty(id ReceiverID) {
	r := q.lookup(id)
	if r == nil {
		return
	}
	q.tryEnqueue(r)
	q.Pump()
}

// HandleAddCredit grants delta credit to the reader identified by id and
// re-attempts enqueue (more credit may make it newly sendable).
func (q *Queue) HandleAddCredit(id ReceiverID, delta int32) {
	r := q.lookup(id)
	if r == nil {
		return
	}
	r.AddCredit(delta)
	q.tryEnqueue(r)
	q.Pump()
}

// HandleResumeConsumption re-arms the reader identified by id and
// re-attempts enqueue.
func (q *Queue) HandleResumeConsumption(id ReceiverID) {
	r := q.lookup(id)
	if r == nil {
		return
	}
	r.ResumeConsumption()
	q.tryEnqueue(r)
	q.Pump()
}

// HandleCancelRequest removes the reader identified by id from both
// collections and releases its view.
func (q *Queue) HandleCancelRequest(id ReceiverID) {
	q.mu.Lock()
	r, ok := q.allReaders[id]
	if ok {
		delete(q.allReaders, id)
	}
	q.cancelledRecently.Add(id, struct{}{})
	q.mu.Unlock()

	if !ok {
		return
	}
	q.removeFromAvailable(r)
	r.Release(nil)
}

// NotifyTransportWritable is the transport-writability-transition event:
// it simply re-pumps.
func (q *Queue) NotifyTransportWritable() {
	q.Pump()
}

func (q *Queue) lookup(id ReceiverID) *Reader {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allReaders[id]
}

// tryEnqueue enqueues r iff it is not already enqueued and it is
// currently sendable - exactly spec §4.6's "registeredAsAvailable guard
// and isAvailable(credit)" algorithm.
func (q *Queue) tryEnqueue(r *Reader) {
	if r.IsReleased() || !r.IsAvailable() {
		return
	}
	if !r.MarkRegisteredAvailable() {
		return
	}
	q.mu.Lock()
	q.available.PushBack(r)
	q.mu.Unlock()
}

func (q *Queue) popAvailable() (*Reader, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.available.Front()
	if front == nil {
		return nil, false
	}
	q.available.Remove(front)
	return front.Value.(*Reader), true
}

func (q *Queue) removeFromAvailable(target *Reader) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.available.Front(); e != nil; e = e.Next() {
		if e.Value.(*Reader) == target {
			q.available.Remove(e)
			break
		}
	}
}

// Pump is the multiplexer's core loop (spec §4.6): while the transport is
// writable, poll the next available reader and handle its four possible
// outcomes. A pumping guard makes concurrent Pump calls (from notify,
// add-credit, writability events all firing in a burst) collapse into
// whichever single pass is already running picking up the newly available
// work, rather than stacking redundant passes.
func (q *Queue) Pump() {
	if q.fatalErr.Load() || q.closed.Load() {
		return
	}
	if !q.pumping.CompareAndSwap(false, true) {
		return
	}
	defer q.pumping.Store(false)

	for q.transport.IsWritable() {
		r, ok := q.popAvailable()
		if !ok {
			return
		}
		q.serviceReader(r)
		if q.fatalErr.Load() {
			return
		}
	}
}

func (q *Queue) serviceReader(r *Reader) {
	result, got, err := r.GetNextBuffer()
	if err != nil {
		q.fail(r, err)
		return
	}

	if got {
		r.ClearRegisteredAvailable()
		payload := result.Buffer.ReadBytes()
		dataType := result.Buffer.DataType()
		var compressed bool
		if q.compressor != nil && !dataType.IsEvent() {
			if dst, ok := q.compressor.Compress(payload); ok {
				payload, compressed = dst, true
			}
		}
		msg := wire.BufferResponse{
			ReceiverID:     string(r.ID()),
			SequenceNumber: result.SequenceNumber,
			Backlog:        int32(result.Backlog),
			DataType:       byte(dataType),
			IsCompressed:   compressed,
			Payload:        payload,
		}
		if err := q.transport.WriteAndFlush(msg); err != nil {
			q.fail(r, err)
			return
		}
		// More available -> re-enqueue (outcome "buffer returned, more
		// available"); nothing more -> leave it off the queue until the
		// next availability push (outcome "buffer returned, no more").
		q.tryEnqueue(r)
		return
	}

	// Null buffer: either a spurious wakeup (reader not released - just
	// clear the flag so the next real availability push can re-enqueue
	// it) or the reader has been released, in which case a final
	// ErrorResponse is sent iff a failure cause is attached.
	r.ClearRegisteredAvailable()
	if !r.IsReleased() {
		return
	}
	if cause := r.FailureCause(); cause != nil {
		_ = q.transport.WriteAndFlush(wire.ErrorResponse{ReceiverID: string(r.ID()), Message: cause.Error()})
	}
}

// fail implements spec §4.6's error policy: mark fatalError, release
// every attached reader, send a final ErrorResponse if the transport is
// still writable, and close.
func (q *Queue) fail(r *Reader, writeErr error) {
	if !q.fatalErr.CompareAndSwap(false, true) {
		return
	}
	wrapped := shufflerrors.Wrap(shufflerrors.KindFatalTransport, "netqueue: connection failed", writeErr)

	q.mu.Lock()
	readers := make([]*Reader, 0, len(q.allReaders))
	for _, rd := range q.allReaders {
		readers = append(readers, rd)
	}
	q.allReaders = make(map[ReceiverID]*Reader)
	q.available = list.New()
	q.mu.Unlock()

	for _, rd := range readers {
		rd.Release(wrapped)
	}

	if q.transport.IsWritable() {
		_ = q.transport.WriteAndFlush(wire.ErrorResponse{ReceiverID: string(r.ID()), Message: wrapped.Error()})
	}
	_ = q.transport.Close()
	q.logger.Error("netqueue: fatal transport error", "error", wrapped)
}

// IsFatal reports whether the queue has entered its terminal fatalError
// state. Once true, further enqueue attempts are no-ops (spec §4.6).
func (q *Queue) IsFatal() bool { return q.fatalErr.Load() }

var _ resultpartition.AvailabilityListener = (*Reader)(nil)
