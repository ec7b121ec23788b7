package resultpartition

import (
	"sync/atomic"

	"github.com/streamcore/shuffle/internal/buffer"
)

// NextBufferResult is what View.Next returns when something is ready.
type NextBufferResult struct {
	Buffer         *buffer.Buffer
	Backlog        int
	NextDataType   NextDataType
	SequenceNumber int64
}

// View is the consumer-side cursor over a Subpartition (spec §4.4). Local
// consumers hold a View directly; remote consumers hold one wrapped by a
// network Sequence-View Reader (internal/netqueue).
type View struct {
	sub *Subpartition
	seq atomic.Int64

	resumed atomic.Bool
}

// NewView creates a View over sub, registering itself as the
// sub-partition's availability listener. listener receives the
// availability pushes (notifyDataAvailable/notifyPriorityEvent) so the
// owner (e.g. a netqueue Reader) can enqueue itself for polling.
func NewView(sub *Subpartition, listener AvailabilityListener) *View {
	v := &View{sub: sub}
	v.resumed.Store(true)
	sub.SetAvailabilityListener(listener)
	return v
}

// Next returns the next available buffer, or ok=false if nothing is
// currently ready (not an error: the normal back-pressure/no-data case).
func (v *View) Next() (result NextBufferResult, ok bool, err error) {
	buf, dt, backlog, got, err := v.sub.next()
	if err != nil {
		return NextBufferResult{}, false, err
	}
	if !got {
		return NextBufferResult{}, false, nil
	}
	seq := v.seq.Add(1)
	return NextBufferResult{Buffer: buf, Backlog: backlog, NextDataType: dt, SequenceNumber: seq}, true, nil
}

// IsAvailable reports whether a read of Next would currently return
// something: an event is always deliverable regardless of credit; a data
// buffer requires credit > 0.
func (v *View) IsAvailable(credit int) bool {
	switch v.sub.peekNextDataType() {
	case NextEvent, NextPriorityEvent:
		return true
	case NextData:
		return credit > 0
	default:
		return false
	}
}

// ResumeConsumption re-arms the view after a checkpoint-alignment pause.
func (v *View) ResumeConsumption() {
	v.resumed.Store(true)
}

// IsReleased reports whether the underlying sub-partition has been
// released.
func (v *View) IsReleased() bool {
	return v.sub.IsReleased()
}

// FailureCause returns the sub-partition's recorded release cause, if
// any.
func (v *View) FailureCause() error {
	return v.sub.FailureCause()
}

// BuffersInBacklog returns the sub-partition's current backlog count.
func (v *View) BuffersInBacklog() int {
	return v.sub.BuffersInBacklog()
}
