package resultpartition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/shuffle/internal/buffer"
	"github.com/streamcore/shuffle/internal/memseg"
)

func newConsumer(size int) (*buffer.Builder, *buffer.Consumer) {
	seg := memseg.New(memseg.KindHeap, make([]byte, size), nil, nil)
	b := buffer.NewBuilder(seg, nil)
	c := b.CreateConsumer(0)
	return b, c
}

type recordingAvail struct {
	dataAvailable  int
	priorityEvents []int64
}

func (r *recordingAvail) NotifyDataAvailable()                    { r.dataAvailable++ }
func (r *recordingAvail) NotifyPriorityEvent(seq int64)           { r.priorityEvents = append(r.priorityEvents, seq) }

func TestSubpartition_BasicOrderAndFinish(t *testing.T) {
	sub := NewSubpartition(0)

	b1, c1 := newConsumer(16)
	_, err := b1.Append([]byte("abc"))
	require.NoError(t, err)
	b1.Commit()
	b1.Finish()
	sub.Add(c1, buffer.DataTypeData)

	b2, c2 := newConsumer(16)
	_, err = b2.Append([]byte("def"))
	require.NoError(t, err)
	b2.Commit()
	b2.Finish()
	sub.Add(c2, buffer.DataTypeData)

	v := NewView(sub, nil)

	r1, ok, err := v.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(r1.Buffer.Bytes()))
	assert.EqualValues(t, 1, r1.SequenceNumber)

	r2, ok, err := v.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "def", string(r2.Buffer.Bytes()))
	assert.EqualValues(t, 2, r2.SequenceNumber)

	_, ok, err = v.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestSubpartition_PriorityOvertaking is boundary scenario (f): a
// priority event injected while the tail buffer is still unfinished must
// be delivered before that (still-growing) buffer, and a subsequent read
// returns the data buffer's published prefix.
func TestSubpartition_PriorityOvertaking(t *testing.T) {
	sub := NewSubpartition(0)

	dataBuilder, dataConsumer := newConsumer(32)
	_, err := dataBuilder.Append([]byte("partial"))
	require.NoError(t, err)
	dataBuilder.Commit()
	// NOT finished: this is the open, still-growing tail.
	sub.Add(dataConsumer, buffer.DataTypeData)

	eventBuilder, eventConsumer := newConsumer(8)
	_, err = eventBuilder.Append([]byte("evt"))
	require.NoError(t, err)
	eventBuilder.Commit()
	eventBuilder.Finish()
	sub.Add(eventConsumer, buffer.DataTypePriorityEvent)

	v := NewView(sub, nil)

	first, ok, err := v.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NextPriorityEvent, first.NextDataType)
	assert.Equal(t, "evt", string(first.Buffer.Bytes()))

	second, ok, err := v.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NextData, second.NextDataType)
	assert.Equal(t, "partial", string(second.Buffer.Bytes()))
}

func TestSubpartition_AddAfterFinishPanics(t *testing.T) {
	sub := NewSubpartition(0)
	_, markerConsumer := newConsumer(1)
	sub.Finish(markerConsumer)

	_, c := newConsumer(8)
	assert.Panics(t, func() {
		sub.Add(c, buffer.DataTypeData)
	})
}

func TestSubpartition_SecondNonPriorityAddWithUnfinishedTailPanics(t *testing.T) {
	sub := NewSubpartition(0)
	_, c1 := newConsumer(8)
	sub.Add(c1, buffer.DataTypeData) // unfinished tail

	_, c2 := newConsumer(8)
	assert.Panics(t, func() {
		sub.Add(c2, buffer.DataTypeData)
	})
}

func TestSubpartition_ReleaseIsIdempotent(t *testing.T) {
	sub := NewSubpartition(0)

	errA := assertError("first")
	errB := assertError("second")

	sub.Release(errA)
	sub.Release(errB)

	assert.True(t, sub.IsReleased())
	assert.Equal(t, errA, sub.FailureCause())
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertError(msg string) error { return simpleErr(msg) }

func TestSubpartition_AvailabilityNotifications(t *testing.T) {
	sub := NewSubpartition(0)
	rec := &recordingAvail{}
	sub.SetAvailabilityListener(rec)

	_, c := newConsumer(8)
	sub.Add(c, buffer.DataTypeData)
	assert.Equal(t, 1, rec.dataAvailable)

	_, pc := newConsumer(8)
	sub.Add(pc, buffer.DataTypePriorityEvent)
	require.Len(t, rec.priorityEvents, 1)
}
