package resultpartition

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/shuffle/internal/buffer"
)

type stubPool struct {
	required, requested, max int
	destroyed                bool
}

func (p *stubPool) Required() int  { return p.required }
func (p *stubPool) Requested() int { return p.requested }
func (p *stubPool) Max() int       { return p.max }
func (p *stubPool) Destroy()       { p.destroyed = true }

func TestPartition_CreateReadViewUnknownIndex(t *testing.T) {
	p := New(ID{IntermediateDataSetID: "ds", ProducerAttemptID: "a1"}, TypePipelined, 2, &stubPool{}, 0)
	_, err := p.CreateReadView(5, nil)
	require.Error(t, err)
}

func TestPartition_ReleaseIsIdempotentAndDestroysPool(t *testing.T) {
	pool := &stubPool{}
	p := New(ID{}, TypePipelined, 1, pool, 0)

	errA := assertError("boom")
	p.Release(errA)
	p.Release(assertError("ignored"))

	assert.True(t, p.IsReleased())
	assert.Equal(t, errA, p.ReleaseCause())
	assert.True(t, pool.destroyed)
	assert.True(t, p.Subpartition(0).IsReleased())
}

func TestPartition_PipelinedBoundedRejectsOverCeiling(t *testing.T) {
	p := New(ID{}, TypePipelinedBounded, 1, &stubPool{}, 2)
	sub := p.Subpartition(0)

	assert.True(t, p.CanAccept(0))

	b1, c1 := newConsumer(4)
	b1.Finish()
	sub.Add(c1, buffer.DataTypeEvent)
	b2, c2 := newConsumer(4)
	b2.Finish()
	sub.Add(c2, buffer.DataTypeEvent)

	assert.False(t, p.CanAccept(0))
}

func TestPartition_Finish(t *testing.T) {
	p := New(ID{}, TypePipelined, 2, &stubPool{}, 0)

	p.Finish(func(index int) *buffer.Consumer {
		_, c := newConsumer(1)
		return c
	})

	assert.True(t, p.IsFinished())
	for i := 0; i < p.NumSubpartitions(); i++ {
		assert.True(t, p.Subpartition(i).IsFinished())
	}
}

func TestSpillLayout_RoundTrip(t *testing.T) {
	records := []SpillRecord{
		{DataType: buffer.DataTypeData, Payload: []byte("hello")},
		{DataType: buffer.DataTypeData, Payload: []byte("world")},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSpillLayout(&buf, records))

	got, err := ReadSpillLayout(&buf)
	require.NoError(t, err)
	require.Len(t, got, 3) // two data records + synthesized EOP marker
	assert.Equal(t, "hello", string(got[0].Payload))
	assert.Equal(t, "world", string(got[1].Payload))
	assert.Equal(t, buffer.DataTypeEvent, got[2].DataType)
	assert.Empty(t, got[2].Payload)
}

func TestSpillLayout_DrainToSpillRecords(t *testing.T) {
	sub := NewSubpartition(0)
	b, c := newConsumer(16)
	_, err := b.Append([]byte("abc"))
	require.NoError(t, err)
	b.Commit()
	b.Finish()
	sub.Add(c, buffer.DataTypeData)

	records, err := DrainToSpillRecords(sub)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "abc", string(records[0].Payload))
}
