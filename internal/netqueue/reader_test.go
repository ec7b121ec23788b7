package netqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/shuffle/internal/buffer"
	"github.com/streamcore/shuffle/internal/memseg"
	"github.com/streamcore/shuffle/internal/resultpartition"
)

func newFinishedConsumer(t *testing.T, payload string) *buffer.Consumer {
	t.Helper()
	seg := memseg.New(memseg.KindHeap, make([]byte, 64), nil, nil)
	b := buffer.NewBuilder(seg, nil)
	c := b.CreateConsumer(0)
	_, err := b.Append([]byte(payload))
	require.NoError(t, err)
	b.Commit()
	b.Finish()
	return c
}

func TestReader_GetNextBufferConsumesCreditForData(t *testing.T) {
	sub := resultpartition.NewSubpartition(0)
	sub.Add(newFinishedConsumer(t, "abc"), buffer.DataTypeData)
	view := resultpartition.NewView(sub, nil)

	r := NewReader("r1", view, 2)
	result, ok, err := r.GetNextBuffer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(result.Buffer.Bytes()))
	assert.EqualValues(t, 1, r.Credit())
}

func TestReader_GetNextBufferDoesNotConsumeCreditForEvent(t *testing.T) {
	sub := resultpartition.NewSubpartition(0)
	sub.Add(newFinishedConsumer(t, "evt"), buffer.DataTypeEvent)
	view := resultpartition.NewView(sub, nil)

	r := NewReader("r1", view, 0)
	result, ok, err := r.GetNextBuffer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resultpartition.NextEvent, result.NextDataType)
	assert.EqualValues(t, 0, r.Credit())
}

func TestReader_IsAvailableGatesDataOnCredit(t *testing.T) {
	sub := resultpartition.NewSubpartition(0)
	sub.Add(newFinishedConsumer(t, "abc"), buffer.DataTypeData)
	view := resultpartition.NewView(sub, nil)

	r := NewReader("r1", view, 0)
	assert.False(t, r.IsAvailable())

	r.AddCredit(1)
	assert.True(t, r.IsAvailable())
}

func TestReader_NotifyAvailablePushesThroughOnAvailable(t *testing.T) {
	sub := resultpartition.NewSubpartition(0)
	r := NewReader("r1", nil, 1)
	called := 0
	r.onAvailable = func() { called++ }
	r.view = resultpartition.NewView(sub, r) // r is its own view's availability listener

	sub.Add(newFinishedConsumer(t, "abc"), buffer.DataTypeData)
	assert.Equal(t, 1, called)
}

func TestReader_ReleaseRecordsCauseAndIsIdempotent(t *testing.T) {
	sub := resultpartition.NewSubpartition(0)
	view := resultpartition.NewView(sub, nil)
	r := NewReader("r1", view, 1)

	errA := simpleErr("first")
	r.Release(errA)
	r.Release(simpleErr("second"))

	assert.True(t, r.IsReleased())
	assert.Equal(t, errA, r.FailureCause())
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
