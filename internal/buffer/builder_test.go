package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/shuffle/internal/memseg"
)

func newTestSegment(size int) *memseg.Segment {
	return memseg.New(memseg.KindHeap, make([]byte, size), nil, nil)
}

func TestBuilder_AppendCommitConsume(t *testing.T) {
	b := NewBuilder(newTestSegment(16), nil)
	c := b.CreateConsumer(0)

	n, err := b.Append([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Not committed yet: consumer sees nothing.
	buf, finished, ok, err := c.Build()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, finished)
	assert.Nil(t, buf)

	b.Commit()

	buf, finished, ok, err = c.Build()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, finished)
	assert.Equal(t, "hello", string(buf.Bytes()))

	n, err = b.Append([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	b.Finish()

	buf, finished, ok, err = c.Build()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, finished)
	assert.Equal(t, " world", string(buf.Bytes()))

	assert.True(t, c.IsFinished())
}

func TestBuilder_FinishEmptyUsesSentinel(t *testing.T) {
	b := NewBuilder(newTestSegment(16), nil)
	c := b.CreateConsumer(0)

	b.Finish()

	assert.True(t, b.IsFinished())
	buf, finished, ok, err := c.Build()
	require.NoError(t, err)
	assert.True(t, finished)
	assert.False(t, ok)
	assert.Nil(t, buf)
	assert.True(t, c.IsFinished())
}

func TestBuilder_SecondConsumerPanics(t *testing.T) {
	b := NewBuilder(newTestSegment(16), nil)
	b.CreateConsumer(0)

	assert.Panics(t, func() {
		b.CreateConsumer(0)
	})
}

func TestBuilder_AppendTruncatesAtCapacity(t *testing.T) {
	b := NewBuilder(newTestSegment(4), nil)
	n, err := b.Append([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, b.IsFull())
	assert.EqualValues(t, 0, b.WritableBytes())
}

func TestBuilder_RecycleOnRelease(t *testing.T) {
	var recycled *memseg.Segment
	seg := newTestSegment(8)
	b := NewBuilder(seg, func(s *memseg.Segment) { recycled = s })
	c := b.CreateConsumer(0)

	_, err := b.Append([]byte("data"))
	require.NoError(t, err)
	b.Finish()

	buf, _, ok, err := c.Build()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Nil(t, recycled)
	buf.Release()
	assert.Same(t, seg, recycled)
}

// TestBuilder_ConcurrentProducerConsumer exercises the single-writer/
// single-reader contract under the race detector: the consumer must only
// ever observe a prefix of what the producer has committed.
func TestBuilder_ConcurrentProducerConsumer(t *testing.T) {
	const total = 4096
	seg := newTestSegment(total)
	b := NewBuilder(seg, nil)
	c := b.CreateConsumer(0)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		chunk := make([]byte, 16)
		for i := range chunk {
			chunk[i] = byte(i)
		}
		written := 0
		for written < total {
			n, err := b.Append(chunk[:min(16, total-written)])
			require.NoError(t, err)
			written += n
			b.Commit()
		}
		b.Finish()
	}()

	var gotLen int
	go func() {
		defer wg.Done()
		for {
			buf, finished, ok, err := c.Build()
			require.NoError(t, err)
			if ok {
				gotLen += buf.Len()
			}
			if finished && !ok {
				break
			}
			if !ok {
				time.Sleep(time.Microsecond)
			}
		}
	}()

	wg.Wait()
	assert.Equal(t, total, gotLen)
}
