package partitionmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shufflerrors "github.com/streamcore/shuffle/internal/errors"
	"github.com/streamcore/shuffle/internal/resultpartition"
)

type stubPool struct{ destroyed bool }

func (p *stubPool) Required() int  { return 0 }
func (p *stubPool) Requested() int { return 0 }
func (p *stubPool) Max() int       { return 0 }
func (p *stubPool) Destroy()       { p.destroyed = true }

func newTestPartition(id resultpartition.ID) *resultpartition.Partition {
	return resultpartition.New(id, resultpartition.TypePipelined, 2, &stubPool{}, 0)
}

func TestManager_RegisterTwiceFails(t *testing.T) {
	m := NewManager(nil)
	id := resultpartition.ID{IntermediateDataSetID: "ds", ProducerAttemptID: "a1"}
	p := newTestPartition(id)

	require.NoError(t, m.Register(p))
	err := m.Register(newTestPartition(id))
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindAlreadyRegistered))
}

func TestManager_CreateSubpartitionViewUnknownPartition(t *testing.T) {
	m := NewManager(nil)
	_, err := m.CreateSubpartitionView(resultpartition.ID{IntermediateDataSetID: "missing"}, 0, nil)
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindPartitionNotFound))
}

func TestManager_CreateSubpartitionViewDelegates(t *testing.T) {
	m := NewManager(nil)
	id := resultpartition.ID{IntermediateDataSetID: "ds", ProducerAttemptID: "a1"}
	p := newTestPartition(id)
	require.NoError(t, m.Register(p))

	v, err := m.CreateSubpartitionView(id, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestManager_ReleaseOnlyIfStillRegisteredInstance(t *testing.T) {
	m := NewManager(nil)
	id := resultpartition.ID{IntermediateDataSetID: "ds", ProducerAttemptID: "a1"}
	original := newTestPartition(id)
	require.NoError(t, m.Register(original))

	replaced := newTestPartition(id)
	m.Release(id, replaced, nil) // stale instance, should be a no-op
	assert.False(t, original.IsReleased())
	_, ok := m.Lookup(id)
	assert.True(t, ok)

	m.Release(id, original, nil)
	assert.True(t, original.IsReleased())
	_, ok = m.Lookup(id)
	assert.False(t, ok)
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(nil)
	idA := resultpartition.ID{IntermediateDataSetID: "a"}
	idB := resultpartition.ID{IntermediateDataSetID: "b"}
	pa := newTestPartition(idA)
	pb := newTestPartition(idB)
	require.NoError(t, m.Register(pa))
	require.NoError(t, m.Register(pb))

	m.Shutdown(nil)

	assert.True(t, pa.IsReleased())
	assert.True(t, pb.IsReleased())
	assert.Equal(t, 0, m.Count())
}

func TestManager_ConfirmNoActiveViews(t *testing.T) {
	m := NewManager(nil)
	id := resultpartition.ID{IntermediateDataSetID: "ds"}

	proof, ok := m.ConfirmNoActiveViews(id)
	require.True(t, ok)
	assert.Equal(t, id, proof.PartitionID())

	require.NoError(t, m.Register(newTestPartition(id)))
	_, ok = m.ConfirmNoActiveViews(id)
	assert.False(t, ok)
}
