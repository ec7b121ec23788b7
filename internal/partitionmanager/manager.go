// Package partitionmanager implements the Result Partition Manager (spec
// §4.5): a worker-scoped registry that bridges result-partition producers
// to the consumer views (local or remote) created against them.
package partitionmanager

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	shufflerrors "github.com/streamcore/shuffle/internal/errors"
	"github.com/streamcore/shuffle/internal/resultpartition"
)

// Manager is a process-wide registry keyed by partition id.
type Manager struct {
	mu         sync.RWMutex
	partitions map[resultpartition.ID]*resultpartition.Partition
	logger     *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		partitions: make(map[resultpartition.ID]*resultpartition.Partition),
		logger:     logger.With("component", "partitionmanager"),
	}
}

// Register adds p to the registry. Registering the same partition id twice
// is an error (idempotent-by-error, per spec §4.5), not a silent no-op:
// the caller must explicitly Release the former registration first.
func (m *Manager) Register(p *resultpartition.Partition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.partitions[p.ID()]; exists {
		return shufflerrors.Newf(shufflerrors.KindAlreadyRegistered, "partition %+v already registered", p.ID())
	}
	m.partitions[p.ID()] = p
	m.logger.Debug("registered partition", "partition_id", p.ID())
	return nil
}

// CreateSubpartitionView creates a read view over sub-partition index of
// the partition registered under id, failing with KindPartitionNotFound if
// id isn't registered.
func (m *Manager) CreateSubpartitionView(id resultpartition.ID, index int, listener resultpartition.AvailabilityListener) (*resultpartition.View, error) {
	m.mu.RLock()
	p, ok := m.partitions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, shufflerrors.Newf(shufflerrors.KindPartitionNotFound, "partition %+v not registered", id)
	}
	return p.CreateReadView(index, listener)
}

// Lookup returns the partition registered under id, if any.
func (m *Manager) Lookup(id resultpartition.ID) (*resultpartition.Partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[id]
	return p, ok
}

// Release releases and deregisters the partition registered under id, but
// only iff it is still the instance currently registered - this prevents a
// race against a concurrent re-registration of the same id (spec §4.5:
// "consumption notification releases a partition iff it was still the
// registered instance").
func (m *Manager) Release(id resultpartition.ID, instance *resultpartition.Partition, cause error) {
	m.mu.Lock()
	current, ok := m.partitions[id]
	if !ok || current != instance {
		m.mu.Unlock()
		return
	}
	delete(m.partitions, id)
	m.mu.Unlock()

	instance.Release(cause)
	m.logger.Debug("released partition", "partition_id", id)
}

// ReleasePartition releases and deregisters whatever partition is
// currently registered under id, regardless of instance identity. Used by
// callers (e.g. task cancellation) that don't hold a specific instance
// reference and simply want "whatever is registered under this id, gone".
func (m *Manager) ReleasePartition(id resultpartition.ID, cause error) {
	m.mu.Lock()
	p, ok := m.partitions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.partitions, id)
	m.mu.Unlock()

	p.Release(cause)
	m.logger.Debug("released partition", "partition_id", id)
}

// Shutdown releases every registered partition and empties the registry.
// Each partition's release runs on its own errgroup goroutine, the same
// concurrent-multi-release shape TaskSlotTable.Close uses for its slots,
// so a partition with a slow spill-file close doesn't hold up releasing
// the rest.
func (m *Manager) Shutdown(cause error) {
	m.mu.Lock()
	partitions := make([]*resultpartition.Partition, 0, len(m.partitions))
	for _, p := range m.partitions {
		partitions = append(partitions, p)
	}
	m.partitions = make(map[resultpartition.ID]*resultpartition.Partition)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(context.Background())
	for _, p := range partitions {
		p := p
		g.Go(func() error {
			p.Release(cause)
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("partition manager shut down", "released", len(partitions))
}

// Count returns the number of currently registered partitions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.partitions)
}

// NoActiveViewsProof is an unforgeable witness that, at the moment it was
// issued, no partition was registered under a partition id (see
// ConfirmNoActiveViews for what that covers). Only this package can
// construct one; internal/graph requires it as a parameter to
// ResetForNewExecution instead of re-deriving the check itself, since
// doing so would require the graph-shadow to reach into partition-manager
// internals it does not own.
type NoActiveViewsProof struct {
	partitionID resultpartition.ID
}

// PartitionID returns the id the proof was issued for, so a caller can
// confirm it matches the execution being reset.
func (p NoActiveViewsProof) PartitionID() resultpartition.ID { return p.partitionID }

// ConfirmNoActiveViews issues a NoActiveViewsProof for id if, and only if,
// no partition is currently registered under it. Views are not counted:
// Release deregisters a partition whether or not views created from it
// are still held, and such views are not detected here. Returns ok=false
// if a partition is still registered.
func (m *Manager) ConfirmNoActiveViews(id resultpartition.ID) (NoActiveViewsProof, bool) {
	m.mu.RLock()
	_, stillRegistered := m.partitions[id]
	m.mu.RUnlock()

	if stillRegistered {
		return NoActiveViewsProof{}, false
	}
	return NoActiveViewsProof{partitionID: id}, true
}
