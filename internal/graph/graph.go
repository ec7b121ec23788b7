// Package graph implements the Intermediate Result / Edge graph shadow
// (spec §2, §9): the worker's local view of its producer->consumer
// topology, scoped to one job.
package graph

import (
	"sync"

	"github.com/streamcore/shuffle/internal/partitionmanager"
	"github.com/streamcore/shuffle/internal/resultpartition"
)

// Edge connects one producer intermediate data set to one downstream
// consumer subtask index.
type Edge struct {
	IntermediateDataSetID string
	ConsumerSubtaskIndex  int
}

// IntermediateResult is the worker's shadow of one intermediate data
// set's producer-side state: one Result Partition id per parallel
// producer subtask, plus the set of downstream edges that consume it.
type IntermediateResult struct {
	mu sync.RWMutex

	id                   string
	numParallelProducers int
	partitions           map[int]resultpartition.ID
	edges                []Edge
}

// NewIntermediateResult creates a shadow for an intermediate data set
// with numParallelProducers producer subtasks and no partitions
// registered yet.
func NewIntermediateResult(id string, numParallelProducers int) *IntermediateResult {
	return &IntermediateResult{
		id:                   id,
		numParallelProducers: numParallelProducers,
		partitions:           make(map[int]resultpartition.ID),
	}
}

// ID returns the intermediate data set id.
func (r *IntermediateResult) ID() string {
	return r.id
}

// NumParallelProducers returns the number of producer subtasks.
func (r *IntermediateResult) NumParallelProducers() int {
	return r.numParallelProducers
}

// AddEdge records a downstream consumer subtask for this intermediate
// result.
func (r *IntermediateResult) AddEdge(consumerSubtaskIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, Edge{IntermediateDataSetID: r.id, ConsumerSubtaskIndex: consumerSubtaskIndex})
}

// Edges returns a copy of the downstream edges registered so far.
func (r *IntermediateResult) Edges() []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Edge, len(r.edges))
	copy(out, r.edges)
	return out
}

// RegisterPartition records which Result Partition instance currently
// backs producerSubtaskIndex, for the current execution attempt.
func (r *IntermediateResult) RegisterPartition(producerSubtaskIndex int, id resultpartition.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitions[producerSubtaskIndex] = id
}

// Partition returns the partition id currently registered for
// producerSubtaskIndex, if any.
func (r *IntermediateResult) Partition(producerSubtaskIndex int) (resultpartition.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.partitions[producerSubtaskIndex]
	return id, ok
}

// ResetForNewExecution clears the registered partition for
// producerSubtaskIndex so a new execution attempt can register its own.
// The caller must supply a NoActiveViewsProof for that partition id,
// obtained from the partition manager once no partition is registered
// under that id (the proof does not count views that readers still
// hold) - the graph shadow does not reach
// into partition-manager internals to verify this itself (spec.md's
// open question on resetForNewExecution's legality).
func (r *IntermediateResult) ResetForNewExecution(producerSubtaskIndex int, proof partitionmanager.NoActiveViewsProof) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.partitions[producerSubtaskIndex]
	if !ok {
		return false
	}
	if current != proof.PartitionID() {
		return false
	}
	delete(r.partitions, producerSubtaskIndex)
	return true
}
