// Package slottable implements the Task Slot Table (spec §3, §4.7): the
// worker-level resource and task-attachment table, with timeout-guarded
// allocations.
package slottable

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamcore/shuffle/internal/collab"
	shufflerrors "github.com/streamcore/shuffle/internal/errors"
)

// State is the table's own lifecycle, distinct from any individual
// slot's state.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SlotState is an individual slot's lifecycle.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotAllocated
	SlotActive
	SlotReleasing
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotAllocated:
		return "allocated"
	case SlotActive:
		return "active"
	case SlotReleasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// Slot is one resource allocation: an index (non-negative for a static
// slot, negative for a dynamic one), the profile it reserves, its owning
// job, its allocation id, its lifecycle state, and its attached task
// payloads keyed by execution-attempt id.
type Slot struct {
	Index        int
	Profile      ResourceProfile
	JobID        string
	AllocationID string
	State        SlotState
	Payloads     map[string]any

	timeoutTicket uint64
	hasTimeout    bool
}

// SlotStatus is one createSlotReport entry.
type SlotStatus struct {
	Index        int
	State        SlotState
	JobID        string
	AllocationID string
	Profile      ResourceProfile
}

// Table is the Task Slot Table.
type Table struct {
	mu sync.Mutex

	state State

	numStatic int
	byIndex   map[int]*Slot
	byAllocID map[string]*Slot
	byJob     map[string][]*Slot

	totalBudget     ResourceProfile
	remainingBudget ResourceProfile

	actions collab.SlotActions
	timer   collab.TimerService
	logger  *slog.Logger

	closeDone chan struct{}
}

// NewTable creates a Table in state Created with numStatic static slot
// indices [0, numStatic) and the given total resource budget.
func NewTable(numStatic int, budget ResourceProfile, actions collab.SlotActions, timer collab.TimerService, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{
		numStatic:       numStatic,
		byIndex:         make(map[int]*Slot),
		byAllocID:       make(map[string]*Slot),
		byJob:           make(map[string][]*Slot),
		totalBudget:     budget,
		remainingBudget: budget,
		actions:         actions,
		timer:           timer,
		logger:          logger.With("component", "slottable"),
	}
	return t
}

// Start transitions the table Created -> Running and begins delivering
// fired timeouts from the timer service.
func (t *Table) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCreated {
		return
	}
	t.state = StateRunning
	if t.timer != nil {
		t.timer.Start(timeoutListener{t})
	}
}

// State returns the table's current lifecycle state.
func (t *Table) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Table) requireRunningLocked() error {
	if t.state != StateRunning {
		return shufflerrors.Newf(shufflerrors.KindTableNotRunning, "slot table is %s, not running", t.state)
	}
	return nil
}

// Allocate implements spec §4.7's allocate algorithm. The returned bool
// is true iff this call actually constructed (or idempotently confirmed)
// the slot; it is false with a nil error for the idempotent-duplicate
// case (allocationId already registered).
func (t *Table) Allocate(index int, jobID, allocationID string, profile ResourceProfile, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireRunningLocked(); err != nil {
		return false, err
	}

	if _, exists := t.byAllocID[allocationID]; exists {
		return false, nil
	}

	if index >= 0 {
		if occupied, ok := t.byIndex[index]; ok {
			if occupied.JobID == jobID && occupied.AllocationID == allocationID {
				return true, nil
			}
			return false, shufflerrors.Newf(shufflerrors.KindSlotIndexConflict, "static slot %d already held by job %s / allocation %s", index, occupied.JobID, occupied.AllocationID)
		}
	}

	if !profile.fitsWithin(t.remainingBudget) {
		return false, shufflerrors.New(shufflerrors.KindInsufficientBudget, "insufficient resource budget for allocation")
	}
	t.remainingBudget = t.remainingBudget.sub(profile)

	slot := &Slot{
		Index:        index,
		Profile:      profile,
		JobID:        jobID,
		AllocationID: allocationID,
		State:        SlotAllocated,
		Payloads:     make(map[string]any),
	}

	if index >= 0 {
		t.byIndex[index] = slot
	}
	t.byAllocID[allocationID] = slot
	t.byJob[jobID] = append(t.byJob[jobID], slot)

	if timeout > 0 && t.timer != nil {
		ticket, err := t.timer.RegisterTimeout(allocationID, timeout)
		if err == nil {
			slot.timeoutTicket = ticket
			slot.hasTimeout = true
		}
	}

	return true, nil
}

// MarkActive cancels the slot's timeout and transitions it Allocated ->
// Active.
func (t *Table) MarkActive(allocationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireRunningLocked(); err != nil {
		return err
	}
	slot, ok := t.byAllocID[allocationID]
	if !ok {
		return shufflerrors.Newf(shufflerrors.KindSlotNotFound, "no slot for allocation %s", allocationID)
	}
	if slot.State != SlotAllocated && slot.State != SlotActive {
		return shufflerrors.Newf(shufflerrors.KindSlotNotActive, "slot %s is %s, not allocated", allocationID, slot.State)
	}
	if slot.hasTimeout && t.timer != nil {
		t.timer.UnregisterTimeout(allocationID)
		slot.hasTimeout = false
	}
	slot.State = SlotActive
	return nil
}

// MarkInactive re-arms the slot's timeout and transitions it Active ->
// Allocated.
func (t *Table) MarkInactive(allocationID string, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireRunningLocked(); err != nil {
		return err
	}
	slot, ok := t.byAllocID[allocationID]
	if !ok {
		return shufflerrors.Newf(shufflerrors.KindSlotNotFound, "no slot for allocation %s", allocationID)
	}
	slot.State = SlotAllocated
	if timeout > 0 && t.timer != nil {
		ticket, err := t.timer.RegisterTimeout(allocationID, timeout)
		if err == nil {
			slot.timeoutTicket = ticket
			slot.hasTimeout = true
		}
	}
	return nil
}

// AddTask rejects unless the slot is Active for (jobID, allocationID),
// then attaches payload under executionAttemptID.
func (t *Table) AddTask(jobID, allocationID, executionAttemptID string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireRunningLocked(); err != nil {
		return err
	}
	slot, ok := t.byAllocID[allocationID]
	if !ok {
		return shufflerrors.Newf(shufflerrors.KindSlotNotFound, "no slot for allocation %s", allocationID)
	}
	if slot.State != SlotActive || slot.JobID != jobID {
		return shufflerrors.Newf(shufflerrors.KindSlotNotActive, "slot %s is not active for job %s", allocationID, jobID)
	}
	slot.Payloads[executionAttemptID] = payload
	return nil
}

// RemoveTask removes executionAttemptID's payload and, if the slot is
// Releasing and now empty, finalizes its release.
func (t *Table) RemoveTask(allocationID, executionAttemptID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.byAllocID[allocationID]
	if !ok {
		return shufflerrors.Newf(shufflerrors.KindSlotNotFound, "no slot for allocation %s", allocationID)
	}
	delete(slot.Payloads, executionAttemptID)
	if slot.State == SlotReleasing && len(slot.Payloads) == 0 {
		t.finalizeReleaseLocked(slot)
	}
	return nil
}

// FreeSlot transitions the slot to Releasing. If it already has no
// attached tasks, the release finalizes immediately; otherwise it is a
// no-op until the last task is removed (spec §4.7).
func (t *Table) FreeSlot(allocationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.byAllocID[allocationID]
	if !ok {
		return shufflerrors.Newf(shufflerrors.KindSlotNotFound, "no slot for allocation %s", allocationID)
	}
	slot.State = SlotReleasing
	if len(slot.Payloads) == 0 {
		t.finalizeReleaseLocked(slot)
	}
	return nil
}

// finalizeReleaseLocked deregisters slot from every index, returns its
// budget, cancels its timeout, and notifies the slot-actions collaborator.
// Must be called with t.mu held.
func (t *Table) finalizeReleaseLocked(slot *Slot) {
	if slot.Index >= 0 {
		delete(t.byIndex, slot.Index)
	}
	delete(t.byAllocID, slot.AllocationID)
	if jobSlots, ok := t.byJob[slot.JobID]; ok {
		filtered := jobSlots[:0]
		for _, s := range jobSlots {
			if s != slot {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) == 0 {
			delete(t.byJob, slot.JobID)
		} else {
			t.byJob[slot.JobID] = filtered
		}
	}
	if slot.hasTimeout && t.timer != nil {
		t.timer.UnregisterTimeout(slot.AllocationID)
	}
	t.remainingBudget = t.remainingBudget.add(slot.Profile)
	slot.State = SlotFree

	if t.actions != nil {
		if err := t.actions.FreeSlot(slot.AllocationID); err != nil {
			t.logger.Error("slot-actions FreeSlot failed", "allocation_id", slot.AllocationID, "error", err)
		}
	}

	if t.state == StateClosing {
		t.maybeCompleteClosingLocked()
	}
}

func (t *Table) maybeCompleteClosingLocked() {
	if len(t.byAllocID) > 0 {
		return
	}
	t.state = StateClosed
	if t.closeDone != nil {
		close(t.closeDone)
		t.closeDone = nil
	}
}

// Close transitions Running -> Closing, frees every currently allocated
// slot (each via the same FreeSlot path as a normal release), and returns
// a channel that closes once every slot has actually finished releasing.
func (t *Table) Close() <-chan struct{} {
	t.mu.Lock()
	if t.state == StateClosed {
		done := make(chan struct{})
		close(done)
		t.mu.Unlock()
		return done
	}
	if t.state == StateClosing {
		done := t.closeDone
		t.mu.Unlock()
		return done
	}

	t.state = StateClosing
	t.closeDone = make(chan struct{})
	slots := make([]*Slot, 0, len(t.byAllocID))
	for _, s := range t.byAllocID {
		slots = append(slots, s)
	}
	t.mu.Unlock()

	// FreeSlot takes its own lock per call, so releasing every slot
	// concurrently via errgroup is safe - the same concurrent-multi-
	// release shape ResultPartitionManager.Shutdown uses for its
	// partitions.
	g, _ := errgroup.WithContext(context.Background())
	for _, s := range slots {
		s := s
		g.Go(func() error {
			_ = t.FreeSlot(s.AllocationID)
			return nil
		})
	}
	_ = g.Wait()

	t.mu.Lock()
	t.maybeCompleteClosingLocked()
	done := t.closeDone
	t.mu.Unlock()
	if done == nil {
		done = make(chan struct{})
		close(done)
	}
	return done
}

// CreateSlotReport emits one status per static index in [0, numStatic),
// free slots included with the zero-value profile, plus one entry per
// currently allocated dynamic slot (index < 0).
func (t *Table) CreateSlotReport() []SlotStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := make([]SlotStatus, 0, t.numStatic)
	for i := 0; i < t.numStatic; i++ {
		if slot, ok := t.byIndex[i]; ok {
			report = append(report, SlotStatus{Index: i, State: slot.State, JobID: slot.JobID, AllocationID: slot.AllocationID, Profile: slot.Profile})
		} else {
			report = append(report, SlotStatus{Index: i, State: SlotFree})
		}
	}
	for _, slot := range t.byAllocID {
		if slot.Index < 0 {
			report = append(report, SlotStatus{Index: slot.Index, State: slot.State, JobID: slot.JobID, AllocationID: slot.AllocationID, Profile: slot.Profile})
		}
	}
	return report
}

// timeoutListener adapts Table to collab.TimeoutListener: a fired timeout
// means the slot's allocation timed out without becoming active.
type timeoutListener struct{ t *Table }

func (l timeoutListener) NotifyTimeout(key string, ticket uint64) {
	l.t.mu.Lock()
	slot, ok := l.t.byAllocID[key]
	if !ok || !l.t.timer.IsValid(key, ticket) {
		l.t.mu.Unlock()
		return
	}
	l.t.mu.Unlock()

	if l.t.actions != nil {
		if err := l.t.actions.TimeoutSlot(slot.AllocationID, ticket); err != nil {
			l.t.logger.Error("slot-actions TimeoutSlot failed", "allocation_id", slot.AllocationID, "error", err)
		}
	}
}

var _ collab.TimeoutListener = timeoutListener{}
