package slottable

import (
	"testing"
	"time"

	shufflerrors "github.com/streamcore/shuffle/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSlotActions struct {
	freed     []string
	timedOut  []string
	freeErr   error
	timeoutFn func(allocationID string, ticket uint64)
}

func (s *stubSlotActions) FreeSlot(allocationID string) error {
	s.freed = append(s.freed, allocationID)
	return s.freeErr
}

func (s *stubSlotActions) TimeoutSlot(allocationID string, ticket uint64) error {
	s.timedOut = append(s.timedOut, allocationID)
	if s.timeoutFn != nil {
		s.timeoutFn(allocationID, ticket)
	}
	return nil
}

func smallBudget() ResourceProfile {
	return ResourceProfile{
		CPUShares:           4,
		TaskHeapMemoryBytes: 1 << 20,
		OffHeapMemoryBytes:  1 << 20,
		ManagedMemoryBytes:  1 << 20,
		NetworkMemoryBytes:  1 << 20,
	}
}

func newRunningTable(numStatic int) (*Table, *stubSlotActions, *TimerService) {
	actions := &stubSlotActions{}
	timer := NewTimerService()
	tbl := NewTable(numStatic, smallBudget(), actions, timer, nil)
	tbl.Start()
	return tbl, actions, timer
}

func TestTable_AllocateStaticSlotSucceeds(t *testing.T) {
	tbl, _, _ := newRunningTable(2)
	ok, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	report := tbl.CreateSlotReport()
	require.Len(t, report, 2)
	assert.Equal(t, SlotAllocated, report[0].State)
	assert.Equal(t, SlotFree, report[1].State)
}

func TestTable_AllocateRejectsWhenNotRunning(t *testing.T) {
	tbl := NewTable(1, smallBudget(), &stubSlotActions{}, NewTimerService(), nil)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{}, 0)
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindTableNotRunning))
}

func TestTable_AllocateIsIdempotentForSameAllocationID(t *testing.T) {
	tbl, _, _ := newRunningTable(1)
	ok1, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestTable_AllocateConflictingIndexFails(t *testing.T) {
	tbl, _, _ := newRunningTable(1)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)

	_, err = tbl.Allocate(0, "job-2", "alloc-2", ResourceProfile{CPUShares: 1}, 0)
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindSlotIndexConflict))
}

func TestTable_AllocateOverBudgetFails(t *testing.T) {
	tbl, _, _ := newRunningTable(1)
	_, err := tbl.Allocate(-1, "job-1", "alloc-1", ResourceProfile{CPUShares: 100}, 0)
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindInsufficientBudget))
}

func TestTable_MarkActiveRequiresAllocatedSlot(t *testing.T) {
	tbl, _, _ := newRunningTable(1)
	err := tbl.MarkActive("missing")
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindSlotNotFound))

	_, err = tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	require.NoError(t, tbl.MarkActive("alloc-1"))

	report := tbl.CreateSlotReport()
	assert.Equal(t, SlotActive, report[0].State)
}

func TestTable_AddTaskRequiresActiveSlotForJob(t *testing.T) {
	tbl, _, _ := newRunningTable(1)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)

	err = tbl.AddTask("job-1", "alloc-1", "attempt-1", "payload")
	require.Error(t, err)
	assert.True(t, shufflerrors.Is(err, shufflerrors.KindSlotNotActive))

	require.NoError(t, tbl.MarkActive("alloc-1"))
	require.NoError(t, tbl.AddTask("job-1", "alloc-1", "attempt-1", "payload"))

	err = tbl.AddTask("job-2", "alloc-1", "attempt-2", "payload")
	require.Error(t, err)
}

func TestTable_FreeSlotWithTasksDefersRelease(t *testing.T) {
	tbl, actions, _ := newRunningTable(1)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	require.NoError(t, tbl.MarkActive("alloc-1"))
	require.NoError(t, tbl.AddTask("job-1", "alloc-1", "attempt-1", "payload"))

	require.NoError(t, tbl.FreeSlot("alloc-1"))
	report := tbl.CreateSlotReport()
	assert.Equal(t, SlotReleasing, report[0].State)
	assert.Empty(t, actions.freed)

	require.NoError(t, tbl.RemoveTask("alloc-1", "attempt-1"))
	assert.Equal(t, []string{"alloc-1"}, actions.freed)

	report = tbl.CreateSlotReport()
	assert.Equal(t, SlotFree, report[0].State)
}

func TestTable_FreeSlotWithNoTasksReleasesImmediately(t *testing.T) {
	tbl, actions, _ := newRunningTable(1)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)

	require.NoError(t, tbl.FreeSlot("alloc-1"))
	assert.Equal(t, []string{"alloc-1"}, actions.freed)

	_, err = tbl.Allocate(0, "job-2", "alloc-2", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err, "budget and index should have been returned")
}

func TestTable_TimeoutFiresWhenAllocationNeverActivated(t *testing.T) {
	tbl, actions, _ := newRunningTable(1)
	done := make(chan struct{})
	actions.timeoutFn = func(allocationID string, ticket uint64) { close(done) }

	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 5*time.Millisecond)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	assert.Equal(t, []string{"alloc-1"}, actions.timedOut)
}

func TestTable_MarkActiveCancelsTimeoutSoItNeverFires(t *testing.T) {
	tbl, actions, _ := newRunningTable(1)
	fired := make(chan struct{}, 1)
	actions.timeoutFn = func(allocationID string, ticket uint64) { fired <- struct{}{} }

	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, tbl.MarkActive("alloc-1"))

	select {
	case <-fired:
		t.Fatal("timeout fired despite MarkActive cancelling it")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTable_MarkInactiveRearmsTimeoutWithFreshTicket(t *testing.T) {
	tbl, actions, timer := newRunningTable(1)
	fireCount := 0
	done := make(chan struct{})
	actions.timeoutFn = func(allocationID string, ticket uint64) {
		fireCount++
		close(done)
	}

	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, tbl.MarkActive("alloc-1"))
	require.NoError(t, tbl.MarkInactive("alloc-1", 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-armed timeout never fired")
	}
	assert.Equal(t, 1, fireCount)
	assert.False(t, timer.IsValid("alloc-1", 1), "first ticket must be superseded")
}

func TestTable_CloseFreesEverySlotAndCompletes(t *testing.T) {
	tbl, actions, _ := newRunningTable(2)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	_, err = tbl.Allocate(1, "job-2", "alloc-2", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)

	done := tbl.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close never completed")
	}
	assert.Equal(t, StateClosed, tbl.State())
	assert.ElementsMatch(t, []string{"alloc-1", "alloc-2"}, actions.freed)
}

func TestTable_CloseWaitsForTasksToDrain(t *testing.T) {
	tbl, actions, _ := newRunningTable(1)
	_, err := tbl.Allocate(0, "job-1", "alloc-1", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)
	require.NoError(t, tbl.MarkActive("alloc-1"))
	require.NoError(t, tbl.AddTask("job-1", "alloc-1", "attempt-1", "payload"))

	done := tbl.Close()
	select {
	case <-done:
		t.Fatal("close completed despite an outstanding task")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, StateClosing, tbl.State())

	require.NoError(t, tbl.RemoveTask("alloc-1", "attempt-1"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close never completed after task drained")
	}
	assert.Equal(t, []string{"alloc-1"}, actions.freed)
}

func TestTable_CreateSlotReportIncludesDynamicSlots(t *testing.T) {
	tbl, _, _ := newRunningTable(1)
	_, err := tbl.Allocate(-1, "job-1", "alloc-dyn", ResourceProfile{CPUShares: 1}, 0)
	require.NoError(t, err)

	report := tbl.CreateSlotReport()
	require.Len(t, report, 2)
	var sawDynamic bool
	for _, s := range report {
		if s.Index < 0 {
			sawDynamic = true
			assert.Equal(t, "alloc-dyn", s.AllocationID)
		}
	}
	assert.True(t, sawDynamic)
}
