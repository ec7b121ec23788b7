package cmd

import "log/slog"

// loggingSlotActions is the worker's default collab.SlotActions: absent a
// resource-manager RPC link, freeing and timing out a slot is reported
// through the log only. A real deployment wiring this worker into a
// cluster would replace it with an implementation that notifies the job
// manager.
type loggingSlotActions struct {
	logger *slog.Logger
}

func (a loggingSlotActions) FreeSlot(allocationID string) error {
	a.logger.Info("slot freed", "allocation_id", allocationID)
	return nil
}

func (a loggingSlotActions) TimeoutSlot(allocationID string, ticket uint64) error {
	a.logger.Warn("slot allocation timed out", "allocation_id", allocationID, "ticket", ticket)
	return nil
}
