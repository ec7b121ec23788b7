package apiserver

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/streamcore/shuffle/internal/resultpartition"
)

// SlotStatusResponse mirrors slottable.SlotStatus for JSON encoding.
type SlotStatusResponse struct {
	Index        int    `json:"index"`
	State        string `json:"state"`
	JobID        string `json:"job_id,omitempty"`
	AllocationID string `json:"allocation_id,omitempty"`
}

func (s *Server) handleListSlots(c *fiber.Ctx) error {
	if s.slotTable == nil {
		return RespondSuccess(c, []SlotStatusResponse{})
	}
	report := s.slotTable.CreateSlotReport()
	out := make([]SlotStatusResponse, 0, len(report))
	for _, status := range report {
		out = append(out, SlotStatusResponse{
			Index:        status.Index,
			State:        status.State.String(),
			JobID:        status.JobID,
			AllocationID: status.AllocationID,
		})
	}
	return RespondSuccess(c, out)
}

// PartitionStatusResponse reports a result partition's lifecycle state.
type PartitionStatusResponse struct {
	IntermediateDataSetID string `json:"intermediate_data_set_id"`
	ProducerAttemptID     string `json:"producer_attempt_id"`
	Type                  string `json:"type"`
	NumSubpartitions      int    `json:"num_subpartitions"`
	Finished              bool   `json:"finished"`
	Released              bool   `json:"released"`
	ReleaseCause          string `json:"release_cause,omitempty"`
}

// partitionIDFromPath splits the ":id" path param, encoded as
// "<intermediateDataSetID>~<producerAttemptID>", back into a
// resultpartition.ID.
func partitionIDFromPath(raw string) (resultpartition.ID, bool) {
	parts := strings.SplitN(raw, "~", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return resultpartition.ID{}, false
	}
	return resultpartition.ID{IntermediateDataSetID: parts[0], ProducerAttemptID: parts[1]}, true
}

func (s *Server) handleGetPartition(c *fiber.Ctx) error {
	id, ok := partitionIDFromPath(c.Params("id"))
	if !ok {
		return RespondError(c, fiber.StatusBadRequest, "BAD_REQUEST", "id must be '<intermediate_data_set_id>~<producer_attempt_id>'")
	}

	if s.partitions == nil {
		return RespondNotFound(c, "partition")
	}
	partition, found := s.partitions.Lookup(id)
	if !found {
		return RespondNotFound(c, "partition")
	}

	resp := PartitionStatusResponse{
		IntermediateDataSetID: id.IntermediateDataSetID,
		ProducerAttemptID:     id.ProducerAttemptID,
		Type:                  partition.Type().String(),
		NumSubpartitions:      partition.NumSubpartitions(),
		Finished:              partition.IsFinished(),
		Released:              partition.IsReleased(),
	}
	if cause := partition.ReleaseCause(); cause != nil {
		resp.ReleaseCause = cause.Error()
	}
	return RespondSuccess(c, resp)
}
