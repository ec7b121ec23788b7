package resultpartition

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/streamcore/shuffle/internal/buffer"
)

// SpillRecord is one record of the blocking/spilled sub-partition storage
// layout (spec §6): [length int32][dataType uint8][payload]. The file
// this layout is written to ends with an end-of-partition event record.
type SpillRecord struct {
	DataType buffer.DataType
	Payload  []byte
}

// WriteSpillLayout writes every record in records to w using the layout
// spec §6 names, terminating with an end-of-partition event record (a
// DataTypeEvent record with an empty payload) if the last record supplied
// isn't already one.
func WriteSpillLayout(w io.Writer, records []SpillRecord) error {
	for _, r := range records {
		if err := writeSpillRecord(w, r); err != nil {
			return err
		}
	}
	if len(records) == 0 || records[len(records)-1].DataType != buffer.DataTypeEvent {
		if err := writeSpillRecord(w, SpillRecord{DataType: buffer.DataTypeEvent}); err != nil {
			return err
		}
	}
	return nil
}

func writeSpillRecord(w io.Writer, r SpillRecord) error {
	var header [5]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(r.Payload)))
	header[4] = byte(r.DataType)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("resultpartition: write spill record header: %w", err)
	}
	if len(r.Payload) > 0 {
		if _, err := w.Write(r.Payload); err != nil {
			return fmt.Errorf("resultpartition: write spill record payload: %w", err)
		}
	}
	return nil
}

// ReadSpillLayout reads every record from r until it is exhausted or an
// end-of-partition event record (an event record with zero-length
// payload) is read, which it includes as the final record.
func ReadSpillLayout(r io.Reader) ([]SpillRecord, error) {
	var records []SpillRecord
	for {
		var header [5]byte
		_, err := io.ReadFull(r, header[:])
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resultpartition: read spill record header: %w", err)
		}
		length := binary.BigEndian.Uint32(header[0:4])
		dataType := buffer.DataType(header[4])

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("resultpartition: read spill record payload: %w", err)
			}
		}
		rec := SpillRecord{DataType: dataType, Payload: payload}
		records = append(records, rec)
		if dataType == buffer.DataTypeEvent && length == 0 {
			return records, nil
		}
	}
}

// DrainToSpillRecords drains every fully-finished buffer currently queued
// in sub into SpillRecords, for a TypeBlocking partition writing its
// sub-partition out to disk once the producer is done with it. Entries
// still being written (an unfinished tail) are left in place; callers
// should only spill after the sub-partition (or the whole partition) has
// finished.
func DrainToSpillRecords(sub *Subpartition) ([]SpillRecord, error) {
	var records []SpillRecord
	for {
		buf, _, _, ok, err := sub.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return records, nil
		}
		data := buf.ReadBytes()
		payload := make([]byte, len(data))
		copy(payload, data)
		records = append(records, SpillRecord{DataType: buf.DataType(), Payload: payload})
	}
}
