// Package wire implements the on-wire message contract of spec.md §6:
// BufferResponse, ErrorResponse, PartitionRequest, AddCredit,
// ResumeConsumption, CancelRequest, CloseRequest. Every message is framed
// as [length uint32][type byte][body], big-endian throughout, matching
// the explicit-endianness convention carried over from internal/memseg.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type discriminates the message kinds on the wire.
type Type byte

const (
	TypePartitionRequest Type = iota + 1
	TypeBufferResponse
	TypeErrorResponse
	TypeAddCredit
	TypeResumeConsumption
	TypeCancelRequest
	TypeCloseRequest
)

func (t Type) String() string {
	switch t {
	case TypePartitionRequest:
		return "PartitionRequest"
	case TypeBufferResponse:
		return "BufferResponse"
	case TypeErrorResponse:
		return "ErrorResponse"
	case TypeAddCredit:
		return "AddCredit"
	case TypeResumeConsumption:
		return "ResumeConsumption"
	case TypeCancelRequest:
		return "CancelRequest"
	case TypeCloseRequest:
		return "CloseRequest"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}

// Message is the common envelope every wire type implements.
type Message interface {
	MessageType() Type
	encodeBody() []byte
}

// PartitionRequest is sent by a consumer to open a Sequence-View Reader
// against a specific sub-partition.
type PartitionRequest struct {
	ReceiverID            string
	IntermediateDataSetID string
	ProducerAttemptID     string
	SubpartitionIndex     int32
	InitialCredit         int32
}

func (m PartitionRequest) MessageType() Type { return TypePartitionRequest }

func (m PartitionRequest) encodeBody() []byte {
	b := newBodyBuilder()
	b.putString(m.ReceiverID)
	b.putString(m.IntermediateDataSetID)
	b.putString(m.ProducerAttemptID)
	b.putInt32(m.SubpartitionIndex)
	b.putInt32(m.InitialCredit)
	return b.bytes()
}

func decodePartitionRequest(body []byte) (PartitionRequest, error) {
	r := newBodyReader(body)
	m := PartitionRequest{}
	m.ReceiverID = r.getString()
	m.IntermediateDataSetID = r.getString()
	m.ProducerAttemptID = r.getString()
	m.SubpartitionIndex = r.getInt32()
	m.InitialCredit = r.getInt32()
	return m, r.err
}

// BufferResponse carries one delivered buffer plus its sequencing and
// backlog metadata. Field order on the wire matches spec.md §6 verbatim:
// receiverId, sequenceNumber, backlog, dataType, isCompressed, size,
// payload - encodeBody/decodeBufferResponse write/read the explicit
// int32 size ahead of the raw payload bytes; Go's BufferResponse itself
// only keeps Payload (len(Payload) is that size, so storing it twice
// would just invite the two going out of sync). IsCompressed reports
// whether Payload is Compress'd and must be Decompress'd before use -
// when the optional Buffer Compressor ran, only data buffers are ever
// marked compressed; events always bypass it (spec §6's "Buffer
// Compressor (optional): data-only buffer compression; events bypass").
type BufferResponse struct {
	ReceiverID     string
	SequenceNumber int64
	Backlog        int32
	DataType       byte
	IsCompressed   bool
	Payload        []byte
}

func (m BufferResponse) MessageType() Type { return TypeBufferResponse }

func (m BufferResponse) encodeBody() []byte {
	b := newBodyBuilder()
	b.putString(m.ReceiverID)
	b.putInt64(m.SequenceNumber)
	b.putInt32(m.Backlog)
	b.putByte(m.DataType)
	b.putBool(m.IsCompressed)
	b.putInt32(int32(len(m.Payload)))
	b.putRawBytes(m.Payload)
	return b.bytes()
}

func decodeBufferResponse(body []byte) (BufferResponse, error) {
	r := newBodyReader(body)
	m := BufferResponse{}
	m.ReceiverID = r.getString()
	m.SequenceNumber = r.getInt64()
	m.Backlog = r.getInt32()
	m.DataType = r.getByte()
	m.IsCompressed = r.getBool()
	size := r.getInt32()
	m.Payload = r.getRawBytes(int(size))
	return m, r.err
}

// ErrorResponse reports a terminal failure for a receiver.
type ErrorResponse struct {
	ReceiverID string
	Message    string
}

func (m ErrorResponse) MessageType() Type { return TypeErrorResponse }

func (m ErrorResponse) encodeBody() []byte {
	b := newBodyBuilder()
	b.putString(m.ReceiverID)
	b.putString(m.Message)
	return b.bytes()
}

func decodeErrorResponse(body []byte) (ErrorResponse, error) {
	r := newBodyReader(body)
	m := ErrorResponse{}
	m.ReceiverID = r.getString()
	m.Message = r.getString()
	return m, r.err
}

// AddCredit grants additional credit to a receiver's reader.
type AddCredit struct {
	ReceiverID string
	Credit     int32
}

func (m AddCredit) MessageType() Type { return TypeAddCredit }

func (m AddCredit) encodeBody() []byte {
	b := newBodyBuilder()
	b.putString(m.ReceiverID)
	b.putInt32(m.Credit)
	return b.bytes()
}

func decodeAddCredit(body []byte) (AddCredit, error) {
	r := newBodyReader(body)
	m := AddCredit{}
	m.ReceiverID = r.getString()
	m.Credit = r.getInt32()
	return m, r.err
}

// ResumeConsumption re-arms a receiver's reader after an alignment pause.
type ResumeConsumption struct {
	ReceiverID string
}

func (m ResumeConsumption) MessageType() Type { return TypeResumeConsumption }

func (m ResumeConsumption) encodeBody() []byte {
	b := newBodyBuilder()
	b.putString(m.ReceiverID)
	return b.bytes()
}

func decodeResumeConsumption(body []byte) (ResumeConsumption, error) {
	r := newBodyReader(body)
	m := ResumeConsumption{ReceiverID: r.getString()}
	return m, r.err
}

// CancelRequest asks the multiplexer to release and deregister a receiver.
type CancelRequest struct {
	ReceiverID string
}

func (m CancelRequest) MessageType() Type { return TypeCancelRequest }

func (m CancelRequest) encodeBody() []byte {
	b := newBodyBuilder()
	b.putString(m.ReceiverID)
	return b.bytes()
}

func decodeCancelRequest(body []byte) (CancelRequest, error) {
	r := newBodyReader(body)
	m := CancelRequest{ReceiverID: r.getString()}
	return m, r.err
}

// CloseRequest asks the multiplexer to close the whole connection.
type CloseRequest struct{}

func (m CloseRequest) MessageType() Type { return TypeCloseRequest }

func (m CloseRequest) encodeBody() []byte { return nil }

func decodeCloseRequest([]byte) (CloseRequest, error) {
	return CloseRequest{}, nil
}

// Encode writes msg to w as one length-prefixed, type-tagged frame.
func Encode(w io.Writer, msg Message) error {
	body := msg.encodeBody()
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)+1))
	header[4] = byte(msg.MessageType())
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("wire: write frame body: %w", err)
		}
	}
	return nil
}

// Decode reads one frame from r and decodes it into its concrete Message
// type.
func Decode(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total == 0 {
		return nil, fmt.Errorf("wire: empty frame")
	}
	frame := make([]byte, total)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	t := Type(frame[0])
	body := frame[1:]
	switch t {
	case TypePartitionRequest:
		return decodePartitionRequest(body)
	case TypeBufferResponse:
		return decodeBufferResponse(body)
	case TypeErrorResponse:
		return decodeErrorResponse(body)
	case TypeAddCredit:
		return decodeAddCredit(body)
	case TypeResumeConsumption:
		return decodeResumeConsumption(body)
	case TypeCancelRequest:
		return decodeCancelRequest(body)
	case TypeCloseRequest:
		return decodeCloseRequest(body)
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", t)
	}
}
