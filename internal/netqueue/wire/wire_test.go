package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWire_RoundTripEachMessageType(t *testing.T) {
	cases := []Message{
		PartitionRequest{ReceiverID: "r1", IntermediateDataSetID: "ds", ProducerAttemptID: "a1", SubpartitionIndex: 3, InitialCredit: 5},
		BufferResponse{ReceiverID: "r1", SequenceNumber: 42, Backlog: 2, DataType: 1, IsCompressed: true, Payload: []byte("payload")},
		ErrorResponse{ReceiverID: "r1", Message: "boom"},
		AddCredit{ReceiverID: "r1", Credit: 7},
		ResumeConsumption{ReceiverID: "r1"},
		CancelRequest{ReceiverID: "r1"},
		CloseRequest{},
	}

	for _, msg := range cases {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, msg))

		got, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestWire_MultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, AddCredit{ReceiverID: "a", Credit: 1}))
	require.NoError(t, Encode(&buf, AddCredit{ReceiverID: "b", Credit: 2}))

	first, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, AddCredit{ReceiverID: "a", Credit: 1}, first)

	second, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, AddCredit{ReceiverID: "b", Credit: 2}, second)
}

func TestWire_TruncatedFrameErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, BufferResponse{ReceiverID: "r1", Payload: []byte("x")}))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err := Decode(bytes.NewReader(truncated))
	require.Error(t, err)
}

func TestWire_UnknownTypeErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, CloseRequest{}))
	raw := buf.Bytes()
	raw[4] = 0xFF // corrupt the type discriminator byte

	_, err := Decode(bytes.NewReader(raw))
	require.Error(t, err)
}
