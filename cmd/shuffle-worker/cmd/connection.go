package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/streamcore/shuffle/internal/collab"
	"github.com/streamcore/shuffle/internal/netqueue"
	"github.com/streamcore/shuffle/internal/netqueue/wire"
	"github.com/streamcore/shuffle/internal/partitionmanager"
)

// connTransport adapts a net.Conn to netqueue.Transport. Writability is
// reported unconditionally true: the connection blocks the writer on
// backpressure instead of signalling it, so the queue's Pump simply
// drains until the socket itself stalls.
type connTransport struct {
	conn net.Conn
	mu   sync.Mutex
}

func newConnTransport(conn net.Conn) *connTransport {
	return &connTransport{conn: conn}
}

func (t *connTransport) IsWritable() bool { return true }

func (t *connTransport) WriteAndFlush(msg wire.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return wire.Encode(t.conn, msg)
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

// serveConnection runs one Partition Request Queue for conn until the
// connection closes or ctx is cancelled. compressor may be nil, in which
// case BufferResponses are always sent uncompressed.
func serveConnection(ctx context.Context, conn net.Conn, partitions *partitionmanager.Manager, compressor collab.BufferCompressor, logger *slog.Logger) {
	defer conn.Close()

	connID := uuid.New().String()
	logger = logger.With("conn_id", connID, "remote", conn.RemoteAddr())
	logger.Info("netqueue: connection accepted")

	transport := newConnTransport(conn)
	var opts []netqueue.QueueOption
	if compressor != nil {
		opts = append(opts, netqueue.WithCompressor(compressor))
	}
	q := netqueue.NewQueue(transport, partitions.CreateSubpartitionView, logger, opts...)
	q.Start(ctx)
	defer q.Stop()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		msg, err := wire.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("netqueue: connection read ended", "err", err)
			}
			return
		}

		switch m := msg.(type) {
		case wire.PartitionRequest:
			if _, err := q.HandlePartitionRequest(m); err != nil {
				logger.Warn("netqueue: partition request failed", "receiver_id", m.ReceiverID, "err", err)
				_ = transport.WriteAndFlush(wire.ErrorResponse{ReceiverID: m.ReceiverID, Message: err.Error()})
			}
		case wire.AddCredit:
			q.HandleAddCredit(netqueue.ReceiverID(m.ReceiverID), m.Credit)
		case wire.ResumeConsumption:
			q.HandleResumeConsumption(netqueue.ReceiverID(m.ReceiverID))
		case wire.CancelRequest:
			q.HandleCancelRequest(netqueue.ReceiverID(m.ReceiverID))
		case wire.CloseRequest:
			return
		default:
			logger.Warn("netqueue: unexpected message on connection", "type", msg.MessageType())
		}

		if q.IsFatal() {
			return
		}
	}
}
