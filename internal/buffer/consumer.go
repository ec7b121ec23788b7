package buffer

// Consumer is the single reader over a Builder's segment. It snapshots
// the shared published position (a load-acquire in spec's concurrency
// model) and exposes whatever has been committed since its own reader
// index, without copying: the returned Buffer's data is a live slice of
// the segment.
type Consumer struct {
	builder     *Builder
	readerIndex int32
}

// Build returns a Buffer over the bytes committed since the consumer's
// reader index, advances that index past them, and reports whether the
// builder has finished (no further bytes will ever be appended). If no
// new bytes are available and the builder has not finished, ok is false
// and buf is nil - this is the normal "nothing to read yet" case, not an
// error.
func (c *Consumer) Build() (buf *Buffer, finished bool, ok bool, err error) {
	p := c.builder.position.Load()
	finished = isFinished(p)
	committed := absolutePosition(p)

	if committed < c.readerIndex {
		// Can happen only under structural misuse; defend anyway rather
		// than produce a negative-length slice.
		committed = c.readerIndex
	}

	if committed == c.readerIndex {
		return nil, finished, false, nil
	}

	data, err := c.builder.segment.Slice(int64(c.readerIndex), int64(committed-c.readerIndex))
	if err != nil {
		return nil, finished, false, err
	}

	start := c.readerIndex
	c.readerIndex = committed

	b := New(c.builder.segment, data, DataTypeData, c.builder.onRecycle)
	_ = start
	return b, finished, true, nil
}

// HasReadableBytes reports whether bytes committed since the consumer's
// last Build call are available, without consuming them. Used by a
// sub-partition view to decide availability without mutating state.
func (c *Consumer) HasReadableBytes() bool {
	p := c.builder.position.Load()
	return absolutePosition(p) > c.readerIndex
}

// IsFinished reports whether the underlying builder has finished and all
// committed bytes have been consumed (nothing left to read, ever).
func (c *Consumer) IsFinished() bool {
	p := c.builder.position.Load()
	return isFinished(p) && absolutePosition(p) == c.readerIndex
}

// BuilderFinished reports whether the underlying builder has called
// Finish, regardless of whether all of its bytes have been drained yet.
func (c *Consumer) BuilderFinished() bool {
	return isFinished(c.builder.position.Load())
}

// ReaderIndex returns the consumer's current read cursor.
func (c *Consumer) ReaderIndex() int { return int(c.readerIndex) }
