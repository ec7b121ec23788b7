// Package memseg implements the fixed-capacity byte region shared between
// a single writer and a single reader. A Segment is either a plain heap
// byte slice, an off-heap region leased from an arena (owned by a buffer
// pool, released through a callback), or an unsafe off-heap region whose
// ownership cannot be safely shared and which therefore refuses Wrap.
package memseg

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync/atomic"

	shufflerrors "github.com/streamcore/shuffle/internal/errors"
)

// Kind distinguishes the three segment variants named in spec §3.
type Kind int

const (
	// KindHeap is a plain Go byte slice, garbage-collected normally.
	KindHeap Kind = iota
	// KindOffHeap is a region leased from a buffer-pool arena; ownership
	// is shared back to the arena via onFree, and wrapping is permitted.
	KindOffHeap
	// KindUnsafe is a manually managed off-heap region; wrapping is
	// refused because ownership cannot be safely shared.
	KindUnsafe
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindOffHeap:
		return "off-heap"
	case KindUnsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}

// Segment is a fixed-capacity byte region. The zero value is not usable;
// construct with New.
type Segment struct {
	kind     Kind
	data     []byte
	owner    any
	onFree   func()
	freed    atomic.Bool
}

// New creates a Segment of the given kind backed by data. owner is an
// opaque back-pointer kept alive for diagnostics and lifetime purposes
// only; it is never dereferenced by Segment itself. onFree, if non-nil,
// is invoked exactly once when Free is called.
func New(kind Kind, data []byte, owner any, onFree func()) *Segment {
	return &Segment{kind: kind, data: data, owner: owner, onFree: onFree}
}

// Kind reports the segment's storage variant.
func (s *Segment) Kind() Kind { return s.kind }

// Owner returns the opaque owner back-pointer supplied at construction.
func (s *Segment) Owner() any { return s.owner }

// Capacity returns the segment's fixed size in bytes.
func (s *Segment) Capacity() int64 { return int64(len(s.data)) }

// IsFreed reports whether Free has already been called.
func (s *Segment) IsFreed() bool { return s.freed.Load() }

// Free releases the segment. Safe to call concurrently; the release
// callback runs at most once. Calling Free twice is not a panic (it is
// the documented use-after-free detection path for subsequent accesses,
// not for Free itself, which is idempotent).
func (s *Segment) Free() {
	if s.freed.CompareAndSwap(false, true) {
		if s.onFree != nil {
			s.onFree()
		}
	}
}

func (s *Segment) checkBounds(offset, length int64) error {
	if s.freed.Load() {
		return shufflerrors.New(shufflerrors.KindUseAfterFree, "segment freed")
	}
	if offset < 0 || length < 0 {
		return shufflerrors.New(shufflerrors.KindOutOfBounds, "negative offset or length")
	}
	// Single unsigned comparison catches both negative offsets (already
	// excluded above) and near-overflow of offset+length in one predicate,
	// per spec §4.1: position <= limit - length.
	limit := uint64(len(s.data))
	length64 := uint64(length)
	offset64 := uint64(offset)
	if length64 > limit || offset64 > limit-length64 {
		return shufflerrors.New(shufflerrors.KindOutOfBounds, "access outside segment capacity")
	}
	return nil
}

// GetByte reads a single byte at offset.
func (s *Segment) GetByte(offset int64) (byte, error) {
	if err := s.checkBounds(offset, 1); err != nil {
		return 0, err
	}
	return s.data[offset], nil
}

// PutByte writes a single byte at offset.
func (s *Segment) PutByte(offset int64, v byte) error {
	if err := s.checkBounds(offset, 1); err != nil {
		return err
	}
	s.data[offset] = v
	return nil
}

// GetBool reads a boolean (non-zero byte) at offset.
func (s *Segment) GetBool(offset int64) (bool, error) {
	v, err := s.GetByte(offset)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// PutBool writes a boolean at offset.
func (s *Segment) PutBool(offset int64, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return s.PutByte(offset, b)
}

// PutInt16LE writes a little-endian int16 at offset.
func (s *Segment) PutInt16LE(offset int64, v int16) error {
	if err := s.checkBounds(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(s.data[offset:], uint16(v))
	return nil
}

// GetInt16LE reads a little-endian int16 at offset.
func (s *Segment) GetInt16LE(offset int64) (int16, error) {
	if err := s.checkBounds(offset, 2); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(s.data[offset:])), nil
}

// PutInt16BE writes a big-endian int16 at offset.
func (s *Segment) PutInt16BE(offset int64, v int16) error {
	if err := s.checkBounds(offset, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(s.data[offset:], uint16(v))
	return nil
}

// GetInt16BE reads a big-endian int16 at offset.
func (s *Segment) GetInt16BE(offset int64) (int16, error) {
	if err := s.checkBounds(offset, 2); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(s.data[offset:])), nil
}

// PutInt32LE writes a little-endian int32 at offset.
func (s *Segment) PutInt32LE(offset int64, v int32) error {
	if err := s.checkBounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s.data[offset:], uint32(v))
	return nil
}

// GetInt32LE reads a little-endian int32 at offset.
func (s *Segment) GetInt32LE(offset int64) (int32, error) {
	if err := s.checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(s.data[offset:])), nil
}

// PutInt32BE writes a big-endian int32 at offset.
func (s *Segment) PutInt32BE(offset int64, v int32) error {
	if err := s.checkBounds(offset, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(s.data[offset:], uint32(v))
	return nil
}

// GetInt32BE reads a big-endian int32 at offset.
func (s *Segment) GetInt32BE(offset int64) (int32, error) {
	if err := s.checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(s.data[offset:])), nil
}

// PutInt64LE writes a little-endian int64 at offset.
func (s *Segment) PutInt64LE(offset int64, v int64) error {
	if err := s.checkBounds(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(s.data[offset:], uint64(v))
	return nil
}

// GetInt64LE reads a little-endian int64 at offset.
func (s *Segment) GetInt64LE(offset int64) (int64, error) {
	if err := s.checkBounds(offset, 8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(s.data[offset:])), nil
}

// PutInt64BE writes a big-endian int64 at offset.
func (s *Segment) PutInt64BE(offset int64, v int64) error {
	if err := s.checkBounds(offset, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(s.data[offset:], uint64(v))
	return nil
}

// GetInt64BE reads a big-endian int64 at offset.
func (s *Segment) GetInt64BE(offset int64) (int64, error) {
	if err := s.checkBounds(offset, 8); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(s.data[offset:])), nil
}

// CopyToBytes bulk-copies length bytes starting at offset into dst,
// which must have at least length bytes of room starting at dstOffset.
func (s *Segment) CopyToBytes(offset int64, dst []byte, dstOffset, length int64) error {
	if err := s.checkBounds(offset, length); err != nil {
		return err
	}
	if dstOffset < 0 || length < 0 || dstOffset+length > int64(len(dst)) {
		return shufflerrors.New(shufflerrors.KindOutOfBounds, "destination too small")
	}
	copy(dst[dstOffset:dstOffset+length], s.data[offset:offset+length])
	return nil
}

// CopyFromBytes bulk-copies length bytes from src (starting at srcOffset)
// into the segment at offset.
func (s *Segment) CopyFromBytes(offset int64, src []byte, srcOffset, length int64) error {
	if err := s.checkBounds(offset, length); err != nil {
		return err
	}
	if srcOffset < 0 || length < 0 || srcOffset+length > int64(len(src)) {
		return shufflerrors.New(shufflerrors.KindOutOfBounds, "source too small")
	}
	copy(s.data[offset:offset+length], src[srcOffset:srcOffset+length])
	return nil
}

// ByteSource abstracts the two external byte-buffer kinds the engine must
// accept: a direct buffer (one that exposes a contiguous []byte, e.g. via
// Bytes()) or an array-backed buffer. Anything else is rejected with
// KindUnsupportedBufferKind, matching spec §4.1.
type ByteSource interface {
	// Bytes returns the contiguous backing array, or (nil, false) if this
	// source cannot expose one directly.
	Bytes() ([]byte, bool)
}

// CopyFromBuffer bulk-copies length bytes from src (at srcOffset) into the
// segment at offset. src must be direct (expose Bytes()) or this call
// fails with KindUnsupportedBufferKind.
func (s *Segment) CopyFromBuffer(offset int64, src ByteSource, srcOffset, length int64) error {
	data, ok := src.Bytes()
	if !ok {
		return shufflerrors.New(shufflerrors.KindUnsupportedBufferKind, "unsupported buffer kind")
	}
	return s.CopyFromBytes(offset, data, srcOffset, length)
}

// CopyToBuffer bulk-copies length bytes from the segment (at offset) into
// dst, which must be direct.
func (s *Segment) CopyToBuffer(offset int64, dst ByteSource, dstOffset, length int64) error {
	data, ok := dst.Bytes()
	if !ok {
		return shufflerrors.New(shufflerrors.KindUnsupportedBufferKind, "unsupported buffer kind")
	}
	return s.CopyToBytes(offset, data, dstOffset, length)
}

// ReadFrom bulk-reads up to length bytes from r into the segment at
// offset, returning the number of bytes actually read.
func (s *Segment) ReadFrom(offset int64, r io.Reader, length int64) (int64, error) {
	if err := s.checkBounds(offset, length); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r, s.data[offset:offset+length])
	return int64(n), err
}

// WriteTo bulk-writes length bytes from the segment at offset into w.
func (s *Segment) WriteTo(offset int64, w io.Writer, length int64) (int64, error) {
	if err := s.checkBounds(offset, length); err != nil {
		return 0, err
	}
	n, err := w.Write(s.data[offset : offset+length])
	return int64(n), err
}

// Slice returns the live backing bytes for [offset, offset+length) with no
// copy, for use by collaborators within this module (the Buffer
// Builder/Consumer pair) that share the single-writer/single-reader
// contract. Unlike Wrap, this is not a permission-gated external view: it
// is available regardless of segment kind, since the caller is trusted
// module-internal code, not an external consumer of the segment.
func (s *Segment) Slice(offset, length int64) ([]byte, error) {
	if err := s.checkBounds(offset, length); err != nil {
		return nil, err
	}
	return s.data[offset : offset+length], nil
}

// Wrap produces a read-only view over [offset, offset+length) of the
// segment. Unsafe segments refuse this: their ownership cannot be safely
// shared with a second holder.
func (s *Segment) Wrap(offset, length int64) (*bytes.Reader, error) {
	if s.kind == KindUnsafe {
		return nil, shufflerrors.New(shufflerrors.KindWrapUnsupported, "wrap unsupported on unsafe segment")
	}
	if err := s.checkBounds(offset, length); err != nil {
		return nil, err
	}
	return bytes.NewReader(s.data[offset : offset+length]), nil
}
