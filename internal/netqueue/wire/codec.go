package wire

import "encoding/binary"

// bodyBuilder accumulates a message body as a flat byte slice, with
// length-prefixed strings/byte-slices so the reader never has to guess a
// boundary.
type bodyBuilder struct {
	buf []byte
}

func newBodyBuilder() *bodyBuilder { return &bodyBuilder{} }

func (b *bodyBuilder) putByte(v byte) { b.buf = append(b.buf, v) }

func (b *bodyBuilder) putBool(v bool) {
	if v {
		b.putByte(1)
		return
	}
	b.putByte(0)
}

func (b *bodyBuilder) putInt32(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bodyBuilder) putInt64(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bodyBuilder) putBytes(v []byte) {
	b.putInt32(int32(len(v)))
	b.buf = append(b.buf, v...)
}

// putRawBytes appends v with no length prefix of its own, for callers
// (BufferResponse) that encode an explicit, separately-named size field
// ahead of the payload per spec.md §6's exact field list.
func (b *bodyBuilder) putRawBytes(v []byte) {
	b.buf = append(b.buf, v...)
}

func (b *bodyBuilder) putString(v string) {
	b.putBytes([]byte(v))
}

func (b *bodyBuilder) bytes() []byte { return b.buf }

// bodyReader consumes a body written by bodyBuilder. The first error
// encountered is sticky: every subsequent getter becomes a no-op, so a
// caller need only check r.err once at the end.
type bodyReader struct {
	buf []byte
	pos int
	err error
}

func newBodyReader(buf []byte) *bodyReader { return &bodyReader{buf: buf} }

func (r *bodyReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = errShortBody
		return false
	}
	return true
}

func (r *bodyReader) getByte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *bodyReader) getBool() bool {
	return r.getByte() != 0
}

func (r *bodyReader) getInt32() int32 {
	if !r.need(4) {
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	return v
}

func (r *bodyReader) getInt64() int64 {
	if !r.need(8) {
		return 0
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v
}

func (r *bodyReader) getBytes() []byte {
	n := r.getInt32()
	if r.err != nil || !r.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v
}

// getRawBytes reads n bytes with no length prefix of their own, the
// counterpart to putRawBytes.
func (r *bodyReader) getRawBytes(n int) []byte {
	if n < 0 || !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+n])
	r.pos += n
	return v
}

func (r *bodyReader) getString() string {
	return string(r.getBytes())
}

var errShortBody = shortBodyError{}

type shortBodyError struct{}

func (shortBodyError) Error() string { return "wire: message body truncated" }
