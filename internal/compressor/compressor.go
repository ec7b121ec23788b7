// Package compressor implements the optional Buffer Compressor
// collaborator (spec §6) using klauspost/compress's zstd codec. Events
// always bypass compression; only data buffers are candidates, and the
// caller decides whether to bother based on Compress's ok return.
package compressor

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/streamcore/shuffle/internal/collab"
)

// minCompressSize is the smallest payload worth compressing; below it
// the codec's frame overhead typically outweighs the savings.
const minCompressSize = 256

// ZstdCompressor implements collab.BufferCompressor with a shared,
// reusable encoder/decoder pair.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ collab.BufferCompressor = (*ZstdCompressor)(nil)

// New creates a ZstdCompressor at the given compression level. Level zero
// selects zstd's default.
func New(level zstd.EncoderLevel) (*ZstdCompressor, error) {
	var encOpts []zstd.EOption
	if level != 0 {
		encOpts = append(encOpts, zstd.WithEncoderLevel(level))
	}
	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return nil, fmt.Errorf("compressor: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("compressor: create decoder: %w", err)
	}
	return &ZstdCompressor{encoder: enc, decoder: dec}, nil
}

// Compress returns a compressed copy of src when it is large enough to be
// worth the attempt and the result is actually smaller; otherwise it
// returns src unchanged with ok=false so the caller sends it raw.
func (c *ZstdCompressor) Compress(src []byte) ([]byte, bool) {
	if len(src) < minCompressSize {
		return src, false
	}
	dst := c.encoder.EncodeAll(src, make([]byte, 0, len(src)))
	if len(dst) >= len(src) {
		return src, false
	}
	return dst, true
}

// Decompress reverses Compress.
func (c *ZstdCompressor) Decompress(src []byte) ([]byte, error) {
	dst, err := c.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("compressor: decode: %w", err)
	}
	return dst, nil
}

// Close releases the codec's resources.
func (c *ZstdCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
