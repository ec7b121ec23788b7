package compressor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdCompressor_CompressDecompressRoundTrips(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)
	defer c.Close()

	src := bytes.Repeat([]byte("shuffle-worker-buffer-payload-"), 64)

	dst, ok := c.Compress(src)
	require.True(t, ok)
	assert.Less(t, len(dst), len(src))

	got, err := c.Decompress(dst)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestZstdCompressor_SmallPayloadSkipsCompression(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)
	defer c.Close()

	src := []byte("tiny")
	dst, ok := c.Compress(src)
	assert.False(t, ok)
	assert.Equal(t, src, dst)
}
