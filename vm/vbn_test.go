package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVbnSignedRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, 64, -64, -65, 127, 128, 1 << 20, -(1 << 20),
		1<<62 - 1, -(1 << 62), 9223372036854775807, -9223372036854775808}
	for _, v := range values {
		buf := appendVbn(nil, v)
		got, err := readVbn(bytes.NewReader(buf))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got, "encoded as % x", buf)
	}
}

func TestVbnUnsignedRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16384, 1 << 35, ^uint64(0)}
	for _, v := range values {
		buf := appendUVbn(nil, v)
		got, err := readUVbn(bytes.NewReader(buf))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
	}
}

func TestVbnSignExtension(t *testing.T) {
	// A single byte with the high data bit set decodes negative.
	got, err := readVbn(bytes.NewReader([]byte{0x7F}))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got)

	// Two bytes: 0xFF 0x00 decodes to 127 (continuation, then zero byte).
	got, err = readVbn(bytes.NewReader([]byte{0xFF, 0x00}))
	require.NoError(t, err)
	assert.Equal(t, int64(127), got)
}

func TestVbnTruncated(t *testing.T) {
	_, err := readVbn(bytes.NewReader([]byte{0x80}))
	assert.Error(t, err)
}

func TestVbnTooLong(t *testing.T) {
	buf := bytes.Repeat([]byte{0x80}, 11)
	_, err := readUVbn(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrVbnTooLong)
}
