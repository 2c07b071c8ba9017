package rfb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessageEmptyBuffer(t *testing.T) {
	pkt, consumed, err := decodeClientMessage(nil)
	require.NoError(t, err)
	assert.Nil(t, pkt)
	assert.Equal(t, 0, consumed)
}

func TestDecodeClientMessageUnknownType(t *testing.T) {
	for _, code := range []byte{0x01, 0x07, 0xaa, 0xff} {
		_, consumed, err := decodeClientMessage([]byte{code, 1, 2, 3})
		require.Error(t, err, "type %#x", code)
		assert.ErrorIs(t, err, ErrUnknownMessageType)
		assert.Equal(t, 0, consumed)
	}
}

func TestDecodePointerEvent(t *testing.T) {
	data := []byte{5, 0x01, 0x00, 0x10, 0x00, 0x20}
	pkt, consumed, err := decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, 6, consumed)
	assert.Equal(t, MsgPointerEvent, pkt.Type)
	assert.Equal(t, "pointer-event", pkt.Name)
	assert.Equal(t, []uint32{1, 16, 32}, pkt.Fields)
	assert.False(t, pkt.Synthetic())
}

func TestDecodeKeyEvent(t *testing.T) {
	data := []byte{4, 1, 0, 0, 0x00, 0x00, 0x00, 0x41}
	pkt, consumed, err := decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, 8, consumed)
	assert.Equal(t, "key-event", pkt.Name)
	assert.Equal(t, []uint32{1, 0, 0, 0x41}, pkt.Fields)
}

func TestDecodeFramebufferUpdateRequest(t *testing.T) {
	data := []byte{3, 1, 0x00, 0x0a, 0x00, 0x14, 0x02, 0x80, 0x01, 0xe0}
	pkt, consumed, err := decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, 10, consumed)
	assert.Equal(t, "framebuffer-update-request", pkt.Name)
	assert.Equal(t, []uint32{1, 10, 20, 640, 480}, pkt.Fields)
}

func TestDecodeSetPixelFormat(t *testing.T) {
	data := []byte{
		0, 0, 0, 0, // type + padding
		32, 24, 1, 1, // bpp, depth, big-endian, true-colour
		0x00, 0xff, 0x00, 0xff, 0x00, 0xff, // max r/g/b
		16, 8, 0, // shift r/g/b
		0, 0, 0, // padding
	}
	pkt, consumed, err := decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, 20, consumed)
	assert.Equal(t, "set-pixel-format", pkt.Name)
	require.Len(t, pkt.Fields, 16)
	assert.Equal(t, uint32(32), pkt.Fields[3])  // bits per pixel
	assert.Equal(t, uint32(255), pkt.Fields[7]) // red max
}

// A variable-length message must report zero consumed until the whole
// trailer is buffered, then the exact total.
func TestDecodeSetEncodingsAwaitsTrailer(t *testing.T) {
	data := []byte{
		2, 0, 0x00, 0x03, // type, padding, count=3
		0x00, 0x00, 0x00, 0x01, // Raw
		0xff, 0xff, 0xff, 0x11, // -239 (cursor pseudo-encoding)
		0x00, 0x00, 0x00, 0x10, // ZRLE
	}
	for size := 1; size < len(data); size++ {
		pkt, consumed, err := decodeClientMessage(data[:size])
		require.NoError(t, err, "prefix of %d bytes", size)
		assert.Nil(t, pkt, "prefix of %d bytes", size)
		assert.Equal(t, 0, consumed, "prefix of %d bytes", size)
	}

	pkt, consumed, err := decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, 16, consumed)
	assert.Equal(t, "set-encodings", pkt.Name)
	assert.Equal(t, []int32{1, -239, 16}, pkt.Encodings)
}

func TestDecodeClientCutText(t *testing.T) {
	data := []byte{6, 0, 0, 0, 0x00, 0x00, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}

	pkt, consumed, err := decodeClientMessage(data[:12])
	require.NoError(t, err)
	assert.Nil(t, pkt)
	assert.Equal(t, 0, consumed)

	pkt, consumed, err = decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, 13, consumed)
	assert.Equal(t, "client-cut-text", pkt.Name)
	assert.Equal(t, []byte("hello"), pkt.Text)
}

// Trailing bytes beyond one message must not be consumed.
func TestDecodeLeavesFollowingMessageAlone(t *testing.T) {
	data := []byte{5, 0, 0, 1, 0, 2, 4, 1, 0, 0, 0, 0, 0, 0x41}
	pkt, consumed, err := decodeClientMessage(data)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, "pointer-event", pkt.Name)
	assert.Equal(t, 6, consumed)
}

func TestErrUnknownMessageTypeIsWrapped(t *testing.T) {
	_, _, err := decodeClientMessage([]byte{0x63})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMessageType))
	assert.Contains(t, err.Error(), "0x63")
}
